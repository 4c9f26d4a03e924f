// Package cache provides a small in-process TTL cache for the geotagged
// listing and stats snapshots served by the HTTP layer.
package cache
