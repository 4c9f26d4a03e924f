// Package handlers implements the HTTP API of the photo map service:
// photo upload and thumbnail backfill, map and geotagging listings,
// location updates, stats, health probes and version info.
//
// Mutating endpoints require the shared upload secret in the
// Authentication header; reads are open.
package handlers
