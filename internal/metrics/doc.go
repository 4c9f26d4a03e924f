// Package metrics defines the Prometheus metrics exposed by the photomap
// service. Metrics are registered at package load time via promauto and
// served by the metrics listener configured in startup.
package metrics
