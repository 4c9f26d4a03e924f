// Package workers sizes the pool that bounds CPU-bound image work so
// decode and resize cannot starve the request-handling goroutines.
package workers
