// Package ingest implements the photo ingestion pipeline: content
// hashing, deduplication, metadata extraction, camera resolution,
// persistence, original-file storage and thumbnail derivation, followed
// by cache invalidation.
//
// The pipeline is a linear sequence with three terminal outcomes (ok,
// duplicate, error). Persistence deliberately precedes thumbnail
// derivation: a failed insert must not leave artifacts on disk, while a
// failed thumbnail pass leaves a row that BackfillThumbnails repairs.
package ingest
