// Package metadata extracts a normalized record (capture moment, camera
// make/model, dimensions, orientation, GPS position) from the EXIF
// container of an uploaded image.
//
// Extraction is lenient: any individual field that is missing or
// malformed degrades to a documented default, and camera firmware
// quirks (null padding, duplicated make in model, zero orientation,
// zero-denominator rationals, rollover altitudes) are normalized here
// so downstream code never sees them.
package metadata
