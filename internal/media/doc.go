// Package media handles the image side of ingestion: content hashing
// and sharded path layout, decoding with EXIF orientation correction,
// and idempotent multi-resolution thumbnail generation.
//
// Thumbnails are written as JPEG at fixed fit-within-box resolutions
// (64, 192, 960 px) under <base>/<res>px/<hash[0]>/<hash[1]>/<hash>.
// libvips is used for decode-time shrinking when available, with a pure
// Go fallback via the imaging package.
package media
