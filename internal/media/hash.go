package media

import (
	"crypto/sha1" //nolint:gosec // content addressing and dedup, not security
	"encoding/hex"
	"path/filepath"
)

// ContentHash returns the hex SHA-1 digest of raw bytes: 40 characters,
// used as the dedup key and as the thumbnail/original file key.
func ContentHash(data []byte) string {
	sum := sha1.Sum(data) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// GeneratePath shards a hash under basePath using its first two hex
// characters as two nested directory levels, bounding per-directory
// fan-out: GeneratePath("/x", "ab12...") == "/x/a/b".
func GeneratePath(basePath, ihash string) string {
	if len(ihash) < 2 {
		return basePath
	}
	return filepath.Join(basePath, ihash[0:1], ihash[1:2])
}
