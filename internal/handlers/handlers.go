package handlers

import (
	"crypto/subtle"
	"net/http"
	"time"

	"photomap/internal/cache"
	"photomap/internal/database"
	"photomap/internal/ingest"
	"photomap/internal/startup"
)

// Handlers bundles the HTTP endpoints with their dependencies.
type Handlers struct {
	db           *database.Database
	cache        *cache.Cache
	ingestor     *ingest.Ingestor
	uploadSecret string
	startTime    time.Time
}

func New(db *database.Database, c *cache.Cache, ing *ingest.Ingestor, config *startup.Config) *Handlers {
	return &Handlers{
		db:           db,
		cache:        c,
		ingestor:     ing,
		uploadSecret: config.UploadSecret,
		startTime:    time.Now(),
	}
}

// authenticated checks the Authentication header against the upload
// secret in constant time. Callers must stop handling on false.
func (h *Handlers) authenticated(w http.ResponseWriter, r *http.Request) bool {
	provided := r.Header.Get("Authentication")
	if subtle.ConstantTimeCompare([]byte(provided), []byte(h.uploadSecret)) != 1 {
		writeJSONError(w, "invalid secret value", http.StatusForbidden)
		return false
	}
	return true
}
