package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"photomap/internal/cache"
	"photomap/internal/database"
	"photomap/internal/ingest"
	"photomap/internal/logging"
)

const (
	// multipartMemoryLimit bounds the in-memory portion of an upload;
	// larger parts spill to temporary files.
	multipartMemoryLimit = 32 << 20

	dateLayout = "2006-01-02"
)

// UploadPhoto ingests one photo from a multipart form. Expected fields:
// "photo" (the file), "filename" and "path" (optional hints).
func (h *Handlers) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	if !h.authenticated(w, r) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, database.MaxSizeBytes+multipartMemoryLimit)
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		writeJSONError(w, "cannot parse multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("photo")
	if err != nil {
		writeJSONError(w, "missing photo field", http.StatusBadRequest)
		return
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			logging.Warn("cannot close upload part: %v", closeErr)
		}
	}()

	raw, err := io.ReadAll(file)
	if err != nil {
		writeJSONError(w, "cannot read photo data", http.StatusBadRequest)
		return
	}
	if len(raw) == 0 {
		writeJSONError(w, "empty photo data", http.StatusBadRequest)
		return
	}

	filename := r.FormValue("filename")
	if filename == "" && header != nil {
		filename = header.Filename
	}
	pathHint := r.FormValue("path")

	result := h.ingestor.Ingest(r.Context(), raw, filename, pathHint)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ingestStatusCode(result))
	writeJSON(w, result)
}

// BackfillThumbnails regenerates missing thumbnails for one photo,
// addressed by numeric id or 40-char content hash.
func (h *Handlers) BackfillThumbnails(w http.ResponseWriter, r *http.Request) {
	if !h.authenticated(w, r) {
		return
	}

	ref := mux.Vars(r)["ref"]
	result := h.ingestor.BackfillThumbnails(r.Context(), ref)

	code := http.StatusOK
	if result.Status == ingest.StatusError {
		switch result.Message {
		case "no such photo", "original file not available":
			code = http.StatusNotFound
		default:
			code = http.StatusInternalServerError
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, result)
}

func ingestStatusCode(result ingest.Result) int {
	switch result.Status {
	case ingest.StatusOK:
		return http.StatusOK
	case ingest.StatusDuplicate:
		return http.StatusConflict
	default:
		if result.Message == "database error" {
			return http.StatusInternalServerError
		}
		return http.StatusBadRequest
	}
}

// GetGeotaggedPhotos returns the photos carrying coordinates, for the
// map view. The unfiltered listing is served from cache.
func (h *Handlers) GetGeotaggedPhotos(w http.ResponseWriter, r *http.Request) {
	start, stop, filtered, err := parseDateRange(r)
	if err != nil {
		writeJSONError(w, "invalid start/stop date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	if !filtered {
		if cached := h.cache.Get(cache.KeyGeotaggedPhotos); cached != nil {
			w.Header().Set("Content-Type", "application/json")
			writeJSON(w, cached)
			return
		}
	}

	photos, err := h.db.GetGeotaggedPhotos(r.Context(), start, stop)
	if err != nil {
		logging.Error("cannot list geotagged photos: %v", err)
		writeJSONError(w, "database error", http.StatusInternalServerError)
		return
	}

	if !filtered {
		h.cache.Set(cache.KeyGeotaggedPhotos, photos)
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, photos)
}

// GetPhotosWithoutGPS returns photos lacking coordinates within the
// requested date range, for the manual geotagging view.
func (h *Handlers) GetPhotosWithoutGPS(w http.ResponseWriter, r *http.Request) {
	start, stop, _, err := parseDateRange(r)
	if err != nil {
		writeJSONError(w, "invalid start/stop date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	photos, err := h.db.GetPhotosWithoutGPS(r.Context(), start, stop)
	if err != nil {
		logging.Error("cannot list photos without GPS: %v", err)
		writeJSONError(w, "database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, photos)
}

// locationUpdate is the request body for UpdatePhotoLocation.
type locationUpdate struct {
	ID   int64   `json:"id"`
	Hash string  `json:"hash"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

// UpdatePhotoLocation sets the coordinates of one photo. Both the id
// and the content hash must match the stored row.
func (h *Handlers) UpdatePhotoLocation(w http.ResponseWriter, r *http.Request) {
	if !h.authenticated(w, r) {
		return
	}

	var update locationUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if update.Lat < -90 || update.Lat > 90 || update.Lng < -180 || update.Lng > 180 {
		writeJSONError(w, "lat and/or lng invalid", http.StatusBadRequest)
		return
	}

	updated, err := h.db.UpdatePhotoLocation(r.Context(), update.ID, update.Hash, update.Lat, update.Lng)
	if err != nil {
		logging.Error("cannot update location for photo %d: %v", update.ID, err)
		writeJSONError(w, "database error", http.StatusInternalServerError)
		return
	}
	if !updated {
		writeJSONError(w, "photo location not updated", http.StatusBadRequest)
		return
	}

	h.cache.Delete(cache.KeyGeotaggedPhotos)
	h.cache.Delete(cache.KeyStats)
	writeJSONStatus(w, "ok")
}

// DeletePhoto removes one photo row by id. Thumbnail and original files
// are left on disk; they are content-addressed and harmless.
func (h *Handlers) DeletePhoto(w http.ResponseWriter, r *http.Request) {
	if !h.authenticated(w, r) {
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSONError(w, "invalid photo id", http.StatusBadRequest)
		return
	}

	deleted, err := h.db.DeletePhoto(r.Context(), id)
	if err != nil {
		logging.Error("cannot delete photo %d: %v", id, err)
		writeJSONError(w, "database error", http.StatusInternalServerError)
		return
	}
	if !deleted {
		writeJSONError(w, "no such photo", http.StatusNotFound)
		return
	}

	h.cache.Delete(cache.KeyGeotaggedPhotos)
	h.cache.Delete(cache.KeyStats)
	writeJSONStatus(w, "ok")
}

// GetStats returns the per-photo stats rows used by the charts view,
// served from cache when warm.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	if cached := h.cache.Get(cache.KeyStats); cached != nil {
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, cached)
		return
	}

	stats, err := h.db.GetStats(r.Context())
	if err != nil {
		logging.Error("cannot compute stats: %v", err)
		writeJSONError(w, "database error", http.StatusInternalServerError)
		return
	}

	h.cache.Set(cache.KeyStats, stats)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, stats)
}

// parseDateRange reads the optional start/stop query parameters.
// Missing values default to the epoch and the current time.
func parseDateRange(r *http.Request) (start, stop time.Time, filtered bool, err error) {
	start = time.Unix(0, 0).UTC()
	stop = time.Now().UTC()

	if raw := r.URL.Query().Get("start"); raw != "" {
		start, err = time.Parse(dateLayout, raw)
		if err != nil {
			return start, stop, false, err
		}
		filtered = true
	}
	if raw := r.URL.Query().Get("stop"); raw != "" {
		stop, err = time.Parse(dateLayout, raw)
		if err != nil {
			return start, stop, false, err
		}
		filtered = true
	}
	return start, stop, filtered, nil
}
