package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"photomap/internal/cache"
	"photomap/internal/database"
	"photomap/internal/ingest"
	"photomap/internal/metadata"
	"photomap/internal/startup"
)

const testSecret = "test-secret"

// stubParser supplies canned metadata so uploads do not need
// EXIF-bearing fixtures.
type stubParser struct{}

func (stubParser) Parse(raw []byte, w, h int) (*metadata.Metadata, error) {
	return &metadata.Metadata{
		Moment:      time.Date(2021, 6, 12, 15, 4, 5, 0, time.UTC),
		Orientation: 1,
		GPSRef:      "NE0",
		Width:       w,
		Height:      h,
		Size:        int64(len(raw)),
	}, nil
}

type testServer struct {
	router *mux.Router
	db     *database.Database
	cache  *cache.Cache
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("database.New: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})

	c := cache.New(time.Minute)
	ing := ingest.New(db, c, ingest.Config{
		ThumbnailDir: filepath.Join(t.TempDir(), "thumbnails"),
		OriginalDir:  filepath.Join(t.TempDir(), "original"),
		Workers:      1,
		Parser:       stubParser{},
	})
	h := New(db, c, ing, &startup.Config{UploadSecret: testSecret})

	r := mux.NewRouter()
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/photos", h.UploadPhoto).Methods("POST")
	api.HandleFunc("/photos/geotagged", h.GetGeotaggedPhotos).Methods("GET")
	api.HandleFunc("/photos/nogps", h.GetPhotosWithoutGPS).Methods("GET")
	api.HandleFunc("/photos/location", h.UpdatePhotoLocation).Methods("POST")
	api.HandleFunc("/photos/{ref}/thumbnails", h.BackfillThumbnails).Methods("POST")
	api.HandleFunc("/photos/{id:[0-9]+}", h.DeletePhoto).Methods("DELETE")
	api.HandleFunc("/stats", h.GetStats).Methods("GET")

	return &testServer{router: r, db: db, cache: c}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	img.Set(0, 0, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func uploadRequest(t *testing.T, raw []byte, filename, secret string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("photo", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(raw); err != nil {
		t.Fatalf("part.Write: %v", err)
	}
	if err := form.WriteField("filename", filename); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	if err := form.Close(); err != nil {
		t.Fatalf("form.Close: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/photos", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	if secret != "" {
		req.Header.Set("Authentication", secret)
	}
	return req
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) ingest.Result {
	t.Helper()
	var result ingest.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("cannot decode response %q: %v", rec.Body.String(), err)
	}
	return result
}

func TestUploadPhoto(t *testing.T) {
	ts := newTestServer(t)
	raw := pngBytes(t, 200, 100)

	rec := ts.do(uploadRequest(t, raw, "IMG_0001.jpg", testSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	result := decodeResult(t, rec)
	if result.Status != ingest.StatusOK || result.PhotoID == 0 {
		t.Errorf("result = %+v, want ok with id", result)
	}

	// Same bytes again: conflict.
	rec = ts.do(uploadRequest(t, raw, "IMG_0001-copy.jpg", testSecret))
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", rec.Code)
	}
	if got := decodeResult(t, rec); got.Status != ingest.StatusDuplicate {
		t.Errorf("duplicate result = %+v", got)
	}
}

func TestUploadRequiresSecret(t *testing.T) {
	ts := newTestServer(t)
	raw := pngBytes(t, 10, 10)

	rec := ts.do(uploadRequest(t, raw, "IMG_0001.jpg", ""))
	if rec.Code != http.StatusForbidden {
		t.Errorf("missing secret status = %d, want 403", rec.Code)
	}

	rec = ts.do(uploadRequest(t, raw, "IMG_0001.jpg", "wrong"))
	if rec.Code != http.StatusForbidden {
		t.Errorf("wrong secret status = %d, want 403", rec.Code)
	}
}

func TestUploadMissingPhotoField(t *testing.T) {
	ts := newTestServer(t)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("filename", "x.jpg"); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	if err := form.Close(); err != nil {
		t.Fatalf("form.Close: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/photos", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authentication", testSecret)

	rec := ts.do(req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func seedPhoto(t *testing.T, ts *testServer, ihash string, lat, lng *float64) *database.Photo {
	t.Helper()
	photo := &database.Photo{
		IHash:       ihash,
		Moment:      time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC),
		Filename:    "seed.jpg",
		Path:        "s/e",
		Width:       100,
		Height:      100,
		Size:        1000,
		Lat:         lat,
		Lng:         lng,
		GPSRef:      "NE0",
		Access:      1,
		Orientation: 1,
	}
	if err := ts.db.CreatePhoto(context.Background(), photo); err != nil {
		t.Fatalf("CreatePhoto: %v", err)
	}
	return photo
}

func TestGetGeotaggedPhotos(t *testing.T) {
	ts := newTestServer(t)
	lat, lng := 46.5, 25.5
	tagged := seedPhoto(t, ts, "1111111111111111111111111111111111111111", &lat, &lng)
	seedPhoto(t, ts, "2222222222222222222222222222222222222222", nil, nil)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/photos/geotagged", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var photos []database.GeotaggedPhoto
	if err := json.Unmarshal(rec.Body.Bytes(), &photos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(photos) != 1 || photos[0].ID != tagged.ID {
		t.Errorf("photos = %+v, want only the tagged one", photos)
	}

	// Unfiltered listing is now cached.
	if ts.cache.Get(cache.KeyGeotaggedPhotos) == nil {
		t.Error("listing was not cached")
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/photos/geotagged?start=2022-01-01", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("filtered status = %d", rec.Code)
	}
	photos = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &photos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(photos) != 0 {
		t.Errorf("filtered photos = %+v, want none after 2022", photos)
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/photos/geotagged?start=junk", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d, want 400", rec.Code)
	}
}

func TestGetPhotosWithoutGPS(t *testing.T) {
	ts := newTestServer(t)
	seedPhoto(t, ts, "3333333333333333333333333333333333333333", nil, nil)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/photos/nogps", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var photos []database.Photo
	if err := json.Unmarshal(rec.Body.Bytes(), &photos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(photos) != 1 {
		t.Errorf("got %d photos, want 1", len(photos))
	}
}

func TestUpdatePhotoLocation(t *testing.T) {
	ts := newTestServer(t)
	photo := seedPhoto(t, ts, "4444444444444444444444444444444444444444", nil, nil)

	post := func(body string, secret string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/photos/location", bytes.NewBufferString(body))
		if secret != "" {
			req.Header.Set("Authentication", secret)
		}
		return ts.do(req)
	}

	if rec := post(`{"id":1,"hash":"x","lat":1,"lng":1}`, ""); rec.Code != http.StatusForbidden {
		t.Errorf("unauthenticated status = %d, want 403", rec.Code)
	}

	rec := post(`{"id":1,"hash":"x","lat":95,"lng":1}`, testSecret)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("out-of-range lat status = %d, want 400", rec.Code)
	}

	// Mismatched hash must not update.
	rec = post(`{"id":1,"hash":"0000000000000000000000000000000000000000","lat":10,"lng":20}`, testSecret)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("mismatched hash status = %d, want 400", rec.Code)
	}

	rec = post(`{"id":1,"hash":"`+photo.IHash+`","lat":10,"lng":20}`, testSecret)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	got, err := ts.db.GetPhoto(context.Background(), photo.ID)
	if err != nil || got == nil {
		t.Fatalf("GetPhoto: %v, %v", got, err)
	}
	if got.Lat == nil || *got.Lat != 10 || got.Lng == nil || *got.Lng != 20 {
		t.Errorf("coordinates = %v/%v, want 10/20", got.Lat, got.Lng)
	}
}

func TestDeletePhoto(t *testing.T) {
	ts := newTestServer(t)
	photo := seedPhoto(t, ts, "5555555555555555555555555555555555555555", nil, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/photos/1", nil)
	req.Header.Set("Authentication", testSecret)
	rec := ts.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	got, err := ts.db.GetPhoto(context.Background(), photo.ID)
	if err != nil {
		t.Fatalf("GetPhoto: %v", err)
	}
	if got != nil {
		t.Error("row still present after delete")
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/photos/1", nil)
	req.Header.Set("Authentication", testSecret)
	if rec := ts.do(req); rec.Code != http.StatusNotFound {
		t.Errorf("repeat delete status = %d, want 404", rec.Code)
	}
}

func TestBackfillUnknownPhoto(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/photos/0000000000000000000000000000000000000000/thumbnails", nil)
	req.Header.Set("Authentication", testSecret)
	rec := ts.do(req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetStats(t *testing.T) {
	ts := newTestServer(t)
	seedPhoto(t, ts, "6666666666666666666666666666666666666666", nil, nil)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats []database.PhotoStat
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(stats) != 1 {
		t.Errorf("got %d stat rows, want 1", len(stats))
	}
	if ts.cache.Get(cache.KeyStats) == nil {
		t.Error("stats were not cached")
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/health", "/livez", "/readyz", "/version"} {
		rec := ts.do(httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	var health HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != statusHealthy || !health.Ready {
		t.Errorf("health = %+v, want healthy/ready", health)
	}
}
