package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"photomap/internal/cache"
	"photomap/internal/database"
	"photomap/internal/logging"
	"photomap/internal/media"
	"photomap/internal/metadata"
	"photomap/internal/metrics"
)

// Status is the terminal outcome of an ingestion attempt.
type Status string

const (
	// StatusOK means a new photo row was persisted.
	StatusOK Status = "ok"
	// StatusDuplicate means the content hash is already stored; not a
	// failure, no new row is written.
	StatusDuplicate Status = "duplicate"
	// StatusError covers validation, parse and persistence failures.
	StatusError Status = "error"
)

// Result is the structured outcome returned to the upload endpoint.
type Result struct {
	Status  Status `json:"status"`
	PhotoID int64  `json:"photoId,omitempty"`
	Message string `json:"message,omitempty"`
}

// step names the stages of the ingestion sequence, in order. The
// pipeline is linear: each stage either advances or terminates.
type step int

const (
	stepReceived step = iota
	stepParsing
	stepResolvingCamera
	stepPersisting
	stepDerivingThumbnails
	stepDone
)

func (s step) String() string {
	switch s {
	case stepReceived:
		return "received"
	case stepParsing:
		return "parsing"
	case stepResolvingCamera:
		return "resolving_camera"
	case stepPersisting:
		return "persisting"
	case stepDerivingThumbnails:
		return "deriving_thumbnails"
	case stepDone:
		return "done"
	default:
		return "unknown"
	}
}

// Parser extracts normalized metadata from raw image bytes. The default
// implementation reads the EXIF container; tests substitute their own.
type Parser interface {
	Parse(raw []byte, fallbackWidth, fallbackHeight int) (*metadata.Metadata, error)
}

type exifParser struct{}

func (exifParser) Parse(raw []byte, w, h int) (*metadata.Metadata, error) {
	return metadata.Parse(raw, w, h)
}

// Config carries the orchestrator's explicit configuration.
type Config struct {
	// ThumbnailDir is the root of the sharded thumbnail tree.
	ThumbnailDir string
	// OriginalDir is the root under which original uploads are stored.
	OriginalDir string
	// Workers bounds the CPU-bound decode/resize pool; values below 1
	// collapse to a single worker.
	Workers int
	// Parser overrides the metadata parser; nil uses the EXIF parser.
	Parser Parser
}

// Ingestor runs the upload pipeline: hash, dedup check, metadata parse,
// camera resolution, persistence, original write, thumbnail derivation
// and cache invalidation.
type Ingestor struct {
	db          *database.Database
	cache       *cache.Cache
	thumbs      *media.ThumbnailGenerator
	parser      Parser
	originalDir string
	decodeSlots chan struct{}
}

// New creates an Ingestor. Decode and resize work acquires a slot from
// a pool of cfg.Workers so concurrent uploads cannot monopolize the
// CPUs serving request intake.
func New(db *database.Database, c *cache.Cache, cfg Config) *Ingestor {
	parser := cfg.Parser
	if parser == nil {
		parser = exifParser{}
	}
	workerCount := cfg.Workers
	if workerCount < 1 {
		workerCount = 1
	}
	return &Ingestor{
		db:          db,
		cache:       c,
		thumbs:      media.NewThumbnailGenerator(cfg.ThumbnailDir),
		parser:      parser,
		originalDir: cfg.OriginalDir,
		decodeSlots: make(chan struct{}, workerCount),
	}
}

// Ingest processes one uploaded photo and returns its structured
// outcome. pathHint, when non-empty, is the caller-declared storage
// fragment for the original file; otherwise the hash shard is used.
//
// Persistence happens before thumbnail derivation on purpose: a
// database failure must not leave orphaned thumbnail files, and a
// thumbnail failure leaves a valid row that a later backfill repairs.
func (ing *Ingestor) Ingest(ctx context.Context, raw []byte, filename, pathHint string) Result {
	start := time.Now()
	result := ing.ingest(ctx, raw, filename, pathHint)
	metrics.IngestDuration.Observe(time.Since(start).Seconds())
	metrics.IngestTotal.WithLabelValues(string(result.Status)).Inc()
	return result
}

func (ing *Ingestor) ingest(ctx context.Context, raw []byte, filename, pathHint string) Result {
	ihash := media.ContentHash(raw)
	logging.Debug("ingest %s: %s (%d bytes)", ihash, filename, len(raw))

	// Best-effort dedup pre-check; the unique index on ihash catches
	// races between concurrent uploads of the same file.
	existingID, err := ing.db.FindPhotoByHash(ctx, ihash)
	if err != nil {
		logging.Error("ingest %s: hash lookup failed: %v", ihash, err)
		return Result{Status: StatusError, Message: "database error"}
	}
	if existingID != 0 {
		logging.Debug("ingest %s: %s already imported (id %d)", ihash, filename, existingID)
		return Result{Status: StatusDuplicate, PhotoID: existingID, Message: "photo hash already exists"}
	}

	logging.Debug("ingest %s: %s", ihash, stepParsing)
	fallbackW, fallbackH, err := media.GetDimensions(raw)
	if err != nil {
		// Metadata may still declare dimensions; validation rejects the
		// record if neither source has them.
		fallbackW, fallbackH = 0, 0
	}
	meta, err := ing.parser.Parse(raw, fallbackW, fallbackH)
	if err != nil {
		metrics.MetadataParseFailures.Inc()
		logging.Error("ingest %s: %v", ihash, err)
		return Result{Status: StatusError, Message: "cannot parse image metadata"}
	}

	logging.Debug("ingest %s: %s", ihash, stepResolvingCamera)
	cameraID, err := ing.resolveCamera(ctx, meta.CameraMake, meta.CameraModel)
	if err != nil {
		logging.Error("ingest %s: camera resolution failed: %v", ihash, err)
		return Result{Status: StatusError, Message: "database error"}
	}

	path := pathHint
	if path == "" {
		path = filepath.Join(ihash[0:1], ihash[1:2])
	}

	photo := &database.Photo{
		IHash:       ihash,
		Moment:      meta.Moment,
		Filename:    filename,
		Path:        path,
		Width:       meta.Width,
		Height:      meta.Height,
		Size:        meta.Size,
		CameraID:    cameraID,
		Lat:         meta.Lat,
		Lng:         meta.Lng,
		Altitude:    meta.Altitude,
		GPSRef:      meta.GPSRef,
		Access:      1,
		Orientation: meta.Orientation,
	}

	if err := photo.Validate(); err != nil {
		logging.Warn("ingest %s: %v", ihash, err)
		return Result{Status: StatusError, Message: err.Error()}
	}

	logging.Debug("ingest %s: %s", ihash, stepPersisting)
	if err := ing.db.CreatePhoto(ctx, photo); err != nil {
		if errors.Is(err, database.ErrDuplicateHash) {
			// Lost the race against a concurrent upload of the same
			// bytes; resolve to the winner's row.
			winnerID, lookupErr := ing.db.FindPhotoByHash(ctx, ihash)
			if lookupErr != nil {
				logging.Error("ingest %s: duplicate lookup failed: %v", ihash, lookupErr)
			}
			return Result{Status: StatusDuplicate, PhotoID: winnerID, Message: "photo hash already exists"}
		}
		logging.Error("ingest %s: cannot save photo: %v", ihash, err)
		return Result{Status: StatusError, Message: "database error"}
	}

	ing.storeOriginal(raw, photo)

	logging.Debug("ingest %s: %s", ihash, stepDerivingThumbnails)
	message := fmt.Sprintf("photo saved, id %d", photo.ID)
	if err := ing.deriveThumbnails(ctx, raw, photo, false); err != nil {
		// The row stays; the missing artifacts are repairable via
		// backfill.
		logging.Error("ingest %s: %v", ihash, err)
		message = fmt.Sprintf("photo saved, id %d; thumbnails pending backfill", photo.ID)
	}

	logging.Debug("ingest %s: %s", ihash, stepDone)
	ing.invalidateListings()
	return Result{Status: StatusOK, PhotoID: photo.ID, Message: message}
}

// resolveCamera returns the id of the camera row for the make/model
// pair, creating it on first sighting. Both empty means no camera
// reference.
func (ing *Ingestor) resolveCamera(ctx context.Context, make, model string) (*int64, error) {
	if make == "" && model == "" {
		return nil, nil
	}

	camera, err := ing.db.FindCamera(ctx, make, model)
	if err != nil {
		return nil, err
	}
	if camera != nil {
		return &camera.ID, nil
	}

	id, err := ing.db.CreateCamera(ctx, make, model)
	if err != nil {
		return nil, err
	}
	logging.Info("new camera %q %q (id %d)", make, model, id)
	return &id, nil
}

// storeOriginal writes the upload bytes to the sharded original tree.
// Failure is logged but does not fail the ingestion; the row is valid
// without the archived original.
func (ing *Ingestor) storeOriginal(raw []byte, photo *database.Photo) {
	dir := filepath.Join(ing.originalDir, photo.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logging.Error("cannot create original directory %s: %v", dir, err)
		return
	}
	outfile := filepath.Join(dir, photo.IHash)
	if err := os.WriteFile(outfile, raw, 0o644); err != nil {
		logging.Error("cannot store original %s: %v", outfile, err)
	}
}

// deriveThumbnails decodes the image (bounded by the worker pool) and
// writes the thumbnail set for the photo.
func (ing *Ingestor) deriveThumbnails(ctx context.Context, raw []byte, photo *database.Photo, overwrite bool) error {
	select {
	case ing.decodeSlots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-ing.decodeSlots }()

	img, err := media.LoadImage(raw, photo.Orientation)
	if err != nil {
		return err
	}

	written := ing.thumbs.Generate(img, raw, photo.IHash, overwrite)
	logging.Debug("thumbnails for %s: %d written", photo.IHash, written)
	return nil
}

// BackfillThumbnails regenerates missing thumbnails for an
// already-persisted photo, identified by id or content hash. Existing
// files are kept; only absent resolutions are written. The original
// bytes are read back from the sharded original tree.
func (ing *Ingestor) BackfillThumbnails(ctx context.Context, ref string) Result {
	photo, err := ing.findPhoto(ctx, ref)
	if err != nil {
		logging.Error("backfill %s: %v", ref, err)
		return Result{Status: StatusError, Message: "database error"}
	}
	if photo == nil {
		return Result{Status: StatusError, Message: "no such photo"}
	}

	raw, err := os.ReadFile(filepath.Join(ing.originalDir, photo.Path, photo.IHash))
	if err != nil {
		logging.Error("backfill %s: cannot read original: %v", photo.IHash, err)
		return Result{Status: StatusError, Message: "original file not available"}
	}

	if err := ing.deriveThumbnails(ctx, raw, photo, false); err != nil {
		logging.Error("backfill %s: %v", photo.IHash, err)
		return Result{Status: StatusError, PhotoID: photo.ID, Message: "cannot decode original image"}
	}
	return Result{Status: StatusOK, PhotoID: photo.ID, Message: "thumbnails backfilled"}
}

// findPhoto resolves a photo by 40-char content hash or numeric id.
func (ing *Ingestor) findPhoto(ctx context.Context, ref string) (*database.Photo, error) {
	if len(ref) == 40 {
		return ing.db.GetPhotoByHash(ctx, ref)
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return nil, nil
	}
	return ing.db.GetPhoto(ctx, id)
}

// invalidateListings drops the cached map and stats snapshots after a
// successful ingestion.
func (ing *Ingestor) invalidateListings() {
	ing.cache.Delete(cache.KeyGeotaggedPhotos)
	ing.cache.Delete(cache.KeyStats)
}
