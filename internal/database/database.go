package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"photomap/internal/logging"
	"photomap/internal/metrics"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

// ErrDuplicateHash is returned by CreatePhoto when another row already
// holds the same content hash. The unique index on ihash is the
// authoritative guard; callers treat this as a duplicate outcome, not a
// failure.
var ErrDuplicateHash = errors.New("photo with this content hash already exists")

// Database manages all persistence for the photomap service.
type Database struct {
	db     *sql.DB
	dbPath string
}

// New opens (or creates) the SQLite database at dbPath. The parent
// directory must already exist and be writable; use startup.LoadConfig
// to validate that before calling.
func New(ctx context.Context, dbPath string) (*Database, error) {
	logging.Info("Database path: %s", dbPath)

	// WAL mode with a busy timeout keeps concurrent upload requests from
	// tripping over "database is locked" errors.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{db: db, dbPath: dbPath}

	if err := d.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.Info("Database initialized successfully at %s", dbPath)
	return d, nil
}

func (d *Database) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS camera (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		make TEXT NOT NULL,
		model TEXT NOT NULL,
		UNIQUE(make, model)
	);

	CREATE TABLE IF NOT EXISTS photo (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ihash TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		moment INTEGER NOT NULL,
		filename TEXT NOT NULL,
		path TEXT NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		size INTEGER NOT NULL,
		camera_id INTEGER REFERENCES camera(id),
		lat REAL,
		lng REAL,
		altitude REAL,
		gps_ref TEXT NOT NULL DEFAULT 'NE0',
		access INTEGER NOT NULL DEFAULT 1,
		orientation INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_photo_moment ON photo(moment);
	CREATE INDEX IF NOT EXISTS idx_photo_camera ON photo(camera_id);
	CREATE INDEX IF NOT EXISTS idx_photo_lat ON photo(lat);
	CREATE INDEX IF NOT EXISTS idx_photo_lng ON photo(lng);
	CREATE INDEX IF NOT EXISTS idx_photo_access ON photo(access);
	`

	_, err := d.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Ping verifies the database connection is alive.
func (d *Database) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return d.db.PingContext(ctx)
}

// FindPhotoByHash returns the id of the photo with the given content
// hash, or 0 if no such photo exists.
func (d *Database) FindPhotoByHash(ctx context.Context, ihash string) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("find_photo_by_hash", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var id int64
	err = d.db.QueryRowContext(ctx, "SELECT id FROM photo WHERE ihash = ?", ihash).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// FindCamera looks up a camera by its (make, model) pair. Returns nil
// when no such camera exists.
func (d *Database) FindCamera(ctx context.Context, make, model string) (*Camera, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("find_camera", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var c Camera
	err = d.db.QueryRowContext(ctx,
		"SELECT id, make, model FROM camera WHERE make = ? AND model = ?", make, model,
	).Scan(&c.ID, &c.Make, &c.Model)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCamera inserts a new camera row and returns its id. If a
// concurrent ingestion created the same (make, model) pair first, the
// existing row's id is returned instead.
func (d *Database) CreateCamera(ctx context.Context, make, model string) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("create_camera", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result, err := d.db.ExecContext(ctx, "INSERT INTO camera (make, model) VALUES (?, ?)", make, model)
	if isUniqueViolation(err) {
		existing, findErr := d.FindCamera(ctx, make, model)
		if findErr != nil {
			err = findErr
			return 0, findErr
		}
		if existing != nil {
			err = nil
			return existing.ID, nil
		}
		return 0, err
	}
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// CreatePhoto inserts a new photo row and assigns the record's ID.
// Returns ErrDuplicateHash when the content hash is already stored.
func (d *Database) CreatePhoto(ctx context.Context, photo *Photo) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("create_photo", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result, err := d.db.ExecContext(ctx, `
		INSERT INTO photo (ihash, description, moment, filename, path, width, height, size,
			camera_id, lat, lng, altitude, gps_ref, access, orientation)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		photo.IHash, photo.Description, photo.Moment.Unix(), photo.Filename, photo.Path,
		photo.Width, photo.Height, photo.Size, photo.CameraID,
		photo.Lat, photo.Lng, photo.Altitude, photo.GPSRef, photo.Access, photo.Orientation,
	)
	if isUniqueViolation(err) {
		err = ErrDuplicateHash
		return err
	}
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	photo.ID = id
	return nil
}

// GetPhoto retrieves a photo row by id. Returns nil when not found.
func (d *Database) GetPhoto(ctx context.Context, id int64) (*Photo, error) {
	return d.getPhoto(ctx, "get_photo", "id = ?", id)
}

// GetPhotoByHash retrieves a photo row by content hash. Returns nil when
// not found.
func (d *Database) GetPhotoByHash(ctx context.Context, ihash string) (*Photo, error) {
	return d.getPhoto(ctx, "get_photo_by_hash", "ihash = ?", ihash)
}

func (d *Database) getPhoto(ctx context.Context, op, where string, arg interface{}) (*Photo, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery(op, start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var p Photo
	var moment int64
	err = d.db.QueryRowContext(ctx, `
		SELECT id, ihash, description, moment, filename, path, width, height, size,
			camera_id, lat, lng, altitude, gps_ref, access, orientation
		FROM photo WHERE `+where, arg,
	).Scan(&p.ID, &p.IHash, &p.Description, &moment, &p.Filename, &p.Path,
		&p.Width, &p.Height, &p.Size, &p.CameraID,
		&p.Lat, &p.Lng, &p.Altitude, &p.GPSRef, &p.Access, &p.Orientation)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Moment = time.Unix(moment, 0).UTC()
	return &p, nil
}

// UpdatePhotoLocation sets lat/lng on an existing photo. Both the id and
// the hash must match; returns false when no row was updated.
func (d *Database) UpdatePhotoLocation(ctx context.Context, id int64, ihash string, lat, lng float64) (bool, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("update_photo_location", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result, err := d.db.ExecContext(ctx,
		"UPDATE photo SET lat = ?, lng = ? WHERE id = ? AND ihash = ?", lat, lng, id, ihash)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// DeletePhoto removes a photo row. Returns false when the id was not
// present.
func (d *Database) DeletePhoto(ctx context.Context, id int64) (bool, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("delete_photo", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result, err := d.db.ExecContext(ctx, "DELETE FROM photo WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// GetGeotaggedPhotos returns photos taken in [start, stop) that carry
// both latitude and longitude.
func (d *Database) GetGeotaggedPhotos(ctx context.Context, start, stop time.Time) ([]GeotaggedPhoto, error) {
	qStart := time.Now()
	var err error
	defer func() { recordQuery("get_geotagged_photos", qStart, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, ihash, lat, lng, altitude, moment
		FROM photo
		WHERE moment >= ? AND moment < ? AND lat IS NOT NULL AND lng IS NOT NULL
		ORDER BY moment ASC`, start.Unix(), stop.Unix())
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var photos []GeotaggedPhoto
	for rows.Next() {
		var p GeotaggedPhoto
		if err = rows.Scan(&p.ID, &p.IHash, &p.Lat, &p.Lng, &p.Altitude, &p.Moment); err != nil {
			return nil, err
		}
		photos = append(photos, p)
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}
	return photos, nil
}

// GetPhotosWithoutGPS returns the first 25 photos in [start, stop)
// lacking location data, oldest first. Used by the manual geotagging
// view.
func (d *Database) GetPhotosWithoutGPS(ctx context.Context, start, stop time.Time) ([]Photo, error) {
	qStart := time.Now()
	var err error
	defer func() { recordQuery("get_photos_nogps", qStart, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, ihash, description, moment, filename, path, width, height, size,
			camera_id, lat, lng, altitude, gps_ref, access, orientation
		FROM photo
		WHERE (lat IS NULL OR lng IS NULL) AND moment >= ? AND moment < ?
		ORDER BY moment ASC LIMIT 25`, start.Unix(), stop.Unix())
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var photos []Photo
	for rows.Next() {
		var p Photo
		var moment int64
		if err = rows.Scan(&p.ID, &p.IHash, &p.Description, &moment, &p.Filename, &p.Path,
			&p.Width, &p.Height, &p.Size, &p.CameraID,
			&p.Lat, &p.Lng, &p.Altitude, &p.GPSRef, &p.Access, &p.Orientation); err != nil {
			return nil, err
		}
		p.Moment = time.Unix(moment, 0).UTC()
		photos = append(photos, p)
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}
	return photos, nil
}

// GetStats returns one row per photo joined with its camera, used to
// build the stats view.
func (d *Database) GetStats(ctx context.Context) ([]PhotoStat, error) {
	qStart := time.Now()
	var err error
	defer func() { recordQuery("get_stats", qStart, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT photo.id, moment, lat, lng, size, make, model, width, height
		FROM photo LEFT OUTER JOIN camera ON photo.camera_id = camera.id`)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var stats []PhotoStat
	for rows.Next() {
		var s PhotoStat
		if err = rows.Scan(&s.ID, &s.Moment, &s.Lat, &s.Lng, &s.Size, &s.Make, &s.Model, &s.Width, &s.Height); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// UpdateDBMetrics refreshes database connection gauges.
func (d *Database) UpdateDBMetrics() {
	stats := d.db.Stats()
	metrics.DBConnectionsOpen.Set(float64(stats.OpenConnections))
}

// isUniqueViolation reports whether err is a SQLite unique constraint
// failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logging.Warn("failed to close result rows: %v", err)
	}
}

// recordQuery records database query metrics
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration)
}
