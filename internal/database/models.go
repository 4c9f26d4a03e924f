package database

import (
	"fmt"
	"time"
)

// Limits applied before a photo row is written. The width/height upper
// bound matches the smallint range the schema historically used; size is
// capped at 1 GB per upload.
const (
	MaxPixelDimension = 64000
	MaxSizeBytes      = 1_000_000_000
	MaxFilenameLen    = 64
	MaxDescriptionLen = 8192
	MaxAltitudeMeters = 12000
)

// Camera identifies a camera by make and model. Rows are deduplicated on
// the (make, model) pair and never updated after creation.
type Camera struct {
	ID    int64  `json:"id"`
	Make  string `json:"make"`
	Model string `json:"model"`
}

// Photo is the central record produced by ingestion. ID is zero until
// the row is created; CreatePhoto assigns it. Lat, Lng and Altitude are
// nil together when the source had no GPS block.
type Photo struct {
	ID          int64     `json:"id"`
	IHash       string    `json:"ihash"`
	Description string    `json:"description"`
	Moment      time.Time `json:"moment"`
	Filename    string    `json:"filename"`
	Path        string    `json:"path"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Size        int64     `json:"size"`
	CameraID    *int64    `json:"cameraId,omitempty"`
	Lat         *float64  `json:"lat,omitempty"`
	Lng         *float64  `json:"lng,omitempty"`
	Altitude    *float64  `json:"altitude,omitempty"`
	GPSRef      string    `json:"gpsRef"`
	Access      int       `json:"access"`
	Orientation int       `json:"orientation"`
}

// GeotaggedPhoto is the map-view projection of a photo row.
type GeotaggedPhoto struct {
	ID       int64    `json:"id"`
	IHash    string   `json:"ihash"`
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Altitude *float64 `json:"altitude,omitempty"`
	Moment   int64    `json:"moment"`
}

// PhotoStat is one row of the stats view, joining photo and camera.
type PhotoStat struct {
	ID     int64    `json:"id"`
	Moment int64    `json:"moment"`
	Lat    *float64 `json:"lat,omitempty"`
	Lng    *float64 `json:"lng,omitempty"`
	Size   int64    `json:"size"`
	Make   *string  `json:"make,omitempty"`
	Model  *string  `json:"model,omitempty"`
	Width  int      `json:"width"`
	Height int      `json:"height"`
}

// ValidationError reports a photo field outside its allowed range. The
// field name is part of the contract: callers surface it to the client.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks all field constraints. It must pass before CreatePhoto
// is attempted; the store does not re-check ranges.
func (p *Photo) Validate() error {
	if len(p.IHash) != 40 {
		return &ValidationError{Field: "ihash", Reason: fmt.Sprintf("must be 40 hex characters, got %d", len(p.IHash))}
	}
	if p.Width <= 0 || p.Width >= MaxPixelDimension {
		return &ValidationError{Field: "width", Reason: fmt.Sprintf("must be in (0, %d), got %d", MaxPixelDimension, p.Width)}
	}
	if p.Height <= 0 || p.Height >= MaxPixelDimension {
		return &ValidationError{Field: "height", Reason: fmt.Sprintf("must be in (0, %d), got %d", MaxPixelDimension, p.Height)}
	}
	if p.Size <= 0 || p.Size >= MaxSizeBytes {
		return &ValidationError{Field: "size", Reason: fmt.Sprintf("must be in (0, %d), got %d", MaxSizeBytes, p.Size)}
	}
	if p.Orientation < 1 || p.Orientation > 8 {
		return &ValidationError{Field: "orientation", Reason: fmt.Sprintf("must be in [1, 8], got %d", p.Orientation)}
	}
	if (p.Lat == nil) != (p.Lng == nil) {
		return &ValidationError{Field: "lat", Reason: "latitude and longitude must be set together"}
	}
	if p.Lat != nil && (*p.Lat < -90 || *p.Lat > 90) {
		return &ValidationError{Field: "lat", Reason: fmt.Sprintf("must be in [-90, 90], got %g", *p.Lat)}
	}
	if p.Lng != nil && (*p.Lng < -180 || *p.Lng > 180) {
		return &ValidationError{Field: "lng", Reason: fmt.Sprintf("must be in [-180, 180], got %g", *p.Lng)}
	}
	if p.Altitude != nil && (*p.Altitude < -MaxAltitudeMeters || *p.Altitude > MaxAltitudeMeters) {
		return &ValidationError{Field: "altitude", Reason: fmt.Sprintf("magnitude must be at most %d, got %g", MaxAltitudeMeters, *p.Altitude)}
	}
	if len(p.GPSRef) != 3 {
		return &ValidationError{Field: "gps_ref", Reason: fmt.Sprintf("must be 3 characters, got %d", len(p.GPSRef))}
	}
	if p.Access <= 0 || p.Access >= 16 {
		return &ValidationError{Field: "access", Reason: fmt.Sprintf("must be in (0, 16), got %d", p.Access)}
	}
	if p.Filename == "" || len(p.Filename) > MaxFilenameLen {
		return &ValidationError{Field: "filename", Reason: fmt.Sprintf("must be 1-%d characters, got %d", MaxFilenameLen, len(p.Filename))}
	}
	if len(p.Description) > MaxDescriptionLen {
		return &ValidationError{Field: "description", Reason: fmt.Sprintf("must be at most %d characters, got %d", MaxDescriptionLen, len(p.Description))}
	}
	return nil
}
