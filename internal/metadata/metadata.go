package metadata

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	"photomap/internal/logging"
)

// momentLayout is the EXIF timestamp format.
const momentLayout = "2006:01:02 15:04:05"

// badMomentSentinel is emitted by some camera firmware in place of a
// real timestamp.
const badMomentSentinel = "0000:00:00 00:00:00"

// maxAltitude is the garbage-sensor guard: some devices report an
// unsigned rollover (4294967275-style meters) as altitude.
const maxAltitude = 12000.0

// ParseError indicates the metadata container was structurally
// unreadable. Individual missing or malformed fields never produce it;
// they degrade to defaults.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse metadata container: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Metadata is the normalized record extracted from an uploaded image.
// Lat, Lng and Altitude are nil when the source carried no GPS block.
type Metadata struct {
	Moment      time.Time
	CameraMake  string
	CameraModel string
	Orientation int
	Width       int
	Height      int
	Lat         *float64
	Lng         *float64
	Altitude    *float64
	GPSRef      string
	Size        int64
}

// Parse extracts normalized metadata from raw image bytes.
// fallbackWidth and fallbackHeight come from the decoded image and are
// used when the container does not declare pixel dimensions.
//
// Missing or malformed individual fields fall back to defaults; only a
// container with no locatable metadata segments returns a ParseError.
func Parse(raw []byte, fallbackWidth, fallbackHeight int) (*Metadata, error) {
	x, err := exif.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	m := &Metadata{
		Moment:      time.Unix(0, 0).UTC(),
		Orientation: 1,
		GPSRef:      "NE0",
		Size:        int64(len(raw)),
	}

	m.CameraMake = stringField(x, exif.Make)
	m.CameraModel = normalizeModel(m.CameraMake, stringField(x, exif.Model))

	if o := intField(x, exif.Orientation, 0); o >= 1 && o <= 8 {
		m.Orientation = o
	}

	if s := stringField(x, exif.DateTime); s != "" && s != badMomentSentinel {
		if t, err := time.Parse(momentLayout, s); err == nil {
			m.Moment = t
		} else {
			logging.Debug("unparseable capture moment %q, using epoch", s)
		}
	}

	m.Width = intField(x, exif.PixelXDimension, fallbackWidth)
	m.Height = intField(x, exif.PixelYDimension, fallbackHeight)

	parseLocation(x, m)

	return m, nil
}

// parseLocation fills in lat/lng/altitude and the gps_ref string from
// the GPS fields, when present.
func parseLocation(x *exif.Exif, m *Metadata) {
	m.Lat = coordField(x, exif.GPSLatitude)
	m.Lng = coordField(x, exif.GPSLongitude)

	// A lone usable coordinate is malformed source data; treat it as no
	// position at all so the record stays both-or-neither.
	if m.Lat == nil || m.Lng == nil {
		m.Lat, m.Lng = nil, nil
	}

	ref := []byte(m.GPSRef)

	if latRef := stringField(x, exif.GPSLatitudeRef); latRef != "" {
		ref[0] = latRef[0]
		if latRef == "S" && m.Lat != nil {
			*m.Lat = -*m.Lat
		}
	}
	if lngRef := stringField(x, exif.GPSLongitudeRef); lngRef != "" {
		ref[1] = lngRef[0]
		if lngRef == "W" && m.Lng != nil {
			*m.Lng = -*m.Lng
		}
	}

	if tag, err := x.Get(exif.GPSAltitude); err == nil && tag.Count > 0 {
		alt := 0.0
		num, den, err := tag.Rat2(0)
		if err == nil {
			if v, ok := (Rational{Num: num, Den: den}).Float(); ok {
				alt = v
			} else {
				logging.Warn("invalid altitude rational %d/%d, using 0", num, den)
			}
		}
		if alt > maxAltitude {
			alt = 0
		}
		if altRef := intField(x, exif.GPSAltitudeRef, 0); altRef == 1 {
			// Below sea level.
			alt = -alt
		}
		m.Altitude = &alt
	}
	if tag, err := x.Get(exif.GPSAltitudeRef); err == nil {
		if v, err := tag.Int(0); err == nil && v >= 0 && v <= 9 {
			ref[2] = byte('0' + v)
		}
	}

	m.GPSRef = string(ref)
}

// coordField reads a GPS DMS triple and converts it to decimal degrees.
// Returns nil when the field is absent, short, or has a zero
// denominator anywhere.
func coordField(x *exif.Exif, name exif.FieldName) *float64 {
	tag, err := x.Get(name)
	if err != nil || tag.Count < 3 {
		return nil
	}

	var dms [3]Rational
	for i := 0; i < 3; i++ {
		num, den, err := tag.Rat2(i)
		if err != nil {
			return nil
		}
		dms[i] = Rational{Num: num, Den: den}
	}

	v, ok := DMSToDecimal(dms[0], dms[1], dms[2])
	if !ok {
		return nil
	}
	return &v
}

// stringField reads an ASCII field, stripping null-byte padding and
// surrounding whitespace. Returns "" when absent.
func stringField(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.Trim(s, "\x00"))
}

// intField reads an integer field, returning fallback when absent or
// unreadable.
func intField(x *exif.Exif, name exif.FieldName, fallback int) int {
	tag, err := x.Get(name)
	if err != nil {
		return fallback
	}
	v, err := tag.Int(0)
	if err != nil {
		return fallback
	}
	return v
}

// normalizeModel strips the make out of the model string; vendor
// firmware frequently duplicates the brand name there.
func normalizeModel(make, model string) string {
	if make == "" || !strings.Contains(model, make) {
		return model
	}
	return strings.TrimSpace(strings.ReplaceAll(model, make, ""))
}
