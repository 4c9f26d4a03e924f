package media

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	// Image format decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp" // WebP format support
)

// DecodeError indicates the image bytes could not be decoded. It occurs
// after the photo row may already be persisted, so callers log it and
// leave the record in place for a later backfill.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// LoadImage decodes raw image bytes and corrects camera orientation so
// the returned image is upright. orientation is the EXIF code in
// [1, 8]; 1 means no correction.
func LoadImage(raw []byte, orientation int) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	if orientation != 1 {
		img = transpose(img, orientation)
	}
	return img, nil
}

// GetDimensions returns the native pixel dimensions of the encoded
// image without fully decoding it.
func GetDimensions(raw []byte) (width, height int, err error) {
	config, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return 0, 0, &DecodeError{Err: err}
	}
	return config.Width, config.Height, nil
}

// transpose applies the rotation/mirror demanded by an EXIF orientation
// code so stored artifacts are always upright.
func transpose(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
