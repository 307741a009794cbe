// Package photo decodes and normalises attendance selfies.
package photo

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// ErrInvalidImage is returned for payloads that are not a decodable image.
var ErrInvalidImage = errors.New("invalid image")

const (
	// MaxBytes caps the decoded payload size.
	MaxBytes = 8 << 20
	// MaxSide is the longest edge kept after normalisation.
	MaxSide = 1280
)

// Photo is a normalised JPEG ready for extraction and storage.
type Photo struct {
	Data   []byte
	Format string // format of the submitted bytes
	Width  int
	Height int
}

// DecodeBase64 accepts raw base64 or a data URL ("data:image/jpeg;base64,...").
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 || !strings.Contains(s[:i], ";base64") {
			return nil, fmt.Errorf("%w: malformed data url", ErrInvalidImage)
		}
		s = s[i+1:]
	}
	if base64.StdEncoding.DecodedLen(len(s)) > MaxBytes+3 {
		return nil, fmt.Errorf("%w: larger than %d bytes", ErrInvalidImage, MaxBytes)
	}

	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// some clients strip padding
		if raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
	}
	return raw, nil
}

// Normalize decodes raw, applies EXIF orientation, shrinks it to fit MaxSide
// and re-encodes it as JPEG.
func Normalize(raw []byte) (*Photo, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}
	if len(raw) > MaxBytes {
		return nil, fmt.Errorf("%w: larger than %d bytes", ErrInvalidImage, MaxBytes)
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	b := img.Bounds()
	if b.Dx() > MaxSide || b.Dy() > MaxSide {
		img = imaging.Fit(img, MaxSide, MaxSide, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	nb := img.Bounds()
	return &Photo{Data: buf.Bytes(), Format: format, Width: nb.Dx(), Height: nb.Dy()}, nil
}

// FromBase64 is DecodeBase64 followed by Normalize.
func FromBase64(s string) (*Photo, error) {
	raw, err := DecodeBase64(s)
	if err != nil {
		return nil, err
	}
	return Normalize(raw)
}
