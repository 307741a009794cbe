//go:build dlib

// Package dlib extracts face descriptors in-process with dlib via go-face.
// Build with -tags dlib; it needs the dlib and libjpeg development headers.
package dlib

import (
	"context"
	"fmt"
	"sync"

	"github.com/Kagami/go-face"

	"presensi/internal/biometric"
)

// Extractor wraps a go-face recognizer. The recognizer is not safe for
// concurrent use, so calls are serialized.
type Extractor struct {
	mu  sync.Mutex
	rec *face.Recognizer
}

// New loads the shape predictor and ResNet models from modelDir.
func New(modelDir string) (*Extractor, error) {
	rec, err := face.NewRecognizer(modelDir)
	if err != nil {
		return nil, fmt.Errorf("load dlib models from %s: %w", modelDir, err)
	}
	return &Extractor{rec: rec}, nil
}

// Extract returns the 128-d descriptor of the only face in a JPEG image.
func (e *Extractor) Extract(ctx context.Context, image []byte) (biometric.Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	faces, err := e.rec.Recognize(image)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("dlib recognize: %w", err)
	}
	switch len(faces) {
	case 0:
		return nil, biometric.ErrNoFaceDetected
	case 1:
	default:
		return nil, fmt.Errorf("%w: %d faces", biometric.ErrMultipleFaces, len(faces))
	}

	d := faces[0].Descriptor
	v := make(biometric.Vector, len(d))
	for i, x := range d {
		v[i] = float64(x)
	}
	return v, nil
}

// Close releases the native recognizer.
func (e *Extractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec != nil {
		e.rec.Close()
		e.rec = nil
	}
	return nil
}
