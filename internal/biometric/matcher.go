// Package biometric compares a submitted face against a student's enrolled vector.
package biometric

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrNoFaceDetected is returned when the image holds no usable face.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrMultipleFaces is returned when more than one face is found.
	ErrMultipleFaces = errors.New("multiple faces detected")
	// ErrLengthMismatch is returned when stored and extracted vectors differ in size.
	ErrLengthMismatch = errors.New("biometric vector length mismatch")
	// ErrCorruptVector is returned when the stored vector cannot be decoded.
	ErrCorruptVector = errors.New("corrupt stored biometric vector")
	// ErrTimeout is returned when extraction does not finish in time.
	ErrTimeout = errors.New("biometric processing timed out")
)

// DefaultThreshold is the largest distance still accepted as the same person.
const DefaultThreshold = 0.45

// Extractor produces a feature vector for the single face in an image.
type Extractor interface {
	Extract(ctx context.Context, image []byte) (Vector, error)
}

// Result is the outcome of a comparison.
type Result struct {
	Matched  bool    `json:"matched"`
	Distance float64 `json:"distance"`
}

// Options tunes a Matcher.
type Options struct {
	Threshold      float64
	MaxConcurrency int64
	Timeout        time.Duration
}

// Matcher runs extraction under a concurrency bound and compares vectors.
type Matcher struct {
	extractor Extractor
	threshold float64
	timeout   time.Duration
	sem       *semaphore.Weighted
}

// NewMatcher builds a Matcher. Zero options fall back to defaults.
func NewMatcher(extractor Extractor, opts Options) *Matcher {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 4
	}
	return &Matcher{
		extractor: extractor,
		threshold: opts.Threshold,
		timeout:   opts.Timeout,
		sem:       semaphore.NewWeighted(opts.MaxConcurrency),
	}
}

// Threshold returns the configured match threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Match extracts a vector from image and compares it to the stored blob.
// The stored vector is decoded first so enrollment defects surface before any
// extraction work is spent.
func (m *Matcher) Match(ctx context.Context, image, stored []byte) (Result, error) {
	want, err := DecodeVector(stored)
	if err != nil {
		return Result{}, err
	}

	got, err := m.extract(ctx, image)
	if err != nil {
		return Result{}, err
	}

	dist, err := EuclideanDistance(want, got)
	if err != nil {
		return Result{}, err
	}
	return Result{Matched: dist <= m.threshold, Distance: dist}, nil
}

// Compare decides a match between two vectors already in canonical form.
func (m *Matcher) Compare(stored, submitted Vector) (Result, error) {
	dist, err := EuclideanDistance(stored, submitted)
	if err != nil {
		return Result{}, err
	}
	return Result{Matched: dist <= m.threshold, Distance: dist}, nil
}

func (m *Matcher) extract(ctx context.Context, image []byte) (Vector, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, timeoutErr(ctx, err)
	}

	type extracted struct {
		v   Vector
		err error
	}
	done := make(chan extracted, 1)
	go func() {
		defer m.sem.Release(1)
		v, err := m.extractor.Extract(ctx, image)
		done <- extracted{v, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if ctx.Err() != nil {
				return nil, timeoutErr(ctx, out.err)
			}
			return nil, out.err
		}
		if len(out.v) == 0 {
			return nil, ErrNoFaceDetected
		}
		return out.v, nil
	case <-ctx.Done():
		return nil, timeoutErr(ctx, ctx.Err())
	}
}

// timeoutErr reports an expired or cancelled ctx as ErrTimeout, keeping the
// context error in the chain so callers can tell the two apart.
func timeoutErr(ctx context.Context, cause error) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(cause, err) {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w: %v", ErrTimeout, err, cause)
	}
	return cause
}
