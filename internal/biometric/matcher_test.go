package biometric

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"
)

type fixedExtractor struct {
	v     Vector
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fixedExtractor) Extract(ctx context.Context, _ []byte) (Vector, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.v, f.err
}

func TestDecodeVector(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Vector
		wantErr bool
	}{
		{name: "list", raw: `[0.1, -0.2, 0.3]`, want: Vector{0.1, -0.2, 0.3}},
		{name: "numeric keyed map", raw: `{"0": 0.1, "1": -0.2, "2": 0.3}`, want: Vector{0.1, -0.2, 0.3}},
		{name: "map ordered by numeric key not text", raw: `{"10": 3, "2": 1, "9": 2}`, want: Vector{1, 2, 3}},
		{name: "surrounding whitespace", raw: "  [1,2]\n", want: Vector{1, 2}},
		{name: "non numeric key", raw: `{"a": 0.1}`, wantErr: true},
		{name: "string values", raw: `["0.1", "0.2"]`, wantErr: true},
		{name: "bare number", raw: `0.5`, wantErr: true},
		{name: "null", raw: `null`, wantErr: true},
		{name: "truncated", raw: `[0.1, 0.2`, wantErr: true},
		{name: "empty list", raw: `[]`, wantErr: true},
		{name: "empty input", raw: ``, wantErr: true},
		{name: "same index twice", raw: `{"1": 0.1, "01": 0.2}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeVector([]byte(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, ErrCorruptVector) {
					t.Fatalf("DecodeVector() error = %v, want ErrCorruptVector", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeVector() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestListAndMapEncodingsMatchIdentically(t *testing.T) {
	probe := Vector{0.11, 0.52, -0.3, 0.07}
	m := NewMatcher(&fixedExtractor{v: probe}, Options{})

	list, err := m.Match(context.Background(), []byte("img"), []byte(`[0.1, 0.5, -0.31, 0.1]`))
	if err != nil {
		t.Fatalf("Match(list) error = %v", err)
	}
	keyed, err := m.Match(context.Background(), []byte("img"), []byte(`{"3": 0.1, "0": 0.1, "2": -0.31, "1": 0.5}`))
	if err != nil {
		t.Fatalf("Match(map) error = %v", err)
	}
	if list.Distance != keyed.Distance {
		t.Errorf("distances differ: list %v, map %v", list.Distance, keyed.Distance)
	}
}

func TestMatchThreshold(t *testing.T) {
	stored := []byte(`[0, 0]`)
	tests := []struct {
		name  string
		probe Vector
		want  bool
	}{
		{"identical", Vector{0, 0}, true},
		{"exactly at threshold", Vector{0.45, 0}, true},
		{"just above threshold", Vector{0.4501, 0}, false},
		{"far away", Vector{0.6, 0.6}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMatcher(&fixedExtractor{v: tt.probe}, Options{Threshold: 0.45})
			res, err := m.Match(context.Background(), []byte("img"), stored)
			if err != nil {
				t.Fatalf("Match() error = %v", err)
			}
			if res.Matched != tt.want {
				t.Errorf("Matched = %v (distance %v), want %v", res.Matched, res.Distance, tt.want)
			}
		})
	}
}

func TestMatchErrors(t *testing.T) {
	tests := []struct {
		name    string
		ext     *fixedExtractor
		stored  string
		wantErr error
		noCall  bool
	}{
		{name: "corrupt stored skips extraction", ext: &fixedExtractor{v: Vector{1}}, stored: `"abc"`, wantErr: ErrCorruptVector, noCall: true},
		{name: "length mismatch", ext: &fixedExtractor{v: Vector{1, 2, 3}}, stored: `[1, 2]`, wantErr: ErrLengthMismatch},
		{name: "no face", ext: &fixedExtractor{err: ErrNoFaceDetected}, stored: `[1]`, wantErr: ErrNoFaceDetected},
		{name: "empty extraction", ext: &fixedExtractor{v: Vector{}}, stored: `[1]`, wantErr: ErrNoFaceDetected},
		{name: "multiple faces", ext: &fixedExtractor{err: ErrMultipleFaces}, stored: `[1]`, wantErr: ErrMultipleFaces},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMatcher(tt.ext, Options{})
			_, err := m.Match(context.Background(), []byte("img"), []byte(tt.stored))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Match() error = %v, want %v", err, tt.wantErr)
			}
			if tt.noCall && tt.ext.calls.Load() != 0 {
				t.Errorf("extractor called %d times, want 0", tt.ext.calls.Load())
			}
		})
	}
}

func TestMatchTimeout(t *testing.T) {
	ext := &fixedExtractor{v: Vector{1}, delay: time.Second}
	m := NewMatcher(ext, Options{Timeout: 20 * time.Millisecond})

	_, err := m.Match(context.Background(), []byte("img"), []byte(`[1]`))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Match() error = %v, want ErrTimeout", err)
	}
}

func TestMatchCancelled(t *testing.T) {
	ext := &fixedExtractor{v: Vector{1}, delay: time.Second}
	m := NewMatcher(ext, Options{Timeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := m.Match(ctx, []byte("img"), []byte(`[1]`))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Match() error = %v, want ErrTimeout", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Match() error = %v, want context.Canceled in the chain", err)
	}
}

func TestMatchConcurrencyBound(t *testing.T) {
	ext := &fixedExtractor{v: Vector{1}, delay: 200 * time.Millisecond}
	m := NewMatcher(ext, Options{MaxConcurrency: 1})

	first := make(chan error, 1)
	go func() {
		_, err := m.Match(context.Background(), []byte("img"), []byte(`[1]`))
		first <- err
	}()
	time.Sleep(20 * time.Millisecond)

	// The single slot is busy, so a short deadline must expire while waiting for it.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := m.Match(ctx, []byte("img"), []byte(`[1]`)); !errors.Is(err, ErrTimeout) {
		t.Fatalf("second Match() error = %v, want ErrTimeout", err)
	}
	if err := <-first; err != nil {
		t.Fatalf("first Match() error = %v", err)
	}
}

func TestEuclideanDistance(t *testing.T) {
	d, err := EuclideanDistance(Vector{0, 0}, Vector{3, 4})
	if err != nil || math.Abs(d-5) > 1e-12 {
		t.Fatalf("EuclideanDistance = %v, %v; want 5", d, err)
	}
}
