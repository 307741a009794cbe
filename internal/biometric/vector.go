package biometric

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Vector is a face feature vector in canonical form.
type Vector []float64

// DecodeVector turns a stored biometric blob into a Vector. Two encodings are
// accepted: a JSON array of numbers, or a JSON object whose keys are all
// integers, read in ascending key order. Anything else is ErrCorruptVector.
func DecodeVector(raw []byte) (Vector, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrCorruptVector)
	}

	var v Vector
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptVector, err)
		}
	case '{':
		var m map[string]float64
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptVector, err)
		}
		keys := make([]int, 0, len(m))
		byKey := make(map[int]float64, len(m))
		for k, val := range m {
			i, err := strconv.Atoi(k)
			if err != nil {
				return nil, fmt.Errorf("%w: non-numeric key %q", ErrCorruptVector, k)
			}
			if _, dup := byKey[i]; dup {
				return nil, fmt.Errorf("%w: duplicate key %d", ErrCorruptVector, i)
			}
			byKey[i] = val
			keys = append(keys, i)
		}
		sort.Ints(keys)
		v = make(Vector, len(keys))
		for idx, k := range keys {
			v[idx] = byKey[k]
		}
	default:
		return nil, fmt.Errorf("%w: unsupported encoding", ErrCorruptVector)
	}

	if len(v) == 0 {
		return nil, fmt.Errorf("%w: no components", ErrCorruptVector)
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("%w: component %d is not finite", ErrCorruptVector, i)
		}
	}
	return v, nil
}

// EuclideanDistance returns the L2 distance between a and b.
func EuclideanDistance(a, b Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum), nil
}
