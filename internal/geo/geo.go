package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// EarthRadiusMeters is the mean earth radius used for haversine distances.
const EarthRadiusMeters = 6371000.0

// ErrInvalidCoordinate is returned for NaN, infinite or out-of-range coordinates.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Point builds an orb.Point from latitude and longitude (orb stores lon first).
func Point(lat, lon float64) orb.Point {
	return orb.Point{lon, lat}
}

// Validate checks that p is a finite WGS84 coordinate.
func Validate(p orb.Point) error {
	lat, lon := p.Lat(), p.Lon()
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return fmt.Errorf("%w: not a finite number", ErrInvalidCoordinate)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %.6f out of range", ErrInvalidCoordinate, lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %.6f out of range", ErrInvalidCoordinate, lon)
	}
	return nil
}

// DistanceMeters returns the great-circle distance between two lat/lon pairs.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	return Distance(Point(lat1, lon1), Point(lat2, lon2))
}

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b orb.Point) float64 {
	φ1 := a.Lat() * math.Pi / 180
	φ2 := b.Lat() * math.Pi / 180
	Δφ := (b.Lat() - a.Lat()) * math.Pi / 180
	Δλ := (b.Lon() - a.Lon()) * math.Pi / 180

	h := math.Sin(Δφ/2)*math.Sin(Δφ/2) + math.Cos(φ1)*math.Cos(φ2)*math.Sin(Δλ/2)*math.Sin(Δλ/2)
	// rounding can push h a hair past 1 for antipodal points
	if h > 1 {
		h = 1
	}
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// WithinRadius reports whether student lies inside the circle around campus.
// The boundary counts as inside.
func WithinRadius(student, campus orb.Point, radiusMeters float64) bool {
	return Distance(student, campus) <= radiusMeters
}

// Fence is a campus geofence with an optional jitter tolerance added to the radius.
type Fence struct {
	Center    orb.Point
	Radius    float64
	Tolerance float64
}

// Check returns the measured distance and whether p is inside the fence.
func (f Fence) Check(p orb.Point) (float64, bool, error) {
	if err := Validate(p); err != nil {
		return 0, false, err
	}
	if err := Validate(f.Center); err != nil {
		return 0, false, fmt.Errorf("campus center: %w", err)
	}
	d := Distance(p, f.Center)
	return d, d <= f.Radius+f.Tolerance, nil
}
