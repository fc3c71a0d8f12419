package model

import (
	"fmt"
	"math"
)

const earthRadiusKm = 6371.0

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate checks that the coordinates are within valid bounds.
func (l LatLng) Validate() error {
	if math.IsNaN(l.Lat) || math.IsNaN(l.Lng) {
		return fmt.Errorf("coordinates must be numbers")
	}
	if l.Lat < -90 || l.Lat > 90 {
		return fmt.Errorf("latitude %v out of range", l.Lat)
	}
	if l.Lng < -180 || l.Lng > 180 {
		return fmt.Errorf("longitude %v out of range", l.Lng)
	}
	return nil
}

// IsZero reports whether the coordinate is the unset zero value.
func (l LatLng) IsZero() bool { return l.Lat == 0 && l.Lng == 0 }

// DistanceKm returns the haversine great-circle distance to other.
func (l LatLng) DistanceKm(other LatLng) float64 {
	lat1 := l.Lat * math.Pi / 180
	lat2 := other.Lat * math.Pi / 180
	dLat := (other.Lat - l.Lat) * math.Pi / 180
	dLng := (other.Lng - l.Lng) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// DistanceM returns the haversine distance in meters.
func (l LatLng) DistanceM(other LatLng) float64 {
	return l.DistanceKm(other) * 1000
}
