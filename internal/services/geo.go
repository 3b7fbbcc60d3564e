package services

import (
	"math"

	"wave-service/internal/repositories"
)

const (
	earthRadiusKm = 6371.0

	MinRadiusKm     = 0.1
	MaxRadiusKm     = 50.0
	DefaultRadiusKm = 5.0
)

// GeoPoint is a latitude/longitude pair in degrees.
type GeoPoint struct {
	Lat float64
	Lng float64
}

func validCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// HaversineKm returns the great-circle distance between two points.
func HaversineKm(a, b GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// ClampRadius bounds a requested radius to [MinRadiusKm, MaxRadiusKm].
func ClampRadius(radius *float64) float64 {
	if radius == nil || math.IsNaN(*radius) {
		return DefaultRadiusKm
	}
	return math.Max(MinRadiusKm, math.Min(MaxRadiusKm, *radius))
}

// boundingBox returns a rectangle that contains every point within radiusKm
// of center. It is only a prefilter; HaversineKm decides membership.
func boundingBox(center GeoPoint, radiusKm float64) repositories.BoundingBox {
	dLat := radiusKm / earthRadiusKm * 180 / math.Pi
	box := repositories.BoundingBox{
		MinLat: math.Max(-90, center.Lat-dLat),
		MaxLat: math.Min(90, center.Lat+dLat),
	}

	cosLat := math.Cos(center.Lat * math.Pi / 180)
	if cosLat < 1e-6 || box.MinLat <= -90 || box.MaxLat >= 90 {
		box.SkipLongitude = true
		return box
	}
	dLng := dLat / cosLat
	box.MinLng = center.Lng - dLng
	box.MaxLng = center.Lng + dLng
	if box.MinLng < -180 || box.MaxLng > 180 {
		box.SkipLongitude = true
	}
	return box
}
