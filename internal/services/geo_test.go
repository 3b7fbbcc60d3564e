package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineKm(t *testing.T) {
	assert.InDelta(t, 0, HaversineKm(GeoPoint{Lat: 1.3, Lng: 103.8}, GeoPoint{Lat: 1.3, Lng: 103.8}), 1e-9)
	// one degree of latitude
	assert.InDelta(t, 111.19, HaversineKm(GeoPoint{Lat: 0, Lng: 0}, GeoPoint{Lat: 1, Lng: 0}), 0.01)
	assert.InDelta(t, 5.99, HaversineKm(GeoPoint{Lat: 1.35, Lng: 103.82}, GeoPoint{Lat: 1.30, Lng: 103.80}), 0.05)
}

func TestClampRadius(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	assert.Equal(t, DefaultRadiusKm, ClampRadius(nil))
	assert.Equal(t, MinRadiusKm, ClampRadius(f(0)))
	assert.Equal(t, MinRadiusKm, ClampRadius(f(-3)))
	assert.Equal(t, MaxRadiusKm, ClampRadius(f(80)))
	assert.Equal(t, 7.5, ClampRadius(f(7.5)))
}

func TestBoundingBoxContainsRadius(t *testing.T) {
	center := GeoPoint{Lat: 1.35, Lng: 103.82}
	box := boundingBox(center, 10)

	assert.False(t, box.SkipLongitude)
	assert.Less(t, box.MinLat, 1.30)
	assert.Greater(t, box.MaxLat, 1.40)
	assert.Less(t, box.MinLng, 103.75)
	assert.Greater(t, box.MaxLng, 103.89)

	polar := boundingBox(GeoPoint{Lat: 89.99, Lng: 0}, 5)
	assert.True(t, polar.SkipLongitude)

	dateline := boundingBox(GeoPoint{Lat: 0, Lng: 179.99}, 5)
	assert.True(t, dateline.SkipLongitude)
}
