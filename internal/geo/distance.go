package geo

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// Point is a WGS84 location in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether p is a finite coordinate inside the WGS84 ranges.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// orb points are (lon, lat).
func (p Point) orb() orb.Point { return orb.Point{p.Lng, p.Lat} }

// DistanceKm is the haversine great-circle distance between a and b.
func DistanceKm(a, b Point) float64 {
	return orbgeo.DistanceHaversine(a.orb(), b.orb()) / 1000
}

// searchBound returns the lat/lng box that contains every point within
// radiusKm of origin. ok is false when the box cannot be expressed without
// wrapping (poles, antimeridian), in which case callers scan everything.
func searchBound(origin Point, radiusKm float64) (minLat, minLng, maxLat, maxLng float64, ok bool) {
	b := orbgeo.NewBoundAroundPoint(origin.orb(), radiusKm*1000)
	// Pad for float error so boundary points are never pruned.
	const pad = 1e-9
	minLat, maxLat = b.Min.Lat()-pad, b.Max.Lat()+pad
	minLng, maxLng = b.Min.Lon()-pad, b.Max.Lon()+pad

	for _, v := range []float64{minLat, minLng, maxLat, maxLng} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, 0, 0, 0, false
		}
	}
	if minLat <= -89 || maxLat >= 89 || minLng < -180 || maxLng > 180 || minLng > maxLng {
		return 0, 0, 0, 0, false
	}
	return minLat, minLng, maxLat, maxLng, true
}
