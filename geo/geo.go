package geo

import (
	"math"

	"github.com/mmcloughlin/geohash"

	"freight-auction-system/models"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between two locations.
func DistanceKm(a, b models.Location) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// Encode encodes a location into a geohash with the given precision.
func Encode(loc models.Location, precision uint) string {
	return geohash.EncodeWithPrecision(loc.Latitude, loc.Longitude, precision)
}

// Neighbors returns the geohashes of the cells surrounding hash.
func Neighbors(hash string) []string {
	return geohash.Neighbors(hash)
}
