package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"freight-auction-system/models"
)

var (
	munich     = models.Location{Latitude: 48.137, Longitude: 11.575}
	dachau     = models.Location{Latitude: 48.26, Longitude: 11.43}  // ~17km from Munich
	augsburg   = models.Location{Latitude: 48.37, Longitude: 10.89}  // ~57km from Munich
	berlin     = models.Location{Latitude: 52.52, Longitude: 13.405} // ~500km from Munich
)

func TestDistanceKm(t *testing.T) {
	d := DistanceKm(munich, berlin)
	assert.InDelta(t, 504, d, 10)
	assert.Equal(t, 0.0, DistanceKm(munich, munich))
}

func TestNearbyFiltersByRadius(t *testing.T) {
	ix := NewShipmentIndex()
	ix.Insert("near", dachau)
	ix.Insert("mid", augsburg)
	ix.Insert("far", berlin)

	assert.Equal(t, []string{"near"}, ix.Nearby(munich, 50, 0))
	assert.Equal(t, []string{"near", "mid"}, ix.Nearby(munich, 100, 0))
	assert.Empty(t, ix.Nearby(munich, 5, 0))
}

func TestNearbyFindsEastWestNeighbors(t *testing.T) {
	// Due east of Munich a degree of longitude is only ~74km, so a
	// latitude-sized candidate box would clip this point even though it
	// is well inside the radius.
	east := models.Location{Latitude: 48.137, Longitude: 12.175}
	assert.InDelta(t, 44.5, DistanceKm(munich, east), 2)

	ix := NewShipmentIndex()
	ix.Insert("east", east)
	assert.Equal(t, []string{"east"}, ix.Nearby(munich, 50, 0))

	west := models.Location{Latitude: 48.137, Longitude: 10.975}
	ix.Insert("west", west)
	got := ix.Nearby(munich, 50, 0)
	assert.ElementsMatch(t, []string{"east", "west"}, got)
}

func TestNearbyOrdersClosestFirstAndCaps(t *testing.T) {
	ix := NewShipmentIndex()
	ix.Insert("mid", augsburg)
	ix.Insert("near", dachau)

	got := ix.Nearby(munich, 100, 1)
	assert.Equal(t, []string{"near"}, got)
}

func TestRemoveAndReinsert(t *testing.T) {
	ix := NewShipmentIndex()
	ix.Insert("a", dachau)
	assert.Equal(t, 1, ix.Len())

	ix.Remove("a")
	assert.Equal(t, 0, ix.Len())
	assert.Empty(t, ix.Nearby(munich, 100, 0))

	// Removing twice is fine, re-inserting replaces cleanly.
	ix.Remove("a")
	ix.Insert("a", dachau)
	ix.Insert("a", augsburg)
	assert.Equal(t, 1, ix.Len())
	assert.Empty(t, ix.Nearby(munich, 30, 0))
	assert.Equal(t, []string{"a"}, ix.Nearby(munich, 100, 0))
}

func TestGeohashRoundtrip(t *testing.T) {
	h := Encode(munich, 5)
	assert.Len(t, h, 5)
	assert.Len(t, Neighbors(h), 8)
}
