package geo

import (
	"math"
	"sort"
	"sync"

	"github.com/dhconnelly/rtreego"

	"freight-auction-system/models"
)

// pointTolerance is the side of the degenerate bounding box wrapped
// around each indexed point.
const pointTolerance = 0.0001

// kmPerDegree approximates one degree of latitude; good enough to size
// the candidate rectangle, exact filtering is done by haversine.
const kmPerDegree = 111.0

type shipmentPoint struct {
	id  string
	pt  rtreego.Point
	loc models.Location
}

func (p *shipmentPoint) Bounds() rtreego.Rect {
	return p.pt.ToRect(pointTolerance)
}

// ShipmentIndex is a concurrency-safe R-tree over the origins of
// shipments that are currently accepting bids. The backhaul matcher
// queries it for shipments chainable from a delivery destination.
type ShipmentIndex struct {
	mu    sync.Mutex
	tree  *rtreego.Rtree
	items map[string]*shipmentPoint
}

func NewShipmentIndex() *ShipmentIndex {
	return &ShipmentIndex{
		tree:  rtreego.NewTree(2, 25, 50),
		items: make(map[string]*shipmentPoint),
	}
}

// Insert adds a shipment origin to the index. Re-inserting an id
// replaces its previous entry.
func (ix *ShipmentIndex) Insert(id string, loc models.Location) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if prev, ok := ix.items[id]; ok {
		ix.tree.Delete(prev)
	}
	p := &shipmentPoint{
		id:  id,
		pt:  rtreego.Point{loc.Latitude, loc.Longitude},
		loc: loc,
	}
	ix.items[id] = p
	ix.tree.Insert(p)
}

// Remove drops a shipment from the index. Unknown ids are ignored.
func (ix *ShipmentIndex) Remove(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	p, ok := ix.items[id]
	if !ok {
		return
	}
	ix.tree.Delete(p)
	delete(ix.items, id)
}

// Len returns the number of indexed shipments.
func (ix *ShipmentIndex) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.items)
}

// Nearby returns up to limit shipment ids whose indexed origin lies
// within radiusKm of loc, closest first.
func (ix *ShipmentIndex) Nearby(loc models.Location, radiusKm float64, limit int) []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	// A degree of longitude shrinks by cos(latitude), so a box sized in
	// latitude degrees alone would clip in-radius points due east and
	// west. Widen the box by that factor on both axes; the haversine
	// filter below is exact.
	half := radiusKm / kmPerDegree
	if cosLat := math.Cos(loc.Latitude * math.Pi / 180); cosLat > 0.01 {
		half /= cosLat
	} else {
		half /= 0.01
	}

	center := rtreego.Point{loc.Latitude, loc.Longitude}
	candidates := ix.tree.SearchIntersect(center.ToRect(half))

	type hit struct {
		id   string
		dist float64
	}
	hits := make([]hit, 0, len(candidates))
	for _, c := range candidates {
		p := c.(*shipmentPoint)
		d := DistanceKm(loc, p.loc)
		if d <= radiusKm {
			hits = append(hits, hit{id: p.id, dist: d})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].id < hits[j].id
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids
}
