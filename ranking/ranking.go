// Package ranking scores candidate bids for an auction and searches
// for backhaul chains. Scoring is pure: identical inputs and weights
// always produce the identical strict ordering.
package ranking

import (
	"math"
	"sort"
	"time"

	"freight-auction-system/geo"
	"freight-auction-system/ledger"
	"freight-auction-system/models"
	"freight-auction-system/reputation"
)

type Weights struct {
	Price      float64
	Reputation float64
	Proximity  float64
	Backhaul   float64
}

type Config struct {
	Weights Weights
	// FallbackReference anchors the price score when a shipment carries
	// no reserve price. Zero means "use the lowest bid in the set".
	FallbackReference float64
	// ProximityDecay is the ETA at which the proximity score drops to 1/e.
	ProximityDecay time.Duration
	// BackhaulRadiusKm bounds the nearest-neighbor search around the
	// shipment destination; BackhaulLimit caps its result set.
	BackhaulRadiusKm float64
	BackhaulLimit    int
}

func DefaultConfig() Config {
	return Config{
		Weights:          Weights{Price: 0.5, Reputation: 0.2, Proximity: 0.2, Backhaul: 0.1},
		ProximityDecay:   30 * time.Minute,
		BackhaulRadiusKm: 50,
		BackhaulLimit:    5,
	}
}

type ScoredBid struct {
	Bid             models.Bid `json:"bid"`
	Score           float64    `json:"score"`
	PriceScore      float64    `json:"price_score"`
	ReputationScore float64    `json:"reputation_score"`
	ProximityScore  float64    `json:"proximity_score"`
	BackhaulBonus   float64    `json:"backhaul_bonus"`
}

type Ranker struct {
	cfg    Config
	rep    *reputation.Scorer
	index  *geo.ShipmentIndex
	ledger *ledger.Ledger
}

func NewRanker(cfg Config, rep *reputation.Scorer, index *geo.ShipmentIndex, l *ledger.Ledger) *Ranker {
	return &Ranker{cfg: cfg, rep: rep, index: index, ledger: l}
}

// Rank scores every bid against the shipment and returns them best
// first. Ties resolve by earliest submission, then driver id, so the
// ordering is always strict.
func (r *Ranker) Rank(s models.Shipment, bids []models.Bid) []ScoredBid {
	ref := r.referencePrice(s, bids)
	// The binary bonus depends only on the destination, so it is shared
	// by every bid of the auction. A driver-aware bonus (route overlap,
	// home base) must move inside the loop below.
	backhaul := r.BackhaulBonus(s)

	scored := make([]ScoredBid, 0, len(bids))
	for _, b := range bids {
		sb := ScoredBid{
			Bid:             b,
			PriceScore:      priceScore(b.Price, ref),
			ReputationScore: r.rep.Score(b.DriverID),
			ProximityScore:  r.proximityScore(b.ETAToOrigin),
			BackhaulBonus:   backhaul,
		}
		w := r.cfg.Weights
		sb.Score = w.Price*sb.PriceScore +
			w.Reputation*sb.ReputationScore +
			w.Proximity*sb.ProximityScore +
			w.Backhaul*sb.BackhaulBonus
		scored = append(scored, sb)
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if !scored[i].Bid.SubmittedAt.Equal(scored[j].Bid.SubmittedAt) {
			return scored[i].Bid.SubmittedAt.Before(scored[j].Bid.SubmittedAt)
		}
		return scored[i].Bid.DriverID < scored[j].Bid.DriverID
	})
	return scored
}

func (r *Ranker) referencePrice(s models.Shipment, bids []models.Bid) float64 {
	if s.ReservePrice > 0 {
		return s.ReservePrice
	}
	if r.cfg.FallbackReference > 0 {
		return r.cfg.FallbackReference
	}
	ref := 0.0
	for _, b := range bids {
		if ref == 0 || b.Price < ref {
			ref = b.Price
		}
	}
	return ref
}

// priceScore is inverse-normalized: a bid at or below the reference
// price scores 1, higher bids decay toward 0.
func priceScore(price, reference float64) float64 {
	if price <= 0 || reference <= 0 {
		return 0
	}
	v := reference / price
	if v > 1 {
		return 1
	}
	return v
}

func (r *Ranker) proximityScore(eta time.Duration) float64 {
	if eta <= 0 {
		return 1
	}
	decay := r.cfg.ProximityDecay
	if decay <= 0 {
		decay = 30 * time.Minute
	}
	return math.Exp(-eta.Seconds() / decay.Seconds())
}

// BackhaulBonus is 1 when at least one other shipment currently
// accepting bids originates within the configured radius of the
// shipment's destination, meaning the winner can chain straight into a
// follow-on load. An empty search is not an error; the bonus is just 0.
func (r *Ranker) BackhaulBonus(s models.Shipment) float64 {
	if r.index == nil {
		return 0
	}
	// +1 so the shipment's own index entry cannot mask a real neighbor.
	ids := r.index.Nearby(s.Destination, r.cfg.BackhaulRadiusKm, r.cfg.BackhaulLimit+1)
	for _, id := range ids {
		if id == s.ID {
			continue
		}
		other, err := r.ledger.GetShipment(id)
		if err != nil {
			continue
		}
		if other.Status.Biddable() {
			return 1
		}
	}
	return 0
}
