// Package reputation maintains the bounded trust score each driver
// carries into ranking. The score lives on the DriverProfile in the
// ledger; this package is the only writer besides dispatch's counters.
//
// Update rules (all bounded to [0, 100]):
//   - on-time completion moves the score toward 100 by CompletionGain,
//     a late one by half that, so the score strictly increases while
//     below the ceiling;
//   - a cancellation multiplies the score by (1 - penalty), penalties
//     growing with the stage at which the driver bailed, so the score
//     strictly decreases while above the floor.
//
// New drivers start at the configured neutral score.
package reputation

import (
	"freight-auction-system/ledger"
	"freight-auction-system/models"
)

// Stage identifies how far a job had progressed when the driver
// cancelled.
type Stage string

const (
	StagePreMatch   Stage = "pre_match"
	StagePostMatch  Stage = "post_match"
	StagePostPickup Stage = "post_pickup"
)

const (
	minScore = 0.0
	maxScore = 100.0
)

type Config struct {
	NeutralScore     float64 // starting score for unknown drivers
	CompletionGain   float64 // fraction of the remaining headroom gained per on-time delivery
	PenaltyPreMatch  float64 // multiplicative penalty per cancellation stage
	PenaltyPostMatch float64
	PenaltyPickup    float64
}

func DefaultConfig() Config {
	return Config{
		NeutralScore:     50,
		CompletionGain:   0.10,
		PenaltyPreMatch:  0.02,
		PenaltyPostMatch: 0.10,
		PenaltyPickup:    0.25,
	}
}

type Scorer struct {
	ledger *ledger.Ledger
	cfg    Config
}

func NewScorer(l *ledger.Ledger, cfg Config) *Scorer {
	return &Scorer{ledger: l, cfg: cfg}
}

// Score returns the driver's trust score normalized to [0, 1]. Unknown
// drivers get the neutral default so ranking is always defined.
func (s *Scorer) Score(driverID string) float64 {
	p, err := s.ledger.GetDriver(driverID)
	if err != nil {
		return s.cfg.NeutralScore / maxScore
	}
	return p.Score / maxScore
}

// NeutralScore is the raw starting score applied to new profiles.
func (s *Scorer) NeutralScore() float64 {
	return s.cfg.NeutralScore
}

// RecordCompletion applies a completed job to the driver's history.
func (s *Scorer) RecordCompletion(driverID string, onTime bool) error {
	gain := s.cfg.CompletionGain
	if !onTime {
		gain /= 2
	}
	_, err := s.ledger.UpdateDriver(driverID, func(p *models.DriverProfile) {
		p.Score = clamp(p.Score + (maxScore-p.Score)*gain)
		p.CompletedJobs++
	})
	return err
}

// RecordCancellation applies a cancellation at the given stage.
func (s *Scorer) RecordCancellation(driverID string, stage Stage) error {
	penalty := s.penalty(stage)
	_, err := s.ledger.UpdateDriver(driverID, func(p *models.DriverProfile) {
		p.Score = clamp(p.Score * (1 - penalty))
		p.Cancellations++
	})
	return err
}

func (s *Scorer) penalty(stage Stage) float64 {
	switch stage {
	case StagePostMatch:
		return s.cfg.PenaltyPostMatch
	case StagePostPickup:
		return s.cfg.PenaltyPickup
	default:
		return s.cfg.PenaltyPreMatch
	}
}

func clamp(v float64) float64 {
	if v < minScore {
		return minScore
	}
	if v > maxScore {
		return maxScore
	}
	return v
}
