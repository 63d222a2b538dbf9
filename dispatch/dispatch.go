// Package dispatch drives a committed match through execution and
// feeds the outcome back into the driver's reputation. A pre-pickup
// cancellation reopens the auction; a post-pickup failure is terminal
// and escalates to the ops collaborator.
package dispatch

import (
	"errors"
	"fmt"
	"log"
	"time"

	"freight-auction-system/auction"
	"freight-auction-system/ledger"
	"freight-auction-system/models"
	"freight-auction-system/notify"
	"freight-auction-system/reputation"
)

// ErrBadExecutionState is returned when a report does not fit the
// match's current execution status.
var ErrBadExecutionState = errors.New("dispatch: execution status conflict")

// Escalator receives irrecoverable post-pickup failures for human
// intervention. It must not block.
type Escalator func(m models.Match, reason string)

type Tracker struct {
	ledger     *ledger.Ledger
	reputation *reputation.Scorer
	coord      *auction.Coordinator
	notifier   notify.Notifier
	escalate   Escalator
	// ReauctionWindow bounds the new bidding window opened after a
	// pre-pickup driver cancellation.
	reauctionWindow time.Duration
}

func NewTracker(l *ledger.Ledger, rep *reputation.Scorer, coord *auction.Coordinator,
	n notify.Notifier, escalate Escalator, reauctionWindow time.Duration) *Tracker {
	if n == nil {
		n = notify.Nop{}
	}
	if escalate == nil {
		escalate = func(m models.Match, reason string) {
			log.Printf("dispatch: ESCALATION shipment %s driver %s: %s", m.ShipmentID, m.DriverID, reason)
		}
	}
	return &Tracker{
		ledger:          l,
		reputation:      rep,
		coord:           coord,
		notifier:        n,
		escalate:        escalate,
		reauctionWindow: reauctionWindow,
	}
}

// ReportPickup records that the driver collected the load. The
// shipment moves to InTransit; the match to PickedUp.
func (t *Tracker) ReportPickup(shipmentID string) (models.Match, error) {
	m, err := t.coord.WithMatch(shipmentID, func(m *models.Match) error {
		if m.ExecutionStatus != models.ExecutionAssigned {
			return fmt.Errorf("%w: match is %s", ErrBadExecutionState, m.ExecutionStatus)
		}
		if err := t.ledger.Transition(shipmentID, models.ShipmentMatched, models.ShipmentInTransit, "picked up"); err != nil {
			return err
		}
		m.ExecutionStatus = models.ExecutionPickedUp
		return nil
	})
	if err != nil {
		return models.Match{}, err
	}
	t.notifier.ShipmentStatusChanged(shipmentID, models.ShipmentMatched, models.ShipmentInTransit)
	return m, nil
}

// ReportDeparture records that the loaded truck is under way.
func (t *Tracker) ReportDeparture(shipmentID string) (models.Match, error) {
	return t.coord.WithMatch(shipmentID, func(m *models.Match) error {
		if m.ExecutionStatus != models.ExecutionPickedUp {
			return fmt.Errorf("%w: match is %s", ErrBadExecutionState, m.ExecutionStatus)
		}
		m.ExecutionStatus = models.ExecutionInTransit
		return nil
	})
}

// ReportDelivery completes the job. On-time is judged against the
// shipment's requested delivery deadline; no deadline counts as on
// time. The driver's reputation and availability are updated.
func (t *Tracker) ReportDelivery(shipmentID string) (models.Match, error) {
	s, err := t.ledger.GetShipment(shipmentID)
	if err != nil {
		return models.Match{}, err
	}
	m, err := t.coord.WithMatch(shipmentID, func(m *models.Match) error {
		switch m.ExecutionStatus {
		case models.ExecutionPickedUp, models.ExecutionInTransit:
		default:
			return fmt.Errorf("%w: match is %s", ErrBadExecutionState, m.ExecutionStatus)
		}
		if err := t.ledger.Transition(shipmentID, models.ShipmentInTransit, models.ShipmentDelivered, "delivered"); err != nil {
			return err
		}
		m.ExecutionStatus = models.ExecutionDelivered
		return nil
	})
	if err != nil {
		return models.Match{}, err
	}

	onTime := s.DeliverBy.IsZero() || !time.Now().UTC().After(s.DeliverBy)
	if err := t.reputation.RecordCompletion(m.DriverID, onTime); err != nil && !errors.Is(err, ledger.ErrNotFound) {
		log.Printf("dispatch: record completion %s: %v", m.DriverID, err)
	}
	t.freeDriver(m.DriverID)
	t.notifier.ShipmentStatusChanged(shipmentID, models.ShipmentInTransit, models.ShipmentDelivered)
	return m, nil
}

// CancelAssignment handles a driver backing out after winning but
// before pickup: the match is cancelled, the driver takes a post-match
// reputation hit, and the shipment goes straight back to auction.
func (t *Tracker) CancelAssignment(shipmentID string) (models.AuctionWindow, error) {
	m, err := t.coord.WithMatch(shipmentID, func(m *models.Match) error {
		if m.ExecutionStatus != models.ExecutionAssigned {
			return fmt.Errorf("%w: match is %s", ErrBadExecutionState, m.ExecutionStatus)
		}
		m.ExecutionStatus = models.ExecutionCancelled
		return nil
	})
	if err != nil {
		return models.AuctionWindow{}, err
	}

	if err := t.reputation.RecordCancellation(m.DriverID, reputation.StagePostMatch); err != nil && !errors.Is(err, ledger.ErrNotFound) {
		log.Printf("dispatch: record cancellation %s: %v", m.DriverID, err)
	}
	t.freeDriver(m.DriverID)

	return t.coord.Reopen(shipmentID, t.reauctionWindow)
}

// ReportFailure records an irrecoverable post-pickup failure. The
// shipment and match both end in Failed and the ops collaborator is
// notified; no software retry applies.
func (t *Tracker) ReportFailure(shipmentID, reason string) (models.Match, error) {
	m, err := t.coord.WithMatch(shipmentID, func(m *models.Match) error {
		switch m.ExecutionStatus {
		case models.ExecutionPickedUp, models.ExecutionInTransit:
		default:
			return fmt.Errorf("%w: match is %s", ErrBadExecutionState, m.ExecutionStatus)
		}
		if err := t.ledger.Transition(shipmentID, models.ShipmentInTransit, models.ShipmentFailed, reason); err != nil {
			return err
		}
		m.ExecutionStatus = models.ExecutionFailed
		return nil
	})
	if err != nil {
		return models.Match{}, err
	}

	if err := t.reputation.RecordCancellation(m.DriverID, reputation.StagePostPickup); err != nil && !errors.Is(err, ledger.ErrNotFound) {
		log.Printf("dispatch: record failure %s: %v", m.DriverID, err)
	}
	t.freeDriver(m.DriverID)
	t.notifier.ShipmentStatusChanged(shipmentID, models.ShipmentInTransit, models.ShipmentFailed)
	t.escalate(m, reason)
	return m, nil
}

func (t *Tracker) freeDriver(driverID string) {
	if _, err := t.ledger.UpdateDriver(driverID, func(p *models.DriverProfile) {
		p.Available = true
	}); err != nil && !errors.Is(err, ledger.ErrNotFound) {
		log.Printf("dispatch: free driver %s: %v", driverID, err)
	}
}
