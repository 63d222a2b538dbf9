package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freight-auction-system/auction"
	"freight-auction-system/geo"
	"freight-auction-system/ledger"
	"freight-auction-system/models"
	"freight-auction-system/ranking"
	"freight-auction-system/reputation"
)

type stack struct {
	ledger  *ledger.Ledger
	rep     *reputation.Scorer
	coord   *auction.Coordinator
	tracker *Tracker

	escMu      sync.Mutex
	escalated  []models.Match
	escReasons []string
}

func newStack(t *testing.T) *stack {
	t.Helper()
	l := ledger.New(nil)
	index := geo.NewShipmentIndex()
	rep := reputation.NewScorer(l, reputation.DefaultConfig())
	ranker := ranking.NewRanker(ranking.DefaultConfig(), rep, index, l)
	coord := auction.NewCoordinator(auction.Config{}, l, ranker, index, nil, nil, nil)

	s := &stack{ledger: l, rep: rep, coord: coord}
	s.tracker = NewTracker(l, rep, coord, nil, func(m models.Match, reason string) {
		s.escMu.Lock()
		defer s.escMu.Unlock()
		s.escalated = append(s.escalated, m)
		s.escReasons = append(s.escReasons, reason)
	}, time.Hour)
	return s
}

// matchedShipment posts a shipment, runs an auction with one bid from
// the given driver, and returns the committed shipment id.
func (s *stack) matchedShipment(t *testing.T, driverID string) string {
	t.Helper()
	sh, err := s.ledger.CreateShipment(models.Shipment{
		ShipperID: "shipper-1",
		DeliverBy: time.Now().UTC().Add(24 * time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, s.ledger.Transition(sh.ID, models.ShipmentDraft, models.ShipmentOpen, "posted"))
	_, err = s.coord.Open(sh.ID, 0)
	require.NoError(t, err)
	_, err = s.coord.Submit(sh.ID, driverID, 500, 0, models.Location{})
	require.NoError(t, err)
	m, err := s.coord.Close(sh.ID)
	require.NoError(t, err)
	require.NotNil(t, m)
	return sh.ID
}

func (s *stack) driver(t *testing.T, id string) models.DriverProfile {
	t.Helper()
	p, err := s.ledger.CreateDriver(models.DriverProfile{ID: id, Score: 50, Available: true})
	require.NoError(t, err)
	return p
}

func TestHappyPathToDelivered(t *testing.T) {
	s := newStack(t)
	d := s.driver(t, "driver-a")
	shipmentID := s.matchedShipment(t, d.ID)
	before := s.rep.Score(d.ID)

	m, err := s.tracker.ReportPickup(shipmentID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionPickedUp, m.ExecutionStatus)

	sh, err := s.ledger.GetShipment(shipmentID)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentInTransit, sh.Status)

	m, err = s.tracker.ReportDeparture(shipmentID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionInTransit, m.ExecutionStatus)

	m, err = s.tracker.ReportDelivery(shipmentID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionDelivered, m.ExecutionStatus)

	sh, err = s.ledger.GetShipment(shipmentID)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentDelivered, sh.Status)

	got, err := s.ledger.GetDriver(d.ID)
	require.NoError(t, err)
	assert.True(t, got.Available)
	assert.Equal(t, 1, got.CompletedJobs)
	assert.Greater(t, s.rep.Score(d.ID), before, "on-time delivery raises reputation")
}

func TestPickupRequiresAssignedMatch(t *testing.T) {
	s := newStack(t)
	d := s.driver(t, "driver-a")
	shipmentID := s.matchedShipment(t, d.ID)

	_, err := s.tracker.ReportPickup(shipmentID)
	require.NoError(t, err)
	_, err = s.tracker.ReportPickup(shipmentID)
	assert.ErrorIs(t, err, ErrBadExecutionState)
}

func TestDeliveryBeforePickupRejected(t *testing.T) {
	s := newStack(t)
	d := s.driver(t, "driver-a")
	shipmentID := s.matchedShipment(t, d.ID)

	_, err := s.tracker.ReportDelivery(shipmentID)
	assert.ErrorIs(t, err, ErrBadExecutionState)
}

func TestUnknownShipmentHasNoMatch(t *testing.T) {
	s := newStack(t)
	_, err := s.tracker.ReportPickup("missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestDriverCancellationReopensAuction(t *testing.T) {
	s := newStack(t)
	d := s.driver(t, "driver-a")
	shipmentID := s.matchedShipment(t, d.ID)
	before := s.rep.Score(d.ID)

	win, err := s.tracker.CancelAssignment(shipmentID)
	require.NoError(t, err)
	assert.Equal(t, shipmentID, win.ShipmentID)

	sh, err := s.ledger.GetShipment(shipmentID)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentBidding, sh.Status, "shipment returns to auction")

	assert.Less(t, s.rep.Score(d.ID), before, "post-match cancellation lowers reputation")

	got, err := s.ledger.GetDriver(d.ID)
	require.NoError(t, err)
	assert.True(t, got.Available)
	assert.Equal(t, 1, got.Cancellations)

	// A new round accepts fresh bids and can commit a new winner.
	other := s.driver(t, "driver-b")
	_, err = s.coord.Submit(shipmentID, other.ID, 450, 0, models.Location{})
	require.NoError(t, err)
	m, err := s.coord.Close(shipmentID)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, other.ID, m.DriverID)
}

func TestCancellationAfterPickupIsRejected(t *testing.T) {
	s := newStack(t)
	d := s.driver(t, "driver-a")
	shipmentID := s.matchedShipment(t, d.ID)

	_, err := s.tracker.ReportPickup(shipmentID)
	require.NoError(t, err)
	_, err = s.tracker.CancelAssignment(shipmentID)
	assert.ErrorIs(t, err, ErrBadExecutionState)
}

func TestPostPickupFailureEscalates(t *testing.T) {
	s := newStack(t)
	d := s.driver(t, "driver-a")
	shipmentID := s.matchedShipment(t, d.ID)
	before := s.rep.Score(d.ID)

	_, err := s.tracker.ReportPickup(shipmentID)
	require.NoError(t, err)

	m, err := s.tracker.ReportFailure(shipmentID, "truck breakdown, cargo stranded")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, m.ExecutionStatus)

	sh, err := s.ledger.GetShipment(shipmentID)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentFailed, sh.Status)
	assert.True(t, sh.Status.IsTerminal())

	s.escMu.Lock()
	defer s.escMu.Unlock()
	require.Len(t, s.escalated, 1)
	assert.Equal(t, shipmentID, s.escalated[0].ShipmentID)
	assert.Equal(t, "truck breakdown, cargo stranded", s.escReasons[0])

	assert.Less(t, s.rep.Score(d.ID), before, "post-pickup failure hits reputation hardest")
}

func TestFailureBeforePickupIsRejected(t *testing.T) {
	s := newStack(t)
	d := s.driver(t, "driver-a")
	shipmentID := s.matchedShipment(t, d.ID)

	_, err := s.tracker.ReportFailure(shipmentID, "cold feet")
	assert.ErrorIs(t, err, ErrBadExecutionState)
}

func TestLateDeliveryStillCompletesButGainsLess(t *testing.T) {
	s := newStack(t)
	onTimeDriver := s.driver(t, "driver-on-time")
	lateDriver := s.driver(t, "driver-late")

	// On-time job.
	first := s.matchedShipment(t, onTimeDriver.ID)
	_, err := s.tracker.ReportPickup(first)
	require.NoError(t, err)
	_, err = s.tracker.ReportDelivery(first)
	require.NoError(t, err)

	// Late job: deadline already passed when delivery is reported.
	sh, err := s.ledger.CreateShipment(models.Shipment{
		ShipperID: "shipper-1",
		DeliverBy: time.Now().UTC().Add(-time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, s.ledger.Transition(sh.ID, models.ShipmentDraft, models.ShipmentOpen, ""))
	_, err = s.coord.Open(sh.ID, 0)
	require.NoError(t, err)
	_, err = s.coord.Submit(sh.ID, lateDriver.ID, 500, 0, models.Location{})
	require.NoError(t, err)
	_, err = s.coord.Close(sh.ID)
	require.NoError(t, err)
	_, err = s.tracker.ReportPickup(sh.ID)
	require.NoError(t, err)
	_, err = s.tracker.ReportDelivery(sh.ID)
	require.NoError(t, err)

	assert.Greater(t, s.rep.Score(onTimeDriver.ID), s.rep.Score(lateDriver.ID))
	assert.Greater(t, s.rep.Score(lateDriver.ID), 0.5)
}
