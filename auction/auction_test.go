package auction

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freight-auction-system/geo"
	"freight-auction-system/ledger"
	"freight-auction-system/models"
	"freight-auction-system/notify"
	"freight-auction-system/ranking"
	"freight-auction-system/reputation"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) record(ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) AuctionOpened(shipmentID string) {
	r.record(notify.Event{Type: notify.EventAuctionOpened, ShipmentID: shipmentID})
}

func (r *recordingNotifier) BidOutbid(shipmentID, driverID string) {
	r.record(notify.Event{Type: notify.EventBidOutbid, ShipmentID: shipmentID, DriverID: driverID})
}

func (r *recordingNotifier) AuctionWon(shipmentID, driverID, bidID string) {
	r.record(notify.Event{Type: notify.EventAuctionWon, ShipmentID: shipmentID, DriverID: driverID, BidID: bidID})
}

func (r *recordingNotifier) AuctionLost(shipmentID, driverID, bidID string) {
	r.record(notify.Event{Type: notify.EventAuctionLost, ShipmentID: shipmentID, DriverID: driverID, BidID: bidID})
}

func (r *recordingNotifier) ShipmentStatusChanged(shipmentID string, from, to models.ShipmentStatus) {
	r.record(notify.Event{Type: notify.EventShipmentStatusChanged, ShipmentID: shipmentID, From: from.String(), To: to.String()})
}

func (r *recordingNotifier) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

type stack struct {
	ledger   *ledger.Ledger
	index    *geo.ShipmentIndex
	rep      *reputation.Scorer
	coord    *Coordinator
	notifier *recordingNotifier
}

func newStack(t *testing.T) *stack {
	t.Helper()
	l := ledger.New(nil)
	index := geo.NewShipmentIndex()
	rep := reputation.NewScorer(l, reputation.DefaultConfig())
	ranker := ranking.NewRanker(ranking.DefaultConfig(), rep, index, l)
	n := &recordingNotifier{}
	coord := NewCoordinator(Config{PriceFloor: 10}, l, ranker, index, n, nil, nil)
	return &stack{ledger: l, index: index, rep: rep, coord: coord, notifier: n}
}

func (s *stack) postShipment(t *testing.T, mods ...func(*models.Shipment)) models.Shipment {
	t.Helper()
	spec := models.Shipment{
		ShipperID:    "shipper-1",
		Origin:       models.Location{Latitude: 48.137, Longitude: 11.575},
		Destination:  models.Location{Latitude: 52.52, Longitude: 13.405},
		ReservePrice: 600,
	}
	for _, mod := range mods {
		mod(&spec)
	}
	created, err := s.ledger.CreateShipment(spec)
	require.NoError(t, err)
	require.NoError(t, s.ledger.Transition(created.ID, models.ShipmentDraft, models.ShipmentOpen, "posted"))
	return created
}

func (s *stack) openAuction(t *testing.T, shipmentID string) models.AuctionWindow {
	t.Helper()
	win, err := s.coord.Open(shipmentID, 0)
	require.NoError(t, err)
	return win
}

func TestOpenMovesShipmentToBidding(t *testing.T) {
	s := newStack(t)
	sh := s.postShipment(t)

	win := s.openAuction(t, sh.ID)
	assert.Equal(t, sh.ID, win.ShipmentID)
	assert.False(t, win.Closed)

	got, err := s.ledger.GetShipment(sh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentBidding, got.Status)
	assert.Equal(t, 1, s.notifier.count(notify.EventAuctionOpened))
}

func TestOpenLosesRaceOnlyOnce(t *testing.T) {
	s := newStack(t)
	sh := s.postShipment(t)

	s.openAuction(t, sh.ID)
	_, err := s.coord.Open(sh.ID, 0)
	assert.ErrorIs(t, err, ledger.ErrConflict)
}

func TestCloseCommitsExactlyOneWinner(t *testing.T) {
	s := newStack(t)
	sh := s.postShipment(t)
	s.openAuction(t, sh.ID)

	// Driver A bids 500, B bids 480, C bids 480 after B.
	_, err := s.coord.Submit(sh.ID, "driver-a", 500, 20*time.Minute, models.Location{})
	require.NoError(t, err)
	bidB, err := s.coord.Submit(sh.ID, "driver-b", 480, 20*time.Minute, models.Location{})
	require.NoError(t, err)
	_, err = s.coord.Submit(sh.ID, "driver-c", 480, 20*time.Minute, models.Location{})
	require.NoError(t, err)

	match, err := s.coord.Close(sh.ID)
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "driver-b", match.DriverID, "lowest price, earliest submission wins")
	assert.Equal(t, bidB.ID, match.BidID)
	assert.Equal(t, 480.0, match.Price)
	assert.Equal(t, models.ExecutionAssigned, match.ExecutionStatus)

	got, err := s.ledger.GetShipment(sh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentMatched, got.Status)

	won, lost := 0, 0
	for _, b := range s.coord.Bids(sh.ID) {
		switch b.Status {
		case models.BidWon:
			won++
		case models.BidLost:
			lost++
		default:
			t.Fatalf("bid %s left in status %s after commit", b.ID, b.Status)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 2, lost)

	assert.Equal(t, 1, s.notifier.count(notify.EventAuctionWon))
	assert.Equal(t, 2, s.notifier.count(notify.EventAuctionLost))
}

func TestCloseIsIdempotent(t *testing.T) {
	s := newStack(t)
	sh := s.postShipment(t)
	s.openAuction(t, sh.ID)
	_, err := s.coord.Submit(sh.ID, "driver-a", 500, 0, models.Location{})
	require.NoError(t, err)

	first, err := s.coord.Close(sh.ID)
	require.NoError(t, err)
	require.NotNil(t, first)

	for i := 0; i < 3; i++ {
		again, err := s.coord.Close(sh.ID)
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, first.BidID, again.BidID)
		assert.Equal(t, first.CommittedAt, again.CommittedAt)
	}
	assert.Equal(t, 1, s.notifier.count(notify.EventAuctionWon), "no double commit")
}

func TestSubmitAfterCloseIsRejected(t *testing.T) {
	s := newStack(t)
	sh := s.postShipment(t)
	s.openAuction(t, sh.ID)
	_, err := s.coord.Submit(sh.ID, "driver-a", 500, 0, models.Location{})
	require.NoError(t, err)
	_, err = s.coord.Close(sh.ID)
	require.NoError(t, err)

	_, err = s.coord.Submit(sh.ID, "driver-b", 100, 0, models.Location{})
	assert.ErrorIs(t, err, ErrAuctionClosed)
}

func TestSubmitValidation(t *testing.T) {
	s := newStack(t)
	sh := s.postShipment(t)

	// Shipment posted but bidding not yet open.
	_, err := s.coord.Submit(sh.ID, "driver-a", 500, 0, models.Location{})
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)

	s.openAuction(t, sh.ID)

	_, err = s.coord.Submit(sh.ID, "", 500, 0, models.Location{})
	assert.ErrorAs(t, err, &ve)

	_, err = s.coord.Submit(sh.ID, "driver-a", 0, 0, models.Location{})
	assert.ErrorAs(t, err, &ve)

	_, err = s.coord.Submit(sh.ID, "driver-a", 5, 0, models.Location{}) // below floor of 10
	assert.ErrorAs(t, err, &ve)

	_, err = s.coord.Submit("missing", "driver-a", 500, 0, models.Location{})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestOneActiveBidPerDriver(t *testing.T) {
	s := newStack(t)
	sh := s.postShipment(t)
	s.openAuction(t, sh.ID)

	_, err := s.coord.Submit(sh.ID, "driver-a", 500, 0, models.Location{})
	require.NoError(t, err)
	_, err = s.coord.Submit(sh.ID, "driver-a", 450, 0, models.Location{})
	assert.ErrorIs(t, err, ErrDuplicateBid)
}

func TestConcurrentDuplicateSubmitsOneWins(t *testing.T) {
	s := newStack(t)
	sh := s.postShipment(t)
	s.openAuction(t, sh.ID)

	const attempts = 10
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.coord.Submit(sh.ID, "driver-a", 500, 0, models.Location{})
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
		} else {
			assert.ErrorIs(t, err, ErrDuplicateBid)
		}
	}
	assert.Equal(t, 1, accepted)
}

func TestWithdrawFreesTheDriverSlot(t *testing.T) {
	s := newStack(t)
	sh := s.postShipment(t)
	s.openAuction(t, sh.ID)

	b, err := s.coord.Submit(sh.ID, "driver-a", 500, 0, models.Location{})
	require.NoError(t, err)
	require.NoError(t, s.coord.Withdraw(b.ID))

	// Withdrawn bid is out of the running; the driver may re-bid.
	_, err = s.coord.Submit(sh.ID, "driver-a", 450, 0, models.Location{})
	require.NoError(t, err)

	// Second withdraw of the same bid is rejected.
	assert.ErrorIs(t, s.coord.Withdraw(b.ID), ErrAuctionClosed)
}

func TestWithdrawAfterCloseIsRejected(t *testing.T) {
	s := newStack(t)
	sh := s.postShipment(t)
	s.openAuction(t, sh.ID)

	b, err := s.coord.Submit(sh.ID, "driver-a", 500, 0, models.Location{})
	require.NoError(t, err)
	_, err = s.coord.Close(sh.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, s.coord.Withdraw(b.ID), ErrAuctionClosed)
}

func TestCloseWithZeroBidsRelists(t *testing.T) {
	s := newStack(t)
	sh := s.postShipment(t)
	s.openAuction(t, sh.ID)

	match, err := s.coord.Close(sh.ID)
	require.NoError(t, err)
	assert.Nil(t, match, "no match is created for an empty auction")

	got, err := s.ledger.GetShipment(sh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentOpen, got.Status)

	// The relisted shipment can go to auction again.
	_, err = s.coord.Open(sh.ID, 0)
	require.NoError(t, err)
}

func TestCloseWithZeroBidsCancelsOnRequest(t *testing.T) {
	s := newStack(t)
	sh := s.postShipment(t, func(spec *models.Shipment) { spec.CancelOnEmpty = true })
	s.openAuction(t, sh.ID)

	match, err := s.coord.Close(sh.ID)
	require.NoError(t, err)
	assert.Nil(t, match)

	got, err := s.ledger.GetShipment(sh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentCancelled, got.Status)
}

func TestWithdrawnBidsDoNotWin(t *testing.T) {
	s := newStack(t)
	sh := s.postShipment(t)
	s.openAuction(t, sh.ID)

	cheap, err := s.coord.Submit(sh.ID, "driver-a", 100, 0, models.Location{})
	require.NoError(t, err)
	_, err = s.coord.Submit(sh.ID, "driver-b", 500, 0, models.Location{})
	require.NoError(t, err)
	require.NoError(t, s.coord.Withdraw(cheap.ID))

	match, err := s.coord.Close(sh.ID)
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "driver-b", match.DriverID)
}

func TestTimerClosesTheWindow(t *testing.T) {
	s := newStack(t)
	sh := s.postShipment(t)
	_, err := s.coord.Open(sh.ID, 50*time.Millisecond)
	require.NoError(t, err)

	_, err = s.coord.Submit(sh.ID, "driver-a", 500, 0, models.Location{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := s.coord.Match(sh.ID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	// The explicit close racing in afterwards sees the same match.
	m, err := s.coord.Close(sh.ID)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "driver-a", m.DriverID)
}

func TestOutbidNotification(t *testing.T) {
	s := newStack(t)
	sh := s.postShipment(t)
	s.openAuction(t, sh.ID)

	_, err := s.coord.Submit(sh.ID, "driver-a", 500, 0, models.Location{})
	require.NoError(t, err)
	_, err = s.coord.Submit(sh.ID, "driver-b", 480, 0, models.Location{})
	require.NoError(t, err)

	assert.Equal(t, 1, s.notifier.count(notify.EventBidOutbid))

	// A higher bid does not outbid anyone.
	_, err = s.coord.Submit(sh.ID, "driver-c", 600, 0, models.Location{})
	require.NoError(t, err)
	assert.Equal(t, 1, s.notifier.count(notify.EventBidOutbid))
}

func TestCancelDuringBidding(t *testing.T) {
	s := newStack(t)
	sh := s.postShipment(t)
	s.openAuction(t, sh.ID)
	_, err := s.coord.Submit(sh.ID, "driver-a", 500, 0, models.Location{})
	require.NoError(t, err)

	require.NoError(t, s.coord.Cancel(sh.ID))

	got, err := s.ledger.GetShipment(sh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentCancelled, got.Status)

	_, err = s.coord.Submit(sh.ID, "driver-b", 480, 0, models.Location{})
	assert.ErrorIs(t, err, ErrAuctionClosed)
}

func TestCancelAfterCommitIsNotAnAbort(t *testing.T) {
	s := newStack(t)
	sh := s.postShipment(t)
	s.openAuction(t, sh.ID)
	_, err := s.coord.Submit(sh.ID, "driver-a", 500, 0, models.Location{})
	require.NoError(t, err)
	_, err = s.coord.Close(sh.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, s.coord.Cancel(sh.ID), ErrAlreadyCommitted)
}

func TestCancelNeverAuctioned(t *testing.T) {
	s := newStack(t)
	sh := s.postShipment(t)

	require.NoError(t, s.coord.Cancel(sh.ID))
	got, err := s.ledger.GetShipment(sh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentCancelled, got.Status)
}

func TestWinnerMarkedBusy(t *testing.T) {
	s := newStack(t)
	p, err := s.ledger.CreateDriver(models.DriverProfile{ID: "driver-a", Score: 50, Available: true})
	require.NoError(t, err)

	sh := s.postShipment(t)
	s.openAuction(t, sh.ID)
	_, err = s.coord.Submit(sh.ID, p.ID, 500, 0, models.Location{})
	require.NoError(t, err)
	_, err = s.coord.Close(sh.ID)
	require.NoError(t, err)

	got, err := s.ledger.GetDriver(p.ID)
	require.NoError(t, err)
	assert.False(t, got.Available)
}

func TestCommittedShipmentLeavesBackhaulIndex(t *testing.T) {
	s := newStack(t)
	sh := s.postShipment(t)
	s.openAuction(t, sh.ID)
	require.Equal(t, 1, s.index.Len())

	_, err := s.coord.Submit(sh.ID, "driver-a", 500, 0, models.Location{})
	require.NoError(t, err)
	_, err = s.coord.Close(sh.ID)
	require.NoError(t, err)

	assert.Equal(t, 0, s.index.Len())
}

func TestConcurrentSubmitAndCloseNeverLosesABid(t *testing.T) {
	s := newStack(t)
	sh := s.postShipment(t)
	s.openAuction(t, sh.ID)

	_, err := s.coord.Submit(sh.ID, "driver-seed", 400, 0, models.Location{})
	require.NoError(t, err)

	const drivers = 20
	var wg sync.WaitGroup
	results := make([]error, drivers)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.coord.Close(sh.ID)
		assert.NoError(t, err)
	}()
	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = s.coord.Submit(sh.ID, "driver-"+string(rune('a'+i)), 500, 0, models.Location{})
		}(i)
	}
	wg.Wait()

	// Every submission either landed before the close (and is now Won
	// or Lost) or was rejected as too late; none vanished or stayed
	// Active past the commit.
	match, err := s.coord.Close(sh.ID)
	require.NoError(t, err)
	require.NotNil(t, match)

	for _, b := range s.coord.Bids(sh.ID) {
		assert.NotEqual(t, models.BidActive, b.Status)
	}
	for _, err := range results {
		if err != nil {
			assert.ErrorIs(t, err, ErrAuctionClosed)
		}
	}
}
