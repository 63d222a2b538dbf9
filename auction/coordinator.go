// Package auction owns the bidding lifecycle for each shipment: it
// opens the window, takes bids through intake, and commits exactly one
// winning match when the window closes. All mutations for a single
// shipment's auction serialize through one mutex, which is what makes
// Close atomic with respect to racing Submit calls.
package auction

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"freight-auction-system/geo"
	"freight-auction-system/ledger"
	"freight-auction-system/models"
	"freight-auction-system/notify"
	"freight-auction-system/payments"
	"freight-auction-system/ranking"
)

var (
	// ErrAuctionClosed is the user-visible "too late": the bid or
	// withdrawal arrived after the window closed.
	ErrAuctionClosed = errors.New("auction: window closed")
	// ErrNoAuction means no auction exists for the shipment.
	ErrNoAuction = errors.New("auction: no open auction for shipment")
	// ErrDuplicateBid means the driver already holds an active bid on
	// this shipment and must withdraw it first.
	ErrDuplicateBid = errors.New("auction: driver already holds an active bid")
	// ErrAlreadyCommitted means the auction resolved before the caller's
	// cancellation; the shipment must be cancelled through dispatch as a
	// post-match cancellation instead.
	ErrAlreadyCommitted = errors.New("auction: already committed")
)

// ValidationError rejects malformed or out-of-policy input. It is
// never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "auction: " + e.Reason
}

type phase int

const (
	phaseOpen phase = iota
	phaseClosing
	phaseCommitted
	phaseVoid
)

type Config struct {
	// DefaultWindow is used when the shipper does not specify a bidding
	// duration. Zero means the window only closes explicitly.
	DefaultWindow time.Duration
	// PriceFloor rejects bids below it.
	PriceFloor float64
}

type auctionState struct {
	mu       sync.Mutex
	phase    phase
	window   models.AuctionWindow
	bids     map[string]*models.Bid
	byDriver map[string]string // driver id -> active bid id
	match    *models.Match
	timer    *time.Timer
}

type matchEntry struct {
	mu sync.Mutex
	m  models.Match
}

// Coordinator runs one auction per shipment. It is safe for concurrent
// use; auctions for different shipments never contend.
type Coordinator struct {
	mu     sync.RWMutex
	states map[string]*auctionState

	bidsMu sync.Mutex
	byBid  map[string]string // bid id -> shipment id

	matchesMu sync.Mutex
	matches   map[string]*matchEntry

	ledger     *ledger.Ledger
	ranker     *ranking.Ranker
	index      *geo.ShipmentIndex
	notifier   notify.Notifier
	settlement payments.Settlement
	journal    *ledger.Journal
	cfg        Config
}

func NewCoordinator(cfg Config, l *ledger.Ledger, r *ranking.Ranker, index *geo.ShipmentIndex,
	n notify.Notifier, s payments.Settlement, j *ledger.Journal) *Coordinator {
	if n == nil {
		n = notify.Nop{}
	}
	if s == nil {
		s = payments.Nop{}
	}
	return &Coordinator{
		states:     make(map[string]*auctionState),
		byBid:      make(map[string]string),
		matches:    make(map[string]*matchEntry),
		ledger:     l,
		ranker:     r,
		index:      index,
		notifier:   n,
		settlement: s,
		journal:    j,
		cfg:        cfg,
	}
}

// Open starts bidding on a posted shipment. The duration bounds the
// window; zero falls back to the configured default, and a zero default
// leaves the window open until an explicit Close.
func (c *Coordinator) Open(shipmentID string, duration time.Duration) (models.AuctionWindow, error) {
	return c.open(shipmentID, duration, models.ShipmentOpen)
}

// Reopen re-auctions a matched shipment after a pre-pickup driver
// cancellation.
func (c *Coordinator) Reopen(shipmentID string, duration time.Duration) (models.AuctionWindow, error) {
	return c.open(shipmentID, duration, models.ShipmentMatched)
}

func (c *Coordinator) open(shipmentID string, duration time.Duration, from models.ShipmentStatus) (models.AuctionWindow, error) {
	s, err := c.ledger.GetShipment(shipmentID)
	if err != nil {
		return models.AuctionWindow{}, err
	}
	if duration == 0 {
		duration = c.cfg.DefaultWindow
	}

	// The CAS is the gate: only one caller can move the shipment into
	// Bidding, so only one auction state ever replaces another.
	if err := c.ledger.Transition(shipmentID, from, models.ShipmentBidding, "auction opened"); err != nil {
		return models.AuctionWindow{}, err
	}

	st := &auctionState{
		phase: phaseOpen,
		window: models.AuctionWindow{
			ShipmentID: shipmentID,
			OpenedAt:   time.Now().UTC(),
		},
		bids:     make(map[string]*models.Bid),
		byDriver: make(map[string]string),
	}
	if duration > 0 {
		st.window.ClosesAt = st.window.OpenedAt.Add(duration)
		st.timer = time.AfterFunc(duration, func() {
			if _, err := c.Close(shipmentID); err != nil {
				log.Printf("auction: timer close %s: %v", shipmentID, err)
			}
		})
	}

	c.mu.Lock()
	c.states[shipmentID] = st
	c.mu.Unlock()

	c.index.Insert(shipmentID, s.Origin)
	c.notifier.AuctionOpened(shipmentID)
	c.notifier.ShipmentStatusChanged(shipmentID, from, models.ShipmentBidding)
	return st.window, nil
}

func (c *Coordinator) state(shipmentID string) (*auctionState, bool) {
	c.mu.RLock()
	st, ok := c.states[shipmentID]
	c.mu.RUnlock()
	return st, ok
}

// Window returns the current auction window for a shipment.
func (c *Coordinator) Window(shipmentID string) (models.AuctionWindow, bool) {
	st, ok := c.state(shipmentID)
	if !ok {
		return models.AuctionWindow{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.window, true
}

// Close ends the bidding window and commits the outcome. Both the
// expiry timer and an explicit shipper action land here; whichever
// loses the race observes the idempotent no-op and gets the same
// result as the first caller. With no active bids the shipment is
// relisted (or cancelled, per its preference) and no match is created.
func (c *Coordinator) Close(shipmentID string) (*models.Match, error) {
	st, ok := c.state(shipmentID)
	if !ok {
		if _, err := c.ledger.GetShipment(shipmentID); err != nil {
			return nil, err
		}
		return nil, ErrNoAuction
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	switch st.phase {
	case phaseCommitted:
		m := *st.match
		return &m, nil
	case phaseVoid:
		return nil, nil
	}

	if st.timer != nil {
		st.timer.Stop()
	}
	st.window.Closed = true
	st.phase = phaseClosing

	shipment, err := c.ledger.GetShipment(shipmentID)
	if err != nil {
		return nil, err
	}

	var active []models.Bid
	for _, b := range st.bids {
		if b.Status == models.BidActive {
			active = append(active, *b)
		}
	}

	if len(active) == 0 {
		return nil, c.resolveEmpty(st, shipment)
	}

	ranked := c.ranker.Rank(shipment, active)
	winner := ranked[0].Bid

	match := models.Match{
		ShipmentID:      shipmentID,
		BidID:           winner.ID,
		DriverID:        winner.DriverID,
		Price:           winner.Price,
		ExecutionStatus: models.ExecutionAssigned,
		CommittedAt:     time.Now().UTC(),
	}

	// Commit point. Everything below is observable only as a whole:
	// callers read bids and matches through this same mutex.
	if err := c.ledger.Transition(shipmentID, models.ShipmentBidding, models.ShipmentMatched,
		fmt.Sprintf("matched bid %s at %.2f", winner.ID, winner.Price)); err != nil {
		return nil, err
	}

	st.bids[winner.ID].Status = models.BidWon
	c.journal.BidSaved(*st.bids[winner.ID])
	for _, sb := range ranked[1:] {
		b := st.bids[sb.Bid.ID]
		b.Status = models.BidLost
		c.journal.BidSaved(*b)
	}

	st.match = &match
	st.phase = phaseCommitted
	c.setMatch(match)
	c.journal.MatchSaved(match)
	c.index.Remove(shipmentID)

	if _, err := c.ledger.UpdateDriver(winner.DriverID, func(p *models.DriverProfile) {
		p.Available = false
	}); err != nil && !errors.Is(err, ledger.ErrNotFound) {
		log.Printf("auction: mark driver %s busy: %v", winner.DriverID, err)
	}

	c.notifier.AuctionWon(shipmentID, winner.DriverID, winner.ID)
	for _, sb := range ranked[1:] {
		c.notifier.AuctionLost(shipmentID, sb.Bid.DriverID, sb.Bid.ID)
	}
	c.notifier.ShipmentStatusChanged(shipmentID, models.ShipmentBidding, models.ShipmentMatched)
	c.settlement.MatchCommitted(match)

	m := match
	return &m, nil
}

// resolveEmpty handles a window that closed without a single active
// bid: relist by default, cancel when the shipper asked for that.
func (c *Coordinator) resolveEmpty(st *auctionState, shipment models.Shipment) error {
	st.phase = phaseVoid
	if shipment.CancelOnEmpty {
		if err := c.ledger.Transition(shipment.ID, models.ShipmentBidding, models.ShipmentCancelled, "no bids"); err != nil {
			return err
		}
		c.index.Remove(shipment.ID)
		c.notifier.ShipmentStatusChanged(shipment.ID, models.ShipmentBidding, models.ShipmentCancelled)
		return nil
	}
	if err := c.ledger.Transition(shipment.ID, models.ShipmentBidding, models.ShipmentOpen, "relisted: no bids"); err != nil {
		return err
	}
	c.notifier.ShipmentStatusChanged(shipment.ID, models.ShipmentBidding, models.ShipmentOpen)
	return nil
}

// Cancel aborts a live auction at the shipper's request. A cancellation
// that arrives after the commit is not an aborted auction; it returns
// ErrAlreadyCommitted and must go through dispatch as a post-match
// cancellation.
func (c *Coordinator) Cancel(shipmentID string) error {
	st, ok := c.state(shipmentID)
	if !ok {
		// Never auctioned (or relisted): cancel the posted shipment.
		if err := c.ledger.Transition(shipmentID, models.ShipmentOpen, models.ShipmentCancelled, "shipper cancelled"); err != nil {
			return err
		}
		c.index.Remove(shipmentID)
		c.notifier.ShipmentStatusChanged(shipmentID, models.ShipmentOpen, models.ShipmentCancelled)
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	switch st.phase {
	case phaseCommitted:
		return ErrAlreadyCommitted
	case phaseVoid:
		// Auction already resolved empty; the shipment is back in Open.
		if err := c.ledger.Transition(shipmentID, models.ShipmentOpen, models.ShipmentCancelled, "shipper cancelled"); err != nil {
			return err
		}
		c.index.Remove(shipmentID)
		c.notifier.ShipmentStatusChanged(shipmentID, models.ShipmentOpen, models.ShipmentCancelled)
		return nil
	}

	if st.timer != nil {
		st.timer.Stop()
	}
	st.window.Closed = true
	st.phase = phaseVoid

	for _, b := range st.bids {
		if b.Status == models.BidActive {
			b.Status = models.BidLost
			c.journal.BidSaved(*b)
		}
	}
	if err := c.ledger.Transition(shipmentID, models.ShipmentBidding, models.ShipmentCancelled, "shipper cancelled"); err != nil {
		return err
	}
	c.index.Remove(shipmentID)
	c.notifier.ShipmentStatusChanged(shipmentID, models.ShipmentBidding, models.ShipmentCancelled)
	return nil
}

func (c *Coordinator) setMatch(m models.Match) {
	c.matchesMu.Lock()
	defer c.matchesMu.Unlock()
	c.matches[m.ShipmentID] = &matchEntry{m: m}
}

// Match returns the committed match for a shipment, if any.
func (c *Coordinator) Match(shipmentID string) (models.Match, bool) {
	c.matchesMu.Lock()
	e, ok := c.matches[shipmentID]
	c.matchesMu.Unlock()
	if !ok {
		return models.Match{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.m, true
}

// WithMatch runs fn on the shipment's match under its lock, persisting
// the result. Dispatch uses it to advance the execution status; fn
// returning an error leaves the match untouched.
func (c *Coordinator) WithMatch(shipmentID string, fn func(*models.Match) error) (models.Match, error) {
	c.matchesMu.Lock()
	e, ok := c.matches[shipmentID]
	c.matchesMu.Unlock()
	if !ok {
		return models.Match{}, ledger.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := fn(&e.m); err != nil {
		return models.Match{}, err
	}
	c.journal.MatchSaved(e.m)
	return e.m, nil
}
