package auction

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"freight-auction-system/models"
)

// Submit validates and timestamps a driver's bid against the
// shipment's auction window. It shares the window's mutex with Close,
// so a bid can never slip in after the closed flag is set, and the
// one-active-bid-per-driver check-and-insert is atomic.
func (c *Coordinator) Submit(shipmentID, driverID string, price float64, eta time.Duration, loc models.Location) (models.Bid, error) {
	if driverID == "" {
		return models.Bid{}, &ValidationError{Reason: "driver id required"}
	}
	if price <= 0 {
		return models.Bid{}, &ValidationError{Reason: "price must be positive"}
	}
	if c.cfg.PriceFloor > 0 && price < c.cfg.PriceFloor {
		return models.Bid{}, &ValidationError{Reason: fmt.Sprintf("price below floor %.2f", c.cfg.PriceFloor)}
	}

	st, ok := c.state(shipmentID)
	if !ok {
		s, err := c.ledger.GetShipment(shipmentID)
		if err != nil {
			return models.Bid{}, err
		}
		return models.Bid{}, &ValidationError{Reason: fmt.Sprintf("shipment is %s, not accepting bids", s.Status)}
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.phase != phaseOpen || st.window.Closed {
		return models.Bid{}, ErrAuctionClosed
	}
	if _, exists := st.byDriver[driverID]; exists {
		return models.Bid{}, ErrDuplicateBid
	}

	// Lowest active price before this bid, for the outbid notification.
	prevBest := ""
	prevPrice := 0.0
	for _, b := range st.bids {
		if b.Status != models.BidActive {
			continue
		}
		if prevBest == "" || b.Price < prevPrice {
			prevBest, prevPrice = b.DriverID, b.Price
		}
	}

	bid := models.Bid{
		ID:          uuid.NewString(),
		ShipmentID:  shipmentID,
		DriverID:    driverID,
		Price:       price,
		ETAToOrigin: eta,
		Location:    loc,
		Status:      models.BidActive,
		SubmittedAt: time.Now().UTC(),
	}
	st.bids[bid.ID] = &bid
	st.byDriver[driverID] = bid.ID

	c.bidsMu.Lock()
	c.byBid[bid.ID] = shipmentID
	c.bidsMu.Unlock()

	c.journal.BidSaved(bid)
	if prevBest != "" && price < prevPrice {
		c.notifier.BidOutbid(shipmentID, prevBest)
	}
	return bid, nil
}

// Withdraw retracts an active bid. Once the window is closed the bid is
// frozen and withdrawal is rejected.
func (c *Coordinator) Withdraw(bidID string) error {
	c.bidsMu.Lock()
	shipmentID, ok := c.byBid[bidID]
	c.bidsMu.Unlock()
	if !ok {
		return fmt.Errorf("bid %s: %w", bidID, ErrNoAuction)
	}

	st, stOK := c.state(shipmentID)
	if !stOK {
		return ErrAuctionClosed
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	b, exists := st.bids[bidID]
	if !exists || st.window.Closed || b.Status != models.BidActive {
		return ErrAuctionClosed
	}
	b.Status = models.BidWithdrawn
	delete(st.byDriver, b.DriverID)
	c.journal.BidSaved(*b)
	return nil
}

// Bids returns a snapshot of every bid on the shipment's current
// auction round, cheapest first.
func (c *Coordinator) Bids(shipmentID string) []models.Bid {
	st, ok := c.state(shipmentID)
	if !ok {
		return nil
	}
	st.mu.Lock()
	out := make([]models.Bid, 0, len(st.bids))
	for _, b := range st.bids {
		out = append(out, *b)
	}
	st.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Price != out[j].Price {
			return out[i].Price < out[j].Price
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// DriverBids returns the driver's bids across all current auction
// rounds, newest first.
func (c *Coordinator) DriverBids(driverID string) []models.Bid {
	c.mu.RLock()
	states := make([]*auctionState, 0, len(c.states))
	for _, st := range c.states {
		states = append(states, st)
	}
	c.mu.RUnlock()

	var out []models.Bid
	for _, st := range states {
		st.mu.Lock()
		for _, b := range st.bids {
			if b.DriverID == driverID {
				out = append(out, *b)
			}
		}
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}
