package models

import "time"

// AuctionWindow is the bounded period during which a shipment accepts
// bids. Transient: it exists only while the shipment is in Bidding.
type AuctionWindow struct {
	ShipmentID string    `json:"shipment_id"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosesAt   time.Time `json:"closes_at"` // zero when close is explicit-only
	Closed     bool      `json:"closed"`
}
