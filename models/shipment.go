package models

import "time"

type ShipmentStatus string

const (
	ShipmentDraft     ShipmentStatus = "draft"
	ShipmentOpen      ShipmentStatus = "open"
	ShipmentBidding   ShipmentStatus = "bidding"
	ShipmentMatched   ShipmentStatus = "matched"
	ShipmentInTransit ShipmentStatus = "in_transit"
	ShipmentDelivered ShipmentStatus = "delivered"
	ShipmentCancelled ShipmentStatus = "cancelled"
	ShipmentFailed    ShipmentStatus = "failed"
)

func (s ShipmentStatus) String() string {
	return string(s)
}

func (s ShipmentStatus) IsValid() bool {
	switch s {
	case ShipmentDraft, ShipmentOpen, ShipmentBidding, ShipmentMatched,
		ShipmentInTransit, ShipmentDelivered, ShipmentCancelled, ShipmentFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is allowed from s.
func (s ShipmentStatus) IsTerminal() bool {
	return s == ShipmentDelivered || s == ShipmentCancelled || s == ShipmentFailed
}

// Biddable reports whether the shipment can appear in backhaul searches
// and accept a new auction.
func (s ShipmentStatus) Biddable() bool {
	return s == ShipmentOpen || s == ShipmentBidding
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Cargo struct {
	Description string  `json:"description"`
	WeightKg    float64 `json:"weight_kg"`
	Type        string  `json:"type"`
}

type Shipment struct {
	ID            string         `json:"id"`
	ShipperID     string         `json:"shipper_id"`
	Origin        Location       `json:"origin"`
	Destination   Location       `json:"destination"`
	Cargo         Cargo          `json:"cargo"`
	PickupAfter   time.Time      `json:"pickup_after"`
	DeliverBy     time.Time      `json:"deliver_by"`
	ReservePrice  float64        `json:"reserve_price,omitempty"` // 0 means no reserve
	CancelOnEmpty bool           `json:"cancel_on_empty"`         // cancel instead of relisting when an auction ends bidless
	Status        ShipmentStatus `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ShipmentEvent is the immutable audit record appended on every
// successful status transition.
type ShipmentEvent struct {
	ShipmentID string         `json:"shipment_id"`
	From       ShipmentStatus `json:"from"`
	To         ShipmentStatus `json:"to"`
	Note       string         `json:"note,omitempty"`
	At         time.Time      `json:"at"`
}
