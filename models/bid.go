package models

import "time"

type BidStatus string

const (
	BidActive    BidStatus = "active"
	BidWithdrawn BidStatus = "withdrawn"
	BidLost      BidStatus = "lost"
	BidWon       BidStatus = "won"
)

func (b BidStatus) String() string {
	return string(b)
}

func (b BidStatus) IsValid() bool {
	switch b {
	case BidActive, BidWithdrawn, BidLost, BidWon:
		return true
	default:
		return false
	}
}

type Bid struct {
	ID          string        `json:"id"`
	ShipmentID  string        `json:"shipment_id"`
	DriverID    string        `json:"driver_id"`
	Price       float64       `json:"price"`
	ETAToOrigin time.Duration `json:"eta_to_origin"`
	Location    Location      `json:"location"`
	Status      BidStatus     `json:"status"`
	SubmittedAt time.Time     `json:"submitted_at"`
}
