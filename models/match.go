package models

import "time"

type ExecutionStatus string

const (
	ExecutionAssigned  ExecutionStatus = "assigned"
	ExecutionPickedUp  ExecutionStatus = "picked_up"
	ExecutionInTransit ExecutionStatus = "in_transit"
	ExecutionDelivered ExecutionStatus = "delivered"
	ExecutionCancelled ExecutionStatus = "cancelled"
	ExecutionFailed    ExecutionStatus = "failed"
)

func (e ExecutionStatus) String() string {
	return string(e)
}

func (e ExecutionStatus) IsTerminal() bool {
	return e == ExecutionDelivered || e == ExecutionCancelled || e == ExecutionFailed
}

// Match pairs a shipment with its winning bid. Created exactly once per
// auction round; only ExecutionStatus changes afterwards.
type Match struct {
	ShipmentID      string          `json:"shipment_id"`
	BidID           string          `json:"bid_id"`
	DriverID        string          `json:"driver_id"`
	Price           float64         `json:"price"`
	ExecutionStatus ExecutionStatus `json:"execution_status"`
	CommittedAt     time.Time       `json:"committed_at"`
}
