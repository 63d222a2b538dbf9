// Package notify fans auction and shipment events out to the
// notification collaborator. Delivery is fire-and-forget: the core
// never blocks on it and failures are only logged.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"freight-auction-system/models"
)

const (
	EventAuctionOpened         = "auction_opened"
	EventBidOutbid             = "bid_outbid"
	EventAuctionWon            = "auction_won"
	EventAuctionLost           = "auction_lost"
	EventShipmentStatusChanged = "shipment_status_changed"
)

type Event struct {
	Type       string    `json:"type"`
	ShipmentID string    `json:"shipment_id"`
	DriverID   string    `json:"driver_id,omitempty"`
	BidID      string    `json:"bid_id,omitempty"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	At         time.Time `json:"at"`
}

type Notifier interface {
	AuctionOpened(shipmentID string)
	BidOutbid(shipmentID, driverID string)
	AuctionWon(shipmentID, driverID, bidID string)
	AuctionLost(shipmentID, driverID, bidID string)
	ShipmentStatusChanged(shipmentID string, from, to models.ShipmentStatus)
}

// RedisNotifier publishes events on a redis pub/sub channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) publish(ev Event) {
	ev.At = time.Now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("notify: marshal %s: %v", ev.Type, err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
			log.Printf("notify: publish %s: %v", ev.Type, err)
		}
	}()
}

func (n *RedisNotifier) AuctionOpened(shipmentID string) {
	n.publish(Event{Type: EventAuctionOpened, ShipmentID: shipmentID})
}

func (n *RedisNotifier) BidOutbid(shipmentID, driverID string) {
	n.publish(Event{Type: EventBidOutbid, ShipmentID: shipmentID, DriverID: driverID})
}

func (n *RedisNotifier) AuctionWon(shipmentID, driverID, bidID string) {
	n.publish(Event{Type: EventAuctionWon, ShipmentID: shipmentID, DriverID: driverID, BidID: bidID})
}

func (n *RedisNotifier) AuctionLost(shipmentID, driverID, bidID string) {
	n.publish(Event{Type: EventAuctionLost, ShipmentID: shipmentID, DriverID: driverID, BidID: bidID})
}

func (n *RedisNotifier) ShipmentStatusChanged(shipmentID string, from, to models.ShipmentStatus) {
	n.publish(Event{
		Type:       EventShipmentStatusChanged,
		ShipmentID: shipmentID,
		From:       from.String(),
		To:         to.String(),
	})
}

// Nop discards all events; used when redis is absent and in tests.
type Nop struct{}

func (Nop) AuctionOpened(string)                                             {}
func (Nop) BidOutbid(string, string)                                         {}
func (Nop) AuctionWon(string, string, string)                                {}
func (Nop) AuctionLost(string, string, string)                               {}
func (Nop) ShipmentStatusChanged(string, models.ShipmentStatus, models.ShipmentStatus) {}
