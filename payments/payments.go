// Package payments holds the narrow outbound interface to the
// settlement collaborator. The core only announces "match committed at
// price P"; capture and payout live elsewhere.
package payments

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"freight-auction-system/models"
)

type Settlement interface {
	MatchCommitted(m models.Match)
}

// RedisSettlement publishes the settlement trigger on a redis channel.
type RedisSettlement struct {
	client  *redis.Client
	channel string
}

func NewRedisSettlement(client *redis.Client, channel string) *RedisSettlement {
	return &RedisSettlement{client: client, channel: channel}
}

func (s *RedisSettlement) MatchCommitted(m models.Match) {
	payload, err := json.Marshal(m)
	if err != nil {
		log.Printf("payments: marshal match %s: %v", m.ShipmentID, err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
			log.Printf("payments: publish match %s: %v", m.ShipmentID, err)
		}
	}()
}

// Nop discards settlement triggers; used in tests.
type Nop struct{}

func (Nop) MatchCommitted(models.Match) {}
