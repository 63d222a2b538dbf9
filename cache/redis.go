package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/go-redis/redis/v8"

	"freight-auction-system/config"
	"freight-auction-system/models"
)

var Client *redis.Client

// InitRedis initializes the Redis client from configuration.
func InitRedis() error {
	cfg := config.Cfg.Redis
	Client = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx := context.Background()
	if _, err := Client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %v", err)
	}

	log.Println("Connected to Redis successfully.")
	return nil
}

func driverKey(geohash string) string {
	return fmt.Sprintf("drivers:%s", geohash)
}

// StoreAvailableDriver adds the driver to the geohash-keyed set of
// available drivers. No-op when redis is not configured.
func StoreAvailableDriver(ctx context.Context, p models.DriverProfile) {
	if Client == nil || p.Geohash == "" {
		return
	}
	payload, _ := json.Marshal(p)
	if err := Client.SAdd(ctx, driverKey(p.Geohash), payload).Err(); err != nil {
		log.Printf("cache: store driver %s: %v", p.ID, err)
	}
}

// RemoveAvailableDriver removes the driver from its geohash set.
func RemoveAvailableDriver(ctx context.Context, p models.DriverProfile) {
	if Client == nil || p.Geohash == "" {
		return
	}
	payload, _ := json.Marshal(p)
	if err := Client.SRem(ctx, driverKey(p.Geohash), payload).Err(); err != nil {
		log.Printf("cache: remove driver %s: %v", p.ID, err)
	}
}

// AvailableDriversNear returns available drivers cached in the
// location's geohash cell and its neighbors.
func AvailableDriversNear(ctx context.Context, hash string, neighbors []string) []models.DriverProfile {
	if Client == nil {
		return nil
	}
	var out []models.DriverProfile
	for _, h := range append(neighbors, hash) {
		members, err := Client.SMembers(ctx, driverKey(h)).Result()
		if err != nil {
			continue
		}
		for _, m := range members {
			var p models.DriverProfile
			if err := json.Unmarshal([]byte(m), &p); err != nil {
				continue
			}
			if p.Available {
				out = append(out, p)
			}
		}
	}
	return out
}
