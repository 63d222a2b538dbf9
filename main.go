package main

import (
	"flag"
	"log"
	"net/http"

	"freight-auction-system/api"
	"freight-auction-system/auction"
	"freight-auction-system/cache"
	"freight-auction-system/config"
	"freight-auction-system/database"
	"freight-auction-system/dispatch"
	"freight-auction-system/geo"
	"freight-auction-system/ledger"
	"freight-auction-system/migration"
	"freight-auction-system/notify"
	"freight-auction-system/payments"
	"freight-auction-system/ranking"
	"freight-auction-system/reputation"
)

func main() {
	migrateOnly := flag.Bool("migrate", false, "run database migrations and exit")
	flag.Parse()

	// Initialize configuration
	config.InitConfig()
	cfg := config.Cfg

	if *migrateOnly {
		if err := migration.RunMigrations(); err != nil {
			log.Fatalf("Migration error: %v", err)
		}
		return
	}

	// Initialize the durability journal when a database is configured
	var journal *ledger.Journal
	if cfg.DB.Enabled {
		if err := database.InitDB(); err != nil {
			log.Fatal(err)
		}
		journal = ledger.NewJournal(database.DB)
		defer journal.Close()
	}

	// Initialize Redis for the driver cache and outbound events
	notifier := notify.Notifier(notify.Nop{})
	settlement := payments.Settlement(payments.Nop{})
	if cfg.Redis.Enabled {
		if err := cache.InitRedis(); err != nil {
			log.Fatal(err)
		}
		notifier = notify.NewRedisNotifier(cache.Client, "freight:events")
		settlement = payments.NewRedisSettlement(cache.Client, "freight:settlement")
	}

	// Wire the auction core
	led := ledger.New(journal)
	index := geo.NewShipmentIndex()
	scorer := reputation.NewScorer(led, reputation.Config{
		NeutralScore:     cfg.Reputation.NeutralScore,
		CompletionGain:   cfg.Reputation.CompletionGain,
		PenaltyPreMatch:  cfg.Reputation.PenaltyPreMatch,
		PenaltyPostMatch: cfg.Reputation.PenaltyPostMatch,
		PenaltyPickup:    cfg.Reputation.PenaltyPickup,
	})
	ranker := ranking.NewRanker(ranking.Config{
		Weights: ranking.Weights{
			Price:      cfg.Ranking.PriceWeight,
			Reputation: cfg.Ranking.ReputationWeight,
			Proximity:  cfg.Ranking.ProximityWeight,
			Backhaul:   cfg.Ranking.BackhaulWeight,
		},
		FallbackReference: cfg.Ranking.FallbackReference,
		ProximityDecay:    cfg.Ranking.ProximityDecay,
		BackhaulRadiusKm:  cfg.Backhaul.RadiusKm,
		BackhaulLimit:     cfg.Backhaul.Limit,
	}, scorer, index, led)
	coordinator := auction.NewCoordinator(auction.Config{
		DefaultWindow: cfg.Auction.DefaultWindow,
		PriceFloor:    cfg.Auction.PriceFloor,
	}, led, ranker, index, notifier, settlement, journal)
	tracker := dispatch.NewTracker(led, scorer, coordinator, notifier, nil, cfg.Auction.ReauctionWindow)

	// Register routes
	handler := &api.API{
		Ledger:      led,
		Coordinator: coordinator,
		Tracker:     tracker,
		Reputation:  scorer,
		Index:       index,
	}
	router := handler.RegisterRoutes()

	// Start the server
	log.Printf("Server started on %s", cfg.Server.Addr)
	log.Fatal(http.ListenAndServe(cfg.Server.Addr, router))
}
