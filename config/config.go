package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	DB         DBConfig
	Redis      RedisConfig
	Auction    AuctionConfig
	Ranking    RankingConfig
	Backhaul   BackhaulConfig
	Reputation ReputationConfig
}

type ServerConfig struct {
	Addr string
}

type DBConfig struct {
	Enabled  bool
	User     string
	Password string
	DBName   string
	SSLMode  string
	Host     string
	Port     string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type AuctionConfig struct {
	DefaultWindow   time.Duration
	PriceFloor      float64
	ReauctionWindow time.Duration
}

type RankingConfig struct {
	PriceWeight       float64
	ReputationWeight  float64
	ProximityWeight   float64
	BackhaulWeight    float64
	FallbackReference float64
	ProximityDecay    time.Duration
}

type BackhaulConfig struct {
	RadiusKm float64
	Limit    int
}

type ReputationConfig struct {
	NeutralScore     float64
	CompletionGain   float64
	PenaltyPreMatch  float64
	PenaltyPostMatch float64
	PenaltyPickup    float64
}

var Cfg *Config

func InitConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("db.enabled", false)
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("auction.defaultwindow", 15*time.Minute)
	viper.SetDefault("auction.pricefloor", 1.0)
	viper.SetDefault("auction.reauctionwindow", 15*time.Minute)
	viper.SetDefault("ranking.priceweight", 0.5)
	viper.SetDefault("ranking.reputationweight", 0.2)
	viper.SetDefault("ranking.proximityweight", 0.2)
	viper.SetDefault("ranking.backhaulweight", 0.1)
	viper.SetDefault("ranking.proximitydecay", 30*time.Minute)
	viper.SetDefault("backhaul.radiuskm", 50.0)
	viper.SetDefault("backhaul.limit", 5)
	viper.SetDefault("reputation.neutralscore", 50.0)
	viper.SetDefault("reputation.completiongain", 0.10)
	viper.SetDefault("reputation.penaltyprematch", 0.02)
	viper.SetDefault("reputation.penaltypostmatch", 0.10)
	viper.SetDefault("reputation.penaltypickup", 0.25)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Fatalf("Error reading config file, %s", err)
		}
		log.Println("No config file found, using defaults")
	}

	if err := viper.Unmarshal(&Cfg); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}
}
