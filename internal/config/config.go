package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Env  string
	Port string

	RedisURL  string
	RedisPass string
	RedisDB   int

	JWTSecret  string
	AdminToken string

	// Upstream feeds and the payment provider.
	ResultsFeedURL string
	LiveFeedURL    string
	PaymentAPIURL  string

	// Withdrawal fee as a fraction of the requested amount.
	FeePercent float64
	// Hard cap on any single payout, in the smallest currency unit.
	PayoutCeiling int64

	LiveFetchInterval  time.Duration
	SettlementInterval time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Env:  getEnv("ENV", "development"),
		Port: getEnv("PORT", "8080"),

		RedisURL:  getEnv("REDIS_URL", "localhost:6379"),
		RedisPass: getEnv("REDIS_PASS", ""),

		JWTSecret:  getEnv("JWT_SECRET", ""),
		AdminToken: getEnv("ADMIN_TOKEN", ""),

		ResultsFeedURL: getEnv("RESULTS_FEED_URL", "https://www.fortebet.ug/api/web/v1/virtual-soccer/offer"),
		LiveFeedURL:    getEnv("LIVE_FEED_URL", "https://live-ug.betika.com/v1/uo/matches?page=1&limit=1000&sub_type_id=1,186,340&sport=3&sort=1"),
		PaymentAPIURL:  getEnv("PAYMENT_API_URL", "https://api.livrauganda.workers.dev/api"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}

	if cfg.FeePercent, err = getEnvFloat("WITHDRAW_FEE_PERCENT", 0.10); err != nil {
		return nil, err
	}

	ceiling, err := getEnvInt("PAYOUT_CEILING", 1_000_000_000)
	if err != nil {
		return nil, err
	}
	cfg.PayoutCeiling = int64(ceiling)

	liveSecs, err := getEnvInt("LIVE_FETCH_INTERVAL_SECONDS", 30)
	if err != nil {
		return nil, err
	}
	settleSecs, err := getEnvInt("SETTLEMENT_INTERVAL_SECONDS", 60)
	if err != nil {
		return nil, err
	}
	cfg.LiveFetchInterval = time.Duration(liveSecs) * time.Second
	cfg.SettlementInterval = time.Duration(settleSecs) * time.Second

	if cfg.Env == "production" && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required in production")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", key, err)
	}
	return f, nil
}
