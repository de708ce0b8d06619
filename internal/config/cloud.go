package config

import (
	"os"
	"strconv"
)

// Fusion tunes the correlation window and trust model.
type Fusion struct {
	WindowSec  int
	TrustAlpha float64
}

// PolicyThresholds tunes the policy engine decision table.
type PolicyThresholds struct {
	Alert   float64
	Action  float64
	TwoStep bool
}

// AFL tunes the feedback synthesis loop.
type AFL struct {
	IntervalSec int
	RecalRate   float64
}

// Cloud carries the environment-driven settings shared by the cloud
// services. Each service reads the subset it needs; unset keys fall
// back to the documented defaults.
type Cloud struct {
	HTTPAddr      string
	NATSURL       string
	RedisAddr     string
	RedisPassword string
	PGURL         string
	PublicURL     string
	WebhookURL    string
	WebhookSecret string
	Fusion        Fusion
	Policy        PolicyThresholds
	AFL           AFL
}

// CloudFromEnv builds a Cloud config from the process environment.
func CloudFromEnv() *Cloud {
	return &Cloud{
		HTTPAddr:      envOr("FAL_HTTP_ADDR", ":8080"),
		NATSURL:       envOr("NATS_URL", "nats://localhost:4222"),
		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		PGURL:         os.Getenv("PG_URL"),
		PublicURL:     envOr("FAL_PUBLIC_URL", "https://your-cloud.example.com"),
		WebhookURL:    os.Getenv("FAL_WEBHOOK_URL"),
		WebhookSecret: os.Getenv("FAL_WEBHOOK_SECRET"),
		Fusion: Fusion{
			WindowSec:  envIntOr("FAL_WINDOW_SEC", 5),
			TrustAlpha: envFloatOr("FAL_TRUST_ALPHA", 0.9),
		},
		Policy: PolicyThresholds{
			Alert:   envFloatOr("FAL_ALERT_THRESHOLD", 0.6),
			Action:  envFloatOr("FAL_ACTION_THRESHOLD", 0.85),
			TwoStep: envBoolOr("FAL_TWO_STEP", true),
		},
		AFL: AFL{
			IntervalSec: envIntOr("FAL_AFL_INTERVAL_SEC", 300),
			RecalRate:   envFloatOr("FAL_RECAL_RATE", 0.1),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloatOr(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBoolOr(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
