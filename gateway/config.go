package gateway

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration for the REST gateway service. All
// values are sourced from the environment so the gateway can run alongside the
// node without sharing its TOML config.
type Config struct {
	ListenAddress     string
	NodeURL           string
	NodeAuthToken     string
	DatabasePath      string
	JWTSecret         string
	JWTIssuer         string
	JWTAudience       string
	ClockSkew         time.Duration
	RequestsPerMinute float64
	Burst             int
	Environment       string
}

// LoadConfigFromEnv builds a configuration using environment variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		ListenAddress:     getenvDefault("SKILLCHAIN_GATEWAY_LISTEN", ":8081"),
		NodeURL:           os.Getenv("SKILLCHAIN_GATEWAY_NODE_URL"),
		NodeAuthToken:     os.Getenv("SKILLCHAIN_GATEWAY_NODE_TOKEN"),
		DatabasePath:      getenvDefault("SKILLCHAIN_GATEWAY_DB_PATH", "skillchain-gateway.db"),
		JWTSecret:         strings.TrimSpace(os.Getenv("SKILLCHAIN_GATEWAY_JWT_SECRET")),
		JWTIssuer:         strings.TrimSpace(os.Getenv("SKILLCHAIN_GATEWAY_JWT_ISSUER")),
		JWTAudience:       strings.TrimSpace(os.Getenv("SKILLCHAIN_GATEWAY_JWT_AUDIENCE")),
		ClockSkew:         2 * time.Minute,
		RequestsPerMinute: 120,
		Burst:             20,
		Environment:       getenvDefault("SKILLCHAIN_GATEWAY_ENV", "local"),
	}

	if cfg.NodeURL == "" {
		return Config{}, errors.New("SKILLCHAIN_GATEWAY_NODE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, errors.New("SKILLCHAIN_GATEWAY_JWT_SECRET is required")
	}

	if raw := strings.TrimSpace(os.Getenv("SKILLCHAIN_GATEWAY_CLOCK_SKEW")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse SKILLCHAIN_GATEWAY_CLOCK_SKEW: %w", err)
		}
		if dur <= 0 {
			return Config{}, errors.New("SKILLCHAIN_GATEWAY_CLOCK_SKEW must be positive")
		}
		cfg.ClockSkew = dur
	}

	if raw := strings.TrimSpace(os.Getenv("SKILLCHAIN_GATEWAY_RPM")); raw != "" {
		val, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse SKILLCHAIN_GATEWAY_RPM: %w", err)
		}
		if val <= 0 {
			return Config{}, errors.New("SKILLCHAIN_GATEWAY_RPM must be positive")
		}
		cfg.RequestsPerMinute = val
	}

	if raw := strings.TrimSpace(os.Getenv("SKILLCHAIN_GATEWAY_BURST")); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse SKILLCHAIN_GATEWAY_BURST: %w", err)
		}
		if val <= 0 {
			return Config{}, errors.New("SKILLCHAIN_GATEWAY_BURST must be positive")
		}
		cfg.Burst = val
	}

	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
