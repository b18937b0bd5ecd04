package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration for the signing gateway service.
type Config struct {
	ListenAddress     string
	NetworksFile      string
	AuditDBPath       string
	AuthEnabled       bool
	AuthHMACSecret    string
	AuthIssuer        string
	AuthAudience      string
	AuthClockSkew     time.Duration
	RequestsPerMinute float64
	RateLimitBurst    int
	Environment       string
}

// LoadConfigFromEnv builds a configuration using environment variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		ListenAddress:     getenvDefault("SIGNERD_LISTEN", ":8090"),
		NetworksFile:      getenvDefault("SIGNERD_NETWORKS_FILE", "networks.toml"),
		AuditDBPath:       getenvDefault("SIGNERD_AUDIT_DB", "signerd-audit.db"),
		AuthHMACSecret:    os.Getenv("SIGNERD_AUTH_SECRET"),
		AuthIssuer:        os.Getenv("SIGNERD_AUTH_ISSUER"),
		AuthAudience:      os.Getenv("SIGNERD_AUTH_AUDIENCE"),
		AuthClockSkew:     2 * time.Minute,
		RequestsPerMinute: 120,
		RateLimitBurst:    20,
		Environment:       os.Getenv("SIGNERD_ENV"),
	}

	cfg.AuthEnabled = strings.TrimSpace(cfg.AuthHMACSecret) != ""

	if raw := strings.TrimSpace(os.Getenv("SIGNERD_AUTH_CLOCK_SKEW")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse SIGNERD_AUTH_CLOCK_SKEW: %w", err)
		}
		if dur <= 0 {
			return Config{}, errors.New("SIGNERD_AUTH_CLOCK_SKEW must be positive")
		}
		cfg.AuthClockSkew = dur
	}

	if raw := strings.TrimSpace(os.Getenv("SIGNERD_RATE_LIMIT_RPM")); raw != "" {
		val, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse SIGNERD_RATE_LIMIT_RPM: %w", err)
		}
		if val < 0 {
			return Config{}, errors.New("SIGNERD_RATE_LIMIT_RPM cannot be negative")
		}
		cfg.RequestsPerMinute = val
	}

	if raw := strings.TrimSpace(os.Getenv("SIGNERD_RATE_LIMIT_BURST")); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse SIGNERD_RATE_LIMIT_BURST: %w", err)
		}
		if val <= 0 {
			return Config{}, errors.New("SIGNERD_RATE_LIMIT_BURST must be positive")
		}
		cfg.RateLimitBurst = val
	}

	if strings.TrimSpace(cfg.NetworksFile) == "" {
		return Config{}, errors.New("SIGNERD_NETWORKS_FILE is required")
	}

	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
