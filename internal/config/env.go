// Package config handles environment-based configuration loading and the
// hot-updatable runtime settings model.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/teamrichards/dispatchd/internal/geo"
)

// DefaultRoutingURL is the driving-directions endpoint used when
// DISPATCH_ROUTING_URL is not set.
const DefaultRoutingURL = "https://api.openrouteservice.org/v2/directions/driving-car/geojson"

// EnvConfig holds all environment-variable-driven settings (not hot-updatable).
type EnvConfig struct {
	// Network
	ListenAddress   string
	Port            int
	APIMaxBodyBytes int

	// Auth
	AdminToken string

	// Simulation geometry
	CenterLat    float64
	CenterLng    float64
	H3Resolution int

	// Fleet caps
	MaxTaxis           int
	MaxPendingOrders   int
	MaxCompletedOrders int

	// Routing provider
	RoutingURL         string
	RoutingAPIKeys     []string
	RoutingAPIKeysFile string
	RoutingTimeout     time.Duration
	RouteCacheEntries  int

	// Loop cadences
	GeneratorInterval time.Duration
	MatcherInterval   time.Duration
	DemandInterval    time.Duration

	// Metrics
	MetricsRingCapacity    int
	MetricsSummarySchedule string
}

// Center returns the configured simulation center.
func (c *EnvConfig) Center() geo.Point {
	return geo.Point{Lat: c.CenterLat, Lng: c.CenterLng}
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any required variable is missing or any value is invalid.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Network ---
	cfg.ListenAddress = strings.TrimSpace(envStr("DISPATCH_LISTEN_ADDRESS", "0.0.0.0"))
	cfg.Port = envInt("DISPATCH_PORT", 8000, &errs)
	cfg.APIMaxBodyBytes = envInt("DISPATCH_API_MAX_BODY_BYTES", 1<<20, &errs)

	// --- Auth (must be defined; empty means auth disabled) ---
	adminToken, hasAdminToken := os.LookupEnv("DISPATCH_ADMIN_TOKEN")
	cfg.AdminToken = adminToken

	// --- Simulation geometry ---
	cfg.CenterLat = envFloat("DISPATCH_CENTER_LAT", 51.111339, &errs)
	cfg.CenterLng = envFloat("DISPATCH_CENTER_LNG", 71.415581, &errs)
	cfg.H3Resolution = envInt("DISPATCH_H3_RESOLUTION", 7, &errs)

	// --- Fleet caps ---
	cfg.MaxTaxis = envInt("DISPATCH_MAX_TAXIS", 10, &errs)
	cfg.MaxPendingOrders = envInt("DISPATCH_MAX_PENDING_ORDERS", 50, &errs)
	cfg.MaxCompletedOrders = envInt("DISPATCH_MAX_COMPLETED_ORDERS", 2, &errs)

	// --- Routing provider ---
	cfg.RoutingURL = envStr("DISPATCH_ROUTING_URL", DefaultRoutingURL)
	cfg.RoutingAPIKeys = envStringSlice("DISPATCH_ROUTING_API_KEYS", nil, &errs)
	cfg.RoutingAPIKeysFile = envStr("DISPATCH_ROUTING_API_KEYS_FILE", "")
	cfg.RoutingTimeout = envDuration("DISPATCH_ROUTING_TIMEOUT", 15*time.Second, &errs)
	cfg.RouteCacheEntries = envInt("DISPATCH_ROUTE_CACHE_ENTRIES", 2048, &errs)

	// --- Loop cadences ---
	cfg.GeneratorInterval = envDuration("DISPATCH_GENERATOR_INTERVAL", 3*time.Second, &errs)
	cfg.MatcherInterval = envDuration("DISPATCH_MATCHER_INTERVAL", 5*time.Second, &errs)
	cfg.DemandInterval = envDuration("DISPATCH_DEMAND_INTERVAL", 2*time.Second, &errs)

	// --- Metrics ---
	cfg.MetricsRingCapacity = envInt("DISPATCH_METRICS_RING_CAPACITY", 720, &errs)
	cfg.MetricsSummarySchedule = envStr("DISPATCH_METRICS_SUMMARY_SCHEDULE", "*/5 * * * *")

	// --- Validation ---
	if !hasAdminToken {
		errs = append(errs, "DISPATCH_ADMIN_TOKEN must be defined (can be empty)")
	}
	if cfg.ListenAddress == "" {
		errs = append(errs, "DISPATCH_LISTEN_ADDRESS must not be empty")
	}
	validatePort("DISPATCH_PORT", cfg.Port, &errs)
	validatePositive("DISPATCH_API_MAX_BODY_BYTES", cfg.APIMaxBodyBytes, &errs)
	if cfg.CenterLat < -90 || cfg.CenterLat > 90 {
		errs = append(errs, fmt.Sprintf("DISPATCH_CENTER_LAT: latitude must be within [-90, 90], got %v", cfg.CenterLat))
	}
	if cfg.CenterLng < -180 || cfg.CenterLng > 180 {
		errs = append(errs, fmt.Sprintf("DISPATCH_CENTER_LNG: longitude must be within [-180, 180], got %v", cfg.CenterLng))
	}
	if cfg.H3Resolution < 0 || cfg.H3Resolution > 15 {
		errs = append(errs, fmt.Sprintf("DISPATCH_H3_RESOLUTION: must be 0-15, got %d", cfg.H3Resolution))
	}
	validatePositive("DISPATCH_MAX_TAXIS", cfg.MaxTaxis, &errs)
	validatePositive("DISPATCH_MAX_PENDING_ORDERS", cfg.MaxPendingOrders, &errs)
	validatePositive("DISPATCH_MAX_COMPLETED_ORDERS", cfg.MaxCompletedOrders, &errs)
	if cfg.RoutingTimeout <= 0 {
		errs = append(errs, "DISPATCH_ROUTING_TIMEOUT must be positive")
	}
	validatePositive("DISPATCH_ROUTE_CACHE_ENTRIES", cfg.RouteCacheEntries, &errs)
	if cfg.GeneratorInterval <= 0 {
		errs = append(errs, "DISPATCH_GENERATOR_INTERVAL must be positive")
	}
	if cfg.MatcherInterval <= 0 {
		errs = append(errs, "DISPATCH_MATCHER_INTERVAL must be positive")
	}
	if cfg.DemandInterval <= 0 {
		errs = append(errs, "DISPATCH_DEMAND_INTERVAL must be positive")
	}
	validatePositive("DISPATCH_METRICS_RING_CAPACITY", cfg.MetricsRingCapacity, &errs)
	if _, err := cron.ParseStandard(cfg.MetricsSummarySchedule); err != nil {
		errs = append(errs, fmt.Sprintf("DISPATCH_METRICS_SUMMARY_SCHEDULE: invalid cron expression %q: %v", cfg.MetricsSummarySchedule, err))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envFloat(key string, defaultVal float64, errs *[]string) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid number %q", key, v))
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func envStringSlice(key string, defaultVal []string, errs *[]string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid JSON string array %q", key, v))
		return defaultVal
	}
	return out
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}
