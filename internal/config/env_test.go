package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// setEnvs sets multiple env vars and returns a cleanup function.
func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

// requiredEnvs returns the minimum env vars needed for LoadEnvConfig to succeed.
func requiredEnvs() map[string]string {
	return map[string]string{
		"DISPATCH_ADMIN_TOKEN": "admin-secret",
	}
}

func TestLoadEnvConfig_Defaults(t *testing.T) {
	setEnvs(t, requiredEnvs())

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Network
	assertEqual(t, "ListenAddress", cfg.ListenAddress, "0.0.0.0")
	assertEqual(t, "Port", cfg.Port, 8000)
	assertEqual(t, "APIMaxBodyBytes", cfg.APIMaxBodyBytes, 1<<20)

	// Geometry
	assertEqual(t, "CenterLat", cfg.CenterLat, 51.111339)
	assertEqual(t, "CenterLng", cfg.CenterLng, 71.415581)
	assertEqual(t, "H3Resolution", cfg.H3Resolution, 7)

	// Fleet caps
	assertEqual(t, "MaxTaxis", cfg.MaxTaxis, 10)
	assertEqual(t, "MaxPendingOrders", cfg.MaxPendingOrders, 50)
	assertEqual(t, "MaxCompletedOrders", cfg.MaxCompletedOrders, 2)

	// Routing
	assertEqual(t, "RoutingURL", cfg.RoutingURL, DefaultRoutingURL)
	assertEqual(t, "RoutingAPIKeysLength", len(cfg.RoutingAPIKeys), 0)
	assertEqual(t, "RoutingAPIKeysFile", cfg.RoutingAPIKeysFile, "")
	assertEqual(t, "RoutingTimeout", cfg.RoutingTimeout, 15*time.Second)
	assertEqual(t, "RouteCacheEntries", cfg.RouteCacheEntries, 2048)

	// Cadences
	assertEqual(t, "GeneratorInterval", cfg.GeneratorInterval, 3*time.Second)
	assertEqual(t, "MatcherInterval", cfg.MatcherInterval, 5*time.Second)
	assertEqual(t, "DemandInterval", cfg.DemandInterval, 2*time.Second)

	// Metrics
	assertEqual(t, "MetricsRingCapacity", cfg.MetricsRingCapacity, 720)
	assertEqual(t, "MetricsSummarySchedule", cfg.MetricsSummarySchedule, "*/5 * * * *")
}

func TestLoadEnvConfig_EnvOverrides(t *testing.T) {
	envs := requiredEnvs()
	envs["DISPATCH_LISTEN_ADDRESS"] = "127.0.0.1"
	envs["DISPATCH_PORT"] = "9100"
	envs["DISPATCH_API_MAX_BODY_BYTES"] = "2097152"
	envs["DISPATCH_CENTER_LAT"] = "40.4168"
	envs["DISPATCH_CENTER_LNG"] = "-3.7038"
	envs["DISPATCH_H3_RESOLUTION"] = "8"
	envs["DISPATCH_MAX_TAXIS"] = "25"
	envs["DISPATCH_MAX_PENDING_ORDERS"] = "120"
	envs["DISPATCH_MAX_COMPLETED_ORDERS"] = "10"
	envs["DISPATCH_ROUTING_URL"] = "https://routing.example.com/v2/directions"
	envs["DISPATCH_ROUTING_API_KEYS"] = `["key-a","key-b"]`
	envs["DISPATCH_ROUTING_TIMEOUT"] = "30s"
	envs["DISPATCH_ROUTE_CACHE_ENTRIES"] = "512"
	envs["DISPATCH_GENERATOR_INTERVAL"] = "1s"
	envs["DISPATCH_MATCHER_INTERVAL"] = "10s"
	envs["DISPATCH_DEMAND_INTERVAL"] = "500ms"
	envs["DISPATCH_METRICS_RING_CAPACITY"] = "100"
	envs["DISPATCH_METRICS_SUMMARY_SCHEDULE"] = "0 * * * *"
	setEnvs(t, envs)

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertEqual(t, "ListenAddress", cfg.ListenAddress, "127.0.0.1")
	assertEqual(t, "Port", cfg.Port, 9100)
	assertEqual(t, "APIMaxBodyBytes", cfg.APIMaxBodyBytes, 2097152)
	assertEqual(t, "CenterLat", cfg.CenterLat, 40.4168)
	assertEqual(t, "CenterLng", cfg.CenterLng, -3.7038)
	assertEqual(t, "H3Resolution", cfg.H3Resolution, 8)
	assertEqual(t, "MaxTaxis", cfg.MaxTaxis, 25)
	assertEqual(t, "MaxPendingOrders", cfg.MaxPendingOrders, 120)
	assertEqual(t, "MaxCompletedOrders", cfg.MaxCompletedOrders, 10)
	assertEqual(t, "RoutingURL", cfg.RoutingURL, "https://routing.example.com/v2/directions")
	assertEqual(t, "RoutingAPIKeysLength", len(cfg.RoutingAPIKeys), 2)
	assertEqual(t, "RoutingAPIKeys[0]", cfg.RoutingAPIKeys[0], "key-a")
	assertEqual(t, "RoutingAPIKeys[1]", cfg.RoutingAPIKeys[1], "key-b")
	assertEqual(t, "RoutingTimeout", cfg.RoutingTimeout, 30*time.Second)
	assertEqual(t, "RouteCacheEntries", cfg.RouteCacheEntries, 512)
	assertEqual(t, "GeneratorInterval", cfg.GeneratorInterval, time.Second)
	assertEqual(t, "MatcherInterval", cfg.MatcherInterval, 10*time.Second)
	assertEqual(t, "DemandInterval", cfg.DemandInterval, 500*time.Millisecond)
	assertEqual(t, "MetricsRingCapacity", cfg.MetricsRingCapacity, 100)
	assertEqual(t, "MetricsSummarySchedule", cfg.MetricsSummarySchedule, "0 * * * *")
}

func TestLoadEnvConfig_CenterAccessor(t *testing.T) {
	envs := requiredEnvs()
	envs["DISPATCH_CENTER_LAT"] = "10.5"
	envs["DISPATCH_CENTER_LNG"] = "-20.25"
	setEnvs(t, envs)

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	center := cfg.Center()
	assertEqual(t, "Center().Lat", center.Lat, 10.5)
	assertEqual(t, "Center().Lng", center.Lng, -20.25)
}

func TestLoadEnvConfig_MissingAdminToken(t *testing.T) {
	// Ensure DISPATCH_ADMIN_TOKEN is not set
	os.Unsetenv("DISPATCH_ADMIN_TOKEN")

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for missing DISPATCH_ADMIN_TOKEN")
	}
	assertContains(t, err.Error(), "DISPATCH_ADMIN_TOKEN must be defined (can be empty)")
}

func TestLoadEnvConfig_EmptyTokenAllowedWhenDefined(t *testing.T) {
	t.Setenv("DISPATCH_ADMIN_TOKEN", "")

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertEqual(t, "AdminToken", cfg.AdminToken, "")
}

func TestLoadEnvConfig_EmptyListenAddress(t *testing.T) {
	envs := requiredEnvs()
	envs["DISPATCH_LISTEN_ADDRESS"] = "   "
	setEnvs(t, envs)

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for empty listen address")
	}
	assertContains(t, err.Error(), "DISPATCH_LISTEN_ADDRESS")
}

func TestLoadEnvConfig_InvalidPort(t *testing.T) {
	envs := requiredEnvs()
	envs["DISPATCH_PORT"] = "99999"
	setEnvs(t, envs)

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for port out of range")
	}
	assertContains(t, err.Error(), "DISPATCH_PORT")
}

func TestLoadEnvConfig_InvalidPortNotNumber(t *testing.T) {
	envs := requiredEnvs()
	envs["DISPATCH_PORT"] = "abc"
	setEnvs(t, envs)

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for non-numeric port")
	}
	assertContains(t, err.Error(), "DISPATCH_PORT")
}

func TestLoadEnvConfig_ZeroPort(t *testing.T) {
	envs := requiredEnvs()
	envs["DISPATCH_PORT"] = "0"
	setEnvs(t, envs)

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for zero port")
	}
	assertContains(t, err.Error(), "DISPATCH_PORT")
}

func TestLoadEnvConfig_LatitudeOutOfRange(t *testing.T) {
	envs := requiredEnvs()
	envs["DISPATCH_CENTER_LAT"] = "91"
	setEnvs(t, envs)

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for latitude out of range")
	}
	assertContains(t, err.Error(), "DISPATCH_CENTER_LAT")
}

func TestLoadEnvConfig_LongitudeOutOfRange(t *testing.T) {
	envs := requiredEnvs()
	envs["DISPATCH_CENTER_LNG"] = "-181"
	setEnvs(t, envs)

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for longitude out of range")
	}
	assertContains(t, err.Error(), "DISPATCH_CENTER_LNG")
}

func TestLoadEnvConfig_InvalidLatitudeNotNumber(t *testing.T) {
	envs := requiredEnvs()
	envs["DISPATCH_CENTER_LAT"] = "north"
	setEnvs(t, envs)

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for non-numeric latitude")
	}
	assertContains(t, err.Error(), "DISPATCH_CENTER_LAT")
}

func TestLoadEnvConfig_InvalidResolution(t *testing.T) {
	envs := requiredEnvs()
	envs["DISPATCH_H3_RESOLUTION"] = "16"
	setEnvs(t, envs)

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for resolution out of range")
	}
	assertContains(t, err.Error(), "DISPATCH_H3_RESOLUTION")
}

func TestLoadEnvConfig_InvalidAPIKeysJSON(t *testing.T) {
	envs := requiredEnvs()
	envs["DISPATCH_ROUTING_API_KEYS"] = "key-a,key-b"
	setEnvs(t, envs)

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for malformed key list")
	}
	assertContains(t, err.Error(), "DISPATCH_ROUTING_API_KEYS")
}

func TestLoadEnvConfig_InvalidDuration(t *testing.T) {
	envs := requiredEnvs()
	envs["DISPATCH_ROUTING_TIMEOUT"] = "not-a-duration"
	setEnvs(t, envs)

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	assertContains(t, err.Error(), "DISPATCH_ROUTING_TIMEOUT")
}

func TestLoadEnvConfig_ZeroInterval(t *testing.T) {
	envs := requiredEnvs()
	envs["DISPATCH_MATCHER_INTERVAL"] = "0s"
	setEnvs(t, envs)

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for zero matcher interval")
	}
	assertContains(t, err.Error(), "DISPATCH_MATCHER_INTERVAL")
}

func TestLoadEnvConfig_NegativeValue(t *testing.T) {
	envs := requiredEnvs()
	envs["DISPATCH_MAX_TAXIS"] = "-5"
	setEnvs(t, envs)

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for negative value")
	}
	assertContains(t, err.Error(), "DISPATCH_MAX_TAXIS")
}

func TestLoadEnvConfig_InvalidSummarySchedule(t *testing.T) {
	envs := requiredEnvs()
	envs["DISPATCH_METRICS_SUMMARY_SCHEDULE"] = "not-a-cron"
	setEnvs(t, envs)

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for invalid summary schedule")
	}
	assertContains(t, err.Error(), "DISPATCH_METRICS_SUMMARY_SCHEDULE")
}

// --- test helpers ---

func assertEqual[T comparable](t *testing.T, name string, got, want T) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %v, want %v", name, got, want)
	}
}

func assertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("expected %q to contain %q", s, substr)
	}
}
