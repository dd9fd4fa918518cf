package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DASHBOARD_TTL_SECONDS", "")
	t.Setenv("REPORT_DIR", "")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("default port = %q, want 8080", cfg.Port)
	}
	if cfg.DashboardTTLSeconds != 20 {
		t.Fatalf("default dashboard ttl = %d, want 20", cfg.DashboardTTLSeconds)
	}
	if cfg.ReportDir != "uploads/reports" {
		t.Fatalf("default report dir = %q", cfg.ReportDir)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("default token ttl = %d, want 480", cfg.AccessTokenTTLMinutes)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("address = %q, want :8080", cfg.Address())
	}
}

func TestLoadEnvOverridesAndBadValues(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DASHBOARD_TTL_SECONDS", "not-a-number")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "-5")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("port = %q, want 9090", cfg.Port)
	}
	if cfg.DashboardTTLSeconds != 20 {
		t.Fatalf("unparsable dashboard ttl = %d, want fallback 20", cfg.DashboardTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("negative token ttl = %d, want fallback 480", cfg.AccessTokenTTLMinutes)
	}
}

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "  ")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}
