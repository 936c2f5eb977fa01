package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ABSENCE_TIMEOUT_SECONDS", "ROLLOVER_POLICY", "ESTIMATE_SAFETY_FACTOR", "CORS_ALLOWED_ORIGINS", "SHOP_TIMEZONE"} {
		t.Setenv(key, "")
	}
	cfg := Load()

	if cfg.Port != "3000" {
		t.Fatalf("port=%q", cfg.Port)
	}
	if cfg.AbsenceTimeout != 10*time.Minute || cfg.RolloverInterval != time.Minute {
		t.Fatalf("timers: absence=%v rollover=%v", cfg.AbsenceTimeout, cfg.RolloverInterval)
	}
	if cfg.RolloverPolicy != "keep" || !cfg.ShopAutoArrive || !cfg.PrinterEnabled || cfg.WaitDisplayEnabled {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.EstimateFloorMinutes != 5 || cfg.EstimateSafetyFactor != 1.2 || cfg.EstimateRoundingMinutes != 5 {
		t.Fatalf("estimate policy %v/%v/%v", cfg.EstimateFloorMinutes, cfg.EstimateSafetyFactor, cfg.EstimateRoundingMinutes)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("origins=%v", cfg.AllowedOrigins)
	}
	if cfg.TimeZone == nil {
		t.Fatalf("time zone not set")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "8088")
	t.Setenv("ABSENCE_TIMEOUT_SECONDS", "120")
	t.Setenv("ROLLOVER_POLICY", "clear")
	t.Setenv("SHOP_AUTO_ARRIVE", "false")
	t.Setenv("ESTIMATE_SAFETY_FACTOR", "1.5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("SMTP_PASSWORD", "abcd efgh ijkl")
	t.Setenv("MAX_PARTY_SIZE", "not-a-number")

	cfg := Load()
	if cfg.Port != "8088" || cfg.AbsenceTimeout != 2*time.Minute || cfg.RolloverPolicy != "clear" || cfg.ShopAutoArrive {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.EstimateSafetyFactor != 1.5 {
		t.Fatalf("safety=%v", cfg.EstimateSafetyFactor)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("origins=%v", cfg.AllowedOrigins)
	}
	if cfg.SMTPPassword != "abcdefghijkl" {
		t.Fatalf("app password whitespace not stripped: %q", cfg.SMTPPassword)
	}
	if cfg.MaxPartySize != 20 {
		t.Fatalf("invalid int should fall back, got %d", cfg.MaxPartySize)
	}
}
