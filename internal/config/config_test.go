package config

import (
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATABASE_URL", "PG_DSN", "PGHOST", "PGPORT", "PGUSER", "PGPASSWORD",
		"PGDATABASE", "PGSSLMODE", "CITY", "CITY_NAME", "NATS_URL",
		"NATS_REPORT_SUBJECT", "NATS_POSITION_SUBJECT_PREFIX",
		"GTFSRT_VEHICLES_URL", "GTFSRT_POLL_INTERVAL_SEC", "STALE_TIMEOUT_MIN",
		"EVICT_INTERVAL_SEC", "EXTRAPOLATION_HORIZON_SEC",
		"CLOCK_SKEW_TOLERANCE_SEC", "MIN_SPEED_KPH", "NEXT_STOPS_LIMIT",
		"LOG_NATS_SUBJECTS", "HTTP_ADDR", "METRICS_ADDR", "TZ",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("PGDATABASE", "tracker")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.Contains(cfg.DatabaseURL, "/tracker") {
		t.Errorf("DatabaseURL = %q, want composed from PG* vars", cfg.DatabaseURL)
	}
	if cfg.NATSURL != "nats://127.0.0.1:4222" {
		t.Errorf("NATSURL = %q", cfg.NATSURL)
	}
	if cfg.ReportSubject != "fleet.reports" {
		t.Errorf("ReportSubject = %q", cfg.ReportSubject)
	}
	if cfg.StaleTimeout != 60*time.Minute {
		t.Errorf("StaleTimeout = %v, want 60m", cfg.StaleTimeout)
	}
	if cfg.EvictInterval != 60*time.Second {
		t.Errorf("EvictInterval = %v, want 60s", cfg.EvictInterval)
	}
	if cfg.Horizon != 120*time.Second {
		t.Errorf("Horizon = %v, want 120s", cfg.Horizon)
	}
	if cfg.MinSpeedKph != 3.0 {
		t.Errorf("MinSpeedKph = %v, want 3.0", cfg.MinSpeedKph)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
}

func TestLoadRequiresDatabase(t *testing.T) {
	clearEnv(t)
	if _, err := Load(); err == nil {
		t.Fatalf("load succeeded without database configuration")
	}
}

func TestLoadCityDefaultsBaseDB(t *testing.T) {
	clearEnv(t)
	t.Setenv("CITY", "Dresden")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load with CITY: %v", err)
	}
	if !strings.Contains(cfg.DatabaseURL, "/postgres") {
		t.Errorf("DatabaseURL = %q, want base DB postgres when CITY is set", cfg.DatabaseURL)
	}
	if cfg.City != "Dresden" {
		t.Errorf("City = %q", cfg.City)
	}
}

func TestLoadExplicitDSNWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/positions?sslmode=disable")
	t.Setenv("PGDATABASE", "ignored")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://u:p@db:5432/positions?sslmode=disable" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
}

func TestLoadRejectsBadDurations(t *testing.T) {
	for _, key := range []string{"STALE_TIMEOUT_MIN", "EVICT_INTERVAL_SEC", "EXTRAPOLATION_HORIZON_SEC"} {
		clearEnv(t)
		t.Setenv("PGDATABASE", "tracker")
		t.Setenv(key, "-5")
		if _, err := Load(); err == nil {
			t.Errorf("%s=-5 accepted", key)
		}
		t.Setenv(key, "soon")
		if _, err := Load(); err == nil {
			t.Errorf("%s=soon accepted", key)
		}
	}
}

func TestLoadPasswordEscaped(t *testing.T) {
	clearEnv(t)
	t.Setenv("PGDATABASE", "tracker")
	t.Setenv("PGPASSWORD", "p@ss/word")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.Contains(cfg.DatabaseURL, "p%40ss%2Fword") {
		t.Errorf("password not escaped in DSN: %q", cfg.DatabaseURL)
	}
}
