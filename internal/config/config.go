package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL        string
	City               string
	NATSURL            string
	ReportSubject      string
	PositionSubjectPfx string
	GTFSRTVehiclesURL  string
	GTFSRTPollInterval time.Duration
	StaleTimeout       time.Duration
	EvictInterval      time.Duration
	Horizon            time.Duration
	ClockSkew          time.Duration
	MinSpeedKph        float64
	NextStopsLimit     int
	LogNATSSubjects    bool
	HTTPAddr           string
	MetricsAddr        string
	Location           *time.Location
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := os.Getenv("PGDATABASE")
		// If CITY is provided, default base DB to 'postgres' when PGDATABASE is not set.
		if db == "" && os.Getenv("CITY") != "" {
			db = "postgres"
		}
		if db == "" {
			return nil, errors.New("PGDATABASE or DATABASE_URL must be set (set PGDATABASE=postgres when using CITY)")
		}
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	} else {
		cfg.DatabaseURL = dsn
	}

	// City name for dynamic reference-DB resolution
	cfg.City = firstNonEmpty(os.Getenv("CITY"), os.Getenv("CITY_NAME"))

	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")
	cfg.ReportSubject = getenvDefault("NATS_REPORT_SUBJECT", "fleet.reports")
	cfg.PositionSubjectPfx = getenvDefault("NATS_POSITION_SUBJECT_PREFIX", "fleet.positions")

	// Optional GTFS-RT VehiclePositions feed
	cfg.GTFSRTVehiclesURL = os.Getenv("GTFSRT_VEHICLES_URL")
	pollSec, err := intEnv("GTFSRT_POLL_INTERVAL_SEC", 15)
	if err != nil {
		return nil, err
	}
	cfg.GTFSRTPollInterval = time.Duration(pollSec) * time.Second

	// Stale position age and sweep period are configured independently:
	// a record is dropped once its fix is older than STALE_TIMEOUT_MIN,
	// and the sweep looking for such records runs every EVICT_INTERVAL_SEC.
	staleMin, err := intEnv("STALE_TIMEOUT_MIN", 60)
	if err != nil {
		return nil, err
	}
	cfg.StaleTimeout = time.Duration(staleMin) * time.Minute

	evictSec, err := intEnv("EVICT_INTERVAL_SEC", 60)
	if err != nil {
		return nil, err
	}
	cfg.EvictInterval = time.Duration(evictSec) * time.Second

	horizonSec, err := intEnv("EXTRAPOLATION_HORIZON_SEC", 120)
	if err != nil {
		return nil, err
	}
	cfg.Horizon = time.Duration(horizonSec) * time.Second

	skewSec, err := intEnv("CLOCK_SKEW_TOLERANCE_SEC", 30)
	if err != nil {
		return nil, err
	}
	cfg.ClockSkew = time.Duration(skewSec) * time.Second

	// Minimum speed for distance-based ETAs
	if v := os.Getenv("MIN_SPEED_KPH"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return nil, fmt.Errorf("invalid MIN_SPEED_KPH: %q", v)
		}
		cfg.MinSpeedKph = f
	} else {
		cfg.MinSpeedKph = 3.0
	}

	limit, err := intEnv("NEXT_STOPS_LIMIT", 10)
	if err != nil {
		return nil, err
	}
	cfg.NextStopsLimit = limit

	// Debug logging for NATS publish subjects
	if v := os.Getenv("LOG_NATS_SUBJECTS"); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "t", "yes", "y", "on":
			cfg.LogNATSSubjects = true
		default:
			cfg.LogNATSSubjects = false
		}
	}

	// Query API listen address
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	// Time zone
	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	return cfg, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
