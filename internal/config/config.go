package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Schedule source
	SchedulePath        string `validate:"required"`
	ScheduleURL         string `validate:"omitempty,url"`
	ScheduleDatabaseURL string
	City                string
	ScheduleLocation    *time.Location `validate:"required"`
	DisplayLocation     *time.Location `validate:"required"`

	NATSURL             string `validate:"required,url"`
	NATSStreamName      string `validate:"required"`
	NATSSnapshotSubject string
	LogNATSSubjects     bool
	StreamBatchLimit    int `validate:"min=1,max=10000"`

	PollInterval time.Duration `validate:"gt=0"`
	FaultBackoff time.Duration `validate:"gt=0"`

	HTTPAddr    string        `validate:"required,hostname_port"`
	MetricsAddr string        `validate:"omitempty,hostname_port"`
	StaleAfter  time.Duration `validate:"gt=0"`

	// Ingest side
	FeedURL        string        `validate:"omitempty,url"`
	FeedSubject    string        `validate:"required"`
	IngestInterval time.Duration `validate:"gt=0"`
	StreamMaxAge   time.Duration `validate:"gt=0"`
}

// env resolves settings from the process environment first and the optional
// CONFIG_FILE second.
type env struct {
	file map[string]string
}

func (e env) get(k string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return e.file[k]
}

func (e env) getDefault(k, def string) string {
	if v := e.get(k); v != "" {
		return v
	}
	return def
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	e := env{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		m, err := readFile(path)
		if err != nil {
			return nil, err
		}
		e.file = m
	}
	return load(e)
}

// readFile reads a flat YAML mapping keyed by environment variable name.
func readFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CONFIG_FILE: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse CONFIG_FILE %s: %w", path, err)
	}
	m := make(map[string]string, len(raw))
	for k, v := range raw {
		if v != nil {
			m[k] = fmt.Sprint(v)
		}
	}
	return m, nil
}

func load(e env) (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.SchedulePath = e.getDefault("SCHEDULE_PATH", "./data/gtfs")
	cfg.ScheduleURL = e.get("SCHEDULE_URL")
	cfg.City = firstNonEmpty(e.get("CITY"), e.get("CITY_NAME"))
	cfg.ScheduleDatabaseURL = firstNonEmpty(e.get("SCHEDULE_DATABASE_URL"), e.get("DATABASE_URL"))
	if cfg.ScheduleDatabaseURL == "" && cfg.City != "" {
		// CITY alone selects the Postgres source; build the cluster DSN from PG* vars
		cfg.ScheduleDatabaseURL = pgDSN(e)
	}

	if cfg.ScheduleLocation, err = ParseZone(e.getDefault("SCHEDULE_TZ", "-07:00")); err != nil {
		return nil, fmt.Errorf("invalid SCHEDULE_TZ: %v", err)
	}
	if cfg.DisplayLocation, err = ParseZone(e.getDefault("DISPLAY_TZ", "UTC")); err != nil {
		return nil, fmt.Errorf("invalid DISPLAY_TZ: %v", err)
	}

	cfg.NATSURL = e.getDefault("NATS_URL", "nats://127.0.0.1:4222")
	cfg.NATSStreamName = e.getDefault("NATS_STREAM_NAME", "VEHICLE_POSITIONS")
	cfg.NATSSnapshotSubject = e.get("NATS_SNAPSHOT_SUBJECT")
	cfg.LogNATSSubjects = parseBool(e.get("LOG_NATS_SUBJECTS"))

	if cfg.StreamBatchLimit, err = positiveInt(e, "STREAM_BATCH_LIMIT", 100); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = duration(e, "POLL_INTERVAL_MS", time.Millisecond, time.Second); err != nil {
		return nil, err
	}
	if cfg.FaultBackoff, err = duration(e, "FAULT_BACKOFF_MS", time.Millisecond, 5*time.Second); err != nil {
		return nil, err
	}

	cfg.HTTPAddr = e.getDefault("HTTP_ADDR", ":5000")
	// Empty serves /metrics on HTTP_ADDR.
	cfg.MetricsAddr = e.get("METRICS_ADDR")
	if cfg.StaleAfter, err = duration(e, "STALE_AFTER_SEC", time.Second, time.Minute); err != nil {
		return nil, err
	}

	cfg.FeedURL = e.get("FEED_URL")
	cfg.FeedSubject = e.getDefault("FEED_SUBJECT", "feeds.vehicle_positions")
	if cfg.IngestInterval, err = duration(e, "INGEST_INTERVAL_MS", time.Millisecond, 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.StreamMaxAge, err = duration(e, "STREAM_MAX_AGE_MIN", time.Minute, time.Hour); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// ParseZone accepts a fixed offset such as "-07:00" or an IANA zone name.
func ParseZone(s string) (*time.Location, error) {
	s = strings.TrimSpace(s)
	if len(s) == 6 && (s[0] == '+' || s[0] == '-') && s[3] == ':' {
		h, err1 := strconv.Atoi(s[1:3])
		m, err2 := strconv.Atoi(s[4:6])
		if err1 != nil || err2 != nil || h > 14 || m > 59 {
			return nil, fmt.Errorf("bad offset %q", s)
		}
		off := h*3600 + m*60
		if s[0] == '-' {
			off = -off
		}
		return time.FixedZone("UTC"+s, off), nil
	}
	return time.LoadLocation(s)
}

func pgDSN(e env) string {
	host := e.getDefault("PGHOST", "127.0.0.1")
	port := e.getDefault("PGPORT", "5432")
	user := e.getDefault("PGUSER", "postgres")
	pass := e.get("PGPASSWORD")
	db := e.getDefault("PGDATABASE", "postgres")
	sslmode := e.getDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
}

func positiveInt(e env, k string, def int) (int, error) {
	v := e.get(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return n, nil
}

func duration(e env, k string, unit, def time.Duration) (time.Duration, error) {
	n, err := positiveInt(e, k, 0)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return def, nil
	}
	return time.Duration(n) * unit, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
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
