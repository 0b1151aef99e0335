package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	SessionURL string // ws(s) endpoint of the assurance session socket
	ControlURL string // http(s) base of the session control plane
	APIKey     string
	ClientID   string

	VendorAllowlist []string

	HTTPTimeout    time.Duration
	StatusInterval time.Duration

	ReconnectMaxRetries  int
	ReconnectMaxInterval time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	JournalTTL    time.Duration

	DatabaseURL string
}

// fileConfig is the optional YAML overlay. Environment variables win;
// the file only fills values the environment left empty.
type fileConfig struct {
	SessionURL           string   `yaml:"session_url"`
	ControlURL           string   `yaml:"control_url"`
	APIKey               string   `yaml:"api_key"`
	ClientID             string   `yaml:"client_id"`
	VendorAllowlist      []string `yaml:"vendor_allowlist"`
	HTTPTimeout          string   `yaml:"http_timeout"`
	StatusInterval       string   `yaml:"status_interval"`
	ReconnectMaxRetries  int      `yaml:"reconnect_max_retries"`
	ReconnectMaxInterval string   `yaml:"reconnect_max_interval"`
	RedisAddr            string   `yaml:"redis_addr"`
	RedisPassword        string   `yaml:"redis_password"`
	RedisDB              int      `yaml:"redis_db"`
	JournalTTL           string   `yaml:"journal_ttl"`
	DatabaseURL          string   `yaml:"database_url"`
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		HTTPTimeout:          10 * time.Second,
		StatusInterval:       30 * time.Second,
		ReconnectMaxRetries:  5,
		ReconnectMaxInterval: 30 * time.Second,
		JournalTTL:           24 * time.Hour,
	}

	if path := strings.TrimSpace(os.Getenv("ASSURE_CONFIG_FILE")); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if v := strings.TrimSpace(os.Getenv("ASSURE_SESSION_URL")); v != "" {
		cfg.SessionURL = v
	}
	if v := strings.TrimSpace(os.Getenv("ASSURE_CONTROL_URL")); v != "" {
		cfg.ControlURL = v
	}
	if v := strings.TrimSpace(os.Getenv("ASSURE_API_KEY")); v != "" {
		cfg.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("ASSURE_CLIENT_ID")); v != "" {
		cfg.ClientID = v
	}
	if v := strings.TrimSpace(os.Getenv("ASSURE_VENDOR_ALLOWLIST")); v != "" {
		cfg.VendorAllowlist = splitList(v)
	}
	if d, ok := envDuration("ASSURE_HTTP_TIMEOUT"); ok {
		cfg.HTTPTimeout = d
	}
	if d, ok := envDuration("ASSURE_STATUS_INTERVAL"); ok {
		cfg.StatusInterval = d
	}
	if v := strings.TrimSpace(os.Getenv("ASSURE_RECONNECT_MAX_RETRIES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.ReconnectMaxRetries = n
		}
	}
	if d, ok := envDuration("ASSURE_RECONNECT_MAX_INTERVAL"); ok {
		cfg.ReconnectMaxInterval = d
	}
	if v := strings.TrimSpace(os.Getenv("ASSURE_REDIS_ADDR")); v != "" {
		cfg.RedisAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("ASSURE_REDIS_PASSWORD")); v != "" {
		cfg.RedisPassword = v
	}
	if v := strings.TrimSpace(os.Getenv("ASSURE_REDIS_DB")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RedisDB = n
		}
	}
	if d, ok := envDuration("ASSURE_JOURNAL_TTL"); ok {
		cfg.JournalTTL = d
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}

	if cfg.ClientID == "" {
		cfg.ClientID = uuid.New().String()
	}
	if cfg.SessionURL == "" && cfg.ControlURL == "" {
		return nil, errors.New("ASSURE_SESSION_URL or ASSURE_CONTROL_URL is required")
	}

	return cfg, nil
}

func applyFile(cfg *AppConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.SessionURL != "" {
		cfg.SessionURL = strings.TrimSpace(fc.SessionURL)
	}
	if fc.ControlURL != "" {
		cfg.ControlURL = strings.TrimSpace(fc.ControlURL)
	}
	if fc.APIKey != "" {
		cfg.APIKey = strings.TrimSpace(fc.APIKey)
	}
	if fc.ClientID != "" {
		cfg.ClientID = strings.TrimSpace(fc.ClientID)
	}
	if len(fc.VendorAllowlist) > 0 {
		for _, v := range fc.VendorAllowlist {
			if s := strings.TrimSpace(v); s != "" {
				cfg.VendorAllowlist = append(cfg.VendorAllowlist, s)
			}
		}
	}
	if d, ok := parseDuration(fc.HTTPTimeout); ok {
		cfg.HTTPTimeout = d
	}
	if d, ok := parseDuration(fc.StatusInterval); ok {
		cfg.StatusInterval = d
	}
	if fc.ReconnectMaxRetries > 0 {
		cfg.ReconnectMaxRetries = fc.ReconnectMaxRetries
	}
	if d, ok := parseDuration(fc.ReconnectMaxInterval); ok {
		cfg.ReconnectMaxInterval = d
	}
	if fc.RedisAddr != "" {
		cfg.RedisAddr = strings.TrimSpace(fc.RedisAddr)
	}
	if fc.RedisPassword != "" {
		cfg.RedisPassword = fc.RedisPassword
	}
	if fc.RedisDB > 0 {
		cfg.RedisDB = fc.RedisDB
	}
	if d, ok := parseDuration(fc.JournalTTL); ok {
		cfg.JournalTTL = d
	}
	if fc.DatabaseURL != "" {
		cfg.DatabaseURL = strings.TrimSpace(fc.DatabaseURL)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func envDuration(key string) (time.Duration, bool) {
	return parseDuration(os.Getenv(key))
}

func parseDuration(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		return d, true
	}
	// Bare integers mean seconds.
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}
