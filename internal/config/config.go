package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment  string
	HTTPPort     string
	DatabasePath string
	LogDir       string
	Debug        bool

	RateLimit      int
	RateWindow     time.Duration
	BOLAThreshold  int
	BOLAWindow     time.Duration
	DetectorBudget time.Duration

	ScorerURL     string
	ScorerTimeout time.Duration
	HighAnomaly   float64
	MediumAnomaly float64
	SIEMURL       string

	NotifyURLs []string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RulesFile       string
	RefreshSchedule string

	JWTSecret   string
	UpstreamURL string
	WAFMode     string

	// TrustedProxies are the addresses or CIDRs whose forwarding headers
	// are believed when resolving the client address. Empty trusts none.
	TrustedProxies []string

	QueueSize int
	Workers   int
}

// Load reads env vars and falls back to defaults so the server can boot with zero configuration.
func Load() (Config, error) {
	cfg := Config{
		Environment:  getEnv("SHIELD_ENV", "development"),
		HTTPPort:     getEnv("SHIELD_HTTP_PORT", "8080"),
		DatabasePath: getEnv("SHIELD_DB_PATH", filepath.Join("data", "shield.db")),
		LogDir:       getEnv("SHIELD_LOG_DIR", filepath.Join("data", "logs")),

		ScorerURL:       getEnv("SHIELD_SCORER_URL", ""),
		SIEMURL:         getEnv("SHIELD_SIEM_URL", ""),
		NotifyURLs:      getEnvList("SHIELD_NOTIFY_URLS"),
		RedisAddr:       getEnv("SHIELD_REDIS_ADDR", ""),
		RedisPassword:   getEnv("SHIELD_REDIS_PASSWORD", ""),
		RulesFile:       getEnv("SHIELD_RULES_FILE", ""),
		RefreshSchedule: getEnv("SHIELD_RULE_REFRESH", "@every 30s"),
		JWTSecret:       getEnv("SHIELD_JWT_SECRET", ""),
		UpstreamURL:     getEnv("SHIELD_UPSTREAM_URL", ""),
		WAFMode:         getEnv("SHIELD_WAF_MODE", "block"),
		TrustedProxies:  getEnvList("SHIELD_TRUSTED_PROXIES"),
	}

	var err error
	if cfg.Debug, err = getEnvBool("SHIELD_DEBUG", false); err != nil {
		return Config{}, err
	}
	if cfg.RateLimit, err = getEnvInt("SHIELD_RATE_LIMIT", 100); err != nil {
		return Config{}, err
	}
	if cfg.RateWindow, err = getEnvDuration("SHIELD_RATE_WINDOW", 60*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.BOLAThreshold, err = getEnvInt("SHIELD_BOLA_THRESHOLD", 50); err != nil {
		return Config{}, err
	}
	if cfg.BOLAWindow, err = getEnvDuration("SHIELD_BOLA_WINDOW", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.DetectorBudget, err = getEnvDuration("SHIELD_DETECTOR_BUDGET", 50*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.ScorerTimeout, err = getEnvDuration("SHIELD_SCORER_TIMEOUT", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.HighAnomaly, err = getEnvFloat("SHIELD_ANOMALY_HIGH", 70); err != nil {
		return Config{}, err
	}
	if cfg.MediumAnomaly, err = getEnvFloat("SHIELD_ANOMALY_MEDIUM", 40); err != nil {
		return Config{}, err
	}
	if cfg.RedisDB, err = getEnvInt("SHIELD_REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.QueueSize, err = getEnvInt("SHIELD_QUEUE_SIZE", 1024); err != nil {
		return Config{}, err
	}
	if cfg.Workers, err = getEnvInt("SHIELD_WORKERS", 4); err != nil {
		return Config{}, err
	}

	if cfg.WAFMode != "block" && cfg.WAFMode != "monitor" {
		return Config{}, fmt.Errorf("SHIELD_WAF_MODE must be block or monitor, got %q", cfg.WAFMode)
	}
	if cfg.MediumAnomaly > cfg.HighAnomaly {
		return Config{}, fmt.Errorf("SHIELD_ANOMALY_MEDIUM (%v) exceeds SHIELD_ANOMALY_HIGH (%v)", cfg.MediumAnomaly, cfg.HighAnomaly)
	}

	for _, p := range cfg.TrustedProxies {
		if _, _, err := net.ParseCIDR(p); err != nil && net.ParseIP(p) == nil {
			return Config{}, fmt.Errorf("SHIELD_TRUSTED_PROXIES: %q is not an IP or CIDR", p)
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		return Config{}, fmt.Errorf("ensure data directory: %w", err)
	}

	return cfg, nil
}

// Production reports whether the service runs with production defaults.
func (c Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
