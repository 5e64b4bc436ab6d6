// Package config loads daemon settings from INI files with environment
// variable overrides. config/setting.ini selects the active environment
// and holds shared defaults; config/<env>/subsplit.ini holds per-env
// values. SUBSPLIT_* variables win over both.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/subsplit.ini"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// Config describes runtime options for the daemon.
type Config struct {
	Environment string
	ListenAddr  string

	// Storage. A DSN starting with postgres:// or postgresql:// selects
	// the Postgres backend; anything else is treated as a SQLite path.
	DatabaseDSN string

	// Optional Redis backend for rate limiting. Empty address means the
	// in-memory store is used.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Rate limits (requests per second / burst).
	UserRatePerSec    float64
	UserBurst         float64
	SessionRatePerSec float64
	SessionBurst      float64

	// Backward-compatible base log file; used if specific files unset
	LogFile string
	// Separate log files for CLI and daemon (preferred)
	LogFileCLI    string
	LogFileDaemon string
	LogLevel      string

	// Pricing rules file (YAML). Empty means built-in defaults.
	PricingConfigPath string

	// Background maintenance cadence: card expiry, pool session expiry,
	// auto-refill and bulk price recalculation.
	SweepInterval time.Duration

	// Lifetime of a newly opened platform access session.
	SessionDuration time.Duration

	MeteringEnabled bool
	MetricsEnabled  bool
}

// Load reads the current environment and loads the appropriate config file.
func Load(root string) (Config, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return Config{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return Config{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := Config{
		Environment:       s.Environment,
		ListenAddr:        firstNonEmpty(os.Getenv("SUBSPLIT_LISTEN_ADDR"), merged["listen_addr"], ":8090"),
		DatabaseDSN:       firstNonEmpty(os.Getenv("SUBSPLIT_DATABASE_DSN"), merged["database_dsn"], DefaultDatabasePath()),
		RedisAddr:         firstNonEmpty(os.Getenv("SUBSPLIT_REDIS_ADDR"), merged["redis_addr"]),
		RedisPassword:     firstNonEmpty(os.Getenv("SUBSPLIT_REDIS_PASSWORD"), merged["redis_password"]),
		RedisDB:           parseOptionalInt(firstNonEmpty(os.Getenv("SUBSPLIT_REDIS_DB"), merged["redis_db"]), 0),
		LogFile:           firstNonEmpty(os.Getenv("SUBSPLIT_LOG_FILE"), merged["log_file"]),
		LogLevel:          firstNonEmpty(merged["log_level"], "info"),
		PricingConfigPath: firstNonEmpty(os.Getenv("SUBSPLIT_PRICING_CONFIG"), merged["pricing_config"]),
		MeteringEnabled:   parseOptionalBool(firstNonEmpty(os.Getenv("SUBSPLIT_METERING_ENABLED"), merged["metering_enabled"]), true),
		MetricsEnabled:    parseOptionalBool(firstNonEmpty(os.Getenv("SUBSPLIT_METRICS_ENABLED"), merged["metrics_enabled"]), true),
	}

	// Preferred separate log files with env override precedence
	cfg.LogFileCLI = firstNonEmpty(os.Getenv("SUBSPLIT_LOG_FILE_CLI"), os.Getenv("SUBSPLIT_LOG_FILE"), merged["log_file_cli"], merged["log_file"])
	cfg.LogFileDaemon = firstNonEmpty(os.Getenv("SUBSPLIT_LOG_FILE_DAEMON"), os.Getenv("SUBSPLIT_LOG_FILE"), merged["log_file_daemon"], merged["log_file"])

	cfg.UserRatePerSec = parseOptionalFloat(firstNonEmpty(os.Getenv("SUBSPLIT_USER_RATE"), merged["user_rate_per_sec"]), 20)
	cfg.UserBurst = parseOptionalFloat(firstNonEmpty(os.Getenv("SUBSPLIT_USER_BURST"), merged["user_burst"]), 40)
	cfg.SessionRatePerSec = parseOptionalFloat(firstNonEmpty(os.Getenv("SUBSPLIT_SESSION_RATE"), merged["session_rate_per_sec"]), 5)
	cfg.SessionBurst = parseOptionalFloat(firstNonEmpty(os.Getenv("SUBSPLIT_SESSION_BURST"), merged["session_burst"]), 10)

	cfg.SweepInterval, err = parseOptionalDuration(firstNonEmpty(os.Getenv("SUBSPLIT_SWEEP_INTERVAL"), merged["sweep_interval"]), time.Minute)
	if err != nil {
		return Config{}, fmt.Errorf("invalid sweep_interval: %w", err)
	}
	cfg.SessionDuration, err = parseOptionalDuration(firstNonEmpty(os.Getenv("SUBSPLIT_SESSION_DURATION"), merged["session_duration"]), time.Hour)
	if err != nil {
		return Config{}, fmt.Errorf("invalid session_duration: %w", err)
	}

	return cfg, nil
}

// UsePostgres reports whether the configured DSN selects the Postgres backend.
func (c Config) UsePostgres() bool {
	return strings.HasPrefix(c.DatabaseDSN, "postgres://") || strings.HasPrefix(c.DatabaseDSN, "postgresql://")
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := firstNonEmpty(os.Getenv("SUBSPLIT_ENV"), values["environment"], defaultEnv)
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func parseOptionalFloat(v string, fallback float64) float64 {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
		return parsed
	}
	return fallback
}

func parseOptionalDuration(v string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	return time.ParseDuration(strings.TrimSpace(v))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// DefaultDatabasePath returns the fallback SQLite location under the user's
// home directory.
func DefaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "subsplit.db"
	}
	return filepath.Join(home, ".subsplit", "subsplit.db")
}
