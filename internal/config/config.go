package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config 应用配置
type Config struct {
	Port      string `toml:"port"`
	DBPath    string `toml:"db_path"`
	JWTSecret string `toml:"jwt_secret"`
	AuthOn    bool   `toml:"auth_enabled"`
	LogLevel  string `toml:"log_level"`

	Trip  TripConfig  `toml:"trip"`
	Track TrackConfig `toml:"track"`

	RateLimitPerMinute int `toml:"rate_limit_per_minute"`
}

// TripConfig holds the aggregation thresholds
type TripConfig struct {
	// Statistics only update for fixes whose accuracy radius is below this (meters)
	AccuracyThreshold float64 `toml:"accuracy_threshold"`
	// Multiplier from the device speed unit to the reported unit (m/s -> mph)
	SpeedConversion float64 `toml:"speed_conversion"`
	// Converted speeds at or above this never enter the running maximum
	MaxPlausibleSpeed float64 `toml:"max_plausible_speed"`
	// Zero writes the summary on every accepted fix
	SummaryFlushInterval time.Duration `toml:"summary_flush_interval"`
	// Rebuild accumulators from stored points when a trip is resumed
	RecomputeOnResume bool `toml:"recompute_on_resume"`
}

// TrackConfig holds the track cache settings
type TrackConfig struct {
	CacheTTL time.Duration `toml:"cache_ttl"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Port:      ":8080",
		DBPath:    "./data/trips/trips.db",
		JWTSecret: "your-secret-key-change-in-production",
		LogLevel:  "info",
		Trip: TripConfig{
			AccuracyThreshold: 75,
			SpeedConversion:   2.2369,
			MaxPlausibleSpeed: 60,
		},
		Track: TrackConfig{
			CacheTTL: 10 * time.Minute,
		},
		RateLimitPerMinute: 600,
	}
}

// Load 加载配置
// Order: defaults, then CONFIG_FILE (TOML), then environment (including .env).
func Load() (*Config, error) {
	// A missing .env is fine, the process environment is used as is
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile decodes a TOML file over cfg
func LoadFile(path string, cfg *Config) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	var err error
	if c.AuthOn, err = envBool("AUTH_ENABLED", c.AuthOn); err != nil {
		return err
	}
	if c.Trip.AccuracyThreshold, err = envFloat("TRIP_ACCURACY_THRESHOLD", c.Trip.AccuracyThreshold); err != nil {
		return err
	}
	if c.Trip.SpeedConversion, err = envFloat("TRIP_SPEED_CONVERSION", c.Trip.SpeedConversion); err != nil {
		return err
	}
	if c.Trip.MaxPlausibleSpeed, err = envFloat("TRIP_MAX_PLAUSIBLE_SPEED", c.Trip.MaxPlausibleSpeed); err != nil {
		return err
	}
	if c.Trip.SummaryFlushInterval, err = envDuration("TRIP_SUMMARY_FLUSH_INTERVAL", c.Trip.SummaryFlushInterval); err != nil {
		return err
	}
	if c.Trip.RecomputeOnResume, err = envBool("TRIP_RECOMPUTE_ON_RESUME", c.Trip.RecomputeOnResume); err != nil {
		return err
	}
	if c.Track.CacheTTL, err = envDuration("TRACK_CACHE_TTL", c.Track.CacheTTL); err != nil {
		return err
	}
	if v := os.Getenv("RATE_LIMIT_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE: %w", err)
		}
		c.RateLimitPerMinute = n
	}
	return nil
}

// Validate checks the values that the aggregator depends on
func (c *Config) Validate() error {
	var errs []error
	if c.Trip.AccuracyThreshold <= 0 {
		errs = append(errs, errors.New("trip.accuracy_threshold must be positive"))
	}
	if c.Trip.SpeedConversion <= 0 {
		errs = append(errs, errors.New("trip.speed_conversion must be positive"))
	}
	if c.Trip.MaxPlausibleSpeed <= 0 {
		errs = append(errs, errors.New("trip.max_plausible_speed must be positive"))
	}
	if c.Trip.SummaryFlushInterval < 0 {
		errs = append(errs, errors.New("trip.summary_flush_interval must not be negative"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.AuthOn && c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret is required when auth is enabled"))
	}
	if c.RateLimitPerMinute < 0 {
		errs = append(errs, errors.New("rate_limit_per_minute must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
