package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"studiobook/internal/booking"
	"studiobook/internal/conflicts"
	"studiobook/internal/window"
)

// BackupConfig controls periodic copies of the SQLite database.
type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	StoragePath   string `yaml:"storage_path"`
	IntervalHours int    `yaml:"interval_hours"`
	RetentionDays int    `yaml:"retention_days"`
}

type Config struct {
	Telegram struct {
		BotToken          string  `yaml:"bot_token"`
		Debug             bool    `yaml:"debug"`
		AdminChatIDs      []int64 `yaml:"admin_chat_ids"`
		MessagesPerSecond float64 `yaml:"messages_per_second"`
	} `yaml:"telegram"`

	Database struct {
		Path   string       `yaml:"path"`
		Backup BackupConfig `yaml:"backup"`
	} `yaml:"database"`

	Redis struct {
		Address         string `yaml:"address"`
		Password        string `yaml:"password"`
		DB              int    `yaml:"db"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"redis"`

	API struct {
		Address         string `yaml:"address"`
		APIKey          string `yaml:"api_key"`
		WritesPerMinute int    `yaml:"writes_per_minute"`
	} `yaml:"api"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`

	Booking struct {
		Timezone               string        `yaml:"timezone"`
		WeekdayWindow          *window.Hours `yaml:"weekday_window"`
		WeekendWindow          *window.Hours `yaml:"weekend_window"`
		MinDurationMinutes     int           `yaml:"min_duration_minutes"`
		MaxDurationMinutes     int           `yaml:"max_duration_minutes"`
		MaxSeriesMonths        int           `yaml:"max_series_months"`
		ConflictTimeoutSeconds int           `yaml:"conflict_timeout_seconds"`
		SeriesMode             string        `yaml:"series_mode"`
	} `yaml:"booking"`

	Resilience struct {
		MaxRetries         uint64 `yaml:"max_retries"`
		TripAfter          uint32 `yaml:"trip_after"`
		OpenTimeoutSeconds int    `yaml:"open_timeout_seconds"`
	} `yaml:"resilience"`

	Studios struct {
		Path          string `yaml:"path"`
		ReloadSeconds int    `yaml:"reload_seconds"`
	} `yaml:"studios"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/studiobook.db"
	}
	if cfg.Studios.Path == "" {
		cfg.Studios.Path = "configs/studios.yaml"
	}
	if cfg.Database.Backup.StoragePath == "" {
		cfg.Database.Backup.StoragePath = filepath.Join(filepath.Dir(cfg.Database.Path), "backups")
	}
	if cfg.API.Address == "" {
		cfg.API.Address = ":8080"
	}

	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	if err := c.WindowPolicy().Validate(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch booking.SeriesMode(c.Booking.SeriesMode) {
	case "", booking.SeriesPartial, booking.SeriesAllOrNothing:
	default:
		return fmt.Errorf("booking.series_mode %q must be %q or %q", c.Booking.SeriesMode, booking.SeriesPartial, booking.SeriesAllOrNothing)
	}
	if c.Booking.MinDurationMinutes > 0 && c.Booking.MaxDurationMinutes > 0 &&
		c.Booking.MinDurationMinutes > c.Booking.MaxDurationMinutes {
		return fmt.Errorf("booking.min_duration_minutes exceeds max_duration_minutes")
	}
	return nil
}

// WindowPolicy returns configured booking windows, falling back to 16-22 on
// weekdays and 8-22 on weekends.
func (c *Config) WindowPolicy() window.Policy {
	p := window.DefaultPolicy()
	if c.Booking.WeekdayWindow != nil {
		p.Weekday = *c.Booking.WeekdayWindow
	}
	if c.Booking.WeekendWindow != nil {
		p.Weekend = *c.Booking.WeekendWindow
	}
	return p
}

func (c *Config) BookingRules() booking.Rules {
	r := booking.DefaultRules()
	if c.Booking.MinDurationMinutes > 0 {
		r.MinDuration = time.Duration(c.Booking.MinDurationMinutes) * time.Minute
	}
	if c.Booking.MaxDurationMinutes > 0 {
		r.MaxDuration = time.Duration(c.Booking.MaxDurationMinutes) * time.Minute
	}
	if c.Booking.MaxSeriesMonths > 0 {
		r.MaxSeriesMonths = c.Booking.MaxSeriesMonths
	}
	return r
}

func (c *Config) ConflictTimeout() time.Duration {
	if c.Booking.ConflictTimeoutSeconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.Booking.ConflictTimeoutSeconds) * time.Second
}

func (c *Config) SeriesMode() booking.SeriesMode {
	if c.Booking.SeriesMode == "" {
		return booking.SeriesPartial
	}
	return booking.SeriesMode(c.Booking.SeriesMode)
}

// Location is the studio's time zone; calendar days are interpreted in it.
func (c *Config) Location() (*time.Location, error) {
	if c.Booking.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Booking.Timezone)
	if err != nil {
		return nil, fmt.Errorf("booking.timezone: %w", err)
	}
	return loc, nil
}

func (c *Config) CacheTTL() time.Duration {
	if c.Redis.CacheTTLSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}

func (c *Config) ResilientConfig() conflicts.ResilientConfig {
	rc := conflicts.DefaultResilientConfig()
	if c.Resilience.MaxRetries > 0 {
		rc.MaxRetries = c.Resilience.MaxRetries
	}
	if c.Resilience.TripAfter > 0 {
		rc.TripAfter = c.Resilience.TripAfter
	}
	if c.Resilience.OpenTimeoutSeconds > 0 {
		rc.OpenTimeout = time.Duration(c.Resilience.OpenTimeoutSeconds) * time.Second
	}
	return rc
}

func (c *Config) StudiosReloadInterval() time.Duration {
	if c.Studios.ReloadSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Studios.ReloadSeconds) * time.Second
}

func (c *Config) TelegramRate() float64 {
	if c.Telegram.MessagesPerSecond <= 0 {
		return 1
	}
	return c.Telegram.MessagesPerSecond
}

func (c *Config) BackupInterval() time.Duration {
	if c.Database.Backup.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Database.Backup.IntervalHours) * time.Hour
}

// WriteLimit is the per-client budget for mutating API calls per minute.
func (c *Config) WriteLimit() int {
	if c.API.WritesPerMinute <= 0 {
		return 60
	}
	return c.API.WritesPerMinute
}
