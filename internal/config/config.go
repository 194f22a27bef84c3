package config

import (
	"time"

	yamlenv "github.com/ifuryst/go-yaml-env"
	"github.com/samber/oops"

	"github.com/ifuryst/postpilot/pkg/logger"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logger    logger.Config   `yaml:"logger"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Content   ContentConfig   `yaml:"content"`
	Publisher PublisherConfig `yaml:"publisher"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Auth      AuthConfig      `yaml:"auth"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
	// Path is the database file when Type is sqlite.
	Path string `yaml:"path"`
}

type TelegramConfig struct {
	BotToken      string        `yaml:"bot_token"`
	APIURL        string        `yaml:"api_url"`
	SendTimeout   time.Duration `yaml:"send_timeout"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	DryRun        bool          `yaml:"dry_run"`
}

type ContentConfig struct {
	TextFile     string `yaml:"text_file"`
	ImageFile    string `yaml:"image_file"`
	FallbackText string `yaml:"fallback_text"`
	Watch        bool   `yaml:"watch"`
	DateFormat   string `yaml:"date_format"`
	TimeFormat   string `yaml:"time_format"`
	Timezone     string `yaml:"timezone"`
}

type PublisherConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	MinDelay    time.Duration `yaml:"min_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type SchedulerConfig struct {
	// Enabled starts the posting schedule on boot. Defaults to true.
	Enabled              *bool         `yaml:"enabled"`
	Timezone             string        `yaml:"timezone"`
	HistoryRetentionDays int           `yaml:"history_retention_days"`
	CleanupInterval      time.Duration `yaml:"cleanup_interval"`
}

func (c SchedulerConfig) AutoStart() bool {
	return c.Enabled == nil || *c.Enabled
}

type AuthConfig struct {
	Enabled    bool          `yaml:"enabled"`
	TOTPSecret string        `yaml:"totp_secret"`
	APIToken   string        `yaml:"api_token"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, oops.Code("configuration").Wrapf(err, "failed to load config %s", configPath)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) SetDefaults() {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5334
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "sqlite"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/postpilot.db"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Telegram.SendTimeout == 0 {
		cfg.Telegram.SendTimeout = 30 * time.Second
	}
	if cfg.Telegram.RatePerSecond == 0 {
		cfg.Telegram.RatePerSecond = 1
	}
	if cfg.Content.TextFile == "" {
		cfg.Content.TextFile = "data/post.txt"
	}
	if cfg.Content.ImageFile == "" {
		cfg.Content.ImageFile = "data/image.jpg"
	}
	if cfg.Publisher.MaxAttempts == 0 {
		cfg.Publisher.MaxAttempts = 3
	}
	if cfg.Publisher.RetryDelay == 0 {
		cfg.Publisher.RetryDelay = 5 * time.Second
	}
	if cfg.Publisher.MinDelay == 0 {
		cfg.Publisher.MinDelay = 30 * time.Second
	}
	if cfg.Publisher.MaxDelay == 0 {
		cfg.Publisher.MaxDelay = 120 * time.Second
	}
	if cfg.Scheduler.Timezone == "" {
		cfg.Scheduler.Timezone = "Local"
	}
	if cfg.Scheduler.CleanupInterval == 0 {
		cfg.Scheduler.CleanupInterval = 24 * time.Hour
	}
	if cfg.Auth.SessionTTL == 0 {
		cfg.Auth.SessionTTL = 12 * time.Hour
	}
}

// Validate rejects settings the services cannot run with.
func (cfg *Config) Validate() error {
	invalid := oops.Code("configuration").In("config")

	switch cfg.Database.Type {
	case "postgres", "sqlite":
	default:
		return invalid.Errorf("unsupported database type %q", cfg.Database.Type)
	}
	if cfg.Telegram.BotToken == "" && !cfg.Telegram.DryRun {
		return invalid.Errorf("telegram.bot_token is required unless telegram.dry_run is set")
	}
	if cfg.Telegram.SendTimeout < 0 || cfg.Telegram.RatePerSecond < 0 {
		return invalid.Errorf("telegram.send_timeout and telegram.rate_per_second must not be negative")
	}
	if cfg.Publisher.MaxAttempts < 1 {
		return invalid.Errorf("publisher.max_attempts must be at least 1, got %d", cfg.Publisher.MaxAttempts)
	}
	if cfg.Publisher.RetryDelay < 0 || cfg.Publisher.MinDelay < 0 {
		return invalid.Errorf("publisher delays must not be negative")
	}
	if cfg.Publisher.MinDelay > cfg.Publisher.MaxDelay {
		return invalid.Errorf("publisher.min_delay (%s) exceeds publisher.max_delay (%s)",
			cfg.Publisher.MinDelay, cfg.Publisher.MaxDelay)
	}
	if _, err := LoadLocation(cfg.Scheduler.Timezone); err != nil {
		return invalid.Wrapf(err, "invalid scheduler.timezone")
	}
	if _, err := LoadLocation(cfg.Content.Timezone); err != nil {
		return invalid.Wrapf(err, "invalid content.timezone")
	}
	if cfg.Scheduler.HistoryRetentionDays < 0 {
		return invalid.Errorf("scheduler.history_retention_days must not be negative")
	}
	if cfg.Auth.Enabled && cfg.Auth.TOTPSecret == "" && cfg.Auth.APIToken == "" {
		return invalid.Errorf("auth is enabled but neither auth.totp_secret nor auth.api_token is set")
	}
	return nil
}

// LoadLocation resolves a timezone name; "" and "Local" mean the host zone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}
