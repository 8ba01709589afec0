// Package config loads and validates monitor configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Health    HealthConfig    `mapstructure:"health"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Shutdown  ShutdownConfig  `mapstructure:"shutdown"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	OCR       OCRConfig       `mapstructure:"ocr"`
	Media     MediaConfig     `mapstructure:"media"`
	Render    RenderConfig    `mapstructure:"render"`
	Process   ProcessConfig   `mapstructure:"process"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Publisher PublisherConfig `mapstructure:"publisher"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// HealthConfig controls the liveness endpoint.
type HealthConfig struct {
	Port    int    `mapstructure:"port"`
	Service string `mapstructure:"service"`
}

// MetricsConfig controls the Prometheus listener. Port 0 disables it.
type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

// ScheduleConfig governs the supervisor loop.
type ScheduleConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	JoinTimeout       time.Duration `mapstructure:"join_timeout"`
	MainCheckInterval time.Duration `mapstructure:"main_check_interval"`
	Timezone          string        `mapstructure:"timezone"`
}

// ShutdownConfig selects signal handling.
type ShutdownConfig struct {
	Mode string `mapstructure:"mode"`
}

// RemoteConfig describes the registry endpoints and form layout.
type RemoteConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	TokenPath         string        `mapstructure:"token_path"`
	CaptchaPath       string        `mapstructure:"captcha_path"`
	SearchPath        string        `mapstructure:"search_path"`
	DateFormat        string        `mapstructure:"date_format"`
	UserAgent         string        `mapstructure:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	Fields            FormFields    `mapstructure:"fields"`
}

// FormFields names the search form parameters.
type FormFields struct {
	Token   string `mapstructure:"token"`
	Captcha string `mapstructure:"captcha"`
	Date    string `mapstructure:"date"`
}

// FetchConfig tunes the CAPTCHA attempt loop.
type FetchConfig struct {
	MaxAttempts      int           `mapstructure:"max_attempts"`
	MinCaptchaLength int           `mapstructure:"min_captcha_length"`
	RejectionDelay   time.Duration `mapstructure:"rejection_delay"`
}

// OCRConfig configures the tesseract invocation.
type OCRConfig struct {
	Binary    string        `mapstructure:"binary"`
	PSM       int           `mapstructure:"psm"`
	Whitelist string        `mapstructure:"whitelist"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// MediaConfig configures athlete photo downloads.
type MediaConfig struct {
	PhotoURLTemplate string `mapstructure:"photo_url_template"`
	Dir              string `mapstructure:"dir"`
}

// RenderConfig configures card rendering in headless Chrome.
type RenderConfig struct {
	Dir      string        `mapstructure:"dir"`
	Width    int           `mapstructure:"width"`
	Height   int           `mapstructure:"height"`
	Timeout  time.Duration `mapstructure:"timeout"`
	ExecPath string        `mapstructure:"exec_path"`
}

// ProcessConfig tunes per-record processing.
type ProcessConfig struct {
	RecordPause time.Duration `mapstructure:"record_pause"`
}

// LedgerConfig selects and configures the dedup ledger backend.
type LedgerConfig struct {
	Provider string               `mapstructure:"provider"`
	File     FileLedgerConfig     `mapstructure:"file"`
	GCS      GCSLedgerConfig      `mapstructure:"gcs"`
	Postgres PostgresLedgerConfig `mapstructure:"postgres"`
	Redis    RedisLedgerConfig    `mapstructure:"redis"`
}

// FileLedgerConfig configures the JSON file backend.
type FileLedgerConfig struct {
	Path string `mapstructure:"path"`
}

// GCSLedgerConfig configures the Cloud Storage backend.
type GCSLedgerConfig struct {
	Bucket string `mapstructure:"bucket"`
	Object string `mapstructure:"object"`
}

// PostgresLedgerConfig configures the Postgres backend.
type PostgresLedgerConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// RedisLedgerConfig configures the Redis backend.
type RedisLedgerConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// PublisherConfig selects where rendered cards are handed off. memory keeps
// messages in process, local also archives cards under Dir.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Dir       string `mapstructure:"dir"`
}

// Load builds a Config from disk/environment. With an empty path it looks
// for config.yaml in the working directory, /etc/bid-monitor and
// $HOME/.bid-monitor, and runs on defaults when none exists.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BIDMONITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/bid-monitor/")
		v.AddConfigPath("$HOME/.bid-monitor")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("health.port", 8080)
	v.SetDefault("health.service", "bid-monitor")
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("schedule.interval", "10m")
	v.SetDefault("schedule.poll_interval", "30s")
	v.SetDefault("schedule.join_timeout", "5s")
	v.SetDefault("schedule.main_check_interval", "1m")
	v.SetDefault("schedule.timezone", "America/Sao_Paulo")
	v.SetDefault("shutdown.mode", "immediate")
	v.SetDefault("remote.base_url", "https://bid.cbf.com.br")
	v.SetDefault("remote.token_path", "/")
	v.SetDefault("remote.captcha_path", "/get-captcha-base64")
	v.SetDefault("remote.search_path", "/busca-json")
	v.SetDefault("remote.date_format", "02/01/2006")
	v.SetDefault("remote.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	v.SetDefault("remote.timeout", "30s")
	v.SetDefault("remote.requests_per_second", 2.0)
	v.SetDefault("remote.burst", 1)
	v.SetDefault("remote.fields.token", "_token")
	v.SetDefault("remote.fields.captcha", "captcha")
	v.SetDefault("remote.fields.date", "data")
	v.SetDefault("fetch.max_attempts", 50)
	v.SetDefault("fetch.min_captcha_length", 3)
	v.SetDefault("fetch.rejection_delay", "1s")
	v.SetDefault("ocr.binary", "tesseract")
	v.SetDefault("ocr.psm", 7)
	v.SetDefault("ocr.whitelist", "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789")
	v.SetDefault("ocr.timeout", "15s")
	v.SetDefault("media.photo_url_template", "https://bid.cbf.com.br/foto-atleta/{code}")
	v.SetDefault("media.dir", "fotos_atletas")
	v.SetDefault("render.dir", "cards")
	v.SetDefault("render.width", 1080)
	v.SetDefault("render.height", 1080)
	v.SetDefault("render.timeout", "30s")
	v.SetDefault("process.record_pause", "1s")
	v.SetDefault("ledger.provider", "file")
	v.SetDefault("ledger.file.path", "atletas_postados.json")
	v.SetDefault("ledger.gcs.object", "bid-monitor/atletas_postados.json")
	v.SetDefault("ledger.postgres.table", "bid_ledger")
	v.SetDefault("ledger.redis.key", "bidmonitor:ledger")
	v.SetDefault("publisher.provider", "memory")
	v.SetDefault("publisher.prefix", "cards")
	v.SetDefault("publisher.dir", "posted")

	// Keys without a useful default still need registering so that
	// AutomaticEnv exposes them to Unmarshal.
	for _, key := range []string{
		"render.exec_path",
		"ledger.gcs.bucket",
		"ledger.postgres.dsn",
		"ledger.redis.addr",
		"ledger.redis.password",
		"publisher.project_id",
		"publisher.topic_id",
		"publisher.bucket",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("ledger.postgres.max_conns", 0)
	v.SetDefault("ledger.postgres.max_conn_lifetime", "0s")
	v.SetDefault("ledger.redis.db", 0)
}

// Validate enforces required values and reasonable limits.
//
//nolint:gocognit // one check per key reads better than a table here
func (c Config) Validate() error {
	if c.Health.Port <= 0 {
		return fmt.Errorf("health.port must be > 0")
	}
	if c.Metrics.Port < 0 {
		return fmt.Errorf("metrics.port must be >= 0")
	}
	if c.Metrics.Port != 0 && c.Metrics.Port == c.Health.Port {
		return fmt.Errorf("metrics.port must differ from health.port")
	}
	if c.Schedule.Interval <= 0 {
		return fmt.Errorf("schedule.interval must be > 0")
	}
	if c.Schedule.PollInterval <= 0 {
		return fmt.Errorf("schedule.poll_interval must be > 0")
	}
	if c.Schedule.MainCheckInterval <= 0 {
		return fmt.Errorf("schedule.main_check_interval must be > 0")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch c.Shutdown.Mode {
	case "immediate", "graceful":
	default:
		return fmt.Errorf("shutdown.mode must be immediate or graceful, got %q", c.Shutdown.Mode)
	}
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if c.Remote.DateFormat == "" {
		return fmt.Errorf("remote.date_format is required")
	}
	if c.Remote.RequestsPerSecond < 0 {
		return fmt.Errorf("remote.requests_per_second must be >= 0")
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be > 0")
	}
	if c.Fetch.RejectionDelay < 0 {
		return fmt.Errorf("fetch.rejection_delay must be >= 0")
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		return fmt.Errorf("render.width and render.height must be > 0")
	}
	if err := c.validateLedger(); err != nil {
		return err
	}
	switch c.Publisher.Provider {
	case "memory":
	case "local":
		if c.Publisher.Dir == "" {
			return fmt.Errorf("publisher.dir is required for local")
		}
	case "pubsub":
		if c.Publisher.ProjectID == "" || c.Publisher.TopicID == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic_id are required for pubsub")
		}
		if c.Publisher.Bucket == "" {
			return fmt.Errorf("publisher.bucket is required for pubsub")
		}
	default:
		return fmt.Errorf("publisher.provider must be memory, local or pubsub, got %q", c.Publisher.Provider)
	}
	return nil
}

func (c Config) validateLedger() error {
	switch c.Ledger.Provider {
	case "file":
		if c.Ledger.File.Path == "" {
			return fmt.Errorf("ledger.file.path is required")
		}
	case "gcs":
		if c.Ledger.GCS.Bucket == "" {
			return fmt.Errorf("ledger.gcs.bucket is required")
		}
	case "postgres":
		if c.Ledger.Postgres.DSN == "" {
			return fmt.Errorf("ledger.postgres.dsn is required")
		}
	case "redis":
		if c.Ledger.Redis.Addr == "" {
			return fmt.Errorf("ledger.redis.addr is required")
		}
	default:
		return fmt.Errorf("ledger.provider must be file, gcs, postgres or redis, got %q", c.Ledger.Provider)
	}
	return nil
}

// Location resolves schedule.timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone: %w", err)
	}
	return loc, nil
}
