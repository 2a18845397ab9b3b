// Package config loads and validates archiver configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/board-archiver/internal/archive"
)

// Storage backends.
const (
	StorageLocal  = "local"
	StorageMemory = "memory"
	StorageGCS    = "gcs"
)

// Publish backends.
const (
	PublishNone   = "none"
	PublishMemory = "memory"
	PublishPubSub = "pubsub"
	PublishNATS   = "nats"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Poll     PollConfig     `mapstructure:"poll"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	Publish  PublishConfig  `mapstructure:"publish"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ArchiveConfig selects boards and governs each board loop.
type ArchiveConfig struct {
	Boards         []string      `mapstructure:"boards"`
	Concurrency    int           `mapstructure:"concurrency"`
	DiscoveryPages int           `mapstructure:"discovery_pages"`
	MinCycle       time.Duration `mapstructure:"min_cycle"`
}

// UpstreamConfig describes the board API and how politely to call it.
type UpstreamConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	UserAgent         string        `mapstructure:"user_agent"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	MaxBodySize       int           `mapstructure:"max_body_size"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// PollConfig holds the per-thread backoff policy.
type PollConfig struct {
	BaseInterval time.Duration `mapstructure:"base_interval"`
	GrowthFactor float64       `mapstructure:"growth_factor"`
	// MaxInterval of zero leaves growth unbounded.
	MaxInterval time.Duration `mapstructure:"max_interval"`
}

// StorageConfig sets where archived documents are written.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	BaseDir     string `mapstructure:"base_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	Compression string `mapstructure:"compression"`
}

// DBConfig controls the optional relational archive.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// PublishConfig holds closure notification settings.
type PublishConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
	NATSURL   string `mapstructure:"nats_url"`
	Subject   string `mapstructure:"subject"`
}

// ServerConfig controls the status HTTP server. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
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
	v.SetDefault("archive.boards", []string{"b"})
	v.SetDefault("archive.concurrency", 4)
	v.SetDefault("archive.discovery_pages", 1)
	v.SetDefault("archive.min_cycle", "1s")
	v.SetDefault("upstream.base_url", "https://a.4cdn.org")
	v.SetDefault("upstream.user_agent", "board-archiver/0.1")
	v.SetDefault("upstream.connect_timeout", "5s")
	v.SetDefault("upstream.read_timeout", "30s")
	v.SetDefault("upstream.max_body_size", 0)
	v.SetDefault("upstream.requests_per_second", 0)
	v.SetDefault("upstream.burst", 1)
	v.SetDefault("poll.base_interval", archive.DefaultBaseInterval.String())
	v.SetDefault("poll.growth_factor", archive.DefaultGrowthFactor)
	v.SetDefault("poll.max_interval", "0s")
	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.base_dir", "data/archive")
	v.SetDefault("storage.compression", "none")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.migrate", true)
	v.SetDefault("publish.backend", PublishNone)
	v.SetDefault("publish.topic_name", "threads-archived")
	v.SetDefault("publish.subject", "archive.threads")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if len(c.Archive.Boards) == 0 {
		errs = append(errs, errors.New("archive.boards must list at least one board"))
	}
	for _, b := range c.Archive.Boards {
		if strings.TrimSpace(b) == "" {
			errs = append(errs, errors.New("archive.boards must not contain empty names"))
			break
		}
	}
	if c.Archive.Concurrency <= 0 {
		errs = append(errs, errors.New("archive.concurrency must be > 0"))
	}
	if c.Archive.DiscoveryPages <= 0 {
		errs = append(errs, errors.New("archive.discovery_pages must be > 0"))
	}
	if c.Archive.MinCycle < 0 {
		errs = append(errs, errors.New("archive.min_cycle must be >= 0"))
	}
	if strings.TrimSpace(c.Upstream.BaseURL) == "" {
		errs = append(errs, errors.New("upstream.base_url is required"))
	}
	if c.Upstream.ConnectTimeout <= 0 || c.Upstream.ReadTimeout <= 0 {
		errs = append(errs, errors.New("upstream timeouts must be > 0"))
	} else if c.Upstream.ReadTimeout < c.Upstream.ConnectTimeout {
		errs = append(errs, errors.New("upstream.read_timeout must be >= upstream.connect_timeout"))
	}
	if c.Upstream.MaxBodySize < 0 {
		errs = append(errs, errors.New("upstream.max_body_size must be >= 0"))
	}
	if c.Upstream.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("upstream.requests_per_second must be >= 0"))
	}
	if c.Poll.BaseInterval <= 0 {
		errs = append(errs, errors.New("poll.base_interval must be > 0"))
	}
	if c.Poll.GrowthFactor < 1 {
		errs = append(errs, errors.New("poll.growth_factor must be >= 1"))
	}
	if c.Poll.MaxInterval < 0 {
		errs = append(errs, errors.New("poll.max_interval must be >= 0"))
	} else if c.Poll.MaxInterval > 0 && c.Poll.MaxInterval < c.Poll.BaseInterval {
		errs = append(errs, errors.New("poll.max_interval must be >= poll.base_interval when set"))
	}
	switch c.Storage.Backend {
	case StorageLocal, StorageMemory:
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			errs = append(errs, errors.New("storage.gcs_bucket is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}
	switch c.Storage.Compression {
	case "", "none", "zstd":
	default:
		errs = append(errs, fmt.Errorf("unknown storage.compression %q", c.Storage.Compression))
	}
	if c.DB.DSN != "" && c.DB.MaxConns < 0 {
		errs = append(errs, errors.New("db.max_conns must be >= 0"))
	}
	switch c.Publish.Backend {
	case "", PublishNone, PublishMemory:
	case PublishPubSub:
		if c.Publish.ProjectID == "" || c.Publish.TopicName == "" {
			errs = append(errs, errors.New("publish.project_id and publish.topic_name are required for pubsub"))
		}
	case PublishNATS:
		if c.Publish.NATSURL == "" {
			errs = append(errs, errors.New("publish.nats_url is required for nats"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown publish.backend %q", c.Publish.Backend))
	}
	if c.Server.Port < 0 {
		errs = append(errs, errors.New("server.port must be >= 0"))
	}
	return errors.Join(errs...)
}

// Backoff converts the poll section into the thread backoff policy.
func (c Config) Backoff() archive.BackoffPolicy {
	return archive.BackoffPolicy{
		Base:   c.Poll.BaseInterval,
		Factor: c.Poll.GrowthFactor,
		Max:    c.Poll.MaxInterval,
	}
}

// Topic returns the publish destination name for the selected backend.
func (c Config) Topic() string {
	if c.Publish.Backend == PublishNATS {
		return c.Publish.Subject
	}
	return c.Publish.TopicName
}
