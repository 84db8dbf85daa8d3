// Package config loads and validates catalog configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/missilery-catalog/internal/catalog"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Raw       RawConfig       `mapstructure:"raw"`
	DB        DBConfig        `mapstructure:"db"`
	Import    ImportConfig    `mapstructure:"import"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// CrawlerConfig governs the crawl stage.
type CrawlerConfig struct {
	StartURL         string   `mapstructure:"start_url"`
	ResumeURL        string   `mapstructure:"resume_url"`
	AllowedDomains   []string `mapstructure:"allowed_domains"`
	UserAgent        string   `mapstructure:"user_agent"`
	MaxItems         int      `mapstructure:"max_items"`
	MaxPages         int      `mapstructure:"max_pages"`
	DelaySeconds     float64  `mapstructure:"delay_seconds"`
	Concurrency      int      `mapstructure:"concurrency"`
	TimeoutSeconds   int      `mapstructure:"timeout_seconds"`
	MaxRetries       int      `mapstructure:"max_retries"`
	BackoffInitialMs int      `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int      `mapstructure:"backoff_max_ms"`
	RetryHTTPCodes   []int    `mapstructure:"retry_http_codes"`
	MaxPageBytes     int      `mapstructure:"max_page_bytes"`
	RespectRobots    bool     `mapstructure:"respect_robots"`
}

// ArtifactsConfig locates the crawl artifact set.
type ArtifactsConfig struct {
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// RawConfig locates the raw capture log.
type RawConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

// DBConfig controls access to the relational catalog store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// ImportConfig tunes the import stage.
type ImportConfig struct {
	Mode    string `mapstructure:"mode"`
	Workers int    `mapstructure:"workers"`
}

// PubSubConfig holds metadata for run-summary notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig toggles the health and metrics listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features and the optional file sink.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	FilePath    string `mapstructure:"file_path"`
}

// FlagKeys maps command-line flag names to the config keys they override.
var FlagKeys = map[string]string{
	"start-url":    "crawler.start_url",
	"resume":       "crawler.resume_url",
	"max-items":    "crawler.max_items",
	"max-pages":    "crawler.max_pages",
	"delay":        "crawler.delay_seconds",
	"concurrency":  "crawler.concurrency",
	"out":          "artifacts.dir",
	"artifacts":    "artifacts.dir",
	"raw-db":       "raw.sqlite_path",
	"db":           "db.dsn",
	"mode":         "import.mode",
	"workers":      "import.workers",
	"topic":        "pubsub.topic_name",
	"metrics-addr": "metrics.addr",
	"log-level":    "logging.level",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadWithFlags(path, nil)
}

// LoadWithFlags is Load with explicitly set flags taking precedence over
// the file and the environment. Only flags named in FlagKeys are bound.
func LoadWithFlags(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for name, key := range FlagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

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
	v.SetDefault("crawler.start_url", "https://missilery.info/search")
	v.SetDefault("crawler.allowed_domains", []string{"missilery.info"})
	v.SetDefault("crawler.user_agent", "Mozilla/5.0 (compatible; missilery-catalog/0.1)")
	v.SetDefault("crawler.max_items", 0)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.delay_seconds", 1.0)
	v.SetDefault("crawler.concurrency", 1)
	v.SetDefault("crawler.timeout_seconds", 30)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.backoff_initial_ms", 250)
	v.SetDefault("crawler.backoff_max_ms", 5000)
	v.SetDefault("crawler.retry_http_codes", []int{500, 502, 503, 504, 522, 524, 408, 429})
	v.SetDefault("crawler.max_page_bytes", 5<<20)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("artifacts.dir", "data")
	v.SetDefault("raw.sqlite_path", "data/raw_pages.db")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("import.mode", "create")
	v.SetDefault("import.workers", 1)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if _, err := url.ParseRequestURI(c.Crawler.StartURL); err != nil {
		return fmt.Errorf("crawler.start_url must be an absolute url: %w", err)
	}
	if c.Crawler.ResumeURL != "" {
		if _, err := url.ParseRequestURI(c.Crawler.ResumeURL); err != nil {
			return fmt.Errorf("crawler.resume_url must be an absolute url: %w", err)
		}
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.MaxItems < 0 || c.Crawler.MaxPages < 0 {
		return fmt.Errorf("crawler.max_items and crawler.max_pages must be >= 0")
	}
	if c.Crawler.DelaySeconds < 0 {
		return fmt.Errorf("crawler.delay_seconds must be >= 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Crawler.MaxRetries < 0 {
		return fmt.Errorf("crawler.max_retries must be >= 0")
	}
	if c.Artifacts.Dir == "" && c.Artifacts.GCSBucket == "" {
		return fmt.Errorf("artifacts.dir or artifacts.gcs_bucket must be set")
	}
	if _, err := catalog.ParseMode(c.Import.Mode); err != nil {
		return fmt.Errorf("import.mode: %w", err)
	}
	if c.Import.Workers <= 0 {
		return fmt.Errorf("import.workers must be > 0")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// Delay returns the per-host politeness interval.
func (c CrawlerConfig) Delay() time.Duration {
	return time.Duration(c.DelaySeconds * float64(time.Second))
}

// Timeout returns the per-request timeout.
func (c CrawlerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BackoffInitial returns the first retry delay.
func (c CrawlerConfig) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitialMs) * time.Millisecond
}

// BackoffMax caps the retry delay.
func (c CrawlerConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}
