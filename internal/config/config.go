// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/job-crawler/internal/parser"
)

// EnvPrefix prefixes every environment override, e.g. JOBCRAWLER_CRAWLER_WORKERS=5.
const EnvPrefix = "JOBCRAWLER"

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Config captures all crawler configuration knobs loaded via Viper.
type Config struct {
	Site    SiteConfig    `mapstructure:"site"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Sinks   SinksConfig   `mapstructure:"sinks"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// SiteConfig selects the parser and the listing to crawl.
type SiteConfig struct {
	Name      string `mapstructure:"name"`
	BaseURL   string `mapstructure:"base_url"`
	PageParam string `mapstructure:"page_param"`
}

// CrawlerConfig governs cycle sizing and scheduling.
type CrawlerConfig struct {
	PagesToScan   int           `mapstructure:"pages_to_scan"`
	SleepInterval time.Duration `mapstructure:"sleep_interval"`
	Workers       int           `mapstructure:"workers"`
	MaxRuntime    time.Duration `mapstructure:"max_runtime"`
}

// HTTPConfig configures transport, rate limiting, and retries.
type HTTPConfig struct {
	Transport          string            `mapstructure:"transport"`
	Timeout            time.Duration     `mapstructure:"timeout"`
	MaxRetries         int               `mapstructure:"max_retries"`
	BackoffBase        time.Duration     `mapstructure:"backoff_base"`
	BackoffMax         time.Duration     `mapstructure:"backoff_max"`
	UserAgent          string            `mapstructure:"user_agent"`
	Proxy              string            `mapstructure:"proxy"`
	Headers            map[string]string `mapstructure:"headers"`
	MinInterval        time.Duration     `mapstructure:"min_interval"`
	RateLimitStrategy  string            `mapstructure:"rate_limit_strategy"`
	BusyPenalty        time.Duration     `mapstructure:"busy_penalty"`
	RespectRobots      bool              `mapstructure:"respect_robots"`
	HeadlessNavTimeout time.Duration     `mapstructure:"headless_nav_timeout"`
	HeadlessParallel   int               `mapstructure:"headless_max_parallel"`
}

// LedgerConfig selects the dedup ledger backing store.
type LedgerConfig struct {
	Backend       string               `mapstructure:"backend"`
	Path          string               `mapstructure:"path"`
	FlushEachItem bool                 `mapstructure:"flush_each_item"`
	Postgres      LedgerPostgresConfig `mapstructure:"postgres"`
	Redis         RedisConfig          `mapstructure:"redis"`
}

// LedgerPostgresConfig points at the ledger table.
type LedgerPostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// RedisConfig points at a Redis set.
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	Key  string `mapstructure:"key"`
}

// SinksConfig enables storage sinks. Every enabled sink receives every new record.
type SinksConfig struct {
	File     FileSinkConfig     `mapstructure:"file"`
	Postgres PostgresSinkConfig `mapstructure:"postgres"`
	GCS      GCSSinkConfig      `mapstructure:"gcs"`
	PubSub   PubSubSinkConfig   `mapstructure:"pubsub"`
	Kafka    KafkaSinkConfig    `mapstructure:"kafka"`
}

// PostgresSinkConfig points at the postings table.
type PostgresSinkConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// FileSinkConfig controls the JSON lines and CSV outputs.
type FileSinkConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	JSONPath string `mapstructure:"json_path"`
	CSVPath  string `mapstructure:"csv_path"`
}

// GCSSinkConfig names the bucket records are uploaded to.
type GCSSinkConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubSinkConfig names the topic new records are announced on.
type PubSubSinkConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// KafkaSinkConfig names the brokers and topic new records are written to.
type KafkaSinkConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// RuntimeConfig selects the run mode.
type RuntimeConfig struct {
	Daemon bool `mapstructure:"daemon"`
	Once   bool `mapstructure:"once"`
	Full   bool `mapstructure:"full"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from a .env file, the environment, and an optional
// config file, then validates it.
func Load(path string) (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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

// loadDotEnv reads ./.env when present. Variables already set win.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site.name", "topcv")
	v.SetDefault("site.base_url", "https://www.topcv.vn/viec-lam-it")
	v.SetDefault("site.page_param", "page")
	v.SetDefault("crawler.pages_to_scan", 5)
	v.SetDefault("crawler.sleep_interval", "1h")
	v.SetDefault("crawler.workers", 3)
	v.SetDefault("crawler.max_runtime", "0s")
	v.SetDefault("http.transport", "colly")
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_base", "1s")
	v.SetDefault("http.backoff_max", "30s")
	v.SetDefault("http.user_agent", defaultUserAgent)
	v.SetDefault("http.proxy", "")
	v.SetDefault("http.headers", map[string]string{})
	v.SetDefault("http.min_interval", "1.5s")
	v.SetDefault("http.rate_limit_strategy", "spacing")
	v.SetDefault("http.busy_penalty", "3s")
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.headless_nav_timeout", "45s")
	v.SetDefault("http.headless_max_parallel", 2)
	v.SetDefault("ledger.backend", "file")
	v.SetDefault("ledger.path", "data/seen_ids.json")
	v.SetDefault("ledger.flush_each_item", false)
	v.SetDefault("ledger.postgres.dsn", "")
	v.SetDefault("ledger.postgres.table", "seen_items")
	v.SetDefault("ledger.redis.addr", "localhost:6379")
	v.SetDefault("ledger.redis.key", "jobcrawler:seen")
	v.SetDefault("sinks.file.enabled", true)
	v.SetDefault("sinks.file.json_path", "data/jobs.jsonl")
	v.SetDefault("sinks.file.csv_path", "data/jobs.csv")
	v.SetDefault("sinks.postgres.enabled", false)
	v.SetDefault("sinks.postgres.dsn", "")
	v.SetDefault("sinks.postgres.table", "job_postings")
	v.SetDefault("sinks.gcs.enabled", false)
	v.SetDefault("sinks.gcs.bucket", "")
	v.SetDefault("sinks.gcs.prefix", "jobs")
	v.SetDefault("sinks.pubsub.enabled", false)
	v.SetDefault("sinks.pubsub.project_id", "")
	v.SetDefault("sinks.pubsub.topic", "")
	v.SetDefault("sinks.kafka.enabled", false)
	v.SetDefault("sinks.kafka.brokers", []string{})
	v.SetDefault("sinks.kafka.topic", "")
	v.SetDefault("runtime.daemon", true)
	v.SetDefault("runtime.once", false)
	v.SetDefault("runtime.full", false)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 9090)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if !parser.Supported(c.Site.Name) {
		errs = append(errs, fmt.Errorf("site.name %q is not supported (known: %s)",
			c.Site.Name, strings.Join(parser.Sites(), ", ")))
	}
	if c.Site.BaseURL == "" {
		errs = append(errs, errors.New("site.base_url is required"))
	} else if u, err := url.Parse(c.Site.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("site.base_url %q must be an absolute url", c.Site.BaseURL))
	}
	if c.Crawler.PagesToScan < 1 {
		errs = append(errs, errors.New("crawler.pages_to_scan must be >= 1"))
	}
	if c.Crawler.Workers < 1 {
		errs = append(errs, errors.New("crawler.workers must be >= 1"))
	}
	if c.Crawler.SleepInterval < 0 {
		errs = append(errs, errors.New("crawler.sleep_interval must not be negative"))
	}
	if c.Crawler.MaxRuntime < 0 {
		errs = append(errs, errors.New("crawler.max_runtime must not be negative"))
	}
	errs = append(errs, c.HTTP.validate()...)
	errs = append(errs, c.Ledger.validate()...)
	errs = append(errs, c.Sinks.validate()...)
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, errors.New("server.port must be between 1 and 65535"))
	}
	return errors.Join(errs...)
}

func (h HTTPConfig) validate() []error {
	var errs []error
	if h.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be > 0"))
	}
	if h.MaxRetries < 0 {
		errs = append(errs, errors.New("http.max_retries must not be negative"))
	}
	if h.MinInterval < 0 || h.BusyPenalty < 0 || h.BackoffBase < 0 || h.BackoffMax < 0 {
		errs = append(errs, errors.New("http intervals must not be negative"))
	}
	switch h.Transport {
	case "colly":
	case "headless":
		if h.HeadlessParallel < 1 {
			errs = append(errs, errors.New("http.headless_max_parallel must be >= 1"))
		}
	default:
		errs = append(errs, fmt.Errorf("http.transport %q must be colly or headless", h.Transport))
	}
	switch h.RateLimitStrategy {
	case "spacing", "token_bucket":
	default:
		errs = append(errs, fmt.Errorf("http.rate_limit_strategy %q must be spacing or token_bucket", h.RateLimitStrategy))
	}
	if h.Proxy != "" {
		if u, err := url.Parse(h.Proxy); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("http.proxy %q must be a url", h.Proxy))
		}
	}
	return errs
}

func (l LedgerConfig) validate() []error {
	switch l.Backend {
	case "file":
		if l.Path == "" {
			return []error{errors.New("ledger.path is required for the file backend")}
		}
	case "postgres":
		if l.Postgres.DSN == "" {
			return []error{errors.New("ledger.postgres.dsn is required for the postgres backend")}
		}
	case "redis":
		if l.Redis.Addr == "" {
			return []error{errors.New("ledger.redis.addr is required for the redis backend")}
		}
	default:
		return []error{fmt.Errorf("ledger.backend %q must be file, postgres or redis", l.Backend)}
	}
	return nil
}

func (s SinksConfig) validate() []error {
	var errs []error
	enabled := 0
	if s.File.Enabled {
		enabled++
		if s.File.JSONPath == "" && s.File.CSVPath == "" {
			errs = append(errs, errors.New("sinks.file needs json_path or csv_path"))
		}
	}
	if s.Postgres.Enabled {
		enabled++
		if s.Postgres.DSN == "" {
			errs = append(errs, errors.New("sinks.postgres.dsn is required"))
		}
	}
	if s.GCS.Enabled {
		enabled++
		if s.GCS.Bucket == "" {
			errs = append(errs, errors.New("sinks.gcs.bucket is required"))
		}
	}
	if s.PubSub.Enabled {
		enabled++
		if s.PubSub.ProjectID == "" || s.PubSub.Topic == "" {
			errs = append(errs, errors.New("sinks.pubsub.project_id and topic are required"))
		}
	}
	if s.Kafka.Enabled {
		enabled++
		if len(s.Kafka.Brokers) == 0 || s.Kafka.Topic == "" {
			errs = append(errs, errors.New("sinks.kafka.brokers and topic are required"))
		}
	}
	if enabled == 0 {
		errs = append(errs, errors.New("at least one sink must be enabled"))
	}
	return errs
}

// OnceMode reports whether a single cycle should run. A non-daemon
// configuration behaves like --once.
func (c Config) OnceMode() bool {
	return c.Runtime.Once || !c.Runtime.Daemon
}

// RequestHeaders returns browser-like defaults, a Referer at the site's
// origin, and the configured http.headers on top.
func (c Config) RequestHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", "vi-VN,vi;q=0.9,en-US;q=0.8,en;q=0.7")
	if u, err := url.Parse(c.Site.BaseURL); err == nil && u.Scheme != "" && u.Host != "" {
		h.Set("Referer", u.Scheme+"://"+u.Host+"/")
	}
	for k, v := range c.HTTP.Headers {
		h.Set(k, v)
	}
	return h
}
