// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Parser   ParserConfig   `mapstructure:"parser"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Index    IndexConfig    `mapstructure:"index"`
	Tasks    TasksConfig    `mapstructure:"tasks"`
	Dedup    DedupConfig    `mapstructure:"dedup"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	RequestTimeout int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API key toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig describes the notice board being crawled.
type CrawlerConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	ListPath      string `mapstructure:"list_path"`
	CategorySeq   string `mapstructure:"category_seq"`
	Keyword       string `mapstructure:"keyword"`
	MaxPages      int    `mapstructure:"max_pages"`
	MaxNotices    int    `mapstructure:"max_notices"`
	UserAgent     string `mapstructure:"user_agent"`
	RespectRobots bool   `mapstructure:"respect_robots"`
	TimeZone      string `mapstructure:"time_zone"`
}

// HTTPConfig configures fetch timeouts, retries and politeness.
type HTTPConfig struct {
	ListingTimeoutSeconds    int     `mapstructure:"listing_timeout_seconds"`
	AttachmentTimeoutSeconds int     `mapstructure:"attachment_timeout_seconds"`
	MaxRetries               int     `mapstructure:"max_retries"`
	BackoffInitialMs         int     `mapstructure:"backoff_initial_ms"`
	BackoffMultiplier        float64 `mapstructure:"backoff_multiplier"`
	MaxBodyBytes             int     `mapstructure:"max_body_bytes"`
	RateLimitRPS             float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst           int     `mapstructure:"rate_limit_burst"`
}

// ParserConfig configures the external document-parse service.
type ParserConfig struct {
	URL                   string `mapstructure:"url"`
	APIKey                string `mapstructure:"api_key"`
	Model                 string `mapstructure:"model"`
	ConnectTimeoutSeconds int    `mapstructure:"connect_timeout_seconds"`
	ReadTimeoutSeconds    int    `mapstructure:"read_timeout_seconds"`
}

// LLMConfig selects the completion and embedding provider.
type LLMConfig struct {
	Provider             string `mapstructure:"provider"`
	BaseURL              string `mapstructure:"base_url"`
	APIKey               string `mapstructure:"api_key"`
	ChatModel            string `mapstructure:"chat_model"`
	PassageModel         string `mapstructure:"passage_model"`
	QueryModel           string `mapstructure:"query_model"`
	TimeoutSeconds       int    `mapstructure:"timeout_seconds"`
	EmbedTimeoutSeconds  int    `mapstructure:"embed_timeout_seconds"`
	ExtractionInputRunes int    `mapstructure:"extraction_input_runes"`
	ComposeAnswer        bool   `mapstructure:"compose_answer"`
}

// IndexConfig controls chunking and the persisted vector index.
type IndexConfig struct {
	Dir          string `mapstructure:"dir"`
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
	TopK         int    `mapstructure:"top_k"`
	EmbedBatch   int    `mapstructure:"embed_batch"`
}

// TasksConfig controls the background index task queue.
type TasksConfig struct {
	QueueDepth         int `mapstructure:"queue_depth"`
	MaxAttempts        int `mapstructure:"max_attempts"`
	RetryBackoffMs     int `mapstructure:"retry_backoff_ms"`
	TaskTimeoutMinutes int `mapstructure:"task_timeout_minutes"`
}

// DedupConfig locates the known-hash snapshot in blob storage.
type DedupConfig struct {
	Key string `mapstructure:"key"`
}

// DatabaseConfig controls the eligibility record store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// StorageConfig selects the blob backend used for attachments and state.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for record notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// AlertsConfig lists keyword alert rules matched against attachment text.
type AlertsConfig struct {
	Rules []AlertRule `mapstructure:"rules"`
}

// AlertRule is one named keyword rule.
type AlertRule struct {
	Name     string   `mapstructure:"name"`
	Keywords []string `mapstructure:"keywords"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCHOLAR")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 600)
	v.SetDefault("crawler.base_url", "https://cse.pusan.ac.kr")
	v.SetDefault("crawler.list_path", "/bbs/cse/2605/artclList.do")
	v.SetDefault("crawler.category_seq", "4229")
	v.SetDefault("crawler.keyword", "장학")
	v.SetDefault("crawler.max_pages", 1)
	v.SetDefault("crawler.max_notices", 0)
	v.SetDefault("crawler.user_agent", "scholarship-crawler/0.1")
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.time_zone", "Asia/Seoul")
	v.SetDefault("http.listing_timeout_seconds", 15)
	v.SetDefault("http.attachment_timeout_seconds", 30)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 1500)
	v.SetDefault("http.backoff_multiplier", 1.5)
	v.SetDefault("http.max_body_bytes", 50<<20)
	v.SetDefault("http.rate_limit_rps", 2.0)
	v.SetDefault("http.rate_limit_burst", 1)
	v.SetDefault("parser.url", "https://api.upstage.ai/v1/document-digitization")
	v.SetDefault("parser.model", "document-parse")
	v.SetDefault("parser.connect_timeout_seconds", 10)
	v.SetDefault("parser.read_timeout_seconds", 180)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.upstage.ai/v1")
	v.SetDefault("llm.chat_model", "solar-pro")
	v.SetDefault("llm.passage_model", "solar-embedding-1-large-passage")
	v.SetDefault("llm.query_model", "solar-embedding-1-large-query")
	v.SetDefault("llm.timeout_seconds", 120)
	v.SetDefault("llm.embed_timeout_seconds", 60)
	v.SetDefault("llm.extraction_input_runes", 6000)
	v.SetDefault("llm.compose_answer", false)
	v.SetDefault("index.dir", "data/index")
	v.SetDefault("index.chunk_size", 1500)
	v.SetDefault("index.chunk_overlap", 200)
	v.SetDefault("index.top_k", 5)
	v.SetDefault("index.embed_batch", 16)
	v.SetDefault("tasks.queue_depth", 16)
	v.SetDefault("tasks.max_attempts", 3)
	v.SetDefault("tasks.retry_backoff_ms", 2000)
	v.SetDefault("tasks.task_timeout_minutes", 30)
	v.SetDefault("dedup.key", "state/known_hashes.json")
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.table", "documents")
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.base_dir", "data/blobs")
	v.SetDefault("storage.prefix", "attachments")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.BaseURL == "" {
		return fmt.Errorf("crawler.base_url is required")
	}
	if c.Crawler.MaxPages <= 0 {
		return fmt.Errorf("crawler.max_pages must be > 0")
	}
	if c.HTTP.ListingTimeoutSeconds <= 0 || c.HTTP.AttachmentTimeoutSeconds <= 0 {
		return fmt.Errorf("http.listing_timeout_seconds and http.attachment_timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.Index.ChunkSize <= 0 {
		return fmt.Errorf("index.chunk_size must be > 0")
	}
	if c.Index.ChunkOverlap < 0 || c.Index.ChunkOverlap >= c.Index.ChunkSize {
		return fmt.Errorf("index.chunk_overlap must be in [0, chunk_size)")
	}
	if c.Tasks.MaxAttempts <= 0 {
		return fmt.Errorf("tasks.max_attempts must be > 0")
	}
	switch c.LLM.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("llm.provider must be one of openai, ollama")
	}
	switch c.Database.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be one of memory, sqlite, postgres")
	}
	if c.Database.Driver != "memory" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for driver %s", c.Database.Driver)
	}
	if c.Storage.Backend == "gcs" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required for the gcs backend")
	}
	for _, rule := range c.Alerts.Rules {
		if rule.Name == "" || len(rule.Keywords) == 0 {
			return fmt.Errorf("alerts.rules entries need a name and at least one keyword")
		}
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// ListingTimeout returns the listing and detail page fetch budget.
func (c Config) ListingTimeout() time.Duration {
	return time.Duration(c.HTTP.ListingTimeoutSeconds) * time.Second
}

// AttachmentTimeout returns the attachment download budget.
func (c Config) AttachmentTimeout() time.Duration {
	return time.Duration(c.HTTP.AttachmentTimeoutSeconds) * time.Second
}

// Location resolves the configured time zone used for application windows.
func (c Config) Location() *time.Location {
	if c.Crawler.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Crawler.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
