package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Sources  SourcesConfig  `yaml:"sources"`
	Quota    QuotaConfig    `yaml:"quota"`
	Search   SearchConfig   `yaml:"search"`
	Batch    BatchConfig    `yaml:"batch"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	HTTP     HTTPConfig     `yaml:"http"`
	LogLevel string         `yaml:"log_level"`
}

type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	QueueName  string `yaml:"queue_name"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// Enabled reports whether a database host was configured.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

type SourcesConfig struct {
	UserAgent   string           `yaml:"user_agent"`
	Classifieds HTMLSourceConfig `yaml:"classifieds"`
	Auction     HTMLSourceConfig `yaml:"auction"`
	Forum       ForumConfig      `yaml:"forum"`
	PaidSearch  PaidSearchConfig `yaml:"paid_search"`
}

type HTMLSourceConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type ForumConfig struct {
	Enabled      bool          `yaml:"enabled"`
	AuthURL      string        `yaml:"auth_url"`
	APIURL       string        `yaml:"api_url"`
	LinkBaseURL  string        `yaml:"link_base_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	Timeout      time.Duration `yaml:"timeout"`
	QueryDelay   time.Duration `yaml:"query_delay"`
}

// HasCredentials reports whether all four forum secrets are present.
func (f ForumConfig) HasCredentials() bool {
	return f.ClientID != "" && f.ClientSecret != "" && f.Username != "" && f.Password != ""
}

type PaidSearchConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	SearchEngineID string        `yaml:"search_engine_id"`
	Timeout        time.Duration `yaml:"timeout"`
	StrategyDelay  time.Duration `yaml:"strategy_delay"`
}

func (p PaidSearchConfig) HasCredentials() bool {
	return p.APIKey != "" && p.SearchEngineID != ""
}

type QuotaConfig struct {
	DailyLimit int    `yaml:"daily_limit"`
	TimeZone   string `yaml:"time_zone"`
}

type SearchConfig struct {
	AdapterTimeout time.Duration `yaml:"adapter_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	CacheSize      int           `yaml:"cache_size"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
}

type BatchConfig struct {
	Interval          time.Duration `yaml:"interval"`
	RunTimeout        time.Duration `yaml:"run_timeout"`
	MinSearchInterval time.Duration `yaml:"min_search_interval"`
	BookDelay         time.Duration `yaml:"book_delay"`
	UserDelay         time.Duration `yaml:"user_delay"`
	RetentionDays     int           `yaml:"retention_days"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(data)
}

// Parse expands environment references in data and decodes it.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "book_finder"
	}
	if c.RabbitMQ.RoutingKey == "" {
		c.RabbitMQ.RoutingKey = "listings"
	}
	if c.RabbitMQ.QueueName == "" {
		c.RabbitMQ.QueueName = "listing_notifications"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}

	s := &c.Sources
	if s.UserAgent == "" {
		s.UserAgent = defaultUserAgent
	}
	if s.Classifieds.BaseURL == "" {
		s.Classifieds.BaseURL = "https://craigslist.org"
	}
	if s.Classifieds.Timeout == 0 {
		s.Classifieds.Timeout = 15 * time.Second
	}
	if s.Auction.BaseURL == "" {
		s.Auction.BaseURL = "https://www.ebay.com"
	}
	if s.Auction.Timeout == 0 {
		s.Auction.Timeout = 15 * time.Second
	}
	if s.Forum.AuthURL == "" {
		s.Forum.AuthURL = "https://www.reddit.com/api/v1/access_token"
	}
	if s.Forum.APIURL == "" {
		s.Forum.APIURL = "https://oauth.reddit.com"
	}
	if s.Forum.LinkBaseURL == "" {
		s.Forum.LinkBaseURL = "https://reddit.com"
	}
	if s.Forum.Timeout == 0 {
		s.Forum.Timeout = 10 * time.Second
	}
	if s.Forum.QueryDelay == 0 {
		s.Forum.QueryDelay = 500 * time.Millisecond
	}
	if s.PaidSearch.BaseURL == "" {
		s.PaidSearch.BaseURL = "https://customsearch.googleapis.com/customsearch/v1"
	}
	if s.PaidSearch.Timeout == 0 {
		s.PaidSearch.Timeout = 10 * time.Second
	}
	if s.PaidSearch.StrategyDelay == 0 {
		s.PaidSearch.StrategyDelay = 100 * time.Millisecond
	}

	if c.Quota.DailyLimit == 0 {
		c.Quota.DailyLimit = 90
	}
	if c.Quota.TimeZone == "" {
		c.Quota.TimeZone = "America/New_York"
	}

	if c.Search.AdapterTimeout == 0 {
		c.Search.AdapterTimeout = 15 * time.Second
	}
	if c.Search.RequestTimeout == 0 {
		c.Search.RequestTimeout = 60 * time.Second
	}
	if c.Search.CacheTTL == 0 {
		c.Search.CacheTTL = 10 * time.Minute
	}

	if c.Batch.Interval == 0 {
		c.Batch.Interval = 24 * time.Hour
	}
	if c.Batch.RunTimeout == 0 {
		c.Batch.RunTimeout = 9 * time.Minute
	}
	if c.Batch.MinSearchInterval == 0 {
		c.Batch.MinSearchInterval = 6 * time.Hour
	}
	if c.Batch.BookDelay == 0 {
		c.Batch.BookDelay = 2 * time.Second
	}
	if c.Batch.UserDelay == 0 {
		c.Batch.UserDelay = 1 * time.Second
	}
	if c.Batch.RetentionDays == 0 {
		c.Batch.RetentionDays = 30
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	var errs []error

	for name, raw := range map[string]string{
		"sources.classifieds.base_url": c.Sources.Classifieds.BaseURL,
		"sources.auction.base_url":     c.Sources.Auction.BaseURL,
		"sources.forum.api_url":        c.Sources.Forum.APIURL,
		"sources.paid_search.base_url": c.Sources.PaidSearch.BaseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL", name))
		}
	}

	if c.Quota.DailyLimit < 0 {
		errs = append(errs, errors.New("quota.daily_limit cannot be negative"))
	}
	if _, err := time.LoadLocation(c.Quota.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("quota.time_zone: %w", err))
	}
	if c.Search.AdapterTimeout < 0 || c.Search.RequestTimeout < 0 {
		errs = append(errs, errors.New("search timeouts cannot be negative"))
	}
	if c.Search.CacheSize < 0 {
		errs = append(errs, errors.New("search.cache_size cannot be negative"))
	}
	if c.Batch.RetentionDays < 0 {
		errs = append(errs, errors.New("batch.retention_days cannot be negative"))
	}
	if c.Sources.Forum.Enabled && !c.Sources.Forum.HasCredentials() {
		errs = append(errs, errors.New("sources.forum is enabled but credentials are missing"))
	}
	if c.Sources.PaidSearch.Enabled && !c.Sources.PaidSearch.HasCredentials() {
		errs = append(errs, errors.New("sources.paid_search is enabled but credentials are missing"))
	}

	return errors.Join(errs...)
}
