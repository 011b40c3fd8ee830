package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/amazon-product-fetcher/internal/amazon-scraper/scraper"
	"github.com/maltedev/amazon-product-fetcher/internal/browser"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Scraper  ScraperConfig  `yaml:"scraper"`
	Browser  BrowserConfig  `yaml:"browser"`
	Cache    CacheConfig    `yaml:"cache"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Relay    RelayConfig    `yaml:"relay"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int32  `yaml:"max_conns"`
	Migrate  bool   `yaml:"migrate"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ScraperConfig struct {
	DefaultDomain     string        `yaml:"default_domain"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay"`
	UserAgent         string        `yaml:"user_agent"`
	AcceptLanguage    string        `yaml:"accept_language"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	FieldDelayMin     time.Duration `yaml:"field_delay_min"`
	FieldDelayMax     time.Duration `yaml:"field_delay_max"`
}

type BrowserConfig struct {
	Fallback   bool          `yaml:"fallback"`
	Headless   bool          `yaml:"headless"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	Proxy      string        `yaml:"proxy"`
}

type CacheConfig struct {
	TTL    time.Duration `yaml:"ttl"`
	Prefix string        `yaml:"prefix"`
}

type JobsConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	ItemDelayMin time.Duration `yaml:"item_delay_min"`
	ItemDelayMax time.Duration `yaml:"item_delay_max"`
	MaxInputs    int           `yaml:"max_inputs"`
}

type RelayConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	MaxStreamLen int64         `yaml:"max_stream_len"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8084,
			RequestTimeout:  90 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Name:     "product_fetcher",
			SSLMode:  "disable",
			MaxConns: 10,
			Migrate:  true,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Scraper: ScraperConfig{
			DefaultDomain:     "amazon.co.uk",
			RequestTimeout:    15 * time.Second,
			MaxRetries:        3,
			RetryBaseDelay:    time.Second,
			RetryMaxDelay:     5 * time.Second,
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			AcceptLanguage:    "en-GB,en;q=0.9,en-US;q=0.8",
			RequestsPerSecond: 1,
			Burst:             3,
			FieldDelayMin:     50 * time.Millisecond,
			FieldDelayMax:     300 * time.Millisecond,
		},
		Browser: BrowserConfig{
			Headless:   true,
			Timeout:    30 * time.Second,
			MaxRetries: 2,
		},
		Cache: CacheConfig{
			TTL:    6 * time.Hour,
			Prefix: "amazon-product-fetcher:",
		},
		Jobs: JobsConfig{
			PollInterval: 10 * time.Second,
			ItemDelayMin: 2 * time.Second,
			ItemDelayMax: 4 * time.Second,
			MaxInputs:    500,
		},
		Relay: RelayConfig{
			PollInterval: 5 * time.Second,
			BatchSize:    100,
			MaxStreamLen: 100000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// CONFIG_FILE (if set) and environment variables, in that order.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnvInt("PORT", c.Server.Port)
	c.Server.RequestTimeout = getEnvDuration("SERVER_REQUEST_TIMEOUT", c.Server.RequestTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Database.Enabled = getEnvBool("DB_ENABLED", c.Database.Enabled)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)
	c.Database.MaxConns = int32(getEnvInt("DB_MAX_CONNS", int(c.Database.MaxConns)))
	c.Database.Migrate = getEnvBool("DB_MIGRATE", c.Database.Migrate)

	c.Redis.Enabled = getEnvBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)

	c.Scraper.DefaultDomain = getEnv("SCRAPER_DEFAULT_DOMAIN", c.Scraper.DefaultDomain)
	c.Scraper.RequestTimeout = getEnvDuration("SCRAPER_TIMEOUT", c.Scraper.RequestTimeout)
	c.Scraper.MaxRetries = getEnvInt("SCRAPER_MAX_RETRIES", c.Scraper.MaxRetries)
	c.Scraper.RetryBaseDelay = getEnvDuration("SCRAPER_RETRY_BASE_DELAY", c.Scraper.RetryBaseDelay)
	c.Scraper.RetryMaxDelay = getEnvDuration("SCRAPER_RETRY_MAX_DELAY", c.Scraper.RetryMaxDelay)
	c.Scraper.UserAgent = getEnv("SCRAPER_USER_AGENT", c.Scraper.UserAgent)
	c.Scraper.AcceptLanguage = getEnv("SCRAPER_ACCEPT_LANGUAGE", c.Scraper.AcceptLanguage)
	c.Scraper.RequestsPerSecond = getEnvFloat("SCRAPER_RATE_LIMIT", c.Scraper.RequestsPerSecond)
	c.Scraper.Burst = getEnvInt("SCRAPER_BURST", c.Scraper.Burst)
	c.Scraper.FieldDelayMin = getEnvDuration("SCRAPER_FIELD_DELAY_MIN", c.Scraper.FieldDelayMin)
	c.Scraper.FieldDelayMax = getEnvDuration("SCRAPER_FIELD_DELAY_MAX", c.Scraper.FieldDelayMax)

	c.Browser.Fallback = getEnvBool("BROWSER_FALLBACK", c.Browser.Fallback)
	c.Browser.Headless = getEnvBool("SCRAPER_HEADLESS", c.Browser.Headless)
	c.Browser.Timeout = getEnvDuration("BROWSER_TIMEOUT", c.Browser.Timeout)
	c.Browser.MaxRetries = getEnvInt("BROWSER_MAX_RETRIES", c.Browser.MaxRetries)
	c.Browser.Proxy = getEnv("BROWSER_PROXY", c.Browser.Proxy)

	c.Cache.TTL = getEnvDuration("CACHE_TTL", c.Cache.TTL)
	c.Cache.Prefix = getEnv("CACHE_PREFIX", c.Cache.Prefix)

	c.Jobs.PollInterval = getEnvDuration("JOBS_POLL_INTERVAL", c.Jobs.PollInterval)
	c.Jobs.ItemDelayMin = getEnvDuration("JOBS_ITEM_DELAY_MIN", c.Jobs.ItemDelayMin)
	c.Jobs.ItemDelayMax = getEnvDuration("JOBS_ITEM_DELAY_MAX", c.Jobs.ItemDelayMax)
	c.Jobs.MaxInputs = getEnvInt("JOBS_MAX_INPUTS", c.Jobs.MaxInputs)

	c.Relay.PollInterval = getEnvDuration("RELAY_POLL_INTERVAL", c.Relay.PollInterval)
	c.Relay.BatchSize = getEnvInt("RELAY_BATCH_SIZE", c.Relay.BatchSize)
	c.Relay.MaxStreamLen = int64(getEnvInt("RELAY_MAX_STREAM_LEN", int(c.Relay.MaxStreamLen)))

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d", c.Server.Port))
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			errs = append(errs, errors.New("database host is required"))
		}
		if c.Database.Name == "" {
			errs = append(errs, errors.New("database name is required"))
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis address is required"))
	}

	if !scraper.IsMarketplace(c.Scraper.DefaultDomain) {
		errs = append(errs, fmt.Errorf("default domain must be an amazon marketplace: %q", c.Scraper.DefaultDomain))
	}
	if c.Scraper.RequestTimeout <= 0 {
		errs = append(errs, errors.New("scraper request timeout must be positive"))
	}
	if c.Scraper.MaxRetries < 0 {
		errs = append(errs, errors.New("scraper max retries cannot be negative"))
	}
	if c.Scraper.FieldDelayMax < c.Scraper.FieldDelayMin {
		errs = append(errs, errors.New("field delay max is below min"))
	}

	if c.Jobs.ItemDelayMax < c.Jobs.ItemDelayMin {
		errs = append(errs, errors.New("job item delay max is below min"))
	}
	if c.Jobs.MaxInputs < 1 {
		errs = append(errs, errors.New("jobs must accept at least 1 input"))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log format: %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// FetcherConfig maps the scraper section onto the fetcher's settings.
func (c *Config) FetcherConfig() scraper.FetcherConfig {
	fc := scraper.DefaultFetcherConfig()
	fc.RequestTimeout = c.Scraper.RequestTimeout
	fc.MaxRetries = c.Scraper.MaxRetries
	fc.RetryBaseDelay = c.Scraper.RetryBaseDelay
	fc.RetryMaxDelay = c.Scraper.RetryMaxDelay
	fc.UserAgent = c.Scraper.UserAgent
	fc.AcceptLanguage = c.Scraper.AcceptLanguage
	fc.RequestsPerSecond = c.Scraper.RequestsPerSecond
	fc.Burst = c.Scraper.Burst
	return fc
}

// BrowserOptions applies the browser section to the renderer defaults.
func (c *Config) BrowserOptions() *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = c.Browser.Headless
	opts.Timeout = c.Browser.Timeout
	opts.MaxRetries = c.Browser.MaxRetries
	opts.UserAgent = c.Scraper.UserAgent
	opts.AcceptLanguage = c.Scraper.AcceptLanguage
	opts.ProxyServer = c.Browser.Proxy
	return opts
}
