package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Host            string        `yaml:"host"`
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		SlowThreshold   time.Duration `yaml:"slow_threshold"`
		CORSOrigins     []string      `yaml:"cors_origins"`
	} `yaml:"server"`
	Log struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		Output     string `yaml:"output"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Digest     struct {
			Enabled   bool          `yaml:"enabled"`
			Interval  time.Duration `yaml:"interval"`
			Threshold int           `yaml:"threshold"`
		} `yaml:"digest"`
	} `yaml:"log"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Postgres struct {
		DSN             string        `yaml:"dsn"`
		Host            string        `yaml:"host"`
		Port            int           `yaml:"port"`
		Database        string        `yaml:"database"`
		User            string        `yaml:"user"`
		Password        string        `yaml:"password"`
		SSLMode         string        `yaml:"sslmode"`
		MaxOpenConns    int           `yaml:"max_open_conns"`
		MaxIdleConns    int           `yaml:"max_idle_conns"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
		InitSchema      bool          `yaml:"init_schema"`
	} `yaml:"postgres"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Storage struct {
		// PriceSource selects where observations are read from: postgres or clickhouse.
		PriceSource string `yaml:"price_source"`
	} `yaml:"storage"`
	Cache struct {
		TTL             time.Duration `yaml:"ttl"`
		MemoryMaxSize   int           `yaml:"memory_max_size"`
		CleanupInterval time.Duration `yaml:"cleanup_interval"`
		Redis           struct {
			Enabled      bool          `yaml:"enabled"`
			Addr         string        `yaml:"addr"`
			Password     string        `yaml:"password"`
			DB           int           `yaml:"db"`
			Prefix       string        `yaml:"prefix"`
			PoolSize     int           `yaml:"pool_size"`
			MinIdleConns int           `yaml:"min_idle_conns"`
			L1TTL        time.Duration `yaml:"l1_ttl"`
		} `yaml:"redis"`
	} `yaml:"cache"`
	Forecast struct {
		ServiceURL          string        `yaml:"service_url"`
		BasicTimeout        time.Duration `yaml:"basic_timeout"`
		EnhancedTimeout     time.Duration `yaml:"enhanced_timeout"`
		EnhancedWindow      int           `yaml:"enhanced_window"`
		BasicWindow         int           `yaml:"basic_window"`
		RecentDays          int           `yaml:"recent_days"`
		QualityThreshold    float64       `yaml:"quality_threshold"`
		MinEnhancedPoints   int           `yaml:"min_enhanced_points"`
		Asset               string        `yaml:"asset"`
		Currency            string        `yaml:"currency"`
		SpotVariationFactor float64       `yaml:"spot_variation"`
	} `yaml:"forecast"`
	Breaker struct {
		FailureThreshold uint32        `yaml:"failure_threshold"`
		ResetTimeout     time.Duration `yaml:"reset_timeout"`
	} `yaml:"breaker"`
	Spot struct {
		// Provider is http or stream.
		Provider string        `yaml:"provider"`
		URL      string        `yaml:"url"`
		Timeout  time.Duration `yaml:"timeout"`
		MaxAge   time.Duration `yaml:"max_age"`

		// RecordBackend is off, store or kafka.
		RecordBackend  string        `yaml:"record_backend"`
		RecordInterval time.Duration `yaml:"record_interval"`
	} `yaml:"spot"`
	Finnhub struct {
		APIKey         string        `yaml:"api_key"`
		WebSocketURL   string        `yaml:"websocket_url"`
		Symbol         string        `yaml:"symbol"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
		PingInterval   time.Duration `yaml:"ping_interval"`
	} `yaml:"finnhub"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		PricesTopic  string   `yaml:"prices_topic"`
		EventsTopic  string   `yaml:"events_topic"`
		LogTopic     string   `yaml:"log_topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			// Async skips waiting for broker acks; failures only show in metrics.
			Async bool `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
}

// Default returns a configuration usable for local development.
func Default() *Config {
	var c Config
	c.Environment = "development"

	c.Server.Host = "0.0.0.0"
	c.Server.Port = 8080
	c.Server.ReadTimeout = 10 * time.Second
	c.Server.WriteTimeout = 45 * time.Second
	c.Server.ShutdownTimeout = 10 * time.Second
	c.Server.SlowThreshold = 2 * time.Second
	c.Server.CORSOrigins = []string{"*"}

	c.Log.Level = "info"
	c.Log.Format = "json"
	c.Log.Output = "stdout"
	c.Log.Digest.Interval = time.Minute
	c.Log.Digest.Threshold = 50

	c.Metrics.Enabled = true
	c.Metrics.Path = "/metrics"

	c.Postgres.Host = "localhost"
	c.Postgres.Port = 5432
	c.Postgres.Database = "goldcast"
	c.Postgres.User = "postgres"
	c.Postgres.SSLMode = "disable"
	c.Postgres.MaxOpenConns = 10
	c.Postgres.MaxIdleConns = 5
	c.Postgres.ConnMaxLifetime = 30 * time.Minute
	c.Postgres.InitSchema = true

	c.ClickHouse.Port = 9000
	c.ClickHouse.Database = "goldcast"
	c.ClickHouse.User = "default"
	c.ClickHouse.DialTimeout = 5 * time.Second
	c.ClickHouse.ReadTimeout = 10 * time.Second

	c.Storage.PriceSource = "postgres"

	c.Cache.TTL = 24 * time.Hour
	c.Cache.MemoryMaxSize = 1000
	c.Cache.CleanupInterval = 5 * time.Minute
	c.Cache.Redis.Addr = "localhost:6379"
	c.Cache.Redis.Prefix = "goldcast"
	c.Cache.Redis.PoolSize = 10
	c.Cache.Redis.MinIdleConns = 2
	c.Cache.Redis.L1TTL = 5 * time.Minute

	c.Forecast.ServiceURL = "http://localhost:8001"
	c.Forecast.BasicTimeout = 10 * time.Second
	c.Forecast.EnhancedTimeout = 30 * time.Second
	c.Forecast.EnhancedWindow = 60
	c.Forecast.BasicWindow = 30
	c.Forecast.RecentDays = 7
	c.Forecast.QualityThreshold = 50
	c.Forecast.MinEnhancedPoints = 5
	c.Forecast.Asset = "XAU"
	c.Forecast.Currency = "USD"
	c.Forecast.SpotVariationFactor = 0.02

	c.Breaker.FailureThreshold = 5
	c.Breaker.ResetTimeout = 60 * time.Second

	c.Spot.Provider = "http"
	c.Spot.Timeout = 5 * time.Second
	c.Spot.MaxAge = 10 * time.Minute
	c.Spot.RecordBackend = "off"
	c.Spot.RecordInterval = 15 * time.Minute

	c.Finnhub.WebSocketURL = "wss://ws.finnhub.io"
	c.Finnhub.Symbol = "OANDA:XAU_USD"
	c.Finnhub.ReconnectDelay = 5 * time.Second
	c.Finnhub.PingInterval = 30 * time.Second

	c.Kafka.PricesTopic = "goldcast.prices"
	c.Kafka.EventsTopic = "goldcast.forecasts"
	c.Kafka.RequiredAcks = -1
	c.Kafka.Compression = "gzip"
	c.Kafka.Producer.MaxAttempts = 3
	c.Kafka.Producer.Linger = 50 * time.Millisecond
	c.Kafka.Producer.BatchBytes = 1 << 20
	c.Kafka.Producer.BatchSize = 100
	c.Kafka.Producer.WriteTimeout = 10 * time.Second
	c.Kafka.Producer.ReadTimeout = 10 * time.Second
	c.Kafka.Consumer.GroupID = "goldcast-ingest"
	c.Kafka.Consumer.Workers = 2
	c.Kafka.Consumer.BufferSize = 64
	c.Kafka.Consumer.RetryMax = 3
	c.Kafka.Consumer.BackoffMin = 100 * time.Millisecond
	c.Kafka.Consumer.BackoffMax = 5 * time.Second
	c.Kafka.Consumer.MinBytes = 1
	c.Kafka.Consumer.MaxBytes = 10 << 20

	return &c
}

// Load reads a YAML file over Default and validates the result.
func Load(path string) (*Config, error) {
	c, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads .env (when present) and the YAML file, applies
// environment overrides, then validates.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func read(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	setStr := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	setStr("ENVIRONMENT", &c.Environment)
	setStr("LOG_LEVEL", &c.Log.Level)
	setStr("DATABASE_URL", &c.Postgres.DSN)
	setStr("POSTGRES_PASSWORD", &c.Postgres.Password)
	setStr("PRICE_SOURCE", &c.Storage.PriceSource)
	setStr("FORECAST_URL", &c.Forecast.ServiceURL)
	setStr("REDIS_ADDR", &c.Cache.Redis.Addr)
	setStr("REDIS_PASSWORD", &c.Cache.Redis.Password)
	setStr("SPOT_PROVIDER", &c.Spot.Provider)
	setStr("SPOT_URL", &c.Spot.URL)
	setStr("FINNHUB_API_KEY", &c.Finnhub.APIKey)

	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := getenv("REDIS_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("REDIS_ENABLED: %w", err)
		}
		c.Cache.Redis.Enabled = enabled
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
		c.Kafka.Enabled = true
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []error
	if c.Environment == "" {
		errs = append(errs, fmt.Errorf("environment is required"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Forecast.ServiceURL == "" {
		errs = append(errs, fmt.Errorf("forecast.service_url is required"))
	}
	if c.Forecast.BasicWindow < 2 || c.Forecast.EnhancedWindow < 2 {
		errs = append(errs, fmt.Errorf("forecast windows must be at least 2"))
	}
	if c.Forecast.RecentDays < 1 {
		errs = append(errs, fmt.Errorf("forecast.recent_days must be positive"))
	}
	switch c.Storage.PriceSource {
	case "postgres":
	case "clickhouse":
		if c.ClickHouse.Host == "" {
			errs = append(errs, fmt.Errorf("clickhouse.host is required when storage.price_source is clickhouse"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.price_source must be 'postgres' or 'clickhouse', got '%s'", c.Storage.PriceSource))
	}
	switch c.Spot.Provider {
	case "http":
		if c.Spot.URL == "" {
			errs = append(errs, fmt.Errorf("spot.url is required for the http provider"))
		}
	case "stream":
		if c.Finnhub.APIKey == "" {
			errs = append(errs, fmt.Errorf("finnhub.api_key is required for the stream provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("spot.provider must be 'http' or 'stream', got '%s'", c.Spot.Provider))
	}
	switch c.Spot.RecordBackend {
	case "", "off", "store":
	case "kafka":
		if !c.Kafka.Enabled {
			errs = append(errs, fmt.Errorf("spot.record_backend kafka requires kafka.enabled"))
		}
	default:
		errs = append(errs, fmt.Errorf("spot.record_backend must be 'off', 'store' or 'kafka', got '%s'", c.Spot.RecordBackend))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled"))
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
