package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment  string             `yaml:"environment" env:"ENVIRONMENT" default:"development" validate:"required"`
	Log          LogConfig          `yaml:"log" envPrefix:"LOG_"`
	Server       ServerConfig       `yaml:"server" envPrefix:"SERVER_"`
	Metrics      MetricsConfig      `yaml:"metrics" envPrefix:"METRICS_"`
	Kline        KlineConfig        `yaml:"kline" envPrefix:"KLINE_"`
	Stream       StreamConfig       `yaml:"stream" envPrefix:"STREAM_"`
	Source       SourceConfig       `yaml:"source" envPrefix:"SOURCE_"`
	Generator    GeneratorConfig    `yaml:"generator" envPrefix:"GENERATOR_"`
	Finnhub      FinnhubConfig      `yaml:"finnhub" envPrefix:"FINNHUB_"`
	Pipeline     PipelineConfig     `yaml:"pipeline" envPrefix:"PIPELINE_"`
	Archive      ArchiveConfig      `yaml:"archive" envPrefix:"ARCHIVE_"`
	Kafka        KafkaConfig        `yaml:"kafka" envPrefix:"KAFKA_"`
	ClickHouse   ClickHouseConfig   `yaml:"clickhouse" envPrefix:"CLICKHOUSE_"`
	Redis        RedisConfig        `yaml:"redis" envPrefix:"REDIS_"`
	LogCollector LogCollectorConfig `yaml:"log_collector" envPrefix:"LOG_COLLECTOR_"`
}

type LogConfig struct {
	Level      string `yaml:"level" env:"LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" env:"FORMAT" default:"json" validate:"oneof=json console"`
	Output     string `yaml:"output" env:"OUTPUT" default:"stdout" validate:"required"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"MAX_SIZE_MB" default:"100" validate:"gte=1"`
	MaxBackups int    `yaml:"max_backups" env:"MAX_BACKUPS" default:"5" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" env:"MAX_AGE_DAYS" default:"14" validate:"gte=0"`
	Compress   bool   `yaml:"compress" env:"COMPRESS" default:"true"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT" default:"3000" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" default:"10s"`
	WSPingInterval  time.Duration `yaml:"ws_ping_interval" env:"WS_PING_INTERVAL" default:"30s"`
	WSWriteTimeout  time.Duration `yaml:"ws_write_timeout" env:"WS_WRITE_TIMEOUT" default:"10s"`
	AllowOrigins    []string      `yaml:"allow_origins" env:"ALLOW_ORIGINS" envSeparator:"," default:"[\"*\"]"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED" default:"true"`
	Path    string `yaml:"path" env:"PATH" default:"/metrics"`
}

type KlineConfig struct {
	HistoryCapacity int `yaml:"history_capacity" env:"HISTORY_CAPACITY" default:"1000" validate:"gte=1"`
}

type StreamConfig struct {
	BufferSize int `yaml:"buffer_size" env:"BUFFER_SIZE" default:"100" validate:"gte=1"`
}

type SourceConfig struct {
	Type           string        `yaml:"type" env:"TYPE" default:"generator" validate:"oneof=generator finnhub kafka"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" env:"RECONNECT_DELAY" default:"5s"`
}

type GeneratorConfig struct {
	TickInterval time.Duration      `yaml:"tick_interval" env:"TICK_INTERVAL" default:"100ms"`
	Symbols      []string           `yaml:"symbols" env:"SYMBOLS" envSeparator:","`
	BasePrices   map[string]float64 `yaml:"base_prices"`
	MaxMovePct   float64            `yaml:"max_move_pct" env:"MAX_MOVE_PCT" default:"5" validate:"gt=0,lt=100"`
	MinQuantity  float64            `yaml:"min_quantity" env:"MIN_QUANTITY" default:"100" validate:"gt=0"`
	MaxQuantity  float64            `yaml:"max_quantity" env:"MAX_QUANTITY" default:"10000" validate:"gtfield=MinQuantity"`
}

type FinnhubConfig struct {
	APIKey       string        `yaml:"api_key" env:"API_KEY"`
	WebSocketURL string        `yaml:"websocket_url" env:"WEBSOCKET_URL" default:"wss://ws.finnhub.io"`
	Symbols      []string      `yaml:"symbols" env:"SYMBOLS" envSeparator:","`
	PingInterval time.Duration `yaml:"ping_interval" env:"PING_INTERVAL" default:"30s"`
}

type PipelineConfig struct {
	MaxRPS float64 `yaml:"max_rps" env:"MAX_RPS" default:"0" validate:"gte=0"`
	Burst  float64 `yaml:"burst" env:"BURST" default:"0" validate:"gte=0"`
}

type ArchiveConfig struct {
	Backend      string        `yaml:"backend" env:"BACKEND" default:"none" validate:"oneof=none kafka clickhouse"`
	BatchSize    int           `yaml:"batch_size" env:"BATCH_SIZE" default:"500" validate:"gte=1"`
	BatchTimeout time.Duration `yaml:"batch_timeout" env:"BATCH_TIMEOUT" default:"2s"`
	QueueSize    int           `yaml:"queue_size" env:"QUEUE_SIZE" default:"10000" validate:"gte=1"`
}

type KafkaConfig struct {
	Brokers      []string `yaml:"brokers" env:"BROKERS" envSeparator:"," default:"[\"localhost:9092\"]"`
	TradesTopic  string   `yaml:"trades_topic" env:"TRADES_TOPIC" default:"trades"`
	BarsTopic    string   `yaml:"bars_topic" env:"BARS_TOPIC" default:"klines"`
	RequiredAcks int      `yaml:"required_acks" env:"REQUIRED_ACKS" default:"1"`
	Compression  string   `yaml:"compression" env:"COMPRESSION" default:"snappy"`
	Producer     struct {
		MaxAttempts  int           `yaml:"max_attempts" env:"MAX_ATTEMPTS" default:"3"`
		Linger       time.Duration `yaml:"linger" env:"LINGER" default:"50ms"`
		BatchBytes   int           `yaml:"batch_bytes" env:"BATCH_BYTES" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" env:"BATCH_SIZE" default:"500"`
		WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT" default:"10s"`
		Async        bool          `yaml:"async" env:"ASYNC"`
	} `yaml:"producer" envPrefix:"PRODUCER_"`
	Consumer struct {
		GroupID    string        `yaml:"group_id" env:"GROUP_ID" default:"klinehub"`
		Workers    int           `yaml:"workers" env:"WORKERS" default:"4"`
		BufferSize int           `yaml:"buffer_size" env:"BUFFER_SIZE" default:"1000"`
		RetryMax   int           `yaml:"retry_max" env:"RETRY_MAX" default:"3"`
		BackoffMin time.Duration `yaml:"backoff_min" env:"BACKOFF_MIN" default:"100ms"`
		BackoffMax time.Duration `yaml:"backoff_max" env:"BACKOFF_MAX" default:"5s"`
		DLQTopic   string        `yaml:"dlq_topic" env:"DLQ_TOPIC" default:"trades.dlq"`
		MinBytes   int           `yaml:"min_bytes" env:"MIN_BYTES" default:"1"`
		MaxBytes   int           `yaml:"max_bytes" env:"MAX_BYTES" default:"10485760"`
	} `yaml:"consumer" envPrefix:"CONSUMER_"`
}

type ClickHouseConfig struct {
	Host             string        `yaml:"host" env:"HOST" default:"localhost"`
	Port             int           `yaml:"port" env:"PORT" default:"9000"`
	Database         string        `yaml:"database" env:"DATABASE" default:"klinehub"`
	User             string        `yaml:"user" env:"USER" default:"default"`
	Password         string        `yaml:"password" env:"PASSWORD"`
	UseHTTP          bool          `yaml:"use_http" env:"USE_HTTP"`
	AsyncInsert      bool          `yaml:"async_insert" env:"ASYNC_INSERT"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert" env:"WAIT_FOR_ASYNC_INSERT"`
	DialTimeout      time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" env:"MAX_EXECUTION_TIME" default:"60s"`
}

type RedisConfig struct {
	Enabled   bool          `yaml:"enabled" env:"ENABLED"`
	Addr      string        `yaml:"addr" env:"ADDR" default:"localhost:6379"`
	Password  string        `yaml:"password" env:"PASSWORD"`
	DB        int           `yaml:"db" env:"DB" default:"0"`
	KeyPrefix string        `yaml:"key_prefix" env:"KEY_PREFIX" default:"klinehub"`
	TTL       time.Duration `yaml:"ttl" env:"TTL" default:"24h"`
}

type LogCollectorConfig struct {
	Enabled       bool          `yaml:"enabled" env:"ENABLED"`
	Topic         string        `yaml:"topic" env:"TOPIC" default:"logs"`
	FlushInterval time.Duration `yaml:"flush_interval" env:"FLUSH_INTERVAL" default:"30s"`
}

// DefaultBasePrices seeds the generator when no prices are configured.
var DefaultBasePrices = map[string]float64{
	"PEPE":  0.000001234,
	"DOGE":  0.0823,
	"SHIB":  0.000008456,
	"FLOKI": 0.00012345,
}

var validate = validator.New()

// Default returns a configuration populated only from struct defaults.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	c.fillDerived()
	return &c, nil
}

// Load reads and parses a YAML configuration file on top of the defaults.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	c.fillDerived()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides it with environment
// variables, reading a .env file first when present.
func LoadWithEnv(path string) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := env.ParseWithOptions(&c, env.Options{Prefix: "KLINEHUB_"}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	c.fillDerived()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) fillDerived() {
	if len(c.Generator.BasePrices) == 0 {
		c.Generator.BasePrices = make(map[string]float64, len(DefaultBasePrices))
		for k, v := range DefaultBasePrices {
			c.Generator.BasePrices[k] = v
		}
	}
	if len(c.Generator.Symbols) == 0 {
		for _, s := range []string{"PEPE", "DOGE", "SHIB", "FLOKI"} {
			if _, ok := c.Generator.BasePrices[s]; ok {
				c.Generator.Symbols = append(c.Generator.Symbols, s)
			}
		}
		if len(c.Generator.Symbols) == 0 {
			for s := range c.Generator.BasePrices {
				c.Generator.Symbols = append(c.Generator.Symbols, s)
			}
		}
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	switch c.Source.Type {
	case "generator":
		for _, s := range c.Generator.Symbols {
			p, ok := c.Generator.BasePrices[s]
			if !ok || p <= 0 {
				return fmt.Errorf("generator.base_prices missing a positive price for %q", s)
			}
		}
	case "finnhub":
		if c.Finnhub.APIKey == "" {
			return fmt.Errorf("finnhub.api_key is required when source.type is finnhub")
		}
		if len(c.Finnhub.Symbols) == 0 {
			return fmt.Errorf("finnhub.symbols cannot be empty")
		}
	case "kafka":
		if len(c.Kafka.Brokers) == 0 || c.Kafka.TradesTopic == "" {
			return fmt.Errorf("kafka.brokers and kafka.trades_topic are required when source.type is kafka")
		}
	}

	switch c.Archive.Backend {
	case "kafka":
		if len(c.Kafka.Brokers) == 0 || c.Kafka.BarsTopic == "" {
			return fmt.Errorf("kafka.brokers and kafka.bars_topic are required when archive.backend is kafka")
		}
	case "clickhouse":
		if c.ClickHouse.Host == "" || c.ClickHouse.Database == "" {
			return fmt.Errorf("clickhouse.host and clickhouse.database are required when archive.backend is clickhouse")
		}
	}

	if c.LogCollector.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when log_collector is enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	return nil
}

// UsesKafka reports whether any component needs a Kafka connection.
func (c *Config) UsesKafka() bool {
	return c.Source.Type == "kafka" || c.Archive.Backend == "kafka" || c.LogCollector.Enabled
}
