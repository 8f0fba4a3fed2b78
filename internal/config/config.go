package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"mockpair/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Queue      QueueConfig      `yaml:"queue"`
	Worker     WorkerConfig     `yaml:"worker"`
	Matching   MatchingConfig   `yaml:"matching"`
	Retention  RetentionConfig  `yaml:"retention"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	// Driver is "sqlite3" (default) or "postgres".
	Driver        string `yaml:"driver"`
	Path          string `yaml:"path"`
	DSN           string `yaml:"dsn"`
	MaxOpenConns  int    `yaml:"max_open_conns"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type QueueConfig struct {
	// Driver selects the intent transport: "amqp", "redis" or "sql".
	Driver string           `yaml:"driver"`
	AMQP   AMQPQueueConfig  `yaml:"amqp"`
	Redis  RedisQueueConfig `yaml:"redis"`
	SQL    SQLQueueConfig   `yaml:"sql"`
}

type AMQPQueueConfig struct {
	URL                string `yaml:"url"`
	Exchange           string `yaml:"exchange"`
	Queue              string `yaml:"queue"`
	RoutingKey         string `yaml:"routing_key"`
	DeadLetterExchange string `yaml:"dead_letter_exchange"`
	DeadLetterQueue    string `yaml:"dead_letter_queue"`
}

type RedisQueueConfig struct {
	QueueKey      string        `yaml:"queue_key"`
	ProcessingKey string        `yaml:"processing_key"`
	DeadLetterKey string        `yaml:"dead_letter_key"`
	BlockTimeout  time.Duration `yaml:"block_timeout"`
}

type SQLQueueConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
}

type WorkerConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

type MatchingConfig struct {
	Timezone        string        `yaml:"timezone"`
	MockTypes       []string      `yaml:"mock_types"`
	NotificationTTL time.Duration `yaml:"notification_ttl"`
}

// Location resolves the configured timezone, defaulting to UTC.
func (m MatchingConfig) Location() (*time.Location, error) {
	if strings.TrimSpace(m.Timezone) == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(m.Timezone)
}

// AllowedMockTypes returns the configured categories, or the defaults.
func (m MatchingConfig) AllowedMockTypes() []models.MockType {
	if len(m.MockTypes) == 0 {
		return models.DefaultMockTypes
	}
	out := make([]models.MockType, 0, len(m.MockTypes))
	for _, raw := range m.MockTypes {
		if mt := strings.ToUpper(strings.TrimSpace(raw)); mt != "" {
			out = append(out, models.MockType(mt))
		}
	}
	return out
}

type RetentionConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
	// QueueTTL is how long completed SQL queue tasks are kept.
	QueueTTL time.Duration `yaml:"queue_ttl"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled bool         `yaml:"enabled"`
	Port    int          `yaml:"port"`
	TLS     APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	switch c.Queue.Driver {
	case "sql":
	case "amqp":
		if c.Queue.AMQP.URL == "" {
			return errors.New("queue.amqp.url is required")
		}
	case "redis":
		if c.Redis.Address == "" {
			return errors.New("redis address is required for redis queue")
		}
	default:
		return fmt.Errorf("unsupported queue driver %q", c.Queue.Driver)
	}

	if _, err := c.Matching.Location(); err != nil {
		return fmt.Errorf("invalid matching timezone: %w", err)
	}

	return ValidateMockTypes(c.Matching.MockTypes)
}

func ValidateMockTypes(types []string) error {
	seen := make(map[string]bool)
	for _, raw := range types {
		mt := strings.ToUpper(strings.TrimSpace(raw))
		if mt == "" {
			return errors.New("empty mock type")
		}
		if seen[mt] {
			return fmt.Errorf("duplicate mock type: %s", mt)
		}
		seen[mt] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.BusyTimeoutMS == 0 {
		c.Database.BusyTimeoutMS = models.DefaultBusyTimeoutMS
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "sql"
	}
	if c.Queue.AMQP.Exchange == "" {
		c.Queue.AMQP.Exchange = "booking.exchange"
	}
	if c.Queue.AMQP.Queue == "" {
		c.Queue.AMQP.Queue = "booking.intent.q"
	}
	if c.Queue.AMQP.RoutingKey == "" {
		c.Queue.AMQP.RoutingKey = "booking.intent"
	}
	if c.Queue.AMQP.DeadLetterExchange == "" {
		c.Queue.AMQP.DeadLetterExchange = "booking.dlx"
	}
	if c.Queue.AMQP.DeadLetterQueue == "" {
		c.Queue.AMQP.DeadLetterQueue = "booking.intent.dlq"
	}
	if c.Queue.Redis.QueueKey == "" {
		c.Queue.Redis.QueueKey = "booking:intents"
	}
	if c.Queue.Redis.ProcessingKey == "" {
		c.Queue.Redis.ProcessingKey = "booking:intents:processing"
	}
	if c.Queue.Redis.DeadLetterKey == "" {
		c.Queue.Redis.DeadLetterKey = "booking:intents:deadletter"
	}
	if c.Queue.Redis.BlockTimeout == 0 {
		c.Queue.Redis.BlockTimeout = time.Second
	}
	if c.Queue.SQL.PollInterval == 0 {
		c.Queue.SQL.PollInterval = models.DefaultPollInterval
	}
	if c.Queue.SQL.VisibilityTimeout == 0 {
		c.Queue.SQL.VisibilityTimeout = models.DefaultVisibilityTimeout
	}

	if c.Worker.MaxRetries == 0 {
		c.Worker.MaxRetries = 5
	}
	if c.Worker.InitialDelay == 0 {
		c.Worker.InitialDelay = 2 * time.Second
	}
	if c.Worker.MaxDelay == 0 {
		c.Worker.MaxDelay = time.Minute
	}
	if c.Worker.BackoffFactor == 0 {
		c.Worker.BackoffFactor = 2
	}

	if c.Matching.NotificationTTL == 0 {
		c.Matching.NotificationTTL = models.DefaultNotificationTTL
	}
	if c.Retention.Schedule == "" {
		c.Retention.Schedule = "1h"
	}
	if c.Retention.QueueTTL == 0 {
		c.Retention.QueueTTL = 24 * time.Hour
	}

	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
