package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment" yaml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server" yaml:"server"`
	Storage     StorageConfig   `toml:"storage" yaml:"storage"`
	Logging     LoggingConfig   `toml:"logging" yaml:"logging"`
	WebSocket   WebSocketConfig `toml:"websocket" yaml:"websocket"`
	Broker      BrokerConfig    `toml:"broker" yaml:"broker"`
	Retention   RetentionConfig `toml:"retention" yaml:"retention"`
}

type ServerConfig struct {
	Port int    `toml:"port" yaml:"port" validate:"min=1,max=65535"`
	Host string `toml:"host" yaml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger" yaml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" yaml:"path" validate:"required_without=InMemory"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup" yaml:"reset_on_startup"`               // Delete database on startup for clean test runs
	InMemory       bool   `toml:"in_memory" yaml:"in_memory"`                             // Keep all task records in memory (nothing written to disk)
	ReadOnly       bool   `toml:"-" yaml:"-"`                                             // Open without taking the write lock (MCP server)
}

type LoggingConfig struct {
	Level      string   `toml:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format     string   `toml:"format" yaml:"format" validate:"omitempty,oneof=text json"`
	Output     []string `toml:"output" yaml:"output" validate:"dive,oneof=stdout console file"`
	TimeFormat string   `toml:"time_format" yaml:"time_format"` // Time format for logs (default: "15:04:05")
}

// WebSocketConfig contains configuration for the progress WebSocket endpoints
type WebSocketConfig struct {
	ReadBufferSize  int `toml:"read_buffer_size" yaml:"read_buffer_size" validate:"min=0"`
	WriteBufferSize int `toml:"write_buffer_size" yaml:"write_buffer_size" validate:"min=0"`
	// Minimum interval between two pushed progress updates for the same task.
	// Empty or "0" disables throttling. Completion updates are never throttled.
	ProgressThrottle string `toml:"progress_throttle" yaml:"progress_throttle"`
}

// BrokerConfig selects how dispatched snapshots reach connections.
// "local" delivers in-process; "amqp" fans out through a RabbitMQ exchange so
// several server instances share follow groups.
type BrokerConfig struct {
	Type     string `toml:"type" yaml:"type" validate:"oneof=local amqp"`
	URL      string `toml:"url" yaml:"url" validate:"required_if=Type amqp"`
	Exchange string `toml:"exchange" yaml:"exchange" validate:"required_if=Type amqp"`
}

// RetentionConfig controls expiry of completed task records
type RetentionConfig struct {
	Enabled       bool   `toml:"enabled" yaml:"enabled"`
	Schedule      string `toml:"schedule" yaml:"schedule"`             // Cron schedule (5 fields)
	ResultExpires string `toml:"result_expires" yaml:"result_expires"` // e.g. "24h"
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/tasks",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			ProgressThrottle: "250ms",
		},
		Broker: BrokerConfig{
			Type:     "local",
			Exchange: "taskwatch.progress",
		},
		Retention: RetentionConfig{
			Enabled:       true,
			Schedule:      "0 * * * *", // Hourly
			ResultExpires: "24h",       // Completed results are kept for a day
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env.
// Later files override earlier files. The file format is chosen by extension:
// .yaml/.yml are parsed as YAML, anything else as TOML.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, config)
		default:
			err = toml.Unmarshal(data, config)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// Environment variables override all file configs
	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("TASKWATCH_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("TASKWATCH_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("TASKWATCH_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("TASKWATCH_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if inMemory := os.Getenv("TASKWATCH_BADGER_IN_MEMORY"); inMemory != "" {
		if b, err := strconv.ParseBool(inMemory); err == nil {
			config.Storage.Badger.InMemory = b
		}
	}

	// Logging configuration
	if level := os.Getenv("TASKWATCH_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("TASKWATCH_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("TASKWATCH_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// WebSocket configuration
	if throttle := os.Getenv("TASKWATCH_WEBSOCKET_PROGRESS_THROTTLE"); throttle != "" {
		config.WebSocket.ProgressThrottle = throttle
	}

	// Broker configuration
	if brokerType := os.Getenv("TASKWATCH_BROKER_TYPE"); brokerType != "" {
		config.Broker.Type = brokerType
	}
	if brokerURL := os.Getenv("TASKWATCH_BROKER_URL"); brokerURL != "" {
		config.Broker.URL = brokerURL
	}
	if exchange := os.Getenv("TASKWATCH_BROKER_EXCHANGE"); exchange != "" {
		config.Broker.Exchange = exchange
	}

	// Retention configuration
	if enabled := os.Getenv("TASKWATCH_RETENTION_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Retention.Enabled = b
		}
	}
	if schedule := os.Getenv("TASKWATCH_RETENTION_SCHEDULE"); schedule != "" {
		config.Retention.Schedule = schedule
	}
	if expires := os.Getenv("TASKWATCH_RETENTION_RESULT_EXPIRES"); expires != "" {
		config.Retention.ResultExpires = expires
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks struct constraints and the values that need parsing
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if _, err := c.WebSocket.ProgressThrottleInterval(); err != nil {
		return fmt.Errorf("invalid websocket.progress_throttle: %w", err)
	}

	if c.Retention.Enabled {
		if err := ValidateJobSchedule(c.Retention.Schedule); err != nil {
			return fmt.Errorf("invalid retention.schedule: %w", err)
		}
		if _, err := c.Retention.ResultExpiry(); err != nil {
			return fmt.Errorf("invalid retention.result_expires: %w", err)
		}
	}

	return nil
}

// ProgressThrottleInterval parses ProgressThrottle; zero means no throttling
func (w WebSocketConfig) ProgressThrottleInterval() (time.Duration, error) {
	if w.ProgressThrottle == "" || w.ProgressThrottle == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(w.ProgressThrottle)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", w.ProgressThrottle)
	}
	return d, nil
}

// ResultExpiry parses ResultExpires
func (r RetentionConfig) ResultExpiry() (time.Duration, error) {
	d, err := time.ParseDuration(r.ResultExpires)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("result_expires must be positive, got %s", r.ResultExpires)
	}
	return d, nil
}

// ValidateJobSchedule validates a standard 5-field cron expression
func ValidateJobSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return err
	}
	return nil
}
