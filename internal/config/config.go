package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Config structure represents the application configuration
type Config struct {
	Server struct {
		Port string `yaml:"port" env:"SERVER_PORT"`
		Mode string `yaml:"mode" env:"SERVER_MODE"`
		// RequestsPerSecond limits REST calls per process; 0 disables the limiter
		RequestsPerSecond int `yaml:"requests_per_second" env:"SERVER_RPS"`
	} `yaml:"server"`

	Database struct {
		Host            string `yaml:"host" env:"DB_HOST"`
		Port            string `yaml:"port" env:"DB_PORT"`
		User            string `yaml:"user" env:"DB_USER"`
		Password        string `yaml:"password" env:"DB_PASSWORD"`
		DBName          string `yaml:"dbname" env:"DB_NAME"`
		SSLMode         string `yaml:"sslmode" env:"DB_SSLMODE"`
		MaxIdleConns    int    `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS"`
		MaxOpenConns    int    `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS"`
		ConnMaxLifetime string `yaml:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME"`
		MigrationsDir   string `yaml:"migrations_dir" env:"DB_MIGRATIONS_DIR"`
	} `yaml:"database"`

	Storage struct {
		Driver string `yaml:"driver" env:"STORAGE_DRIVER"`
		// Seed creates demo profiles on startup (development only)
		Seed bool `yaml:"seed" env:"STORAGE_SEED"`
	} `yaml:"storage"`

	JWT struct {
		Secret string `yaml:"secret" env:"JWT_SECRET"`
		Issuer string `yaml:"issuer" env:"JWT_ISSUER"`
		// AccessTokenExpiration is the lifetime of dev tokens minted by the seeder
		AccessTokenExpiration time.Duration `yaml:"access_token_expiration" env:"JWT_ACCESS_TOKEN_EXPIRATION"`
	} `yaml:"jwt"`

	Chat struct {
		TypingTimeout    time.Duration `yaml:"typing_timeout" env:"CHAT_TYPING_TIMEOUT"`
		DefaultPageSize  int           `yaml:"default_page_size" env:"CHAT_DEFAULT_PAGE_SIZE"`
		MaxPageSize      int           `yaml:"max_page_size" env:"CHAT_MAX_PAGE_SIZE"`
		MaxMessageLength int           `yaml:"max_message_length" env:"CHAT_MAX_MESSAGE_LENGTH"`
		MaxAttachments   int           `yaml:"max_attachments" env:"CHAT_MAX_ATTACHMENTS"`
		SendBufferSize   int           `yaml:"send_buffer_size" env:"CHAT_SEND_BUFFER_SIZE"`
		CommandRate      float64       `yaml:"command_rate" env:"CHAT_COMMAND_RATE"`
		CommandBurst     int           `yaml:"command_burst" env:"CHAT_COMMAND_BURST"`
		AllowedOrigins   string        `yaml:"allowed_origins" env:"CHAT_ALLOWED_ORIGINS"`
	} `yaml:"chat"`

	Redis struct {
		Enabled  bool   `yaml:"enabled" env:"REDIS_ENABLED"`
		Addr     string `yaml:"addr" env:"REDIS_ADDR"`
		Password string `yaml:"password" env:"REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"REDIS_DB"`
		Channel  string `yaml:"channel" env:"REDIS_CHANNEL"`
	} `yaml:"redis"`

	Logging struct {
		Level  string `yaml:"level" env:"LOG_LEVEL"`
		Format string `yaml:"format" env:"LOG_FORMAT"`
	} `yaml:"logging"`
}

// LoadConfig loads configuration from a file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}
	setDefaults(config)

	// The file is optional; env vars and defaults are enough to boot
	if _, err := os.Stat(configPath); err == nil {
		file, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(file, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load from environment: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults sets default values for the configuration
func setDefaults(config *Config) {
	config.Server.Port = "8080"
	config.Server.Mode = "development"
	config.Server.RequestsPerSecond = 200

	config.Database.Host = "localhost"
	config.Database.Port = "5432"
	config.Database.User = "postgres"
	config.Database.Password = "postgres"
	config.Database.DBName = "chathub"
	config.Database.SSLMode = "disable"
	config.Database.MaxIdleConns = 5
	config.Database.MaxOpenConns = 20
	config.Database.ConnMaxLifetime = "1h"
	config.Database.MigrationsDir = "migrations"

	config.Storage.Driver = StorageDriverPostgres

	config.JWT.Issuer = "chathub.app"
	config.JWT.AccessTokenExpiration = 24 * time.Hour

	config.Chat.TypingTimeout = time.Second
	config.Chat.DefaultPageSize = 30
	config.Chat.MaxPageSize = 100
	config.Chat.MaxMessageLength = 4000
	config.Chat.MaxAttachments = 10
	config.Chat.SendBufferSize = 256
	config.Chat.CommandRate = 10
	config.Chat.CommandBurst = 30

	config.Redis.Addr = "localhost:6379"
	config.Redis.Channel = "chathub:events"

	config.Logging.Level = "info"
	config.Logging.Format = "json"
}

// loadFromEnv overrides configuration with environment variables
func loadFromEnv(config *Config) error {
	return processStructFields(config)
}

// validateConfig ensures that the configuration is valid
func validateConfig(config *Config) error {
	switch config.Storage.Driver {
	case StorageDriverPostgres:
		if config.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if _, err := time.ParseDuration(config.Database.ConnMaxLifetime); err != nil {
			return fmt.Errorf("invalid database connection lifetime: %w", err)
		}
	case StorageDriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", config.Storage.Driver)
	}

	if config.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if config.Chat.TypingTimeout <= 0 {
		return fmt.Errorf("chat typing timeout must be positive")
	}

	if config.Chat.DefaultPageSize <= 0 || config.Chat.DefaultPageSize > config.Chat.MaxPageSize {
		return fmt.Errorf("chat default page size must be within 1..%d", config.Chat.MaxPageSize)
	}

	if config.Chat.SendBufferSize <= 0 {
		return fmt.Errorf("chat send buffer size must be positive")
	}

	if config.Redis.Enabled && config.Redis.Addr == "" {
		return fmt.Errorf("redis address is required when redis is enabled")
	}

	return nil
}

// GetPostgresConnectionString returns postgres connection string
func (c *Config) GetPostgresConnectionString() string {
	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.DBName,
		sslMode,
	)
}

// AllowedOrigins returns the configured websocket origins; empty means any
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.Chat.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// IsProduction reports whether the server runs in production mode
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Mode, "production")
}
