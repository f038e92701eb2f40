// Package config loads service configuration from YAML files and
// environment variables. Each binary has its own Load function so a service
// only carries the sections it uses.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// BaseConfig holds configuration shared by every service.
type BaseConfig struct {
	Debug bool `mapstructure:"debug"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // in seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"`  // in seconds
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int    `mapstructure:"max_conns"`
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// KafkaConfig holds broker configuration.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
}

// WorkerConfig holds fan-out configuration for the derivation pass.
type WorkerConfig struct {
	PoolSize int `mapstructure:"pool_size"`
}

// ReportingConfig pins the derivation reference point. PeriodEnd, when set,
// freezes the abandonment window so reruns of a closed period reproduce the
// original numbers.
type ReportingConfig struct {
	// PeriodEnd is a date in 2006-01-02 form. Empty means use the current day.
	PeriodEnd string `mapstructure:"period_end"`
	// MaturityDays excludes enrollments younger than this from abandonment.
	MaturityDays int `mapstructure:"maturity_days"`
}

// PeriodEndDate parses PeriodEnd, or returns now truncated to the day.
func (c *ReportingConfig) PeriodEndDate(now time.Time) (time.Time, error) {
	if c.PeriodEnd == "" {
		now = now.UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse("2006-01-02", c.PeriodEnd)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid reporting.period_end %q: %w", c.PeriodEnd, err)
	}
	return t, nil
}

// OTLPConfig holds trace export configuration.
type OTLPConfig struct {
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

// AuthConfig holds API authentication configuration.
type AuthConfig struct {
	// APIKeys are "key:client" pairs.
	APIKeys []string `mapstructure:"api_keys"`
}

// KeyMap converts APIKeys into key to client ID form.
func (c *AuthConfig) KeyMap() map[string]string {
	keys := make(map[string]string, len(c.APIKeys))
	for _, pair := range c.APIKeys {
		key, client, found := strings.Cut(pair, ":")
		if !found {
			client = "default"
		}
		if key != "" {
			keys[key] = client
		}
	}
	return keys
}

// APIConfig holds configuration for journey-api.
type APIConfig struct {
	BaseConfig `mapstructure:",squash"`
	Server     ServerConfig    `mapstructure:"server"`
	Database   DatabaseConfig  `mapstructure:"database"`
	Kafka      KafkaConfig     `mapstructure:"kafka"`
	Worker     WorkerConfig    `mapstructure:"worker"`
	Reporting  ReportingConfig `mapstructure:"reporting"`
	OTLP       OTLPConfig      `mapstructure:"otlp"`
	Auth       AuthConfig      `mapstructure:"auth"`
}

// WorkerServiceConfig holds configuration for derivation-worker.
type WorkerServiceConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig  `mapstructure:"database"`
	Kafka      KafkaConfig     `mapstructure:"kafka"`
	Worker     WorkerConfig    `mapstructure:"worker"`
	Reporting  ReportingConfig `mapstructure:"reporting"`
	OTLP       OTLPConfig      `mapstructure:"otlp"`
}

// RelayConfig holds configuration for alert-relay.
type RelayConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig `mapstructure:"database"`
	Kafka      KafkaConfig    `mapstructure:"kafka"`
	OTLP       OTLPConfig     `mapstructure:"otlp"`
}

// LoadAPIConfig loads configuration for journey-api.
func LoadAPIConfig(configFile, envPath string) (*APIConfig, error) {
	v := configureViper("journey-api", configFile, envPath)

	v.SetDefault("debug", false)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 60)
	v.SetDefault("server.idle_timeout", 120)
	setCommonDefaults(v)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg APIConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateDatabase(&cfg.Database); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWorkerConfig loads configuration for derivation-worker.
func LoadWorkerConfig(configFile, envPath string) (*WorkerServiceConfig, error) {
	v := configureViper("derivation-worker", configFile, envPath)

	setCommonDefaults(v)
	v.SetDefault("kafka.group_id", "derivation-worker")

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg WorkerServiceConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateDatabase(&cfg.Database); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadRelayConfig loads configuration for alert-relay.
func LoadRelayConfig(configFile, envPath string) (*RelayConfig, error) {
	v := configureViper("alert-relay", configFile, envPath)

	setCommonDefaults(v)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg RelayConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateDatabase(&cfg.Database); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setCommonDefaults(v *viper.Viper) {
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("worker.pool_size", 32)
	v.SetDefault("reporting.maturity_days", 30)
	v.SetDefault("otlp.endpoint", "localhost:4317")
	v.SetDefault("otlp.sample_rate", 1.0)
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// No config file, environment variables carry everything.
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

func validateDatabase(db *DatabaseConfig) error {
	if db.Host == "" {
		return errors.New("database.host is required")
	}
	if db.DBName == "" {
		return errors.New("database.dbname is required")
	}
	return nil
}

// configureViper returns a viper instance with the config file and
// environment variables set.
func configureViper(service, configFile, envPath string) *viper.Viper {
	v := viper.New()

	loadEnv(envPath, service)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		v.AddConfigPath("config/")
	}

	v.SetEnvPrefix("JOURNEY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds every known key so env vars map to config
// struct fields even when no config file exists.
func bindAllEnvVars(v *viper.Viper) {
	keys := []string{
		"debug",
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.idle_timeout",
		// Database
		"database.host",
		"database.port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_conns",
		// Kafka
		"kafka.brokers",
		"kafka.group_id",
		// Worker
		"worker.pool_size",
		// Reporting
		"reporting.period_end",
		"reporting.maturity_days",
		// OTLP
		"otlp.endpoint",
		"otlp.sample_rate",
		// Auth
		"auth.api_keys",
	}

	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads environment variables from the config directory.
func loadEnv(envPath, service string) {
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate) // later files override earlier ones
	}
}
