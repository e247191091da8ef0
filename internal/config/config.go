// Package config provides configuration loading and management for the REM server.
// It supports loading configuration from YAML files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // zone data for cap.time_zone on hosts without zoneinfo

	"gopkg.in/yaml.v3"
)

// StorageMode represents the storage backend mode.
type StorageMode string

const (
	// StorageModeMemory uses in-memory implementations for all storage.
	StorageModeMemory StorageMode = "memory"
	// StorageModeStorage uses real storage backends (Kafka, Redis, PostgreSQL).
	StorageModeStorage StorageMode = "storage"
)

// IsValid returns true if the storage mode is valid.
func (m StorageMode) IsValid() bool {
	return m == StorageModeMemory || m == StorageModeStorage
}

// Config represents the complete application configuration.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Server   ServerConfig   `yaml:"server"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Logger   LoggerConfig   `yaml:"logger"`
	REM      REMConfig      `yaml:"rem"`
	CAP      CAPConfig      `yaml:"cap"`
	Memory   MemoryConfig   `yaml:"memory"`
}

// StorageConfig holds the storage mode configuration.
type StorageConfig struct {
	Mode StorageMode `yaml:"mode"`
}

// UseMemory returns true if in-memory storage should be used.
func (c *StorageConfig) UseMemory() bool {
	return c.Mode == StorageModeMemory
}

// UseStorage returns true if real storage backends should be used.
func (c *StorageConfig) UseStorage() bool {
	return c.Mode == StorageModeStorage
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// KafkaConfig holds Kafka connection and topic settings.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	Topic         string   `yaml:"topic"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int32  `yaml:"max_open_conns"`
	MaxIdleConns int32  `yaml:"max_idle_conns"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// REMConfig names the database tables the flood queries run against.
// Table names come from here only and are never taken from requests.
type REMConfig struct {
	// ReportsTable holds confirmed reports.
	ReportsTable string `yaml:"tbl_reports"`
	// UnconfirmedReportsTable holds unconfirmed reports.
	UnconfirmedReportsTable string `yaml:"tbl_reports_unconfirmed"`
	// AggregateLevels maps a level name (e.g. "rw") to its polygon table.
	AggregateLevels map[string]string `yaml:"aggregate_levels"`
	// DefaultLevel is used when a request does not name a level.
	DefaultLevel string `yaml:"default_level"`
}

// CAPConfig holds the feed metadata and alert constants used when rendering CAP.
type CAPConfig struct {
	TimeZone     string `yaml:"time_zone"`
	FeedID       string `yaml:"feed_id"`
	FeedTitle    string `yaml:"feed_title"`
	AuthorName   string `yaml:"author_name"`
	AuthorURI    string `yaml:"author_uri"`
	EntryBaseURL string `yaml:"entry_base_url"`
	Sender       string `yaml:"sender"`
	SenderName   string `yaml:"sender_name"`
	Web          string `yaml:"web"`

	// IdentifierSeparator joins parent name, level name and timestamp.
	IdentifierSeparator string `yaml:"identifier_separator"`
	// IdentifierSpace replaces spaces inside identifier components.
	IdentifierSpace string `yaml:"identifier_space"`
}

// MemoryConfig holds settings for the in-memory storage mode.
type MemoryConfig struct {
	// SeedFile is a GeoJSON FeatureCollection of areas loaded into every aggregate level.
	SeedFile string `yaml:"seed_file"`
}

// Load reads configuration from the specified YAML file path.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	// Clean the path to prevent path traversal attacks
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse builds a configuration from raw YAML, applying environment
// overrides and defaults, then validating the result.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides replaces file values with any REM_* environment variables.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("REM_STORAGE_MODE"); v != "" {
		cfg.Storage.Mode = StorageMode(v)
	}
	if v := os.Getenv("REM_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("REM_POSTGRES_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REM_POSTGRES_PORT: %w", err)
		}
		cfg.Postgres.Port = port
	}
	if v := os.Getenv("REM_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("REM_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("REM_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("REM_REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("REM_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REM_KAFKA_BROKERS"); v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		cfg.Kafka.Brokers = brokers
	}
	return nil
}

// applyDefaults sets sensible default values for configuration fields
// that are not explicitly set in the config file.
func applyDefaults(cfg *Config) {
	// Storage defaults
	if cfg.Storage.Mode == "" {
		cfg.Storage.Mode = StorageModeMemory
	}

	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8082
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}

	// Kafka defaults
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "rem-state-changes"
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = "rem-dispatcher"
	}

	// Redis defaults
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}

	// Postgres defaults
	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = "localhost"
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.Database == "" {
		cfg.Postgres.Database = "cognicity-rem"
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Postgres.MaxOpenConns == 0 {
		cfg.Postgres.MaxOpenConns = 25
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 5
	}

	// Logger defaults
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "json"
	}

	// REM table defaults
	if cfg.REM.ReportsTable == "" {
		cfg.REM.ReportsTable = "all_reports"
	}
	if cfg.REM.UnconfirmedReportsTable == "" {
		cfg.REM.UnconfirmedReportsTable = "tweet_reports_unconfirmed"
	}
	if len(cfg.REM.AggregateLevels) == 0 {
		cfg.REM.AggregateLevels = map[string]string{
			"city":        "jkt_city_boundary",
			"subdistrict": "jkt_subdistrict_boundary",
			"village":     "jkt_village_boundary",
			"rw":          "jkt_rw_boundary",
		}
	}
	if cfg.REM.DefaultLevel == "" {
		cfg.REM.DefaultLevel = "rw"
	}

	// CAP defaults
	if cfg.CAP.TimeZone == "" {
		cfg.CAP.TimeZone = "Asia/Jakarta"
	}
	if cfg.CAP.FeedID == "" {
		cfg.CAP.FeedID = "https://rem.petajakarta.org/data/api/v2/rem/flooded"
	}
	if cfg.CAP.FeedTitle == "" {
		cfg.CAP.FeedTitle = "Peta Jakarta REM Flooded RW Feed"
	}
	if cfg.CAP.AuthorName == "" {
		cfg.CAP.AuthorName = "Peta Jakarta REM"
	}
	if cfg.CAP.AuthorURI == "" {
		cfg.CAP.AuthorURI = "https://rem.petajakarta.org/"
	}
	if cfg.CAP.EntryBaseURL == "" {
		cfg.CAP.EntryBaseURL = cfg.CAP.FeedID
	}
	if cfg.CAP.Sender == "" {
		cfg.CAP.Sender = "BPBD.JAKARTA.GOV.ID"
	}
	if cfg.CAP.SenderName == "" {
		cfg.CAP.SenderName = "JAKARTA EMERGENCY MANAGEMENT AGENCY"
	}
	if cfg.CAP.Web == "" {
		cfg.CAP.Web = "http://petajakarta.org/banjir/id/map"
	}
	if cfg.CAP.IdentifierSeparator == "" {
		cfg.CAP.IdentifierSeparator = "."
	}
	if cfg.CAP.IdentifierSpace == "" {
		cfg.CAP.IdentifierSpace = "_"
	}
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if !c.Storage.Mode.IsValid() {
		return fmt.Errorf("invalid storage mode %q: must be %q or %q",
			c.Storage.Mode, StorageModeMemory, StorageModeStorage)
	}
	if _, ok := c.REM.AggregateLevels[c.REM.DefaultLevel]; !ok {
		return fmt.Errorf("default level %q is not an aggregate level", c.REM.DefaultLevel)
	}
	for name, table := range c.REM.AggregateLevels {
		if table == "" {
			return fmt.Errorf("aggregate level %q has no table", name)
		}
	}
	if strings.ContainsAny(c.CAP.IdentifierSeparator, " ,<&") {
		return errors.New("cap identifier_separator must not contain spaces, commas, '<' or '&'")
	}
	if strings.ContainsAny(c.CAP.IdentifierSpace, " ,<&") {
		return errors.New("cap identifier_space must not contain spaces, commas, '<' or '&'")
	}
	if _, err := time.LoadLocation(c.CAP.TimeZone); err != nil {
		return fmt.Errorf("invalid cap time_zone %q: %w", c.CAP.TimeZone, err)
	}
	return nil
}

// Address returns the full server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DSN returns the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address in host:port format.
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
