package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"rywrouter/pkg/validation"
)

// ErrInvalidConfig marks every configuration error. The process must not
// start when LoadConfig returns an error carrying this mark.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	GRPC        GRPCConfig        `mapstructure:"grpc"`
	Consistency ConsistencyConfig `mapstructure:"consistency"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GRPCConfig controls the gRPC health endpoint. Port 0 disables it and an
// empty Host falls back to server.host.
type GRPCConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"min=0,max=65535"`
}

// ConsistencyConfig holds the read-your-writes parameters. Both durations
// are fixed for the lifetime of the process.
type ConsistencyConfig struct {
	// Window is how long after a write an identity's fresh reads go to the leader.
	Window time.Duration `mapstructure:"window"`
	// Retention is the marker TTL. It must not be shorter than Window.
	Retention time.Duration `mapstructure:"retention"`
	// FailClosedUnknownIdentity sends fresh reads without an identity to
	// the leader instead of a follower.
	FailClosedUnknownIdentity bool `mapstructure:"fail_closed_unknown_identity"`
}

// CacheConfig selects the shared marker store.
type CacheConfig struct {
	Backend   string        `mapstructure:"backend" validate:"oneof=redis badger memory ristretto"`
	// Timeout bounds each marker store call. Zero disables the bound.
	Timeout   time.Duration `mapstructure:"timeout"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	MaxCost   int64         `mapstructure:"max_cost" validate:"min=0"`
	Redis     RedisConfig   `mapstructure:"redis"`
	Badger    BadgerConfig  `mapstructure:"badger"`
}

// RedisConfig configures the redis connection pool.
type RedisConfig struct {
	Address     string        `mapstructure:"address"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db" validate:"min=0"`
	MaxIdle     int           `mapstructure:"max_idle" validate:"min=0"`
	MaxActive   int           `mapstructure:"max_active" validate:"min=0"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// BadgerConfig configures the embedded marker store.
type BadgerConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// DatabaseConfig holds the leader and follower connection strings.
type DatabaseConfig struct {
	LeaderDSN   string `mapstructure:"leader_dsn" validate:"required"`
	FollowerDSN string `mapstructure:"follower_dsn" validate:"required"`
	MaxConns    int32  `mapstructure:"max_conns" validate:"min=1"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// MetricsConfig contains metrics configuration. An empty Host falls back
// to server.host.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoadConfig reads configuration from file and environment and validates
// all of it.
func LoadConfig(configPath string) (*Config, error) {
	cfg, err := Read(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read loads configuration without validating it. Tools that only touch the
// marker store use it together with ValidateRouting.
func Read(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/rywrouter")
	}

	setDefaults(v)

	// RYW_CONSISTENCY_WINDOW overrides consistency.window, and so on.
	v.SetEnvPrefix("RYW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Mark(errors.Wrap(err, "read config file"), ErrInvalidConfig)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "unmarshal config"), ErrInvalidConfig)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("grpc.host", "")
	v.SetDefault("grpc.port", 9090)

	v.SetDefault("consistency.window", 5*time.Second)
	v.SetDefault("consistency.retention", 10*time.Minute)
	v.SetDefault("consistency.fail_closed_unknown_identity", false)

	v.SetDefault("cache.backend", "redis")
	v.SetDefault("cache.timeout", 250*time.Millisecond)
	v.SetDefault("cache.key_prefix", "")
	v.SetDefault("cache.max_cost", 64<<20)
	v.SetDefault("cache.redis.address", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.max_idle", 16)
	v.SetDefault("cache.redis.max_active", 0)
	v.SetDefault("cache.redis.idle_timeout", 240*time.Second)
	v.SetDefault("cache.badger.data_dir", "./data/markers")

	v.SetDefault("database.leader_dsn", "")
	v.SetDefault("database.follower_dsn", "")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.host", "")
	v.SetDefault("metrics.port", 9100)
	v.SetDefault("metrics.path", "/metrics")
}

func invalid(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidConfig)
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if err := validation.For("mapstructure").Struct(c); err != nil {
		return translate(err, "")
	}
	if err := c.validateRouting(); err != nil {
		return err
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return invalid("metrics.port must be between 1 and 65535")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return invalid("metrics.path must start with /")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return invalid("server timeouts must not be negative")
	}

	return nil
}

// ValidateRouting checks only the consistency and cache sections.
func (c *Config) ValidateRouting() error {
	if err := validation.For("mapstructure").Struct(c.Cache); err != nil {
		return translate(err, "cache.")
	}
	return c.validateRouting()
}

func (c *Config) validateRouting() error {
	if c.Consistency.Window <= 0 {
		return invalid("consistency.window must be positive, got %s", c.Consistency.Window)
	}
	if c.Consistency.Retention < c.Consistency.Window {
		return invalid("consistency.retention (%s) must not be shorter than consistency.window (%s)",
			c.Consistency.Retention, c.Consistency.Window)
	}
	if c.Cache.Timeout < 0 {
		return invalid("cache.timeout must not be negative")
	}

	switch c.Cache.Backend {
	case "redis":
		if c.Cache.Redis.Address == "" {
			return invalid("cache.redis.address is required for the redis backend")
		}
	case "badger":
		if c.Cache.Badger.DataDir == "" {
			return invalid("cache.badger.data_dir is required for the badger backend")
		}
		c.Cache.Badger.DataDir = filepath.Clean(c.Cache.Badger.DataDir)
	}

	return nil
}

// translate turns validator errors into config-key messages.
func translate(err error, prefix string) error {
	errs := validation.Errors(err, prefix)
	if errs == nil {
		return errors.Mark(errors.Wrap(err, "validate config"), ErrInvalidConfig)
	}
	return invalid("%s", validation.Summary(errs))
}
