package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration. Values are resolved in
// three layers: built-in defaults, then an optional YAML file, then
// CANVASFLOW_* environment variables.
type Config struct {
	// Server holds the HTTP and metrics listener settings.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Engine holds execution engine and simulation settings.
	Engine EngineConfig `yaml:"engine" env:"ENGINE"`

	// Stream holds the live-status WebSocket client settings.
	Stream StreamConfig `yaml:"stream" env:"STREAM"`

	// History holds the run history store settings.
	History HistoryConfig `yaml:"history" env:"HISTORY"`

	// Database holds the relational database settings used by the
	// SQL history backend and migrations.
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log holds logger settings.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Metrics holds Prometheus exposition settings.
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Telemetry holds OpenTelemetry export settings.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	// HTTP API port
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Prometheus metrics port
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// Read timeout
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// Write timeout
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// Token-bucket rate limit for API requests, 0 disables limiting
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// Burst allowance for the API rate limiter
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// Origins allowed for cross-origin API and WebSocket access.
	// Empty rejects cross-origin requests.
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// EngineConfig configures the execution engine and the simulated
// executor it drives in local mode.
type EngineConfig struct {
	// Maximum nodes executing at once
	MaxConcurrency int `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	// Probability that a simulated integration attempt fails, 0..1
	FailureRate float64 `yaml:"failure_rate" env:"FAILURE_RATE"`
	// Artificial latency added to every simulated attempt
	Latency time.Duration `yaml:"latency" env:"LATENCY"`
	// Simulated external API quota, 0 means unlimited
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// Burst allowance for the simulated quota
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// Model name used to attribute token counts and cost
	DefaultModel string `yaml:"default_model" env:"DEFAULT_MODEL"`
}

// StreamConfig configures the WebSocket client that mirrors runs
// executed by a remote workflow service.
type StreamConfig struct {
	// Whether serve mode subscribes to a remote event stream
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// WebSocket endpoint, e.g. ws://host:port/events
	URL string `yaml:"url" env:"URL"`
	// Dial timeout per connection attempt
	DialTimeout time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	// Interval between heartbeat pings
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	// Time to wait for a pong before declaring the connection dead
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout" env:"HEARTBEAT_TIMEOUT"`
	// Reconnect attempts before giving up
	MaxReconnects int `yaml:"max_reconnects" env:"MAX_RECONNECTS"`
	// Delay before the first reconnect attempt
	ReconnectDelay time.Duration `yaml:"reconnect_delay" env:"RECONNECT_DELAY"`
	// Upper bound for the reconnect backoff
	MaxBackoff time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
	// Multiplier applied to the delay after each failed attempt
	BackoffMultiplier float64 `yaml:"backoff_multiplier" env:"BACKOFF_MULTIPLIER"`
	// Buffered events per subscription
	EventBuffer int `yaml:"event_buffer" env:"EVENT_BUFFER"`
}

// HistoryConfig configures where finished runs are recorded. The sql
// backend connects through the database section.
type HistoryConfig struct {
	// Backend: memory, file, redis, sql
	Type string `yaml:"type" env:"TYPE"`
	// Directory for the file backend
	BaseDir string `yaml:"base_dir" env:"BASE_DIR"`
	// Redis settings for the redis backend
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
	// Background cleanup of old runs
	Cleanup CleanupConfig `yaml:"cleanup" env:"CLEANUP"`
}

// RedisConfig configures the Redis history backend.
type RedisConfig struct {
	// Host
	Host string `yaml:"host" env:"HOST"`
	// Port
	Port int `yaml:"port" env:"PORT"`
	// Password
	Password string `yaml:"password" env:"PASSWORD"`
	// Database number
	DB int `yaml:"db" env:"DB"`
	// Connection pool size
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// Prefix applied to every key
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// CleanupConfig configures periodic deletion of old run records.
type CleanupConfig struct {
	// Whether the background sweep runs
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Interval between sweeps
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
	// Age past which a finished run is deleted
	Retention time.Duration `yaml:"retention" env:"RETENTION"`
}

// DatabaseConfig configures the relational database.
type DatabaseConfig struct {
	// Driver: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// Host
	Host string `yaml:"host" env:"HOST"`
	// Port
	Port int `yaml:"port" env:"PORT"`
	// User
	User string `yaml:"user" env:"USER"`
	// Password
	Password string `yaml:"password" env:"PASSWORD"`
	// Database name, or file path for sqlite
	Name string `yaml:"name" env:"NAME"`
	// SSL mode for postgres
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// Maximum open connections
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// Maximum idle connections
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// Connection lifetime limit
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// Idle connection lifetime limit
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// Output paths
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// Annotate entries with the calling site
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// Attach stack traces to error entries
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// MetricsConfig configures Prometheus exposition.
type MetricsConfig struct {
	// Whether the metrics listener starts
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Scrape path
	Path string `yaml:"path" env:"PATH"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	// Whether traces and metrics are exported
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP gRPC endpoint
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// Service name stamped on the resource
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// Trace sampling ratio, 0..1
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader resolves configuration from defaults, an optional YAML file,
// and environment variables, in that order.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the CANVASFLOW environment prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "CANVASFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file to load. A missing file is not an
// error; defaults and environment variables still apply.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validator run after all layers are applied.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks the config struct and overrides any field
// whose CANVASFLOW_<SECTION>_<FIELD> variable is set.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration is an int64 underneath but reads as "30s".
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads configuration from the given path and panics on
// failure. Intended for main functions.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads configuration from defaults and environment
// variables only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks the configuration for values no component could
// start with. All problems are reported at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Metrics.Enabled && (c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535) {
		errs = append(errs, "invalid metrics port")
	}

	if c.Engine.MaxConcurrency <= 0 {
		errs = append(errs, "engine max_concurrency must be positive")
	}
	if c.Engine.FailureRate < 0 || c.Engine.FailureRate > 1 {
		errs = append(errs, "engine failure_rate must be between 0 and 1")
	}

	if c.Stream.Enabled {
		if c.Stream.URL == "" {
			errs = append(errs, "stream url is required when stream is enabled")
		}
		if c.Stream.BackoffMultiplier < 1 {
			errs = append(errs, "stream backoff_multiplier must be at least 1")
		}
		if c.Stream.MaxReconnects < 0 {
			errs = append(errs, "stream max_reconnects must not be negative")
		}
	}

	switch c.History.Type {
	case "memory", "file", "redis", "sql", "":
	default:
		errs = append(errs, fmt.Sprintf("unknown history type %q", c.History.Type))
	}
	if c.History.Type == "file" && c.History.BaseDir == "" {
		errs = append(errs, "history base_dir is required for the file backend")
	}
	if c.History.Type == "sql" {
		switch c.Database.Driver {
		case "postgres", "mysql", "sqlite":
		default:
			errs = append(errs, fmt.Sprintf("unknown database driver %q", c.Database.Driver))
		}
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the connection string for the configured driver.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
