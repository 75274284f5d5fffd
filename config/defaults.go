package config

import "time"

// DefaultConfig returns the configuration used when no file or
// environment overrides are present.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Engine:    DefaultEngineConfig(),
		Stream:    DefaultStreamConfig(),
		History:   DefaultHistoryConfig(),
		Database:  DefaultDatabaseConfig(),
		Log:       DefaultLogConfig(),
		Metrics:   DefaultMetricsConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default listener settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultEngineConfig returns the default engine settings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxConcurrency: 8,
		FailureRate:    0.25,
		Latency:        0,
		RateLimitRPS:   0,
		RateLimitBurst: 0,
		DefaultModel:   "gpt-4o",
	}
}

// DefaultStreamConfig returns the default stream client settings.
// Disabled by default; serve mode runs workflows locally unless a
// remote event stream is configured.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Enabled:           false,
		URL:               "",
		DialTimeout:       10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
		MaxReconnects:     5,
		ReconnectDelay:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		EventBuffer:       64,
	}
}

// DefaultHistoryConfig returns the default run history settings.
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Type:    "memory",
		BaseDir: "./data/history",
		Redis: RedisConfig{
			Host:      "localhost",
			Port:      6379,
			Password:  "",
			DB:        0,
			PoolSize:  10,
			KeyPrefix: "canvasflow:",
		},
		Cleanup: CleanupConfig{
			Enabled:   false,
			Interval:  time.Hour,
			Retention: 7 * 24 * time.Hour,
		},
	}
}

// DefaultDatabaseConfig returns the default database settings.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "canvasflow",
		Password:        "",
		Name:            "canvasflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// DefaultLogConfig returns the default logging settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultMetricsConfig returns the default metrics settings.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled: true,
		Path:    "/metrics",
	}
}

// DefaultTelemetryConfig returns the default telemetry settings.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "canvasflow",
		SampleRate:   0.1,
	}
}
