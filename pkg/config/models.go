package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Storage   StorageConfig
	Router    RouterConfig
	Logging   LoggingConfig
	// Topics overrides the permission gating a built-in topic, by permission name.
	Topics map[string]string `mapstructure:"topics"`
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
	MetricsPath     string                `mapstructure:"metricsPath"`
	ShutdownTimeout time.Duration         `mapstructure:"shutdownTimeout"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwtSecret"`
	TokenTTL  time.Duration `mapstructure:"tokenTTL"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout       time.Duration `mapstructure:"readTimeout"`
	WriteTimeout      time.Duration `mapstructure:"writeTimeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeatInterval"`
	SendQueueSize     int           `mapstructure:"sendQueueSize"`
}

type StorageConfig struct {
	Driver          string        `mapstructure:"driver"` // memory, postgres or sqlite
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
	QueryTimeout    time.Duration `mapstructure:"queryTimeout"`
	Users           []SeedUser    `mapstructure:"users"`
}

// SeedUser preloads the in-memory user directory.
type SeedUser struct {
	ID       string `mapstructure:"id"`
	Email    string `mapstructure:"email"`
	Username string `mapstructure:"username"`
	Staff    bool   `mapstructure:"staff"`
}

type RouterConfig struct {
	RateLimit string `mapstructure:"rateLimit"` // e.g. "20/s"; empty disables
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
