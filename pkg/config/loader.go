package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const EnvPrefix = "TASKPULSE"

// Load reads configuration from a file and environment variables.
// fileName is either a bare config name looked up in the working directory or a path with an
// extension.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	// 1. Set default values
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.auth.jwtSecret", "default-secret-key-change-me")
	v.SetDefault("server.auth.tokenTTL", "24h")
	v.SetDefault("server.connectionLimit.maxPerUser", 0)
	v.SetDefault("server.connectionLimit.mode", "reject")
	v.SetDefault("server.metricsPath", "/metrics")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("transport.readTimeout", "0s")
	v.SetDefault("transport.writeTimeout", "10s")
	v.SetDefault("transport.heartbeatInterval", "25s")
	v.SetDefault("transport.sendQueueSize", 256)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.maxOpenConns", 10)
	v.SetDefault("storage.maxIdleConns", 5)
	v.SetDefault("storage.connMaxLifetime", "5m")
	v.SetDefault("storage.queryTimeout", "5s")
	v.SetDefault("router.rateLimit", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// 2. Set config file details
	if ext := filepath.Ext(fileName); ext != "" {
		v.SetConfigFile(fileName)
	} else {
		v.SetConfigName(fileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".") // look for config in the working directory
	}

	// 3. Set up environment variable handling
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			// Config file was found but another error was produced
			return nil, err
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	// 5. Unmarshal the configuration into our struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Info("Configuration loaded",
		slog.String("address", cfg.Server.Address),
		slog.String("storage", cfg.Storage.Driver),
	)
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Server.ConnectionLimit.Mode {
	case "reject", "cycle":
	default:
		return fmt.Errorf("invalid connection limit mode '%s'", c.Server.ConnectionLimit.Mode)
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres", "sqlite":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage driver '%s' requires a dsn", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unknown storage driver '%s'", c.Storage.Driver)
	}
	if strings.TrimSpace(c.Server.Auth.JWTSecret) == "" {
		return errors.New("server.auth.jwtSecret must not be empty")
	}
	if _, err := CompileTopicPolicy(c.Topics); err != nil {
		return err
	}
	return nil
}
