package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/a-essam23/taskpulse/pkg/config"
	"github.com/a-essam23/taskpulse/pkg/logging"
	"github.com/a-essam23/taskpulse/pkg/state"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := config.Load(logging.Discard(), "config")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("expected default address :8080, got %q", cfg.Server.Address)
	}
	if cfg.Transport.HeartbeatInterval != 25*time.Second || cfg.Transport.ReadTimeout != 0 {
		t.Errorf("expected heartbeat-only liveness, got heartbeat %v read timeout %v",
			cfg.Transport.HeartbeatInterval, cfg.Transport.ReadTimeout)
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("expected memory storage, got %q", cfg.Storage.Driver)
	}
	if cfg.Server.ConnectionLimit.Mode != "reject" {
		t.Errorf("expected reject mode, got %q", cfg.Server.ConnectionLimit.Mode)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskpulse.yaml")
	body := `
server:
  address: ":9000"
  connectionLimit:
    maxPerUser: 3
    mode: cycle
storage:
  users:
    - id: "1"
      email: a@x.com
      staff: true
topics:
  admin_notifications: presence
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TASKPULSE_SERVER_AUTH_JWTSECRET", "from-env")

	cfg, err := config.Load(logging.Discard(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Address != ":9000" {
		t.Errorf("expected :9000, got %q", cfg.Server.Address)
	}
	if cfg.Server.ConnectionLimit.MaxPerUser != 3 || cfg.Server.ConnectionLimit.Mode != "cycle" {
		t.Errorf("unexpected connection limit: %+v", cfg.Server.ConnectionLimit)
	}
	if cfg.Server.Auth.JWTSecret != "from-env" {
		t.Errorf("env override not applied, got %q", cfg.Server.Auth.JWTSecret)
	}
	if len(cfg.Storage.Users) != 1 || cfg.Storage.Users[0].Email != "a@x.com" || !cfg.Storage.Users[0].Staff {
		t.Errorf("seed users not decoded: %+v", cfg.Storage.Users)
	}
	if cfg.Topics[state.TopicAdminNotifications] != "presence" {
		t.Errorf("topics not decoded: %+v", cfg.Topics)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() config.Config {
		return config.Config{
			Server: config.ServerConfig{
				Auth:            config.AuthConfig{JWTSecret: "s"},
				ConnectionLimit: config.ConnectionLimitConfig{Mode: "reject"},
			},
			Storage: config.StorageConfig{Driver: "memory"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bad limit mode", func(c *config.Config) { c.Server.ConnectionLimit.Mode = "drop" }},
		{"unknown driver", func(c *config.Config) { c.Storage.Driver = "mongo" }},
		{"postgres without dsn", func(c *config.Config) { c.Storage.Driver = "postgres" }},
		{"empty secret", func(c *config.Config) { c.Server.Auth.JWTSecret = " " }},
		{"gate on unknown topic", func(c *config.Config) { c.Topics = map[string]string{"ops": "presence"} }},
		{"unknown permission", func(c *config.Config) { c.Topics = map[string]string{state.TopicTasks: "root"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}

	cfg := base()
	if err := cfg.Validate(); err != nil {
		t.Errorf("base config should be valid: %v", err)
	}
}

func TestCompileTopicPolicy(t *testing.T) {
	policy, err := config.CompileTopicPolicy(map[string]string{
		state.TopicAdminNotifications: "presence",
		state.TopicTasks:              " Collaborate ",
	})
	if err != nil {
		t.Fatalf("CompileTopicPolicy failed: %v", err)
	}
	if policy[state.TopicAdminNotifications] != state.PermObservePresence {
		t.Errorf("report topic not re-gated: %v", policy)
	}
	if policy[state.TopicTasks] != state.PermCollaborate {
		t.Errorf("tasks gate lost: %v", policy)
	}
	if policy[state.TopicAdminOnline] != state.PermObservePresence {
		t.Error("untouched built-in gate missing")
	}

	if _, err := config.CompileTopicPolicy(map[string]string{"board": "collaborate"}); err == nil {
		t.Error("expected error for a topic the server never joins")
	}
}
