package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validJWTSecret meets the 32-character minimum requirement.
const validJWTSecret = "test-secret-key-at-least-32-chars!"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
redis:
  addr: "localhost:6379"
smtp:
  host: "smtp.example.com"
  from: "auth@example.com"
api:
  host: "0.0.0.0"
  port: 8080
security:
  jwt:
    secret: "` + validJWTSecret + `"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want 8080", cfg.API.Port)
	}
	// Unset sections keep their defaults.
	if cfg.Security.JWT.AccessTokenTTL != 15 {
		t.Errorf("AccessTokenTTL = %d, want default 15", cfg.Security.JWT.AccessTokenTTL)
	}
	if cfg.Security.OTP.Digits != 6 {
		t.Errorf("OTP.Digits = %d, want default 6", cfg.Security.OTP.Digits)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	content := `
database:
  path: "/tmp/test.db"
smtp:
  host: "smtp.example.com"
  from: "auth@example.com"
`
	t.Setenv("AUTHCORE_JWT_SECRET", validJWTSecret)
	t.Setenv("AUTHCORE_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("AUTHCORE_SMTP_HOST", "smtp.override.example")

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Security.JWT.Secret != validJWTSecret {
		t.Error("env JWT secret not applied")
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Errorf("Redis.Addr = %q, want env override", cfg.Redis.Addr)
	}
	if cfg.SMTP.Host != "smtp.override.example" {
		t.Errorf("SMTP.Host = %q, want env override", cfg.SMTP.Host)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Security.JWT.Secret = validJWTSecret
		cfg.SMTP.Host = "smtp.example.com"
		cfg.SMTP.From = "auth@example.com"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "missing jwt secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "" },
			wantErr: "security.jwt.secret is required",
		},
		{
			name:    "short jwt secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "too-short" },
			wantErr: "at least 32 characters",
		},
		{
			name:    "missing smtp host",
			mutate:  func(c *Config) { c.SMTP.Host = "" },
			wantErr: "smtp.host is required",
		},
		{
			name:    "missing redis addr",
			mutate:  func(c *Config) { c.Redis.Addr = "" },
			wantErr: "redis.addr is required",
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
		{
			name: "refresh ttl not exceeding access ttl",
			mutate: func(c *Config) {
				c.Security.JWT.AccessTokenTTL = 60
				c.Security.JWT.RefreshTokenTTL = 30
			},
			wantErr: "refresh_token_ttl must exceed",
		},
		{
			name:    "otp digits out of range",
			mutate:  func(c *Config) { c.Security.OTP.Digits = 2 },
			wantErr: "security.otp.digits",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestTTLHelpers(t *testing.T) {
	sec := SecurityConfig{
		JWT: JWTConfig{AccessTokenTTL: 15, RefreshTokenTTL: 7 * 24 * 60},
		OTP: OTPConfig{TTL: 5},
	}

	if got := sec.AccessTokenTTL(); got != 15*time.Minute {
		t.Errorf("AccessTokenTTL = %v", got)
	}
	if got := sec.RefreshTokenTTL(); got != 7*24*time.Hour {
		t.Errorf("RefreshTokenTTL = %v", got)
	}
	if got := sec.OTPTTL(); got != 5*time.Minute {
		t.Errorf("OTPTTL = %v", got)
	}
}
