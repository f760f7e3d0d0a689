package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_InvalidServerPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.Port = 70000

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for port out of range")
	}
	if !strings.Contains(err.Error(), "max") {
		t.Errorf("Expected 'max' validation error, got: %v", err)
	}
}

func TestValidate_NegativeClientPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Client.Port = -1

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for negative port")
	}
}

func TestValidate_ReservedCharactersInCredentials(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"server username", func(c *Config) { c.Server.Username = "ad<min" }},
		{"server password", func(c *Config) { c.Server.Password = "pass>" }},
		{"client username", func(c *Config) { c.Client.Username = "<" }},
		{"client password", func(c *Config) { c.Client.Password = "a>b" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error for reserved character")
			}
			if !strings.Contains(err.Error(), "excludesall") {
				t.Errorf("Expected 'excludesall' validation error, got: %v", err)
			}
		})
	}
}

func TestValidate_KeySize(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.KeySize = 512
	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for a key below 1024 bits")
	}

	cfg = GetDefaultConfig()
	cfg.Client.KeySize = 2049
	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for a key size that is not whole bytes")
	}
	if !strings.Contains(err.Error(), "client.key_size") {
		t.Errorf("Expected error about client.key_size, got: %v", err)
	}
}

func TestValidate_ZeroWorkers(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.Workers = 0

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for zero workers")
	}
}

func TestValidate_NegativeAuthTimeout(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.AuthTimeout = -time.Second

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for negative auth timeout")
	}
}

func TestValidate_InvalidBindAddress(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Server.BindAddress = "not-an-ip"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for invalid bind address")
	}
}

func TestValidate_MetricsPortConflict(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = cfg.Server.Port

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for clashing ports")
	}
	if !strings.Contains(err.Error(), "metrics.port") {
		t.Errorf("Expected error about metrics.port, got: %v", err)
	}
}

func TestValidate_TelemetryEnabledWithoutEndpoint(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Endpoint = ""

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for telemetry without endpoint")
	}
}

func TestValidate_InvalidSampleRate(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.SampleRate = 1.5

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for sample rate above 1")
	}
}
