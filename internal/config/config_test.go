package config

import (
	"testing"
	"time"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Identity.Issuer != "https://auth.example.com" {
		t.Errorf("Identity.Issuer = %q", cfg.Identity.Issuer)
	}
	if cfg.Identity.Audience != "ledgerflow" {
		t.Errorf("Identity.Audience = %q", cfg.Identity.Audience)
	}
	if len(cfg.Identity.Algorithms) != 2 {
		t.Errorf("Identity.Algorithms = %v, want 2 entries", cfg.Identity.Algorithms)
	}
	if cfg.Store.Driver != "postgres" {
		t.Errorf("Store.Driver = %q, want postgres", cfg.Store.Driver)
	}
	if cfg.Store.MaxOpenConns != 10 {
		t.Errorf("Store.MaxOpenConns = %d, want 10", cfg.Store.MaxOpenConns)
	}
	if !cfg.Engine.EnforceMandatoryEvents {
		t.Error("Engine.EnforceMandatoryEvents = false, want true")
	}
	if cfg.Engine.LockWaitTimeout != 2*time.Second {
		t.Errorf("Engine.LockWaitTimeout = %v, want 2s", cfg.Engine.LockWaitTimeout)
	}
	if !cfg.Engine.Idempotency.Enabled || cfg.Engine.Idempotency.Driver != "redis" {
		t.Errorf("Engine.Idempotency = %+v, want enabled redis", cfg.Engine.Idempotency)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.Observability.LogLevel)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_missing_identity(t *testing.T) {
	_, err := Load("testdata/missing_identity.yaml")
	if err == nil {
		t.Fatal("Load() with missing identity should return error")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("default Store.Driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Engine.EnforceMandatoryEvents {
		t.Error("mandatory event enforcement must default to off")
	}
	if cfg.Engine.LockWaitTimeout != 5*time.Second {
		t.Errorf("default Engine.LockWaitTimeout = %v, want 5s", cfg.Engine.LockWaitTimeout)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LEDGERFLOW_SERVER_PORT", "3000")
	t.Setenv("LEDGERFLOW_IDENTITY_ISSUER", "https://env-issuer.com")
	t.Setenv("LEDGERFLOW_STORE_DRIVER", "memory")
	t.Setenv("LEDGERFLOW_OBSERVABILITY_LOG_LEVEL", "error")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override)", cfg.Server.Port)
	}
	if cfg.Identity.Issuer != "https://env-issuer.com" {
		t.Errorf("Identity.Issuer = %q, want env override", cfg.Identity.Issuer)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Store.Driver = %q, want memory (env override)", cfg.Store.Driver)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env override)", cfg.Observability.LogLevel)
	}
}

func TestValidate_invalid_port(t *testing.T) {
	cfg := Defaults()
	cfg.Identity.Issuer = "https://auth.example.com"
	cfg.Identity.JWKSURL = "https://auth.example.com/.well-known/jwks.json"
	cfg.Identity.Audience = "ledgerflow"
	cfg.Server.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with port 0 should return error")
	}
}

func TestValidate_bad_driver(t *testing.T) {
	cfg := Defaults()
	cfg.Identity.Issuer = "https://auth.example.com"
	cfg.Identity.JWKSURL = "https://auth.example.com/.well-known/jwks.json"
	cfg.Identity.Audience = "ledgerflow"
	cfg.Store.Driver = "mongodb"

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with unsupported driver should return error")
	}
}
