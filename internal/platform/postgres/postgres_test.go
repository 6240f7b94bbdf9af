package postgres

import "testing"

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	if cfg.MaxIdleConns > cfg.MaxOpenConns {
		t.Fatalf("default idle conns exceed open conns")
	}
}

func TestConfigValidateRejectsBadPool(t *testing.T) {
	cfg := Config{URL: "postgres://x", PingTimeout: 1, MaxOpenConns: 2, MaxIdleConns: 5}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error when idle conns exceed open conns")
	}
}

func TestConfigValidateRequiresURL(t *testing.T) {
	cfg := Config{PingTimeout: 1, MaxOpenConns: 1}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing URL")
	}
}
