package objectstore

import "testing"

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.BucketExports == "" {
		t.Fatalf("expected default exports bucket")
	}
}

func TestConfigValidateRejectsScheme(t *testing.T) {
	cfg := Config{
		Endpoint:      "https://minio.local:9000",
		AccessKey:     "a",
		SecretKey:     "s",
		Region:        "us-east-1",
		BucketExports: "evaluation-exports",
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for endpoint with scheme")
	}
}
