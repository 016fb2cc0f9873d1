package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Server.DataDir = "/tmp/test"
	cfg.Signature.DBPath = "/tmp/test/signatures.db"
	cfg.Credential.CredentialsPath = "/tmp/test/credentials.json"
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := validate(cfg); err != nil {
		t.Fatalf("validate valid config: %v", err)
	}
}

func TestValidate_BadPort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 70000

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for port 70000")
	}
	if !strings.Contains(err.Error(), "port") {
		t.Errorf("error should mention port: %v", err)
	}
}

func TestValidate_BadLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Server.LogLevel = "verbose"

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for invalid log level")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level: %v", err)
	}
}

func TestValidate_EmptyDataDir(t *testing.T) {
	cfg := validConfig()
	cfg.Server.DataDir = ""

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for empty data_dir")
	}
}

func TestValidate_NegativeReadTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Server.ReadTimeoutSeconds = -1

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for negative read_timeout_seconds")
	}
}

func TestValidate_ZeroRequestTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Server.RequestTimeoutSeconds = 0

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for zero request_timeout_seconds")
	}
}

func TestValidate_ZeroUpstreamIdleTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Server.UpstreamIdleTimeoutSeconds = 0

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for zero upstream_idle_timeout_seconds")
	}
}

func TestValidate_AdminPasswordRequired(t *testing.T) {
	cfg := validConfig()
	cfg.Admin.Enabled = true
	cfg.Admin.Password = ""

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for enabled admin with no password")
	}
}

func TestValidate_SignatureMaxEntriesZero(t *testing.T) {
	cfg := validConfig()
	cfg.Signature.MaxEntries = 0

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for max_entries = 0")
	}
}

func TestValidate_SignatureEmptyDBPath(t *testing.T) {
	cfg := validConfig()
	cfg.Signature.DBPath = ""

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for empty db_path")
	}
}

func TestValidate_SignatureTTLOverrideZero(t *testing.T) {
	cfg := validConfig()
	cfg.Signature.TTLOverrides["cursor"] = 0

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for zero ttl override")
	}
}

func TestValidate_CredentialMaxBackoffLevelZero(t *testing.T) {
	cfg := validConfig()
	cfg.Credential.MaxBackoffLevel = 0

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for max_backoff_level = 0")
	}
}

func TestValidate_CredentialsPathEmpty(t *testing.T) {
	cfg := validConfig()
	cfg.Credential.CredentialsPath = ""

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for empty credentials_path")
	}
}

func TestValidate_TracingBadExporter(t *testing.T) {
	cfg := validConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "carrier-pigeon"

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for invalid tracing exporter")
	}
}

func TestValidate_TracingSampleRateOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Tracing.SampleRate = 1.5

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for sample_rate > 1")
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.Server.LogLevel = "bad"

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected multiple validation errors")
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "port") || !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention multiple fields: %v", err)
	}
}

func TestIsValidEnum(t *testing.T) {
	if !isValidEnum("INFO", ValidLogLevels) {
		t.Error("INFO should be valid (case-insensitive)")
	}
	if isValidEnum("verbose", ValidLogLevels) {
		t.Error("verbose should not be valid")
	}
}
