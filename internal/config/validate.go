package config

import (
	"fmt"
	"strings"
)

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be between 1 and 65535, got %d", cfg.Server.Port))
	}
	if !isValidEnum(cfg.Server.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("server.log_level must be one of %v, got %q", ValidLogLevels, cfg.Server.LogLevel))
	}
	if cfg.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}
	if cfg.Server.ReadTimeoutSeconds < 0 {
		errs = append(errs, fmt.Sprintf("server.read_timeout_seconds must be non-negative, got %d", cfg.Server.ReadTimeoutSeconds))
	}
	if cfg.Server.IdleTimeoutSeconds < 0 {
		errs = append(errs, fmt.Sprintf("server.idle_timeout_seconds must be non-negative, got %d", cfg.Server.IdleTimeoutSeconds))
	}
	if cfg.Server.MaxBodySize < 0 {
		errs = append(errs, fmt.Sprintf("server.max_body_size must be non-negative, got %d", cfg.Server.MaxBodySize))
	}
	if cfg.Server.RequestTimeoutSeconds < 1 {
		errs = append(errs, fmt.Sprintf("server.request_timeout_seconds must be positive, got %d", cfg.Server.RequestTimeoutSeconds))
	}
	if cfg.Server.UpstreamIdleTimeoutSeconds < 1 {
		errs = append(errs, fmt.Sprintf("server.upstream_idle_timeout_seconds must be positive, got %d", cfg.Server.UpstreamIdleTimeoutSeconds))
	}

	if cfg.Admin.Enabled && cfg.Admin.Password == "" {
		errs = append(errs, "admin.password must be set when admin.enabled is true")
	}

	if cfg.Signature.MaxEntries < 1 {
		errs = append(errs, fmt.Sprintf("signature.max_entries must be positive, got %d", cfg.Signature.MaxEntries))
	}
	if cfg.Signature.DBPath == "" {
		errs = append(errs, "signature.db_path must not be empty")
	}
	if cfg.Signature.TTLDefaultSeconds < 1 {
		errs = append(errs, fmt.Sprintf("signature.ttl_default_seconds must be positive, got %d", cfg.Signature.TTLDefaultSeconds))
	}
	for kind, secs := range cfg.Signature.TTLOverrides {
		if secs < 1 {
			errs = append(errs, fmt.Sprintf("signature.ttl_overrides[%q] must be positive, got %d", kind, secs))
		}
	}

	if cfg.Credential.MaxBackoffLevel < 1 {
		errs = append(errs, fmt.Sprintf("credential.max_backoff_level must be at least 1, got %d", cfg.Credential.MaxBackoffLevel))
	}
	if cfg.Credential.CredentialsPath == "" {
		errs = append(errs, "credential.credentials_path must not be empty")
	}

	if cfg.Tracing.Enabled {
		validExporters := []string{"stdout", "otlp-grpc", "otlp-http"}
		if !isValidEnum(cfg.Tracing.Exporter, validExporters) {
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of %v, got %q", validExporters, cfg.Tracing.Exporter))
		}
		if cfg.Tracing.ServiceName == "" {
			errs = append(errs, "tracing.service_name must not be empty when tracing is enabled")
		}
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %f", cfg.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum returns true if val is in the allowed list (case-insensitive).
func isValidEnum(val string, allowed []string) bool {
	lower := strings.ToLower(val)
	for _, a := range allowed {
		if strings.ToLower(a) == lower {
			return true
		}
	}
	return false
}
