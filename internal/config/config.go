package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

// set stores a new Config atomically.
func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for the gateway.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"     toml:"server"`
	Admin      AdminConfig      `mapstructure:"admin"      toml:"admin"`
	Signature  SignatureConfig  `mapstructure:"signature"  toml:"signature"`
	Credential CredentialConfig `mapstructure:"credential" toml:"credential"`
	Tracing    TracingConfig    `mapstructure:"tracing"    toml:"tracing"`
}

// ServerConfig holds the core HTTP server settings.
type ServerConfig struct {
	BindAddress                string `mapstructure:"bind_address"                   toml:"bind_address"`
	Port                       int    `mapstructure:"port"                           toml:"port"`
	LogLevel                   string `mapstructure:"log_level"                      toml:"log_level"`
	DataDir                    string `mapstructure:"data_dir"                       toml:"data_dir"`
	ReadTimeoutSeconds         int    `mapstructure:"read_timeout_seconds"           toml:"read_timeout_seconds"`
	IdleTimeoutSeconds         int    `mapstructure:"idle_timeout_seconds"           toml:"idle_timeout_seconds"`
	MaxBodySize                int64  `mapstructure:"max_body_size"                  toml:"max_body_size"`
	RequestTimeoutSeconds      int    `mapstructure:"request_timeout_seconds"        toml:"request_timeout_seconds"`
	UpstreamIdleTimeoutSeconds int    `mapstructure:"upstream_idle_timeout_seconds"  toml:"upstream_idle_timeout_seconds"`
}

// RequestTimeout returns the inbound request deadline as a duration.
func (s ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

// UpstreamIdleTimeout returns the upstream read-idle deadline as a duration.
func (s ServerConfig) UpstreamIdleTimeout() time.Duration {
	return time.Duration(s.UpstreamIdleTimeoutSeconds) * time.Second
}

// AdminConfig controls the read-only admin endpoint's password check.
type AdminConfig struct {
	Enabled  bool   `mapstructure:"enabled"  toml:"enabled"`
	Password string `mapstructure:"password" toml:"password"`
}

// SignatureConfig controls the Signature Store's hot/durable tiers and
// per-client TTL policy (spec.md section 6 env vars SIGCACHE_*).
type SignatureConfig struct {
	MaxEntries        int            `mapstructure:"max_entries"         toml:"max_entries"`
	DBPath            string         `mapstructure:"db_path"             toml:"db_path"`
	TTLDefaultSeconds int            `mapstructure:"ttl_default_seconds" toml:"ttl_default_seconds"`
	TTLOverrides      map[string]int `mapstructure:"ttl_overrides"       toml:"ttl_overrides"` // client kind -> seconds
}

// TTLFor implements signature.TTLPolicy.
func (s SignatureConfig) TTLFor(clientKind string) time.Duration {
	if secs, ok := s.TTLOverrides[clientKind]; ok {
		return time.Duration(secs) * time.Second
	}
	return time.Duration(s.TTLDefaultSeconds) * time.Second
}

// LiveSignatureTTLPolicy implements signature.TTLPolicy by reading the
// current config on every call rather than a value captured at startup, so
// a hot-reloaded TTL default or per-client override (Watch/OnChange) takes
// effect for the Signature Store's next lookup without a restart.
type LiveSignatureTTLPolicy struct{}

func (LiveSignatureTTLPolicy) TTLFor(clientKind string) time.Duration {
	return Get().Signature.TTLFor(clientKind)
}

// CredentialConfig controls the Credential Pool's backoff cap and the
// directory of per-credential JSON files the loader reads at startup.
type CredentialConfig struct {
	MaxBackoffLevel int    `mapstructure:"max_backoff_level" toml:"max_backoff_level"`
	CredentialsPath string `mapstructure:"credentials_path"  toml:"credentials_path"`
}

// TracingConfig controls OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"      toml:"enabled"`
	Exporter    string  `mapstructure:"exporter"     toml:"exporter"`     // "stdout", "otlp-grpc", "otlp-http"
	Endpoint    string  `mapstructure:"endpoint"     toml:"endpoint"`     // e.g. "localhost:4317"
	ServiceName string  `mapstructure:"service_name" toml:"service_name"` // defaults to "sigproxy"
	SampleRate  float64 `mapstructure:"sample_rate"  toml:"sample_rate"`  // 0.0 to 1.0
	Insecure    bool    `mapstructure:"insecure"     toml:"insecure"`     // skip TLS for dev
}

// clientKinds lists every message.ClientKind string, duplicated here (not
// imported from internal/message) to keep config free of a dependency on
// the request-processing packages it configures.
var clientKinds = []string{"generic", "cursor", "windsurf", "augment"}

// Load reads configuration from disk with the following precedence:
//  1. Environment variables (SIGPROXY_ prefix, plus the literal spec names
//     below for backward-compatible operator scripts)
//  2. The file at explicitPath if non-empty
//  3. ~/.sigproxy/sigproxy.toml
//  4. ./sigproxy.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	setViperDefaults(v)

	v.SetEnvPrefix("SIGPROXY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLiteralEnvNames(v)

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".sigproxy"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("sigproxy")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)
	cfg.Signature.DBPath = expandHome(cfg.Signature.DBPath)
	cfg.Credential.CredentialsPath = expandHome(cfg.Credential.CredentialsPath)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// bindLiteralEnvNames binds the literal environment variable names spec.md
// section 6 names, so operators relying on those exact names (rather than
// the SIGPROXY_-prefixed viper convention) still see them honored.
func bindLiteralEnvNames(v *viper.Viper) {
	_ = v.BindEnv("signature.max_entries", "SIGCACHE_MAX_ENTRIES")
	_ = v.BindEnv("signature.db_path", "SIGCACHE_DB_PATH")
	_ = v.BindEnv("credential.max_backoff_level", "CREDENTIAL_MAX_BACKOFF_LEVEL")
	_ = v.BindEnv("server.request_timeout_seconds", "REQUEST_TIMEOUT_SECONDS")
	_ = v.BindEnv("server.upstream_idle_timeout_seconds", "UPSTREAM_IDLE_TIMEOUT_SECONDS")
	for _, kind := range clientKinds {
		key := fmt.Sprintf("signature.ttl_overrides.%s", kind)
		envName := "SIGCACHE_TTL_" + strings.ToUpper(kind)
		_ = v.BindEnv(key, envName)
	}
}

// InitConfig writes the default configuration file to ~/.sigproxy/sigproxy.toml.
// If the file already exists it is not overwritten.
func InitConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".sigproxy")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	cfg := DefaultConfig()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	return nil
}

// ExportConfig writes the current config to the given path in TOML format.
func ExportConfig(path string) error {
	cfg := Get()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ImportConfig reads a TOML file, validates it, makes it the active
// config, and persists it to the currently loaded config file path (if
// any) so the change survives a restart.
func ImportConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return err
	}
	set(cfg)

	if dest := ConfigFilePath(); dest != "" {
		out, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config for persistence: %w", err)
		}
		if err := os.WriteFile(dest, out, 0o600); err != nil {
			return fmt.Errorf("persisting imported config: %w", err)
		}
	}
	return nil
}

// ConfigFilePath returns the path of the config file that was loaded, or
// empty if no file was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// setViperDefaults registers every known key with viper so that env var
// binding works for all fields even when no config file is present.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.bind_address", d.Server.BindAddress)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.log_level", d.Server.LogLevel)
	v.SetDefault("server.data_dir", d.Server.DataDir)
	v.SetDefault("server.read_timeout_seconds", d.Server.ReadTimeoutSeconds)
	v.SetDefault("server.idle_timeout_seconds", d.Server.IdleTimeoutSeconds)
	v.SetDefault("server.max_body_size", d.Server.MaxBodySize)
	v.SetDefault("server.request_timeout_seconds", d.Server.RequestTimeoutSeconds)
	v.SetDefault("server.upstream_idle_timeout_seconds", d.Server.UpstreamIdleTimeoutSeconds)

	v.SetDefault("admin.enabled", d.Admin.Enabled)
	v.SetDefault("admin.password", d.Admin.Password)

	v.SetDefault("signature.max_entries", d.Signature.MaxEntries)
	v.SetDefault("signature.db_path", d.Signature.DBPath)
	v.SetDefault("signature.ttl_default_seconds", d.Signature.TTLDefaultSeconds)
	for kind, secs := range d.Signature.TTLOverrides {
		v.SetDefault(fmt.Sprintf("signature.ttl_overrides.%s", kind), secs)
	}

	v.SetDefault("credential.max_backoff_level", d.Credential.MaxBackoffLevel)
	v.SetDefault("credential.credentials_path", d.Credential.CredentialsPath)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
