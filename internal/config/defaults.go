package config

// DefaultBindAddress is the default bind address (localhost only for security).
const DefaultBindAddress = "127.0.0.1"

// DefaultPort is the default port the gateway listens on.
const DefaultPort = 8787

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.sigproxy"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "sigproxy.toml"

// DefaultReadTimeoutSeconds is the default HTTP server read timeout.
const DefaultReadTimeoutSeconds = 10

// DefaultIdleTimeoutSeconds is the default HTTP server idle timeout.
const DefaultIdleTimeoutSeconds = 120

// DefaultMaxBodySize is the default maximum request body size in bytes (10 MB).
const DefaultMaxBodySize = 10 << 20

// DefaultRequestTimeoutSeconds bounds one inbound request end to end
// (spec.md section 6, REQUEST_TIMEOUT_SECONDS).
const DefaultRequestTimeoutSeconds = 120

// DefaultUpstreamIdleTimeoutSeconds is the default for
// server.upstream_idle_timeout_seconds (spec.md section 6,
// UPSTREAM_IDLE_TIMEOUT_SECONDS). The setting is loaded and validated, but
// the upstream client does not read it; internal/upstream uses its own
// fixed 120-second idleTimeout.
const DefaultUpstreamIdleTimeoutSeconds = 120

// DefaultSignatureMaxEntries is the default hot-tier LRU capacity
// (spec.md section 6, SIGCACHE_MAX_ENTRIES).
const DefaultSignatureMaxEntries = 10000

// DefaultSignatureDBPath is the default durable-tier SQLite file location
// (spec.md section 6, SIGCACHE_DB_PATH). It is a fixed path under the home
// directory and does not follow a changed server.data_dir.
const DefaultSignatureDBPath = "~/.sigproxy/signatures.db"

// DefaultSignatureTTLSeconds is the default per-record TTL (one hour).
const DefaultSignatureTTLSeconds = 3600

// DefaultCredentialMaxBackoffLevel caps a credential's backoff level
// (spec.md section 6, CREDENTIAL_MAX_BACKOFF_LEVEL); level 5 is the 6h top
// step of internal/credential's backoff schedule.
const DefaultCredentialMaxBackoffLevel = 5

// DefaultCredentialsPath is the default directory the credential loader
// scans at startup, one *.json file per credential.
const DefaultCredentialsPath = "~/.sigproxy/credentials"

// DefaultTracingExporter is the default tracing exporter type.
const DefaultTracingExporter = "otlp-grpc"

// DefaultTracingEndpoint is the default OTLP collector endpoint.
const DefaultTracingEndpoint = "localhost:4317"

// DefaultTracingServiceName is the default service name for traces.
const DefaultTracingServiceName = "sigproxy"

// DefaultTracingSampleRate is the default sampling rate (1.0 = 100%).
const DefaultTracingSampleRate = 1.0

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:                DefaultBindAddress,
			Port:                       DefaultPort,
			LogLevel:                   DefaultLogLevel,
			DataDir:                    DefaultDataDir,
			ReadTimeoutSeconds:         DefaultReadTimeoutSeconds,
			IdleTimeoutSeconds:         DefaultIdleTimeoutSeconds,
			MaxBodySize:                DefaultMaxBodySize,
			RequestTimeoutSeconds:      DefaultRequestTimeoutSeconds,
			UpstreamIdleTimeoutSeconds: DefaultUpstreamIdleTimeoutSeconds,
		},
		Admin: AdminConfig{
			Enabled:  false,
			Password: "",
		},
		Signature: SignatureConfig{
			MaxEntries:        DefaultSignatureMaxEntries,
			DBPath:            DefaultSignatureDBPath,
			TTLDefaultSeconds: DefaultSignatureTTLSeconds,
			TTLOverrides: map[string]int{
				"generic":  DefaultSignatureTTLSeconds,
				"cursor":   DefaultSignatureTTLSeconds,
				"windsurf": DefaultSignatureTTLSeconds,
				"augment":  DefaultSignatureTTLSeconds,
			},
		},
		Credential: CredentialConfig{
			MaxBackoffLevel: DefaultCredentialMaxBackoffLevel,
			CredentialsPath: DefaultCredentialsPath,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    DefaultTracingExporter,
			Endpoint:    DefaultTracingEndpoint,
			ServiceName: DefaultTracingServiceName,
			SampleRate:  DefaultTracingSampleRate,
			Insecure:    false,
		},
	}
}
