package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_WithExplicitFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "test.toml")

	content := `
[server]
port = 9090
log_level = "debug"
data_dir = "` + dir + `"

[admin]
enabled = true
password = "hunter2"
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.True(t, cfg.Admin.Enabled)
	assert.Equal(t, "hunter2", cfg.Admin.Password)
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "test.toml")

	content := `
[server]
port = 8787
log_level = "info"
data_dir = "` + dir + `"
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	t.Setenv("SIGPROXY_SERVER_PORT", "8888")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, 8888, cfg.Server.Port)
}

func TestLoad_LiteralEnvNamesOverrideDefaults(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "test.toml")

	content := `
[server]
port = 8787
log_level = "info"
data_dir = "` + dir + `"
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	t.Setenv("SIGCACHE_MAX_ENTRIES", "12345")
	t.Setenv("CREDENTIAL_MAX_BACKOFF_LEVEL", "9")
	t.Setenv("SIGCACHE_TTL_CURSOR", "60")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, 12345, cfg.Signature.MaxEntries)
	assert.Equal(t, 9, cfg.Credential.MaxBackoffLevel)
	assert.Equal(t, 60*1e9, float64(cfg.Signature.TTLFor("cursor")))
}

func TestLoad_ValidationFailure_BadPort(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.toml")

	content := `
[server]
port = 0
log_level = "info"
data_dir = "` + dir + `"
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	_, err := Load(configPath)
	require.Error(t, err)
}

func TestLoad_ValidationFailure_AdminEnabledWithoutPassword(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.toml")

	content := `
[server]
port = 8787
log_level = "info"
data_dir = "` + dir + `"

[admin]
enabled = true
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	_, err := Load(configPath)
	require.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, DefaultSignatureMaxEntries, cfg.Signature.MaxEntries)
	assert.Equal(t, DefaultCredentialMaxBackoffLevel, cfg.Credential.MaxBackoffLevel)
	assert.Equal(t, DefaultSignatureTTLSeconds, cfg.Signature.TTLOverrides["generic"])
}

func TestSignatureConfig_TTLFor(t *testing.T) {
	cfg := SignatureConfig{
		TTLDefaultSeconds: 100,
		TTLOverrides:      map[string]int{"cursor": 30},
	}

	assert.Equal(t, 30*1e9, float64(cfg.TTLFor("cursor")))
	assert.Equal(t, 100*1e9, float64(cfg.TTLFor("generic")))
}

func TestConfigFilePath_BeforeLoad(t *testing.T) {
	loadedConfigFile.Store("")
	assert.Empty(t, ConfigFilePath())
}

func TestExportConfig(t *testing.T) {
	dir := t.TempDir()
	exportPath := filepath.Join(dir, "exported.toml")

	cfg := DefaultConfig()
	set(cfg)

	require.NoError(t, ExportConfig(exportPath))

	data, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestImportConfig(t *testing.T) {
	dir := t.TempDir()
	importPath := filepath.Join(dir, "import.toml")

	content := `
[server]
bind_address = "127.0.0.1"
port = 7777
log_level = "warn"
data_dir = "` + dir + `"

[admin]
enabled = true
password = "imported-secret"
`
	require.NoError(t, os.WriteFile(importPath, []byte(content), 0o644))

	require.NoError(t, ImportConfig(importPath))

	cfg := Get()
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Server.LogLevel)
	assert.True(t, cfg.Admin.Enabled)
	assert.Equal(t, "imported-secret", cfg.Admin.Password)
}

func TestImportConfig_ValidationFailure(t *testing.T) {
	dir := t.TempDir()
	importPath := filepath.Join(dir, "bad-import.toml")

	content := `
[server]
port = 0
log_level = "info"
data_dir = "` + dir + `"
`
	require.NoError(t, os.WriteFile(importPath, []byte(content), 0o644))

	err := ImportConfig(importPath)
	require.Error(t, err)
}

func TestImportConfig_MissingFile(t *testing.T) {
	err := ImportConfig(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.Error(t, err)
}
