package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "none", cfg.Auth.Provider)
	assert.Equal(t, "periodic", cfg.SIEMExport.Mode)
	assert.Equal(t, []string{"scan_results", "file_access_events"}, cfg.SIEMExport.RecordTypes)
	assert.Equal(t, 300, cfg.RateLimit.APILimit)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, "zstd", cfg.Catalog.Compression)
	assert.Equal(t, 5*time.Minute, cfg.Catalog.FlushInterval())
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.Database.URL = "postgres://localhost/scanner"
	require.NoError(t, cfg.Validate())

	cfg.Database.URL = ""
	assert.ErrorContains(t, cfg.Validate(), "database.url")

	cfg = Defaults()
	cfg.Database.URL = "postgres://localhost/scanner"
	cfg.Server.Port = 70000
	assert.ErrorContains(t, cfg.Validate(), "server.port")

	cfg = Defaults()
	cfg.Database.URL = "postgres://localhost/scanner"
	cfg.Auth.Provider = "saml"
	assert.ErrorContains(t, cfg.Validate(), "auth.provider")

	cfg = Defaults()
	cfg.Database.URL = "postgres://localhost/scanner"
	cfg.SIEMExport.Mode = "streaming"
	assert.ErrorContains(t, cfg.Validate(), "siem_export.mode")
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  url: postgres://yaml-host/scanner
server:
  port: 9090
auth:
  provider: azure_ad
  tenant_id: contoso
siem_export:
  mode: both
`), 0o600))

	t.Setenv("DATABASE_URL", "postgres://env-host/scanner")
	t.Setenv("SERVER_PORT", "7070")

	cfg, err := Load(path)
	require.NoError(t, err)

	// Environment wins over yaml; yaml wins over defaults.
	assert.Equal(t, "postgres://env-host/scanner", cfg.Database.URL)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "azure_ad", cfg.Auth.Provider)
	assert.Equal(t, "both", cfg.SIEMExport.Mode)
	assert.Equal(t, 10, cfg.Database.PoolSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  url: postgres://localhost/scanner
auth:
  provider: bogus
`), 0o600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "auth.provider")
}
