package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, 10, cfg.Pipeline.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.StopTimeout())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, ConfigDir), 0755))
	yaml := `
embedding:
  provider: mock
  model: test-model
  dims: 16
pipeline:
  batch_size: 4
  stop_timeout: 5s
search:
  connection_limit: 12
`
	require.NoError(t, os.WriteFile(Path(ws), []byte(yaml), 0644))

	cfg, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, "mock", cfg.Embedding.Provider)
	assert.Equal(t, 16, cfg.Embedding.Dims)
	assert.Equal(t, 4, cfg.Pipeline.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.StopTimeout())
	assert.Equal(t, 12, cfg.ConnectionLimit())
	// Untouched sections keep defaults.
	assert.Equal(t, 3, cfg.Pipeline.MaxRetries)
	assert.Contains(t, cfg.Vault.Extensions, ".md")
}

func TestLoad_MalformedFile(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, ConfigDir), 0755))
	require.NoError(t, os.WriteFile(Path(ws), []byte("embedding: ["), 0644))

	_, err := Load(ws)
	assert.Error(t, err)
}

func TestSaveAndReload(t *testing.T) {
	ws := t.TempDir()
	cfg := Default()
	cfg.Embedding.Model = "custom-model"
	cfg.Search.MinScore = 0.25
	require.NoError(t, cfg.Save(ws))

	loaded, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, "custom-model", loaded.Embedding.Model)
	assert.Equal(t, 0.25, loaded.Search.MinScore)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "http://embed-host:11434")
	t.Setenv("SEMLINK_DB", "/tmp/custom.db")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "http://embed-host:11434", cfg.Embedding.Host)
	assert.Equal(t, "/tmp/custom.db", cfg.Store.DatabasePath)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Embedding.Provider = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Embedding.Provider = "genai"
	cfg.Embedding.APIKey = ""
	assert.Error(t, cfg.Validate())
	cfg.Embedding.APIKey = "key"
	assert.NoError(t, cfg.Validate())

	cfg = Default()
	cfg.Search.MinScore = 1.5
	assert.Error(t, cfg.Validate())
}
