package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "mock", cfg.Provider.Kind)
	assert.Equal(t, 32768, cfg.Context.WindowTokens)
	assert.Equal(t, 25, cfg.Session.MaxIterations)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
provider:
  kind: openai
  model: qwen3-4b
  base_url: http://localhost:8080/v1
context:
  window_tokens: 8192
session:
  pacing: 1s
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Provider.Kind)
	assert.Equal(t, "qwen3-4b", cfg.Provider.Model)
	assert.Equal(t, 8192, cfg.Context.WindowTokens)
	assert.Equal(t, time.Second, cfg.Session.Pacing)
	// Untouched fields keep defaults.
	assert.Equal(t, 15000, cfg.Context.OutputBufferKeep)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	t.Setenv("HELMSMAN_API_KEY", "from-env")
	t.Setenv("HELMSMAN_PROVIDER", "gemini")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Provider.APIKey)
	assert.Equal(t, "gemini", cfg.Provider.Kind)
}

func TestValidate_RejectsUnknownProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider.Kind = "carrier-pigeon"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsNonPositiveWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Context.WindowTokens = 0
	assert.Error(t, cfg.Validate())
}
