package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	cfg := New()

	assert.True(t, cfg.ReviewRequired)
	assert.False(t, cfg.AutoMerge)
	assert.Equal(t, DefaultMaxWorkers, cfg.MaxWorkers)
	assert.Equal(t, 3, cfg.FlakyMaxRetries)
	assert.Contains(t, cfg.EpicsPath, DefaultEpicsPath)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "no-such.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxWorkers, cfg.MaxWorkers)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autodev.yaml")
	content := `
max_workers: 4
auto_merge: true
tick_seconds: 10
cleanup_steps:
  - delete-branch
api_enabled: true
api_port: 9001
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.MaxWorkers)
	assert.True(t, cfg.AutoMerge)
	assert.Equal(t, 10*time.Second, cfg.TickInterval())
	assert.Equal(t, []string{"delete-branch"}, cfg.CleanupSteps)
	assert.Equal(t, 9001, cfg.APIPort)

	// Untouched fields keep defaults
	assert.True(t, cfg.ReviewRequired)
}

func TestLoad_APIKeyFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autodev.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_key: from-file\n"), 0644))

	t.Setenv("AUTODEV_API_KEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.APIKey)
}

func TestLoad_InvalidYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_workers: [not a number"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := New()
	require.NoError(t, cfg.Validate())

	cfg.MaxWorkers = 0
	assert.Error(t, cfg.Validate())

	cfg = New()
	cfg.TickSeconds = 0
	assert.Error(t, cfg.Validate())

	cfg = New()
	cfg.APIEnabled = true
	cfg.APIPort = 700000
	assert.Error(t, cfg.Validate())
}
