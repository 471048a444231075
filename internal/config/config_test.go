package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 700, cfg.Chat.MacroThrottleMS)
	assert.Equal(t, VerbosityMacros, cfg.Chat.LogVerbosity)
	assert.Equal(t, VisibilityReject, cfg.Chat.VisibilityPolicy)
	assert.Equal(t, 3, cfg.Chat.AbilityMaxUsesPerLevel)
	assert.Equal(t, 100, cfg.Chat.HistoryLimit)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
chat:
  macro_throttle_ms: 250
  log_verbosity: minimal
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 250, cfg.Chat.MacroThrottleMS)
	assert.Equal(t, VerbosityMinimal, cfg.Chat.LogVerbosity)
	assert.Equal(t, VisibilityReject, cfg.Chat.VisibilityPolicy, "unset keys fall back to defaults")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MACRO_THROTTLE_MS", "1200")
	t.Setenv("WS_LOG_VERBOSITY", "off")
	t.Setenv("VISIBILITY_POLICY", "ignore")

	cfg := Default()

	assert.Equal(t, 1200, cfg.Chat.MacroThrottleMS)
	assert.Equal(t, VerbosityOff, cfg.Chat.LogVerbosity)
	assert.Equal(t, VisibilityIgnore, cfg.Chat.VisibilityPolicy)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("does-not-exist.yaml")
	assert.Error(t, err)
}
