package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFallsBackToDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Heal.MaxHealRounds)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, "data/pacts.db", cfg.Store.DatabasePath)
}

func TestLoadReadsYAMLAndKeepsUnsetDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pacts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("heal:\n  max_heal_rounds: 5\nstore:\n  database_path: /tmp/test.db\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Heal.MaxHealRounds)
	assert.Equal(t, "/tmp/test.db", cfg.Store.DatabasePath)
	assert.True(t, cfg.Browser.Headless, "unset fields keep their defaults")
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	t.Setenv("PACTS_DB", "/tmp/env.db")
	t.Setenv("PACTS_HEADLESS", "false")
	t.Setenv("PACTS_MAX_HEAL_ROUNDS", "1")

	path := filepath.Join(t.TempDir(), "pacts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  database_path: /tmp/file.db\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", cfg.Store.DatabasePath)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 1, cfg.Heal.MaxHealRounds)
}

func TestSaveRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "pacts.yaml")
	cfg := DefaultConfig()
	cfg.Heal.MaxHealRounds = 2

	require.NoError(t, cfg.Save(path))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Heal.MaxHealRounds)
}

func TestLoggingConfigCategoryGating(t *testing.T) {
	lc := LoggingConfig{DebugMode: false}
	assert.False(t, lc.IsCategoryEnabled("exec"), "production mode disables everything")

	lc = LoggingConfig{DebugMode: true, Categories: map[string]bool{"exec": false}}
	assert.False(t, lc.IsCategoryEnabled("exec"))
	assert.True(t, lc.IsCategoryEnabled("heal"), "unlisted categories default on in debug mode")
}
