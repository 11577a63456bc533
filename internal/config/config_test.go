package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-db/rce/internal/config"
)

func TestLoadDefaultsWithNoConfigFile(t *testing.T) {
	opts, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", opts.LogLevel)
	assert.False(t, opts.Debug)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rce.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\ndebug: true\n"), 0o644))

	opts, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", opts.LogLevel)
	assert.True(t, opts.Debug)
}

func TestLoadErrorsOnMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
