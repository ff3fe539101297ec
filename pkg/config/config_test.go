package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
futureFrames: 500
bytesPerFrameEstimate: 8
historyDbPath: /var/lib/mp4chunk/history.db
logLevel: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 500, cfg.FutureFrames)
	require.Equal(t, int64(8), cfg.BytesPerFrameEstimate)
	require.Equal(t, "/var/lib/mp4chunk/history.db", cfg.HistoryDBPath)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logLevel: verbose\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsRelativeHistoryPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("historyDbPath: relative/path.db\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
