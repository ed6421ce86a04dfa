package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := loadSettings(newViper())
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", s.Server)
	assert.Equal(t, int64(32<<20), s.ChunkSize)
	assert.Equal(t, 1, s.Workers)
	assert.Equal(t, "warn", s.LogLevel)
	assert.Equal(t, "journal.db", filepath.Base(s.Journal))
	assert.Zero(t, s.MaxPauseWait)
}

func TestLoadSettingsFromEnvironment(t *testing.T) {
	t.Setenv("TRANSFER_SERVER", "https://files.example.com/")
	t.Setenv("TRANSFER_CHUNK_SIZE", "8MiB")
	t.Setenv("TRANSFER_WORKERS", "4")
	t.Setenv("TRANSFER_MAX_PAUSE_WAIT", "2m")

	s, err := loadSettings(newViper())
	require.NoError(t, err)

	assert.Equal(t, "https://files.example.com", s.Server)
	assert.Equal(t, int64(8<<20), s.ChunkSize)
	assert.Equal(t, 4, s.Workers)
	assert.Equal(t, 2*time.Minute, s.MaxPauseWait)
}

func TestReadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transferctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: http://cfg:9000\nworkers: 2\nchunk-size: 4MB\n"), 0o600))

	v := newViper()
	require.NoError(t, readConfigFile(v, path))
	s, err := loadSettings(v)
	require.NoError(t, err)

	assert.Equal(t, "http://cfg:9000", s.Server)
	assert.Equal(t, 2, s.Workers)
	assert.Equal(t, int64(4_000_000), s.ChunkSize)
}

func TestEnvironmentOverridesConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transferctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 2\n"), 0o600))
	t.Setenv("TRANSFER_WORKERS", "6")

	v := newViper()
	require.NoError(t, readConfigFile(v, path))
	s, err := loadSettings(v)
	require.NoError(t, err)
	assert.Equal(t, 6, s.Workers)
}

func TestReadConfigFileMissingExplicitPath(t *testing.T) {
	err := readConfigFile(newViper(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadSettingsRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"TRANSFER_CHUNK_SIZE":     "lots",
		"TRANSFER_WORKERS":        "0",
		"TRANSFER_MAX_PAUSE_WAIT": "-1s",
		"TRANSFER_SERVER":         "/",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := loadSettings(newViper())
			assert.Error(t, err)
		})
	}
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("TRANSFER_SERVER", "http://env:1")
	t.Setenv("TRANSFER_WORKERS", "3")

	cc := &cliContext{v: newViper()}
	root := newRootCmd(cc)
	upload, _, err := root.Find([]string{"upload"})
	require.NoError(t, err)
	upload.RunE = func(*cobra.Command, []string) error { return nil }

	config := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(config, nil, 0o600))
	root.SetArgs([]string{"--config", config, "--server", "http://flag:2", "upload", "--chunk-size", "1MiB", "a", "b"})
	require.NoError(t, root.Execute())

	assert.Equal(t, "http://flag:2", cc.settings.Server)
	assert.Equal(t, 3, cc.settings.Workers)
	assert.Equal(t, int64(1<<20), cc.settings.ChunkSize)
	assert.Equal(t, "http://flag:2", cc.api.BaseURL())
}
