package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, NewDefaultConfig().Validate())
}

func TestTestConfigValidates(t *testing.T) {
	require.NoError(t, NewTestConfig().Validate())
}

func TestValidateRejectsMissingDBPath(t *testing.T) {
	c := NewTestConfig()
	c.DBPath = ""
	require.Error(t, c.Validate())
}

func TestValidateRejectsZeroCapacity(t *testing.T) {
	c := NewTestConfig()
	c.WriteLogCapacity = 0
	require.Error(t, c.Validate())
}

func TestLoadOverridesDefaultsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latticedb.toml")
	contents := `
db_path = "/var/lib/latticedb"
pending_high_water = 2048
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/latticedb", cfg.DBPath)
	require.Equal(t, 2048, cfg.PendingHighWater)
	// Fields absent from the file keep the default.
	require.Equal(t, NewDefaultConfig().WriteLogCapacity, cfg.WriteLogCapacity)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte(`pending_high_water = 0`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
