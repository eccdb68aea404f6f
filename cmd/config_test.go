package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveFlags parses args against the serve command's flag set.
func serveFlags(t *testing.T, args ...string) *ServeConfig {
	t.Helper()
	cmd := newServeCmd()
	require.NoError(t, cmd.ParseFlags(args))
	cfgFile, err := cmd.Flags().GetString("config")
	require.NoError(t, err)
	cfg, err := LoadServeConfig(cfgFile, cmd.Flags())
	require.NoError(t, err)
	return cfg
}

func TestLoadServeConfig_Defaults(t *testing.T) {
	cfg := serveFlags(t, "--design", "d.yaml")
	assert.Equal(t, DefaultAddr, cfg.Addr)
	assert.Equal(t, "d.yaml", cfg.Design)
	assert.Empty(t, cfg.Store)
	assert.Equal(t, DefaultWorkers, cfg.Workers)
}

func TestLoadServeConfig_Layering(t *testing.T) {
	// GIVEN a config file, an env override and a flag override
	dir := t.TempDir()
	path := filepath.Join(dir, "hmfemu.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: 0.0.0.0:9000\ndesign: designs/mira.yaml\nstore: runs.db\nworkers: 2\n"), 0644))
	t.Setenv("HMFEMU_WORKERS", "6")
	t.Setenv("HMFEMU_ADDR", "127.0.0.1:9100")

	// WHEN loading with --addr set on the command line
	cfg := serveFlags(t, "--config", path, "--addr", ":7000")

	// THEN flags beat env, env beats the file, and file paths resolve against its directory
	assert.Equal(t, ":7000", cfg.Addr)
	assert.Equal(t, 6, cfg.Workers)
	assert.Equal(t, filepath.Join(dir, "designs", "mira.yaml"), cfg.Design)
	assert.Equal(t, filepath.Join(dir, "runs.db"), cfg.Store)
}

func TestLoadServeConfig_UnchangedFlagsDoNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hmfemu.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: 0.0.0.0:9000\ndesign: /abs/design.yaml\n"), 0644))

	cfg := serveFlags(t, "--config", path)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
	assert.Equal(t, "/abs/design.yaml", cfg.Design)
}

func TestLoadServeConfig_Errors(t *testing.T) {
	cmd := newServeCmd()
	require.NoError(t, cmd.ParseFlags(nil))
	_, err := LoadServeConfig("", cmd.Flags())
	assert.ErrorContains(t, err, "design is required")

	cmd = newServeCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--design", "d.yaml", "--workers", "-1"}))
	_, err = LoadServeConfig("", cmd.Flags())
	assert.ErrorContains(t, err, "workers")

	_, err = LoadServeConfig(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.ErrorContains(t, err, "error reading config file")
}
