package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igfeed/pkg/store"
	"igfeed/pkg/store/sqlite"
	"igfeed/pkg/ui"
)

func writeConfig(t *testing.T, extra ...string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "igfeed.db")
	cfg := fmt.Sprintf(`database:
  driver: sqlite
  sqlite_path: %s
session:
  directory: %s
  passphrase: test-passphrase
download:
  directory: %s
logging:
  level: error
`, dbPath, filepath.Join(dir, "sessions"), filepath.Join(dir, "downloads")) + strings.Join(extra, "")
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0600))
	return path, dbPath
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	prev := ui.Out
	ui.Out = &out
	t.Cleanup(func() { ui.Out = prev })

	rootCmd.SetArgs(append(args, "--no-color"))
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func openDB(t *testing.T, path string) store.Store {
	t.Helper()
	st, err := sqlite.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "igfeed", "config.yaml")

	out, err := execute(t, "", "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration file created")
	assert.FileExists(t, path)

	_, err = execute(t, "", "config", "init", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestIdentityLifecycle(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)

	out, err := execute(t, "", "db", "setup", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, store.PlaceholderHandle)

	_, err = execute(t, "hunter2\n", "identity", "add", "@acc1", "--config", cfgPath)
	require.NoError(t, err)

	_, err = execute(t, "hunter2\n", "identity", "add", "acc1", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, "", "identity", "add", "acc2", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password cannot be empty")

	ctx := context.Background()
	st := openDB(t, dbPath)
	acc1, err := st.GetIdentity(ctx, "acc1")
	require.NoError(t, err)
	assert.True(t, acc1.Active)
	assert.Equal(t, "hunter2", acc1.Secret)

	active, err := st.FindActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "acc1", active.Handle)

	_, err = execute(t, "", "identity", "deactivate", "acc1", "--reason", "flagged by instagram", "--config", cfgPath)
	require.NoError(t, err)
	acc1, err = st.GetIdentity(ctx, "acc1")
	require.NoError(t, err)
	assert.False(t, acc1.Active)
	assert.Contains(t, acc1.Notes, "flagged by instagram")

	_, err = execute(t, "", "identity", "activate", "acc1", "--config", cfgPath)
	require.NoError(t, err)
	acc1, err = st.GetIdentity(ctx, "acc1")
	require.NoError(t, err)
	assert.True(t, acc1.Active)

	_, err = execute(t, "", "identity", "activate", "ghost", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestSessionResetWithoutToken(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	out, err := execute(t, "", "session", "reset", "acc1", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Session of acc1 reset")
}

func TestConfigValidateAndShow(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	out, err := execute(t, "", "config", "validate", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")

	out, err = execute(t, "", "config", "show", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "driver: sqlite")
	assert.NotContains(t, out, "test-passphrase")
}

func TestRunRejectsInvalidTarget(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	_, err := execute(t, "", "run", "--target", "not a handle!", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid target handle")
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", mask(""))
	assert.Equal(t, "***", mask("short"))
	assert.Equal(t, "po***ss", mask("postgres-pass"))
}
