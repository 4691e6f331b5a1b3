package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the data dir at a temp dir and clears env overrides.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(EnvDataDir, dir)
	for _, key := range []string{
		EnvWorkerHost, EnvWorkerPort, EnvProxyHost, EnvProxyPort,
		EnvWorkerCommand, EnvPortFallback, EnvStartupTimeout, EnvExcludedTools,
	} {
		t.Setenv(key, "")
	}
	return dir
}

func writeSettings(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte(body), 0600))
}

func TestDefault(t *testing.T) {
	dir := isolate(t)
	cfg := Default()

	assert.Equal(t, DefaultWorkerHost, cfg.WorkerHost)
	assert.Equal(t, DefaultWorkerPort, cfg.WorkerPort)
	assert.Equal(t, DefaultProxyPort, cfg.ProxyPort)
	assert.True(t, cfg.PortFallback)
	assert.Equal(t, 20, cfg.FallbackPorts)
	assert.Equal(t, filepath.Join(dir, "claude-mem.db"), cfg.DBPath)
	assert.Equal(t, []string{"bun", filepath.Join(dir, "plugin", "scripts", "worker-service.cjs")}, cfg.WorkerCommand)
	assert.True(t, cfg.IsExcludedTool("TodoWrite"))
	assert.True(t, cfg.IsExcludedTool("__IMPORTANT"))
	assert.False(t, cfg.IsExcludedTool("Bash"))
	assert.Equal(t, "127.0.0.1:37777", cfg.WorkerAddr())
	assert.Equal(t, "127.0.0.1:37778", cfg.ProxyAddr())
}

func TestLoad_MissingSettingsUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkerPort, cfg.WorkerPort)
}

func TestLoad_SettingsWithComments(t *testing.T) {
	dir := isolate(t)
	writeSettings(t, dir, `{
  // comment
  "CLAUDE_MEM_WORKER_PORT": 40000,
  "CLAUDE_MEM_PROXY_PORT": "40001",
  "CLAUDE_MEM_PORT_FALLBACK": false,
  "CLAUDE_MEM_WORKER_COMMAND": "node '/opt/claude mem/worker.cjs' --quiet",
  "CLAUDE_MEM_EXCLUDED_TOOLS": "Read, Glob,",
}`)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 40000, cfg.WorkerPort)
	assert.Equal(t, 40001, cfg.ProxyPort)
	assert.False(t, cfg.PortFallback)
	assert.Equal(t, []string{"node", "/opt/claude mem/worker.cjs", "--quiet"}, cfg.WorkerCommand)
	assert.Equal(t, []string{"Read", "Glob"}, cfg.ExcludedTools)
}

func TestLoad_EnvOverridesSettings(t *testing.T) {
	dir := isolate(t)
	writeSettings(t, dir, `{"CLAUDE_MEM_WORKER_PORT": 40000, "CLAUDE_MEM_WORKER_HOST": "10.0.0.1"}`)
	t.Setenv(EnvWorkerPort, "41000")
	t.Setenv(EnvStartupTimeout, "2500")
	t.Setenv(EnvPortFallback, "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 41000, cfg.WorkerPort)
	assert.Equal(t, "10.0.0.1", cfg.WorkerHost)
	assert.Equal(t, 2500, cfg.StartupTimeoutMs)
	assert.False(t, cfg.PortFallback)
}

func TestLoad_InvalidValuesIgnored(t *testing.T) {
	dir := isolate(t)
	writeSettings(t, dir, `{"CLAUDE_MEM_WORKER_PORT": 700000, "CLAUDE_MEM_PROXY_PORT": "abc", "CLAUDE_MEM_PORT_FALLBACK": "maybe"}`)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkerPort, cfg.WorkerPort)
	assert.Equal(t, DefaultProxyPort, cfg.ProxyPort)
	assert.True(t, cfg.PortFallback)
}

func TestLoad_MalformedSettings(t *testing.T) {
	dir := isolate(t)
	writeSettings(t, dir, `{"CLAUDE_MEM_WORKER_PORT": `)

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_BadWorkerCommand(t *testing.T) {
	isolate(t)
	t.Setenv(EnvWorkerCommand, `bun "unterminated`)

	_, err := Load()
	assert.Error(t, err)
}

func TestEnsureAll(t *testing.T) {
	dir := isolate(t)
	sub := filepath.Join(dir, "nested")
	t.Setenv(EnvDataDir, sub)

	require.NoError(t, EnsureAll())
	assert.FileExists(t, filepath.Join(sub, "settings.json"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkerPort, cfg.WorkerPort)

	// Existing settings are never overwritten.
	writeSettings(t, sub, `{"CLAUDE_MEM_WORKER_PORT": 39999}`)
	require.NoError(t, EnsureSettings())
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, 39999, cfg.WorkerPort)
}

func TestSplitTrim(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitTrim(" a ,, b ,"))
	assert.Empty(t, splitTrim(""))
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := isolate(t)
	writeSettings(t, dir, `{"CLAUDE_MEM_WORKER_PORT": 40000}`)

	w, err := NewWatcher(SettingsPath())
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond
	w.load = Load

	var port atomic.Int64
	w.OnChange(func(cfg *Config) { port.Store(int64(cfg.WorkerPort)) })
	require.NoError(t, w.Start())
	defer w.Stop()

	writeSettings(t, dir, `{"CLAUDE_MEM_WORKER_PORT": 40500}`)

	require.Eventually(t, func() bool { return port.Load() == 40500 }, 3*time.Second, 20*time.Millisecond)

	w.Stop()
	w.Stop()
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := isolate(t)
	writeSettings(t, dir, `{}`)

	w, err := NewWatcher(SettingsPath())
	require.NoError(t, err)
	w.debounce = 10 * time.Millisecond

	var calls atomic.Int32
	w.load = func() (*Config, error) {
		calls.Add(1)
		return Default(), nil
	}
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0600))
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, calls.Load())
}
