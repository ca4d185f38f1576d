package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, ws, body string) {
	t.Helper()
	dir := filepath.Join(ws, ".semlink")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0644))
}

func TestInitialize_NoConfigIsSilent(t *testing.T) {
	defer CloseAll()
	ws := t.TempDir()

	require.NoError(t, Initialize(ws))
	assert.False(t, IsDebugMode())

	// Logging without a config must be a no-op, not a crash.
	Kernel("should go nowhere")
	_, err := os.Stat(filepath.Join(ws, ".semlink", "logs"))
	assert.True(t, os.IsNotExist(err))
}

func TestInitialize_DebugModeWritesFiles(t *testing.T) {
	defer CloseAll()
	ws := t.TempDir()
	writeConfig(t, ws, "logging:\n  debug_mode: true\n  level: debug\n")

	require.NoError(t, Initialize(ws))
	require.True(t, IsDebugMode())

	Queue("queued job %s", "run")
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(ws, ".semlink", "logs"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestReloadConfig_ConcurrentWithLogging(t *testing.T) {
	defer CloseAll()
	ws := t.TempDir()
	writeConfig(t, ws, "logging:\n  debug_mode: true\n  level: info\n")
	require.NoError(t, Initialize(ws))

	// Reloads race log calls in watch mode; both sides must be safe.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			Kernel("event %d", i)
			Get(CategoryQueue).Debug("detail %d", i)
		}
	}()
	for i := 0; i < 50; i++ {
		require.NoError(t, ReloadConfig())
	}
	<-done
}

func TestCategoryFilter(t *testing.T) {
	defer CloseAll()
	ws := t.TempDir()
	writeConfig(t, ws, "logging:\n  debug_mode: true\n  level: info\n  categories:\n    queue: false\n")

	require.NoError(t, Initialize(ws))
	assert.False(t, IsCategoryEnabled(CategoryQueue))
	assert.True(t, IsCategoryEnabled(CategoryKernel))
}
