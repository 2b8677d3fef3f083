package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestSetupWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	logger, cleanup, err := Setup(Config{Level: "info", FilePath: path, MaxSizeMB: 1, MaxFiles: 2})
	require.NoError(t, err)

	logger.Info("hello", slog.String("k", "v"))
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"k":"v"`)
}

func TestRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	w, err := OpenRotatingFile(path, 1, 2)
	require.NoError(t, err)
	defer w.Close()

	// Write past 1MB to force a rotation.
	line := []byte(strings.Repeat("x", 64*1024) + "\n")
	for i := 0; i < 20; i++ {
		_, err := w.Write(line)
		require.NoError(t, err)
	}

	_, err = os.Stat(path + ".1")
	assert.NoError(t, err)
}

func TestRotationDropsOldestSlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	w, err := OpenRotatingFile(path, 1, 2)
	require.NoError(t, err)
	defer w.Close()

	// Force several rotations; only maxFiles rotated slots survive.
	line := []byte(strings.Repeat("y", 256*1024) + "\n")
	for i := 0; i < 40; i++ {
		_, err := w.Write(line)
		require.NoError(t, err)
	}

	_, err = os.Stat(path + ".1")
	assert.NoError(t, err)
	_, err = os.Stat(path + ".2")
	assert.NoError(t, err)
	_, err = os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err))
}

func TestLazyOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	w, err := OpenRotatingFile(path, 1, 2)
	require.NoError(t, err)
	defer w.Close()

	// Nothing on disk until the first write lands.
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	_, err = w.Write([]byte("first\n"))
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}
