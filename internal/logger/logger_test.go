package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "mnemo.log")

	log, closer, err := New(Config{Level: "debug", File: path})
	require.NoError(t, err)

	log.Info().Str("k", "v").Msg("hello from test")
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
	assert.Contains(t, string(data), `"k":"v"`)
}

func TestNewBadLevelFallsBack(t *testing.T) {
	log, closer, err := New(Config{Level: "shout"})
	require.NoError(t, err)
	defer closer()

	// Falls back to info; debug output is suppressed
	assert.Equal(t, "info", log.GetLevel().String())
}

func TestRotatingWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemo.log")
	w, err := NewRotatingWriter(path, 1, 0, false)
	require.NoError(t, err)
	defer w.Close()

	chunk := bytes.Repeat([]byte("x"), 700*1024)
	_, err = w.Write(chunk)
	require.NoError(t, err)

	// No rotation yet
	archives, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	assert.Empty(t, archives)

	// Second chunk pushes past 1MB and rotates first
	_, err = w.Write(chunk)
	require.NoError(t, err)

	archives, err = filepath.Glob(path + ".*")
	require.NoError(t, err)
	assert.Len(t, archives, 1)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, len(chunk), info.Size())
}

func TestRotatingWriterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemo.log")

	w, err := NewRotatingWriter(path, 1, 0, false)
	require.NoError(t, err)
	_, err = w.Write([]byte("first\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Reopening picks up the existing size and appends
	w, err = NewRotatingWriter(path, 1, 0, false)
	require.NoError(t, err)
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}
