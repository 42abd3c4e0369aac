package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestLocal(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return l
}

func TestNewLocal(t *testing.T) {
	_, err := NewLocal("", zerolog.Nop())
	assert.Error(t, err)

	dir := filepath.Join(t.TempDir(), "nested", "blobs")
	_, err = NewLocal(dir, zerolog.Nop())
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLocalPutGet(t *testing.T) {
	l := createTestLocal(t)
	ctx := context.Background()

	key := Key("acme", "mem_abc", "report.pdf")
	data := []byte("pdf bytes")

	require.NoError(t, l.Put(ctx, key, data, "application/pdf"))

	got, err := l.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Overwrite under the same key
	require.NoError(t, l.Put(ctx, key, []byte("v2"), "application/pdf"))
	got, err = l.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestLocalGetMissing(t *testing.T) {
	l := createTestLocal(t)

	_, err := l.Get(context.Background(), "acme/mem_abc/missing.txt")
	assert.Error(t, err)
}

func TestLocalURL(t *testing.T) {
	l := createTestLocal(t)

	url, err := l.URL(context.Background(), "acme/mem_abc/report.pdf")
	require.NoError(t, err)
	assert.Empty(t, url)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "acme/mem_abc/report.pdf", Key("acme", "mem_abc", "report.pdf"))

	// Path separators in filenames are neutralized
	assert.Equal(t, "acme/mem_abc/_etc_passwd", Key("acme", "mem_abc", "/etc/passwd"))
	assert.Equal(t, "acme/mem_abc/a_b", Key("acme", "mem_abc", `a\b`))
}

func TestSHA256(t *testing.T) {
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		SHA256([]byte("hello")))
	assert.Len(t, SHA256(nil), 64)
}
