package memory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T, dimension int) (*Store, func()) {
	t.Helper()

	dir, err := os.MkdirTemp("", "mnemo-test-*")
	require.NoError(t, err)

	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	s, err := OpenStore(StoreConfig{
		Path:      filepath.Join(dir, "test.db"),
		Logger:    logger,
		Dimension: dimension,
	})
	if err != nil && strings.Contains(err.Error(), "fts5") {
		os.RemoveAll(dir)
		t.Skip("sqlite built without FTS5; rebuild with -tags sqlite_fts5")
	}
	require.NoError(t, err)

	cleanup := func() {
		s.Close()
		os.RemoveAll(dir)
	}
	return s, cleanup
}

func writeTestEntry(t *testing.T, s *Store, tenant string, scope Scope, kind Kind, title, content string, tags ...string) *Entry {
	t.Helper()

	ctx := context.Background()
	scopeID, err := s.ResolveScope(ctx, tenant, scope)
	require.NoError(t, err)

	e := &Entry{
		TenantID: tenant,
		ScopeID:  scopeID,
		Kind:     kind,
		Title:    title,
		Content:  content,
		Tags:     tags,
	}
	_, err = s.WriteEntry(ctx, e)
	require.NoError(t, err)
	return e
}

func TestOpenStore_RequiresPath(t *testing.T) {
	_, err := OpenStore(StoreConfig{})
	assert.Error(t, err)
}

func TestStorePing(t *testing.T) {
	s, cleanup := createTestStore(t, 0)
	defer cleanup()

	assert.NoError(t, s.Ping(context.Background()))
}

func TestResolveScope(t *testing.T) {
	s, cleanup := createTestStore(t, 0)
	defer cleanup()
	ctx := context.Background()

	scope := Scope{Project: "apollo", Task: "task-1"}

	id1, err := s.ResolveScope(ctx, "acme", scope)
	require.NoError(t, err)
	assert.Contains(t, id1, "sc_")

	// Resolving again converges on the same row
	id2, err := s.ResolveScope(ctx, "acme", scope)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	// Another tenant gets its own scope
	id3, err := s.ResolveScope(ctx, "globex", scope)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)

	loaded, err := s.ScopeByID(ctx, "acme", id1)
	require.NoError(t, err)
	assert.Equal(t, scope, *loaded)
}

func TestResolveScope_Validation(t *testing.T) {
	s, cleanup := createTestStore(t, 0)
	defer cleanup()
	ctx := context.Background()

	_, err := s.ResolveScope(ctx, "", Scope{Project: "p"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = s.ResolveScope(ctx, "acme", Scope{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestScopeByID_NotFound(t *testing.T) {
	s, cleanup := createTestStore(t, 0)
	defer cleanup()

	_, err := s.ScopeByID(context.Background(), "acme", "sc_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTenantAndScopeListing(t *testing.T) {
	s, cleanup := createTestStore(t, 0)
	defer cleanup()
	ctx := context.Background()

	writeTestEntry(t, s, "acme", Scope{Project: "a"}, KindDecision, "", "first decision")
	writeTestEntry(t, s, "acme", Scope{Project: "b"}, KindDecision, "", "second decision")
	writeTestEntry(t, s, "globex", Scope{Project: "c"}, KindDecision, "", "third decision")

	tenants, err := s.TenantIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"acme", "globex"}, tenants)

	scopes, err := s.ScopeIDs(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, scopes, 2)

	active, err := s.ActiveScopeIDs(ctx, "acme", 0)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}
