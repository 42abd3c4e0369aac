package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFTSQuery(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"single token", "docker", `"docker"`},
		{"multiple tokens", "docker timeout", `"docker" OR "timeout"`},
		{"punctuation survives quoting", `error: "disk full"`, `"error:" OR "disk" OR "full"`},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ftsQuery(tt.input))
		})
	}
}

func TestSearch_Validation(t *testing.T) {
	s, cleanup := createTestStore(t, 0)
	defer cleanup()
	ctx := context.Background()

	_, err := s.Search(ctx, SearchParams{ScopeID: "sc_x", Query: "q"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = s.Search(ctx, SearchParams{TenantID: "acme", Query: "q"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSearch_EmptyQuery(t *testing.T) {
	s, cleanup := createTestStore(t, 0)
	defer cleanup()

	results, err := s.Search(context.Background(), SearchParams{
		TenantID: "acme", ScopeID: "sc_x", Query: "   ",
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_Keyword(t *testing.T) {
	s, cleanup := createTestStore(t, 0)
	defer cleanup()
	ctx := context.Background()

	scope := Scope{Project: "apollo"}
	scopeID := ScopeKeyID("acme", scope)

	hit := writeTestEntry(t, s, "acme", scope, KindTaskOutcome, "Docker fix",
		"Increased the docker client timeout to resolve deploy failures.")
	writeTestEntry(t, s, "acme", scope, KindChatTurn, "",
		"Unrelated discussion about lunch options.")

	results, err := s.Search(ctx, SearchParams{
		TenantID: "acme", ScopeID: scopeID, Query: "docker timeout",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, hit.ID, results[0].Entry.ID)
	require.NotNil(t, results[0].KeywordScore)
	assert.Nil(t, results[0].VectorScore)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestSearch_ScopeIsolation(t *testing.T) {
	s, cleanup := createTestStore(t, 0)
	defer cleanup()
	ctx := context.Background()

	writeTestEntry(t, s, "acme", Scope{Project: "apollo"}, KindDecision, "",
		"apollo keeps its secrets within apollo")
	writeTestEntry(t, s, "acme", Scope{Project: "hermes"}, KindDecision, "",
		"hermes notes mention secrets too")

	results, err := s.Search(ctx, SearchParams{
		TenantID: "acme",
		ScopeID:  ScopeKeyID("acme", Scope{Project: "apollo"}),
		Query:    "secrets",
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Entry.Content, "apollo")
}

func TestSearch_Filters(t *testing.T) {
	s, cleanup := createTestStore(t, 0)
	defer cleanup()
	ctx := context.Background()

	scope := Scope{Project: "apollo"}
	scopeID := ScopeKeyID("acme", scope)

	decision := writeTestEntry(t, s, "acme", scope, KindDecision, "",
		"deployment decision about rollout", "infra")
	turn := writeTestEntry(t, s, "acme", scope, KindChatTurn, "",
		"chat about the deployment rollout", "casual")

	byKind, err := s.Search(ctx, SearchParams{
		TenantID: "acme", ScopeID: scopeID, Query: "deployment",
		Kinds: []Kind{KindDecision},
	})
	require.NoError(t, err)
	require.Len(t, byKind, 1)
	assert.Equal(t, decision.ID, byKind[0].Entry.ID)

	byTag, err := s.Search(ctx, SearchParams{
		TenantID: "acme", ScopeID: scopeID, Query: "deployment",
		Tags: []string{"casual"},
	})
	require.NoError(t, err)
	require.Len(t, byTag, 1)
	assert.Equal(t, turn.ID, byTag[0].Entry.ID)

	// A time window in the past excludes everything
	noneBefore, err := s.Search(ctx, SearchParams{
		TenantID: "acme", ScopeID: scopeID, Query: "deployment",
		Until: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	assert.Empty(t, noneBefore)
}

func TestSearch_TopK(t *testing.T) {
	s, cleanup := createTestStore(t, 0)
	defer cleanup()
	ctx := context.Background()

	scope := Scope{Project: "apollo"}
	scopeID := ScopeKeyID("acme", scope)
	contents := []string{
		"rollout step one details",
		"rollout step two details",
		"rollout step three details",
		"rollout step four details",
	}
	for _, c := range contents {
		writeTestEntry(t, s, "acme", scope, KindRunbook, "", c)
	}

	results, err := s.Search(ctx, SearchParams{
		TenantID: "acme", ScopeID: scopeID, Query: "rollout", TopK: 2,
	})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearch_HybridVectorLeg(t *testing.T) {
	dim := 64
	s, cleanup := createTestStore(t, dim)
	defer cleanup()
	ctx := context.Background()
	provider := NewStubProvider(dim)

	scope := Scope{Project: "apollo"}
	scopeID := ScopeKeyID("acme", scope)

	target := writeTestEntry(t, s, "acme", scope, KindTaskOutcome, "",
		"database migration completed without downtime")
	other := writeTestEntry(t, s, "acme", scope, KindTaskOutcome, "",
		"database backup rotation configured")

	for _, e := range []*Entry{target, other} {
		vec, err := provider.GenerateEmbedding(ctx, e.Content)
		require.NoError(t, err)
		require.NoError(t, s.UpsertEmbedding(ctx, e.ID, vec))

		has, err := s.HasEmbedding(ctx, e.ID)
		require.NoError(t, err)
		assert.True(t, has)
	}

	// Querying with the exact text of one entry makes its vector identical,
	// so it must rank first.
	queryVec, err := provider.GenerateEmbedding(ctx, target.Content)
	require.NoError(t, err)

	results, err := s.Search(ctx, SearchParams{
		TenantID: "acme", ScopeID: scopeID,
		Query:    target.Content,
		QueryVec: queryVec,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, target.ID, results[0].Entry.ID)
	require.NotNil(t, results[0].VectorScore)
	assert.InDelta(t, 1.0, *results[0].VectorScore, 1e-4)
}

func TestSearch_RankingPrefersBothLegs(t *testing.T) {
	dim := 64
	s, cleanup := createTestStore(t, dim)
	defer cleanup()
	ctx := context.Background()
	provider := NewStubProvider(dim)

	scope := Scope{Project: "support"}
	scopeID := ScopeKeyID("acme", scope)

	both := writeTestEntry(t, s, "acme", scope, KindTaskOutcome, "",
		"docker timeout raised for slow registries")
	kwOnly := writeTestEntry(t, s, "acme", scope, KindChatTurn, "",
		"a passing mention of docker in chat")

	// Only the outcome gets an embedding; the chat turn stays keyword-only.
	vec, err := provider.GenerateEmbedding(ctx, both.Content)
	require.NoError(t, err)
	require.NoError(t, s.UpsertEmbedding(ctx, both.ID, vec))

	queryVec, err := provider.GenerateEmbedding(ctx, both.Content)
	require.NoError(t, err)

	results, err := s.Search(ctx, SearchParams{
		TenantID: "acme", ScopeID: scopeID,
		Query:    "docker timeout",
		QueryVec: queryVec,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, both.ID, results[0].Entry.ID)
	assert.Equal(t, kwOnly.ID, results[1].Entry.ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}
