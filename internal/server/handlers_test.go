package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemohq/mnemo/internal/observability"
	"github.com/mnemohq/mnemo/pkg/blob"
	"github.com/mnemohq/mnemo/pkg/cache"
	"github.com/mnemohq/mnemo/pkg/memory"
)

func TestMain(m *testing.M) {
	// Keep audit noise out of test output.
	_ = observability.InitAuditLogger(os.DevNull)
	os.Exit(m.Run())
}

func createTestServer(t *testing.T, svcCfg memory.ServiceConfig) (*memory.Service, http.Handler) {
	t.Helper()

	dir := t.TempDir()
	provider := memory.NewStubProvider(64)
	store, err := memory.OpenStore(memory.StoreConfig{
		Path:      filepath.Join(dir, "mnemo.db"),
		Logger:    zerolog.Nop(),
		Dimension: provider.Dimension(),
	})
	if err != nil && strings.Contains(err.Error(), "fts5") {
		t.Skip("sqlite built without FTS5; rebuild with -tags sqlite_fts5")
	}
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	blobs, err := blob.NewLocal(filepath.Join(dir, "blobs"), zerolog.Nop())
	require.NoError(t, err)

	svc := memory.NewService(store, cache.NewMemory(cache.Config{}), blobs,
		provider, nil, svcCfg, zerolog.Nop())

	srv, err := New(Config{Port: 8750}, svc, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { srv.Stop() })

	return svc, srv.Router()
}

func postJSON(t *testing.T, h http.Handler, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func writeEntry(t *testing.T, h http.Handler, content string) memory.Entry {
	t.Helper()
	rec := postJSON(t, h, "/tools/memory.write", map[string]any{
		"tenant_id": "acme",
		"scope":     map[string]string{"project_id": "apollo"},
		"kind":      "decision",
		"title":     "A decision",
		"content":   content,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[memory.WriteResult](t, rec).Entry
}

func TestHandleWrite(t *testing.T) {
	_, h := createTestServer(t, memory.ServiceConfig{})

	body := map[string]any{
		"tenant_id": "acme",
		"scope":     map[string]string{"project_id": "apollo"},
		"kind":      "decision",
		"content":   "We will use SQLite",
		"tags":      []string{"architecture"},
	}

	rec := postJSON(t, h, "/tools/memory.write", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	result := decodeBody[memory.WriteResult](t, rec)
	assert.True(t, result.Created)
	assert.Equal(t, "ok", result.Embedding)
	assert.NotEmpty(t, result.Entry.ID)

	// Duplicate content is a 200, not a 201
	rec = postJSON(t, h, "/tools/memory.write", body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[memory.WriteResult](t, rec).Created)
}

func TestHandleWrite_Validation(t *testing.T) {
	_, h := createTestServer(t, memory.ServiceConfig{})

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing tenant", map[string]any{"kind": "decision", "content": "x"}},
		{"missing content", map[string]any{"tenant_id": "acme", "kind": "decision"}},
		{"unknown kind", map[string]any{"tenant_id": "acme", "kind": "tweet", "content": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, h, "/tools/memory.write", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			resp := decodeBody[ErrorResponse](t, rec)
			assert.Equal(t, "BAD_REQUEST", resp.Error.Code)
			assert.NotEmpty(t, resp.Error.RequestID)
		})
	}
}

func TestHandleWrite_MalformedJSON(t *testing.T) {
	_, h := createTestServer(t, memory.ServiceConfig{})

	req := httptest.NewRequest(http.MethodPost, "/tools/memory.write", bytes.NewReader([]byte("{nope")))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSearch(t *testing.T) {
	_, h := createTestServer(t, memory.ServiceConfig{})
	writeEntry(t, h, "The deploy failed because of a docker timeout")

	rec := postJSON(t, h, "/tools/memory.search", map[string]any{
		"tenant_id":    "acme",
		"scope_filter": map[string]string{"project_id": "apollo"},
		"query":        "docker timeout",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[memory.SearchResponse](t, rec)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "store", resp.Source)

	// Identical search is served from the cache
	rec = postJSON(t, h, "/tools/memory.search", map[string]any{
		"tenant_id":    "acme",
		"scope_filter": map[string]string{"project_id": "apollo"},
		"query":        "docker timeout",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cache", decodeBody[memory.SearchResponse](t, rec).Source)
}

func TestHandleSearch_Validation(t *testing.T) {
	_, h := createTestServer(t, memory.ServiceConfig{})

	rec := postJSON(t, h, "/tools/memory.search", map[string]any{"tenant_id": "acme"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, h, "/tools/memory.search", map[string]any{
		"tenant_id": "acme", "query": "x", "top_k": 1000,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGet(t *testing.T) {
	_, h := createTestServer(t, memory.ServiceConfig{})
	entry := writeEntry(t, h, "retrievable content")

	rec := postJSON(t, h, "/tools/memory.get", map[string]any{
		"tenant_id": "acme",
		"memory_id": entry.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, entry.ID, decodeBody[memory.GetResult](t, rec).Entry.ID)

	rec = postJSON(t, h, "/tools/memory.get", map[string]any{
		"tenant_id": "acme",
		"memory_id": "mem_doesnotexist",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeBody[ErrorResponse](t, rec).Error.Code)
}

func TestHandleLink(t *testing.T) {
	_, h := createTestServer(t, memory.ServiceConfig{})
	a := writeEntry(t, h, "entry a content")
	b := writeEntry(t, h, "entry b content")

	rec := postJSON(t, h, "/tools/memory.link", map[string]any{
		"tenant_id": "acme",
		"from_id":   a.ID,
		"to_id":     b.ID,
		"relation":  "supports",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	link := decodeBody[memory.Link](t, rec)
	assert.Equal(t, a.ID, link.FromID)
	assert.Equal(t, b.ID, link.ToID)

	rec = postJSON(t, h, "/tools/memory.link", map[string]any{
		"tenant_id": "acme",
		"from_id":   a.ID,
		"to_id":     b.ID,
		"relation":  "disagrees_with",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSummarize(t *testing.T) {
	_, h := createTestServer(t, memory.ServiceConfig{})
	writeEntry(t, h, "something worth summarizing")

	rec := postJSON(t, h, "/tools/memory.summarize_scope", map[string]any{
		"tenant_id": "acme",
		"scope":     map[string]string{"project_id": "apollo"},
		"mode":      "brief",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, decodeBody[memory.SummarizeResult](t, rec).SummaryID)

	rec = postJSON(t, h, "/tools/memory.summarize_scope", map[string]any{
		"tenant_id": "acme",
		"scope":     map[string]string{"project_id": "apollo"},
		"mode":      "haiku",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAttachAndFetchBlob(t *testing.T) {
	_, h := createTestServer(t, memory.ServiceConfig{})
	entry := writeEntry(t, h, "entry with an attachment")
	data := []byte("attachment payload")

	rec := postJSON(t, h, "/tools/memory.attach_blob", map[string]any{
		"tenant_id": "acme",
		"memory_id": entry.ID,
		"filename":  "notes.txt",
		"mime_type": "text/plain",
		"data":      base64.StdEncoding.EncodeToString(data),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	attachment := decodeBody[memory.Attachment](t, rec)
	assert.Equal(t, entry.ID, attachment.MemoryID)
	assert.EqualValues(t, len(data), attachment.Bytes)

	rec = postJSON(t, h, "/tools/memory.fetch_blob", map[string]any{
		"tenant_id":     "acme",
		"attachment_id": attachment.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	fetched := decodeBody[memory.FetchBlobResult](t, rec)
	assert.Equal(t, data, fetched.Data)
	assert.Empty(t, fetched.URL)
}

func TestHandleAttachBlob_BadBase64(t *testing.T) {
	_, h := createTestServer(t, memory.ServiceConfig{})
	entry := writeEntry(t, h, "entry for bad attachment")

	rec := postJSON(t, h, "/tools/memory.attach_blob", map[string]any{
		"tenant_id": "acme",
		"memory_id": entry.ID,
		"filename":  "notes.txt",
		"data":      "not base64!!!",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePreflight(t *testing.T) {
	_, h := createTestServer(t, memory.ServiceConfig{})
	writeEntry(t, h, "Deploys to staging need the VPN up")

	rec := postJSON(t, h, "/tools/memory.preflight", map[string]any{
		"tenant_id":  "acme",
		"scope":      map[string]string{"project_id": "apollo"},
		"task_title": "Deploy to staging",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	result := decodeBody[memory.PreflightResult](t, rec)
	assert.NotEmpty(t, result.ScopeID)
	assert.NotEmpty(t, result.Memories)
}

func TestHandleHealth(t *testing.T) {
	_, h := createTestServer(t, memory.ServiceConfig{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[memory.HealthResult](t, rec).Status)
}

func TestHandleStats(t *testing.T) {
	_, h := createTestServer(t, memory.ServiceConfig{})
	writeEntry(t, h, "counted entry")

	req := httptest.NewRequest(http.MethodGet, "/stats/acme", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stats := decodeBody[memory.StatsResult](t, rec)
	assert.EqualValues(t, 1, stats.Entries)
	assert.EqualValues(t, 1, stats.Writes)
}

func TestRequestIDHeader(t *testing.T) {
	_, h := createTestServer(t, memory.ServiceConfig{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	// An inbound id is echoed back and threaded into error envelopes
	req = httptest.NewRequest(http.MethodPost, "/tools/memory.get", bytes.NewReader([]byte("{}")))
	req.Header.Set("X-Request-ID", "req-fixed-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-fixed-123", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "req-fixed-123", decodeBody[ErrorResponse](t, rec).Error.RequestID)
}

func TestACLEnforcement(t *testing.T) {
	svc, h := createTestServer(t, memory.ServiceConfig{EnforceACL: true})

	body := map[string]any{
		"tenant_id": "acme",
		"scope":     map[string]string{"project_id": "apollo"},
		"kind":      "decision",
		"content":   "gated content",
	}

	// No grant, no access
	rec := postJSON(t, h, "/tools/memory.write", body, principalHeader, "agent-1")
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", decodeBody[ErrorResponse](t, rec).Error.Code)

	// The system principal is never accepted from the wire
	rec = postJSON(t, h, "/tools/memory.write", body, principalHeader, memory.SystemPrincipal)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	require.NoError(t, svc.Store().UpsertGrant(context.Background(), memory.Grant{
		TenantID:   "acme",
		Principal:  "agent-1",
		Permission: memory.PermissionWrite,
		Granted:    true,
	}))

	rec = postJSON(t, h, "/tools/memory.write", body, principalHeader, "agent-1")
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}
