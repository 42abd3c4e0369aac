package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mnemohq/mnemo/internal/observability"
	"github.com/mnemohq/mnemo/pkg/blob"
	"github.com/mnemohq/mnemo/pkg/cache"
)

// Notifier receives service events, e.g. for the websocket event stream.
type Notifier interface {
	Notify(event Event)
}

// Event describes a state change worth broadcasting.
type Event struct {
	Type     string    `json:"type"` // entry_written, entry_linked, summary_created, attachment_added
	TenantID string    `json:"tenant_id"`
	ScopeID  string    `json:"scope_id,omitempty"`
	MemoryID string    `json:"memory_id,omitempty"`
	At       time.Time `json:"at"`
}

// ServiceConfig tunes the service facade.
type ServiceConfig struct {
	Weights         Weights
	CandidateLimit  int
	RecencyHalfLife time.Duration
	EmbedTimeout    time.Duration
	EnforceACL      bool
	SummaryEntries  int
}

// Service is the tool-operation surface. Every operation consults the ACL
// gate before touching the store, and all internal retries happen below
// this boundary.
type Service struct {
	store    *Store
	cache    cache.Cache
	blobs    blob.Store
	provider EmbeddingProvider
	retrier  *EmbedRetrier
	cfg      ServiceConfig
	logger   zerolog.Logger
	notifier Notifier
}

// NewService wires the service facade.
func NewService(store *Store, c cache.Cache, blobs blob.Store, provider EmbeddingProvider,
	retrier *EmbedRetrier, cfg ServiceConfig, logger zerolog.Logger) *Service {
	observability.EnsureRegistered()

	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 5 * time.Second
	}
	if cfg.SummaryEntries <= 0 {
		cfg.SummaryEntries = 50
	}
	return &Service{
		store:    store,
		cache:    c,
		blobs:    blobs,
		provider: provider,
		retrier:  retrier,
		cfg:      cfg,
		logger:   logger,
	}
}

// SetNotifier attaches an event sink. Optional.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

func (s *Service) notify(e Event) {
	if s.notifier != nil {
		e.At = time.Now()
		s.notifier.Notify(e)
	}
}

// Store exposes the underlying store for grant seeding and jobs.
func (s *Service) Store() *Store { return s.store }

// SystemPrincipal is the reserved identity for internal callers such as the
// maintenance jobs. It bypasses the ACL gate and is rejected at the HTTP
// boundary.
const SystemPrincipal = "@system"

func (s *Service) authorize(ctx context.Context, tenantID, scopeID, principal string, perm Permission, op string) error {
	if !s.cfg.EnforceACL || principal == SystemPrincipal {
		return nil
	}
	allowed, err := s.store.CheckAccess(ctx, tenantID, scopeID, principal, perm)
	if err != nil {
		return fmt.Errorf("acl check failed: %v: %w", err, ErrDependency)
	}
	if !allowed {
		observability.RecordACLAudit(principal, op, "denied", map[string]any{
			"tenant": tenantID, "scope": scopeID, "permission": string(perm),
		})
		return fmt.Errorf("%s denied for principal %q: %w", op, principal, ErrPermission)
	}
	return nil
}

// ── memory.write ─────────────────────────────────────────────────────

// WriteRequest is the memory.write input.
type WriteRequest struct {
	TenantID      string   `json:"tenant_id"`
	Scope         Scope    `json:"scope"`
	Kind          Kind     `json:"kind"`
	Title         string   `json:"title,omitempty"`
	Content       string   `json:"content"`
	Tags          []string `json:"tags,omitempty"`
	Source        string   `json:"source,omitempty"`
	AuthorAgentID string   `json:"author_agent_id,omitempty"`
	ToolName      string   `json:"tool_name,omitempty"`
	Principal     string   `json:"-"`
}

// WriteResult is the memory.write output.
type WriteResult struct {
	Entry     Entry  `json:"entry"`
	Created   bool   `json:"created"`
	Embedding string `json:"embedding"` // ok | pending | disabled
}

// Write persists an entry idempotently. The embedding is attempted
// synchronously within a bounded timeout and handed to the background
// retrier on failure; the entry itself is durable either way.
func (s *Service) Write(ctx context.Context, req WriteRequest) (*WriteResult, error) {
	start := time.Now()

	scopeID, err := s.store.ResolveScope(ctx, req.TenantID, req.Scope)
	if err != nil {
		observability.RecordWrite("error", time.Since(start))
		return nil, err
	}
	if err := s.authorize(ctx, req.TenantID, scopeID, req.Principal, PermissionWrite, "memory.write"); err != nil {
		return nil, err
	}

	entry := &Entry{
		TenantID:      req.TenantID,
		ScopeID:       scopeID,
		Kind:          req.Kind,
		Title:         req.Title,
		Content:       req.Content,
		Tags:          req.Tags,
		Source:        req.Source,
		AuthorAgentID: req.AuthorAgentID,
		ToolName:      req.ToolName,
	}
	created, err := s.store.WriteEntry(ctx, entry)
	if err != nil {
		observability.RecordWrite("error", time.Since(start))
		return nil, err
	}

	outcome := "duplicate"
	if created {
		outcome = "created"
	} else {
		if err := s.cache.RecordDedupe(ctx, req.TenantID); err != nil {
			s.logger.Warn().Err(err).Msg("Dedupe counter update failed")
		}
	}
	observability.RecordWrite(outcome, time.Since(start))

	embedStatus := s.embedEntry(ctx, entry)

	// Cache updates are best-effort side effects; the durable write already
	// succeeded.
	if err := s.cache.PushWorkingSet(ctx, req.TenantID, scopeID, entry.ID); err != nil {
		s.logger.Warn().Err(err).Msg("Working set update failed")
	}
	if err := s.cache.InvalidateScope(ctx, req.TenantID, scopeID); err != nil {
		s.logger.Warn().Err(err).Msg("Search cache invalidation failed")
	}
	if err := s.cache.RecordWrite(ctx, req.TenantID); err != nil {
		s.logger.Warn().Err(err).Msg("Write counter update failed")
	}

	s.notify(Event{Type: "entry_written", TenantID: req.TenantID, ScopeID: scopeID, MemoryID: entry.ID})

	s.logger.Debug().Str("id", entry.ID).Bool("created", created).
		Str("embedding", embedStatus).Msg("Memory written")

	return &WriteResult{Entry: *entry, Created: created, Embedding: embedStatus}, nil
}

// embedEntry makes one bounded synchronous embedding attempt, falling back
// to the background retrier.
func (s *Service) embedEntry(ctx context.Context, entry *Entry) string {
	if s.provider == nil {
		return "disabled"
	}

	text := embedInput(entry.Title, entry.Content)
	embedCtx, cancel := context.WithTimeout(ctx, s.cfg.EmbedTimeout)
	defer cancel()

	vec, err := s.provider.GenerateEmbedding(embedCtx, text)
	if err == nil {
		if err = s.store.UpsertEmbedding(ctx, entry.ID, vec); err == nil {
			return "ok"
		}
	}

	s.logger.Warn().Err(err).Str("id", entry.ID).Msg("Embedding deferred to background retry")
	observability.RecordEmbedRetry()
	if s.retrier != nil {
		s.retrier.Enqueue(entry.ID, text)
	}
	return "pending"
}

func embedInput(title, content string) string {
	return strings.TrimSpace(title + " " + content)
}

// ── memory.search ────────────────────────────────────────────────────

// SearchRequest is the memory.search input.
type SearchRequest struct {
	TenantID    string   `json:"tenant_id"`
	ScopeFilter Scope    `json:"scope_filter"`
	Query       string   `json:"query"`
	TopK        int      `json:"top_k,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Kinds       []Kind   `json:"kinds,omitempty"`
	Since       time.Time `json:"time_range_start,omitempty"`
	Until       time.Time `json:"time_range_end,omitempty"`
	Principal   string   `json:"-"`
}

// SearchResponse carries the ranked results and their serving source.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Source  string         `json:"source"` // cache | store
}

// Search runs hybrid retrieval, read-through on the search cache.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	start := time.Now()

	scopeID, err := s.store.ResolveScope(ctx, req.TenantID, req.ScopeFilter)
	if err != nil {
		observability.RecordSearch("error", time.Since(start))
		return nil, err
	}
	if err := s.authorize(ctx, req.TenantID, scopeID, req.Principal, PermissionRead, "memory.search"); err != nil {
		return nil, err
	}
	for _, k := range req.Kinds {
		if !k.Valid() {
			return nil, fmt.Errorf("unknown kind %q: %w", k, ErrValidation)
		}
	}
	if req.TopK <= 0 {
		req.TopK = defaultTopK
	}

	var sinceNano, untilNano int64
	if !req.Since.IsZero() {
		sinceNano = req.Since.UnixNano()
	}
	if !req.Until.IsZero() {
		untilNano = req.Until.UnixNano()
	}
	fp := cache.Fingerprint(req.Query, req.Tags, kindStrings(req.Kinds), req.TopK, sinceNano, untilNano)
	if payload, ok, err := s.cache.GetSearch(ctx, req.TenantID, scopeID, fp); err == nil && ok {
		var results []SearchResult
		if err := json.Unmarshal(payload, &results); err == nil {
			observability.RecordCacheLookup("hit")
			observability.RecordSearch("cache", time.Since(start))
			if err := s.cache.RecordSearchCacheHit(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("Cache hit counter update failed")
			}
			return &SearchResponse{Results: results, Source: "cache"}, nil
		}
	} else if err != nil {
		s.logger.Warn().Err(err).Msg("Search cache lookup failed")
	}
	observability.RecordCacheLookup("miss")
	if err := s.cache.RecordSearchCacheMiss(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Cache miss counter update failed")
	}

	// Query embedding is best-effort; without it the keyword and recency
	// legs still serve.
	var queryVec []float32
	if s.provider != nil {
		embedCtx, cancel := context.WithTimeout(ctx, s.cfg.EmbedTimeout)
		queryVec, err = s.provider.GenerateEmbedding(embedCtx, req.Query)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Msg("Query embedding failed, keyword-only search")
			queryVec = nil
		}
	}

	results, err := s.store.Search(ctx, SearchParams{
		TenantID:        req.TenantID,
		ScopeID:         scopeID,
		Query:           req.Query,
		QueryVec:        queryVec,
		TopK:            req.TopK,
		Tags:            req.Tags,
		Kinds:           req.Kinds,
		Since:           req.Since,
		Until:           req.Until,
		Weights:         s.cfg.Weights,
		CandidateLimit:  s.cfg.CandidateLimit,
		RecencyHalfLife: s.cfg.RecencyHalfLife,
	})
	if err != nil {
		observability.RecordSearch("error", time.Since(start))
		return nil, err
	}

	// Populate the cache; concurrent identical queries may race and
	// last-writer-wins is fine for pure derived data.
	if payload, err := json.Marshal(results); err == nil {
		if err := s.cache.SetSearch(ctx, req.TenantID, scopeID, fp, payload); err != nil {
			s.logger.Warn().Err(err).Msg("Search cache populate failed")
		}
	}
	if err := s.cache.RecordSearch(ctx, req.TenantID); err != nil {
		s.logger.Warn().Err(err).Msg("Search counter update failed")
	}

	observability.RecordSearch("store", time.Since(start))
	return &SearchResponse{Results: results, Source: "store"}, nil
}

func kindStrings(kinds []Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// ── memory.get ───────────────────────────────────────────────────────

// GetResult is the full entry view: direct links only, no traversal.
type GetResult struct {
	Entry       Entry        `json:"entry"`
	Outgoing    []Link       `json:"linked_to"`
	Incoming    []Link       `json:"linked_from"`
	Attachments []Attachment `json:"attachments"`
}

// Get returns an entry with its depth-1 link expansion and attachments.
func (s *Service) Get(ctx context.Context, tenantID, memoryID, principal string) (*GetResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required: %w", ErrValidation)
	}
	entry, err := s.store.GetEntry(ctx, tenantID, memoryID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, tenantID, entry.ScopeID, principal, PermissionRead, "memory.get"); err != nil {
		return nil, err
	}

	outgoing, incoming, err := s.store.Links(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	attachments, err := s.store.Attachments(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	return &GetResult{
		Entry:       *entry,
		Outgoing:    outgoing,
		Incoming:    incoming,
		Attachments: attachments,
	}, nil
}

// ── memory.link ──────────────────────────────────────────────────────

// LinkEntries creates (or returns) the typed edge between two entries.
func (s *Service) LinkEntries(ctx context.Context, tenantID, fromID, toID string, relation Relation, principal string) (*Link, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required: %w", ErrValidation)
	}
	from, err := s.store.GetEntry(ctx, tenantID, fromID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, tenantID, from.ScopeID, principal, PermissionWrite, "memory.link"); err != nil {
		return nil, err
	}

	link, err := s.store.CreateLink(ctx, tenantID, fromID, toID, relation)
	if err != nil {
		return nil, err
	}
	s.notify(Event{Type: "entry_linked", TenantID: tenantID, ScopeID: from.ScopeID, MemoryID: fromID})
	return link, nil
}

// ── memory.summarize_scope ───────────────────────────────────────────

// SummarizeRequest is the memory.summarize_scope input.
type SummarizeRequest struct {
	TenantID   string `json:"tenant_id"`
	Scope      Scope  `json:"scope"`
	Period     string `json:"period,omitempty"` // defaults to the current day
	Mode       string `json:"mode,omitempty"`   // brief | full
	MaxEntries int    `json:"max_entries,omitempty"`
	Principal  string `json:"-"`
}

// SummarizeResult is the memory.summarize_scope output.
type SummarizeResult struct {
	SummaryID string `json:"summary_id"`
	Sources   int    `json:"sources"`
	Updated   bool   `json:"updated"` // true when an existing period summary was rewritten
}

// SummarizeScope aggregates recent entries in a scope into one summary
// entry linked to its sources. Idempotent per (scope, period): re-running a
// period rewrites the existing summary instead of duplicating it.
func (s *Service) SummarizeScope(ctx context.Context, req SummarizeRequest) (*SummarizeResult, error) {
	scopeID, err := s.store.ResolveScope(ctx, req.TenantID, req.Scope)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, req.TenantID, scopeID, req.Principal, PermissionWrite, "memory.summarize_scope"); err != nil {
		return nil, err
	}

	if req.Period == "" {
		req.Period = time.Now().Format("2006-01-02")
	}
	if req.Mode == "" {
		req.Mode = "brief"
	}
	if req.MaxEntries <= 0 {
		req.MaxEntries = s.cfg.SummaryEntries
	}

	// Existing summaries are excluded from sources to avoid recursion.
	entries, err := s.store.ScopeEntries(ctx, req.TenantID, scopeID, req.MaxEntries, KindSummary)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no entries to summarize in scope: %w", ErrNotFound)
	}

	title := "Scope summary " + req.Period
	content := renderSummary(entries, req.Mode)
	periodTag := "period:" + req.Period
	tags := []string{"auto_summary", req.Mode, periodTag}

	var summaryID string
	updated := false
	if existing, err := s.store.SummaryForPeriod(ctx, req.TenantID, scopeID, periodTag); err == nil {
		if err := s.store.RewriteEntry(ctx, existing.ID, title, content, tags); err != nil {
			return nil, err
		}
		summaryID = existing.ID
		updated = true
	} else {
		summary := &Entry{
			TenantID: req.TenantID,
			ScopeID:  scopeID,
			Kind:     KindSummary,
			Title:    title,
			Content:  content,
			Tags:     tags,
			Source:   "system",
		}
		if _, err := s.store.WriteEntry(ctx, summary); err != nil {
			return nil, err
		}
		summaryID = summary.ID
	}

	if s.provider != nil {
		embedCtx, cancel := context.WithTimeout(ctx, s.cfg.EmbedTimeout)
		vec, err := s.provider.GenerateEmbedding(embedCtx, content)
		cancel()
		if err == nil {
			if err := s.store.UpsertEmbedding(ctx, summaryID, vec); err != nil {
				s.logger.Warn().Err(err).Msg("Summary embedding store failed")
			}
		} else if s.retrier != nil {
			s.retrier.Enqueue(summaryID, content)
		}
	}

	for _, e := range entries {
		if _, err := s.store.CreateLink(ctx, req.TenantID, summaryID, e.ID, RelationDerivedFrom); err != nil {
			s.logger.Warn().Err(err).Str("source", e.ID).Msg("Failed to link summary source")
		}
	}

	if err := s.cache.InvalidateScope(ctx, req.TenantID, scopeID); err != nil {
		s.logger.Warn().Err(err).Msg("Search cache invalidation failed")
	}

	s.notify(Event{Type: "summary_created", TenantID: req.TenantID, ScopeID: scopeID, MemoryID: summaryID})
	return &SummarizeResult{SummaryID: summaryID, Sources: len(entries), Updated: updated}, nil
}

func renderSummary(entries []Entry, mode string) string {
	var b strings.Builder
	if mode == "full" {
		fmt.Fprintf(&b, "Full scope summary (%d entries):\n", len(entries))
		for i, e := range entries {
			if i > 0 {
				b.WriteString("\n---\n")
			}
			writeSummaryLine(&b, e, 0)
		}
		return b.String()
	}

	shown := len(entries)
	if shown > 20 {
		shown = 20
	}
	fmt.Fprintf(&b, "Scope summary (%d entries, showing top %d):\n", len(entries), shown)
	for _, e := range entries[:shown] {
		writeSummaryLine(&b, e, 200)
		b.WriteString("\n")
	}
	return b.String()
}

func writeSummaryLine(b *strings.Builder, e Entry, preview int) {
	fmt.Fprintf(b, "[%s]", e.Kind)
	if e.Title != "" {
		fmt.Fprintf(b, " %s", e.Title)
	}
	content := e.Content
	if preview > 0 && len(content) > preview {
		content = content[:preview]
	}
	fmt.Fprintf(b, ": %s", content)
}

// ── memory.attach_blob / memory.fetch_blob ───────────────────────────

// AttachBlob uploads bytes to the blob backend and records the attachment
// row only after the upload is confirmed, so a failed upload leaves nothing
// behind.
func (s *Service) AttachBlob(ctx context.Context, tenantID, memoryID string, data []byte, filename, mimeType, principal string) (*Attachment, error) {
	if len(data) == 0 || filename == "" {
		return nil, fmt.Errorf("data and filename are required: %w", ErrValidation)
	}
	entry, err := s.store.GetEntry(ctx, tenantID, memoryID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, tenantID, entry.ScopeID, principal, PermissionWrite, "memory.attach_blob"); err != nil {
		return nil, err
	}

	sha := blob.SHA256(data)
	key := blob.Key(tenantID, memoryID, filename)
	if err := s.blobs.Put(ctx, key, data, mimeType); err != nil {
		return nil, fmt.Errorf("blob upload failed: %v: %w", err, ErrDependency)
	}

	attachment := &Attachment{
		ID:       AttachmentID(memoryID, sha),
		MemoryID: memoryID,
		BlobKey:  key,
		Filename: filename,
		MimeType: mimeType,
		Bytes:    int64(len(data)),
		SHA256:   sha,
	}
	if err := s.store.PutAttachment(ctx, attachment, tenantID); err != nil {
		return nil, err
	}

	s.notify(Event{Type: "attachment_added", TenantID: tenantID, ScopeID: entry.ScopeID, MemoryID: memoryID})
	return attachment, nil
}

// FetchBlobResult is a retrieval handle: a URL when the backend supports
// them, raw bytes otherwise.
type FetchBlobResult struct {
	Attachment Attachment `json:"attachment"`
	URL        string     `json:"url,omitempty"`
	Data       []byte     `json:"data,omitempty"`
}

// FetchBlob returns a retrieval handle for an attachment.
func (s *Service) FetchBlob(ctx context.Context, tenantID, attachmentID, principal string) (*FetchBlobResult, error) {
	attachment, err := s.store.GetAttachment(ctx, tenantID, attachmentID)
	if err != nil {
		return nil, err
	}
	entry, err := s.store.GetEntry(ctx, tenantID, attachment.MemoryID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, tenantID, entry.ScopeID, principal, PermissionRead, "memory.fetch_blob"); err != nil {
		return nil, err
	}

	url, err := s.blobs.URL(ctx, attachment.BlobKey)
	if err != nil {
		return nil, fmt.Errorf("blob backend unreachable: %v: %w", err, ErrDependency)
	}
	if url != "" {
		return &FetchBlobResult{Attachment: *attachment, URL: url}, nil
	}

	data, err := s.blobs.Get(ctx, attachment.BlobKey)
	if err != nil {
		return nil, fmt.Errorf("blob download failed: %v: %w", err, ErrDependency)
	}
	return &FetchBlobResult{Attachment: *attachment, Data: data}, nil
}

// ── memory.preflight ─────────────────────────────────────────────────

// PreflightRequest assembles prior context for a task before execution.
type PreflightRequest struct {
	TenantID          string `json:"tenant_id"`
	Scope             Scope  `json:"scope"`
	TaskTitle         string `json:"task_title"`
	TaskDescription   string `json:"task_description,omitempty"`
	TopK              int    `json:"top_k,omitempty"`
	IncludeWorkingSet bool   `json:"include_working_set"`
	Principal         string `json:"-"`
}

// PreflightResult carries ranked prior memories plus a formatted context
// block for prompt injection.
type PreflightResult struct {
	Memories      []SearchResult `json:"memories"`
	WorkingSetIDs []string       `json:"working_set_ids"`
	KnownContext  string         `json:"known_context"`
	ScopeID       string         `json:"scope_id"`
}

// Preflight searches durable knowledge kinds in scope and fetches the
// working set for low-latency context assembly.
func (s *Service) Preflight(ctx context.Context, req PreflightRequest) (*PreflightResult, error) {
	if strings.TrimSpace(req.TaskTitle) == "" {
		return nil, fmt.Errorf("task_title is required: %w", ErrValidation)
	}
	if req.TopK <= 0 {
		req.TopK = 5
	}

	query := req.TaskTitle
	if req.TaskDescription != "" {
		query += " " + req.TaskDescription
	}

	resp, err := s.Search(ctx, SearchRequest{
		TenantID:    req.TenantID,
		ScopeFilter: req.Scope,
		Query:       query,
		TopK:        req.TopK,
		Kinds:       []Kind{KindTaskOutcome, KindDecision, KindRunbook, KindSummary},
		Principal:   req.Principal,
	})
	if err != nil {
		return nil, err
	}

	scopeID := ScopeKeyID(req.TenantID, req.Scope)
	var workingSet []string
	if req.IncludeWorkingSet {
		workingSet, err = s.cache.WorkingSet(ctx, req.TenantID, scopeID)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Working set fetch failed")
			workingSet = nil
		}
	}

	return &PreflightResult{
		Memories:      resp.Results,
		WorkingSetIDs: workingSet,
		KnownContext:  formatKnownContext(resp.Results),
		ScopeID:       scopeID,
	}, nil
}

func formatKnownContext(memories []SearchResult) string {
	if len(memories) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Known Context (from prior tasks)\n")
	for i, m := range memories {
		title := m.Entry.Title
		if title == "" {
			title = "untitled"
		}
		content := m.Entry.Content
		if len(content) > 500 {
			content = content[:500] + "..."
		}
		fmt.Fprintf(&b, "\n### %d. [%s] %s (relevance: %.2f)\n%s\n", i+1, m.Entry.Kind, title, m.Score, content)
	}
	return b.String()
}

// ── health / stats ───────────────────────────────────────────────────

// HealthResult reports backend connectivity.
type HealthResult struct {
	Status      string `json:"status"` // ok | degraded
	StoreStatus string `json:"store_status"`
	CacheStatus string `json:"cache_status"`
}

// Health pings store and cache.
func (s *Service) Health(ctx context.Context) *HealthResult {
	h := &HealthResult{Status: "ok", StoreStatus: "ok", CacheStatus: "ok"}
	if err := s.store.Ping(ctx); err != nil {
		h.Status = "degraded"
		h.StoreStatus = err.Error()
	}
	if err := s.cache.Ping(ctx); err != nil {
		h.Status = "degraded"
		h.CacheStatus = err.Error()
	}
	return h
}

// StatsResult is the per-tenant observability view.
type StatsResult struct {
	cache.Stats
	Entries int64 `json:"entries"`
}

// Stats returns counters for a tenant.
func (s *Service) Stats(ctx context.Context, tenantID string) (*StatsResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required: %w", ErrValidation)
	}
	counters, err := s.cache.Stats(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("stats unavailable: %v: %w", err, ErrDependency)
	}
	entries, err := s.store.CountEntries(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	observability.SetEntriesTotal(float64(entries))
	return &StatsResult{Stats: counters, Entries: entries}, nil
}
