package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mnemohq/mnemo/internal/observability"
	"github.com/mnemohq/mnemo/pkg/memory"
)

var validate = validator.New()

// decodeAndValidate decodes the JSON body into dst and runs struct
// validation. A false return means the error response is already written.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeValidationError(w, r, "invalid JSON body: "+err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeValidationError(w, r, "validation failed: "+err.Error())
		return false
	}
	return true
}

func (s *Server) audit(r *http.Request, tool string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	observability.RecordToolAudit(tool, principalFrom(r), status, map[string]any{
		"request_id": RequestIDFromContext(r.Context()),
	})
}

// ── tool handlers ────────────────────────────────────────────────────

type writeRequest struct {
	TenantID      string       `json:"tenant_id" validate:"required"`
	Scope         memory.Scope `json:"scope"`
	Kind          string       `json:"kind" validate:"required"`
	Title         string       `json:"title"`
	Content       string       `json:"content" validate:"required"`
	Tags          []string     `json:"tags"`
	Source        string       `json:"source"`
	AuthorAgentID string       `json:"author_agent_id"`
	ToolName      string       `json:"tool_name"`
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	kind := memory.Kind(req.Kind)
	if !kind.Valid() {
		writeValidationError(w, r, "unknown kind: "+req.Kind)
		return
	}

	result, err := s.svc.Write(r.Context(), memory.WriteRequest{
		TenantID:      req.TenantID,
		Scope:         req.Scope,
		Kind:          kind,
		Title:         req.Title,
		Content:       req.Content,
		Tags:          req.Tags,
		Source:        req.Source,
		AuthorAgentID: req.AuthorAgentID,
		ToolName:      req.ToolName,
		Principal:     principalFrom(r),
	})
	s.audit(r, "memory.write", err)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

type searchRequest struct {
	TenantID    string       `json:"tenant_id" validate:"required"`
	ScopeFilter memory.Scope `json:"scope_filter"`
	Query       string       `json:"query" validate:"required"`
	TopK        int          `json:"top_k" validate:"gte=0,lte=100"`
	Tags        []string     `json:"tags"`
	Kinds       []string     `json:"kinds"`
	Since       *time.Time   `json:"time_range_start"`
	Until       *time.Time   `json:"time_range_end"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	kinds := make([]memory.Kind, len(req.Kinds))
	for i, k := range req.Kinds {
		kinds[i] = memory.Kind(k)
	}

	sreq := memory.SearchRequest{
		TenantID:    req.TenantID,
		ScopeFilter: req.ScopeFilter,
		Query:       req.Query,
		TopK:        req.TopK,
		Tags:        req.Tags,
		Kinds:       kinds,
		Principal:   principalFrom(r),
	}
	if req.Since != nil {
		sreq.Since = *req.Since
	}
	if req.Until != nil {
		sreq.Until = *req.Until
	}

	resp, err := s.svc.Search(r.Context(), sreq)
	s.audit(r, "memory.search", err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type getRequest struct {
	TenantID string `json:"tenant_id" validate:"required"`
	MemoryID string `json:"memory_id" validate:"required"`
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	var req getRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := s.svc.Get(r.Context(), req.TenantID, req.MemoryID, principalFrom(r))
	s.audit(r, "memory.get", err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type linkRequest struct {
	TenantID string `json:"tenant_id" validate:"required"`
	FromID   string `json:"from_id" validate:"required"`
	ToID     string `json:"to_id" validate:"required"`
	Relation string `json:"relation" validate:"required"`
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	link, err := s.svc.LinkEntries(r.Context(), req.TenantID, req.FromID, req.ToID,
		memory.Relation(req.Relation), principalFrom(r))
	s.audit(r, "memory.link", err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

type summarizeRequest struct {
	TenantID   string       `json:"tenant_id" validate:"required"`
	Scope      memory.Scope `json:"scope"`
	Period     string       `json:"period"`
	Mode       string       `json:"mode" validate:"omitempty,oneof=brief full"`
	MaxEntries int          `json:"max_entries" validate:"gte=0,lte=500"`
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := s.svc.SummarizeScope(r.Context(), memory.SummarizeRequest{
		TenantID:   req.TenantID,
		Scope:      req.Scope,
		Period:     req.Period,
		Mode:       req.Mode,
		MaxEntries: req.MaxEntries,
		Principal:  principalFrom(r),
	})
	s.audit(r, "memory.summarize_scope", err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type attachBlobRequest struct {
	TenantID string `json:"tenant_id" validate:"required"`
	MemoryID string `json:"memory_id" validate:"required"`
	Filename string `json:"filename" validate:"required"`
	MimeType string `json:"mime_type"`
	Data     string `json:"data" validate:"required"` // base64
}

func (s *Server) handleAttachBlob(w http.ResponseWriter, r *http.Request) {
	var req attachBlobRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		writeValidationError(w, r, "data must be base64 encoded")
		return
	}

	attachment, err := s.svc.AttachBlob(r.Context(), req.TenantID, req.MemoryID,
		data, req.Filename, req.MimeType, principalFrom(r))
	s.audit(r, "memory.attach_blob", err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, attachment)
}

type fetchBlobRequest struct {
	TenantID     string `json:"tenant_id" validate:"required"`
	AttachmentID string `json:"attachment_id" validate:"required"`
}

func (s *Server) handleFetchBlob(w http.ResponseWriter, r *http.Request) {
	var req fetchBlobRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := s.svc.FetchBlob(r.Context(), req.TenantID, req.AttachmentID, principalFrom(r))
	s.audit(r, "memory.fetch_blob", err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type preflightRequest struct {
	TenantID          string       `json:"tenant_id" validate:"required"`
	Scope             memory.Scope `json:"scope"`
	TaskTitle         string       `json:"task_title" validate:"required"`
	TaskDescription   string       `json:"task_description"`
	TopK              int          `json:"top_k" validate:"gte=0,lte=50"`
	IncludeWorkingSet bool         `json:"include_working_set"`
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	var req preflightRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := s.svc.Preflight(r.Context(), memory.PreflightRequest{
		TenantID:          req.TenantID,
		Scope:             req.Scope,
		TaskTitle:         req.TaskTitle,
		TaskDescription:   req.TaskDescription,
		TopK:              req.TopK,
		IncludeWorkingSet: req.IncludeWorkingSet,
		Principal:         principalFrom(r),
	})
	s.audit(r, "memory.preflight", err)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ── operational handlers ─────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.svc.Health(r.Context())
	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	stats, err := s.svc.Stats(r.Context(), tenantID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
