package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

func nowNano() int64 { return time.Now().UnixNano() }

func marshalTags(tags []string) string {
	if tags == nil {
		tags = []string{}
	}
	b, _ := json.Marshal(tags)
	return string(b)
}

func unmarshalTags(raw string) []string {
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil || tags == nil {
		return []string{}
	}
	return tags
}

// WriteEntry performs the atomic "insert, or on dedup-key conflict refresh
// updated_at" step. Returns created=false when the dedup key already existed.
// The conflict is resolved inside one transaction so two concurrent identical
// writes cannot both observe a fresh insert.
func (s *Store) WriteEntry(ctx context.Context, e *Entry) (created bool, err error) {
	if e.TenantID == "" || e.ScopeID == "" {
		return false, fmt.Errorf("tenant and scope are required: %w", ErrValidation)
	}
	if !e.Kind.Valid() {
		return false, fmt.Errorf("unknown kind %q: %w", e.Kind, ErrValidation)
	}
	if strings.TrimSpace(e.Content) == "" {
		return false, fmt.Errorf("content is required: %w", ErrValidation)
	}

	if e.ContentHash == "" {
		e.ContentHash = ContentHash(e.Kind, e.Title, e.Content)
	}
	if e.ID == "" {
		e.ID = EntryID(e.TenantID, e.ScopeID, e.ContentHash)
	}
	normalized := NormalizeContent(e.Content)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin write: %w", err)
	}
	defer tx.Rollback()

	now := nowNano()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO memory_entries
			(id, tenant_id, scope_id, kind, title, content, tags,
			 source, author_agent_id, tool_name, content_hash, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, scope_id, kind, content_hash) DO NOTHING`,
		e.ID, e.TenantID, e.ScopeID, string(e.Kind),
		nullable(e.Title), normalized, marshalTags(e.Tags),
		nullable(e.Source), nullable(e.AuthorAgentID), nullable(e.ToolName),
		e.ContentHash, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to insert entry: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	if n == 1 {
		created = true
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entries_fts (entry_id, title, content) VALUES (?, ?, ?)`,
			e.ID, e.Title, normalized); err != nil {
			return false, fmt.Errorf("failed to index entry: %w", err)
		}
	} else {
		// Duplicate write: refresh updated_at on the surviving row.
		if _, err := tx.ExecContext(ctx,
			`UPDATE memory_entries SET updated_at = ?
			 WHERE tenant_id = ? AND scope_id = ? AND kind = ? AND content_hash = ?`,
			now, e.TenantID, e.ScopeID, string(e.Kind), e.ContentHash); err != nil {
			return false, fmt.Errorf("failed to refresh duplicate: %w", err)
		}
	}

	row := tx.QueryRowContext(ctx, entrySelect+` WHERE id = ?`, e.ID)
	stored, err := scanEntry(row)
	if err != nil {
		return false, fmt.Errorf("failed to read back entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit write: %w", err)
	}

	*e = *stored
	return created, nil
}

const entrySelect = `
	SELECT id, tenant_id, scope_id, kind, title, content, tags,
	       source, author_agent_id, tool_name, content_hash, created_at, updated_at
	FROM memory_entries`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (*Entry, error) {
	var (
		e                       Entry
		kind, tags              string
		title, source           sql.NullString
		author, tool            sql.NullString
		createdNano, updatedNano int64
	)
	err := r.Scan(&e.ID, &e.TenantID, &e.ScopeID, &kind, &title, &e.Content, &tags,
		&source, &author, &tool, &e.ContentHash, &createdNano, &updatedNano)
	if err != nil {
		return nil, err
	}
	e.Kind = Kind(kind)
	e.Title = title.String
	e.Source = source.String
	e.AuthorAgentID = author.String
	e.ToolName = tool.String
	e.Tags = unmarshalTags(tags)
	e.CreatedAt = time.Unix(0, createdNano)
	e.UpdatedAt = time.Unix(0, updatedNano)
	return &e, nil
}

// GetEntry returns an entry by id within a tenant.
func (s *Store) GetEntry(ctx context.Context, tenantID, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, entrySelect+` WHERE id = ? AND tenant_id = ?`, id, tenantID)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("memory entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	return e, nil
}

// ScopeEntries returns the most recent entries in a scope, newest first,
// excluding the given kinds. Used by summarization and preflight.
func (s *Store) ScopeEntries(ctx context.Context, tenantID, scopeID string, limit int, excludeKinds ...Kind) ([]Entry, error) {
	q := entrySelect + ` WHERE tenant_id = ? AND scope_id = ?`
	args := []any{tenantID, scopeID}
	for _, k := range excludeKinds {
		q += ` AND kind != ?`
		args = append(args, string(k))
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scope entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// AddTag appends a tag to an entry if not already present.
func (s *Store) AddTag(ctx context.Context, id, tag string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT tags FROM memory_entries WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return fmt.Errorf("memory entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read tags: %w", err)
	}

	tags := unmarshalTags(raw)
	for _, t := range tags {
		if t == tag {
			return tx.Commit()
		}
	}
	tags = append(tags, tag)

	if _, err := tx.ExecContext(ctx,
		`UPDATE memory_entries SET tags = ?, updated_at = ? WHERE id = ?`,
		marshalTags(tags), nowNano(), id); err != nil {
		return fmt.Errorf("failed to update tags: %w", err)
	}
	return tx.Commit()
}

// RewriteEntry replaces an entry's content in place, recomputing the content
// hash and resyncing the keyword index. Used by the summarize job to update
// an existing period summary instead of duplicating it.
func (s *Store) RewriteEntry(ctx context.Context, id, title, content string, tags []string) error {
	normalized := NormalizeContent(content)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var kind string
	err = tx.QueryRowContext(ctx, `SELECT kind FROM memory_entries WHERE id = ?`, id).Scan(&kind)
	if err == sql.ErrNoRows {
		return fmt.Errorf("memory entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}

	hash := ContentHash(Kind(kind), title, content)
	if _, err := tx.ExecContext(ctx,
		`UPDATE memory_entries
		 SET title = ?, content = ?, tags = ?, content_hash = ?, updated_at = ?
		 WHERE id = ?`,
		nullable(title), normalized, marshalTags(tags), hash, nowNano(), id); err != nil {
		return fmt.Errorf("failed to rewrite entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries_fts WHERE entry_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entries_fts (entry_id, title, content) VALUES (?, ?, ?)`,
		id, title, normalized); err != nil {
		return err
	}
	return tx.Commit()
}

// UpsertEmbedding persists the vector for an entry, replacing any prior one.
func (s *Store) UpsertEmbedding(ctx context.Context, memoryID string, vec []float32) error {
	if s.dim == 0 {
		return nil
	}
	if len(vec) != s.dim {
		return fmt.Errorf("embedding dimension %d, want %d: %w", len(vec), s.dim, ErrValidation)
	}
	vecJSON, err := json.Marshal(vec)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// vec0 has no upsert; delete-then-insert inside the transaction.
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_vec WHERE memory_id = ?`, memoryID); err != nil {
		return fmt.Errorf("failed to clear embedding: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memory_vec (memory_id, embedding) VALUES (?, ?)`,
		memoryID, string(vecJSON)); err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	return tx.Commit()
}

// HasEmbedding reports whether an entry has a persisted vector.
func (s *Store) HasEmbedding(ctx context.Context, memoryID string) (bool, error) {
	if s.dim == 0 {
		return false, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_vec WHERE memory_id = ?`, memoryID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PromoteCandidate is an entry whose inbound reference count crossed the
// promotion threshold.
type PromoteCandidate struct {
	ID       string
	RefCount int
}

// PromoteCandidates finds task_outcome entries referenced at least minRefs
// times within the lookback window and not yet promoted. Bounded by batch.
func (s *Store) PromoteCandidates(ctx context.Context, tenantID string, minRefs int, sinceNano int64, batch int) ([]PromoteCandidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT me.id, COUNT(ml.id) AS ref_count
		 FROM memory_entries me
		 JOIN memory_links ml ON ml.to_id = me.id
		 WHERE me.tenant_id = ?
		   AND me.kind = ?
		   AND me.created_at >= ?
		   AND NOT EXISTS (SELECT 1 FROM json_each(me.tags) jt WHERE jt.value = ?)
		 GROUP BY me.id
		 HAVING COUNT(ml.id) >= ?
		 LIMIT ?`,
		tenantID, string(KindTaskOutcome), sinceNano, TagPromoted, minRefs, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to find promote candidates: %w", err)
	}
	defer rows.Close()

	var out []PromoteCandidate
	for rows.Next() {
		var c PromoteCandidate
		if err := rows.Scan(&c.ID, &c.RefCount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PruneChatTurns deletes non-promoted chat_turn entries older than the
// cutoff, at most batch rows per call. Links and attachments cascade; the
// keyword and vector indexes are cleaned alongside. Only chat_turn entries
// are ever considered.
func (s *Store) PruneChatTurns(ctx context.Context, tenantID, scopeID string, cutoffNano int64, batch int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM memory_entries
		 WHERE tenant_id = ? AND scope_id = ? AND kind = ?
		   AND created_at < ?
		   AND NOT EXISTS (SELECT 1 FROM json_each(tags) jt WHERE jt.value = ?)
		 LIMIT ?`,
		tenantID, scopeID, string(KindChatTurn), cutoffNano, TagPromoted, batch)
	if err != nil {
		return 0, fmt.Errorf("failed to select prune batch: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM memory_entries WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("failed to prune entry %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM entries_fts WHERE entry_id = ?`, id); err != nil {
			return 0, err
		}
		if s.dim > 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM memory_vec WHERE memory_id = ?`, id); err != nil {
				return 0, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// SummaryForPeriod finds the summary entry carrying the given period tag in
// a scope, if one exists. Backs the summarize job's per-period idempotency.
func (s *Store) SummaryForPeriod(ctx context.Context, tenantID, scopeID, periodTag string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, entrySelect+`
		 WHERE tenant_id = ? AND scope_id = ? AND kind = ?
		   AND EXISTS (SELECT 1 FROM json_each(tags) jt WHERE jt.value = ?)
		 LIMIT 1`,
		tenantID, scopeID, string(KindSummary), periodTag)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("summary for %s: %w", periodTag, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find period summary: %w", err)
	}
	return e, nil
}

// CountEntries returns the number of durable entries for a tenant.
func (s *Store) CountEntries(ctx context.Context, tenantID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_entries WHERE tenant_id = ?`, tenantID).Scan(&n)
	return n, err
}
