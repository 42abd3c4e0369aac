package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// SearchParams drives one hybrid retrieval pass. QueryVec may be nil when no
// embedding is available; the keyword and recency legs still run.
type SearchParams struct {
	TenantID string
	ScopeID  string
	Query    string
	QueryVec []float32
	TopK     int
	Tags     []string
	Kinds    []Kind
	Since    time.Time
	Until    time.Time

	Weights         Weights
	CandidateLimit  int           // per-leg pre-filter top-N
	RecencyHalfLife time.Duration // decay half-life for the recency score
}

const (
	defaultTopK            = 10
	defaultCandidateLimit  = 50
	defaultRecencyHalfLife = 7 * 24 * time.Hour
)

type legHit struct {
	id    string
	score float64
}

// Search runs two-stage hybrid retrieval: an approximate vector top-N and a
// keyword top-N are fetched independently, merged, and rescored with the
// weighted composite. Results never cross the requested tenant and scope.
func (s *Store) Search(ctx context.Context, p SearchParams) ([]SearchResult, error) {
	if p.TenantID == "" {
		return nil, fmt.Errorf("tenant_id is required: %w", ErrValidation)
	}
	if p.ScopeID == "" {
		return nil, fmt.Errorf("scope_filter is required: %w", ErrValidation)
	}
	if strings.TrimSpace(p.Query) == "" {
		return []SearchResult{}, nil
	}

	if p.TopK <= 0 {
		p.TopK = defaultTopK
	}
	if p.CandidateLimit <= 0 {
		p.CandidateLimit = defaultCandidateLimit
	}
	if p.RecencyHalfLife <= 0 {
		p.RecencyHalfLife = defaultRecencyHalfLife
	}
	if p.Weights == (Weights{}) {
		p.Weights = DefaultWeights()
	}

	var (
		vecHits, kwHits []legHit
		vecErr, kwErr   error
		wg              sync.WaitGroup
	)
	wg.Add(2)

	go func() {
		defer wg.Done()
		if len(p.QueryVec) > 0 && s.dim > 0 {
			vecHits, vecErr = s.vectorTopN(ctx, p)
		}
	}()
	go func() {
		defer wg.Done()
		kwHits, kwErr = s.keywordTopN(ctx, p)
	}()
	wg.Wait()

	if vecErr != nil {
		s.logger.Warn().Err(vecErr).Msg("Vector search failed, using keyword only")
	}
	if kwErr != nil {
		s.logger.Warn().Err(kwErr).Msg("Keyword search failed, using vector only")
	}
	if vecErr != nil && kwErr != nil {
		return nil, fmt.Errorf("both retrieval legs failed: %v: %w", kwErr, ErrDependency)
	}

	return s.mergeAndRank(ctx, p, vecHits, kwHits)
}

func (s *Store) vectorTopN(ctx context.Context, p SearchParams) ([]legHit, error) {
	vecJSON, err := json.Marshal(p.QueryVec)
	if err != nil {
		return nil, err
	}

	q := `
		SELECT e.id, vec_distance_cosine(v.embedding, ?) AS distance
		FROM memory_vec v
		JOIN memory_entries e ON e.id = v.memory_id
		WHERE e.tenant_id = ? AND e.scope_id = ?`
	args := []any{string(vecJSON), p.TenantID, p.ScopeID}
	q, args = appendFilters(q, args, p)
	q += ` ORDER BY distance ASC LIMIT ?`
	args = append(args, p.CandidateLimit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []legHit
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, err
		}
		// cosine distance to similarity
		hits = append(hits, legHit{id: id, score: 1.0 - distance})
	}
	return hits, rows.Err()
}

func (s *Store) keywordTopN(ctx context.Context, p SearchParams) ([]legHit, error) {
	match := ftsQuery(p.Query)
	if match == "" {
		return nil, nil
	}

	q := `
		SELECT f.entry_id, bm25(entries_fts) AS score
		FROM entries_fts f
		JOIN memory_entries e ON e.id = f.entry_id
		WHERE entries_fts MATCH ? AND e.tenant_id = ? AND e.scope_id = ?`
	args := []any{match, p.TenantID, p.ScopeID}
	q, args = appendFilters(q, args, p)
	q += ` ORDER BY score LIMIT ?`
	args = append(args, p.CandidateLimit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []legHit
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, err
		}
		// BM25 scores are negative, convert to positive
		hits = append(hits, legHit{id: id, score: -score})
	}
	return hits, rows.Err()
}

// appendFilters pushes kind/tag/time filters into storage so scoped queries
// stay index-backed.
func appendFilters(q string, args []any, p SearchParams) (string, []any) {
	if len(p.Kinds) > 0 {
		q += ` AND e.kind IN (` + placeholders(len(p.Kinds)) + `)`
		for _, k := range p.Kinds {
			args = append(args, string(k))
		}
	}
	if len(p.Tags) > 0 {
		q += ` AND EXISTS (SELECT 1 FROM json_each(e.tags) jt WHERE jt.value IN (` +
			placeholders(len(p.Tags)) + `))`
		for _, t := range p.Tags {
			args = append(args, t)
		}
	}
	if !p.Since.IsZero() {
		q += ` AND e.created_at >= ?`
		args = append(args, p.Since.UnixNano())
	}
	if !p.Until.IsZero() {
		q += ` AND e.created_at <= ?`
		args = append(args, p.Until.UnixNano())
	}
	return q, args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// ftsQuery quotes each token so user punctuation cannot break the FTS5
// grammar. Tokens are OR-ed; BM25 handles relevance.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " OR ")
}

func (s *Store) mergeAndRank(ctx context.Context, p SearchParams, vecHits, kwHits []legHit) ([]SearchResult, error) {
	vectorMap := make(map[string]float64, len(vecHits))
	keywordMap := make(map[string]float64, len(kwHits))

	var maxKeyword float64
	for _, h := range vecHits {
		vectorMap[h.id] = h.score
	}
	for _, h := range kwHits {
		keywordMap[h.id] = h.score
		if h.score > maxKeyword {
			maxKeyword = h.score
		}
	}

	candidates := make(map[string]bool, len(vectorMap)+len(keywordMap))
	for id := range vectorMap {
		candidates[id] = true
	}
	for id := range keywordMap {
		candidates[id] = true
	}
	if len(candidates) == 0 {
		return []SearchResult{}, nil
	}

	now := time.Now()
	results := make([]SearchResult, 0, len(candidates))
	for id := range candidates {
		entry, err := s.GetEntry(ctx, p.TenantID, id)
		if err != nil {
			s.logger.Warn().Err(err).Str("id", id).Msg("Failed to fetch candidate")
			continue
		}

		var normVector, normKeyword float64
		var vecPtr, kwPtr *float64

		if sim, ok := vectorMap[id]; ok {
			// similarity [-1, 1] to [0, 1]
			normVector = (sim + 1) / 2
			v := normVector
			vecPtr = &v
		}
		if kw, ok := keywordMap[id]; ok && maxKeyword > 0 {
			normKeyword = kw / maxKeyword
			k := normKeyword
			kwPtr = &k
		}

		age := now.Sub(entry.CreatedAt)
		recency := math.Exp2(-age.Hours() / p.RecencyHalfLife.Hours())

		score := normVector*p.Weights.Vector +
			normKeyword*p.Weights.Keyword +
			recency*p.Weights.Recency

		results = append(results, SearchResult{
			Entry:        *entry,
			Score:        score,
			VectorScore:  vecPtr,
			KeywordScore: kwPtr,
			RecencyScore: recency,
		})
	}

	// Descending composite; ties break to newer created_at, then smaller id.
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].Entry.CreatedAt.Equal(results[j].Entry.CreatedAt) {
			return results[i].Entry.CreatedAt.After(results[j].Entry.CreatedAt)
		}
		return results[i].Entry.ID < results[j].Entry.ID
	})

	if len(results) > p.TopK {
		results = results[:p.TopK]
	}
	return results, nil
}
