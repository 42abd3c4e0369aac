package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateLink inserts a directed, typed edge between two entries of the same
// tenant. Idempotent on (from, to, relation): a duplicate request returns
// the existing edge. Self-loops are rejected.
func (s *Store) CreateLink(ctx context.Context, tenantID, fromID, toID string, relation Relation) (*Link, error) {
	if !relation.Valid() {
		return nil, fmt.Errorf("unknown relation %q: %w", relation, ErrValidation)
	}
	if fromID == toID {
		return nil, fmt.Errorf("self-loop %s: %w", fromID, ErrValidation)
	}

	// Both endpoints must exist and share the tenant.
	if _, err := s.GetEntry(ctx, tenantID, fromID); err != nil {
		return nil, err
	}
	if _, err := s.GetEntry(ctx, tenantID, toID); err != nil {
		return nil, err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_links (tenant_id, from_id, to_id, relation, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (from_id, to_id, relation) DO NOTHING`,
		tenantID, fromID, toID, string(relation), nowNano())
	if err != nil {
		return nil, fmt.Errorf("failed to create link: %w", err)
	}

	return s.getLink(ctx, fromID, toID, relation)
}

func (s *Store) getLink(ctx context.Context, fromID, toID string, relation Relation) (*Link, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, from_id, to_id, relation, created_at
		 FROM memory_links
		 WHERE from_id = ? AND to_id = ? AND relation = ?`,
		fromID, toID, string(relation))
	l, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("link %s->%s: %w", fromID, toID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	return l, nil
}

func scanLink(r rowScanner) (*Link, error) {
	var (
		l           Link
		relation    string
		createdNano int64
	)
	if err := r.Scan(&l.ID, &l.FromID, &l.ToID, &relation, &createdNano); err != nil {
		return nil, err
	}
	l.Relation = Relation(relation)
	l.CreatedAt = time.Unix(0, createdNano)
	return &l, nil
}

// Links returns the direct edges touching an entry: outgoing then incoming.
// Depth-1 expansion only; the graph is not assumed acyclic and is never
// traversed further here.
func (s *Store) Links(ctx context.Context, memoryID string) (outgoing, incoming []Link, err error) {
	outgoing, err = s.linksWhere(ctx, `from_id = ?`, memoryID)
	if err != nil {
		return nil, nil, err
	}
	incoming, err = s.linksWhere(ctx, `to_id = ?`, memoryID)
	if err != nil {
		return nil, nil, err
	}
	return outgoing, incoming, nil
}

func (s *Store) linksWhere(ctx context.Context, cond string, args ...any) ([]Link, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, from_id, to_id, relation, created_at FROM memory_links WHERE `+cond, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, *l)
	}
	return links, rows.Err()
}
