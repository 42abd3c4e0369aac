package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// Store is the durable layer: entries, links, attachments, ACL grants, the
// vec0 vector index and the FTS5 keyword index, all in one SQLite database.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	dim    int
}

// StoreConfig holds store construction parameters.
type StoreConfig struct {
	Path      string
	Logger    zerolog.Logger
	Dimension int // embedding dimension; 0 disables the vector index
}

// OpenStore opens (creating if needed) the database and initializes schema.
// The keyword index needs go-sqlite3 compiled with the sqlite_fts5 build tag;
// without it schema init fails on the fts5 virtual table.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL keeps concurrent readers off the writers' backs
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db, logger: cfg.Logger, dim: cfg.Dimension}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Info().Str("path", cfg.Path).Int("dimension", cfg.Dimension).
		Msg("Memory store opened")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tenants (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS scopes (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL REFERENCES tenants(id),
			channel_id TEXT,
			conversation_id TEXT,
			project_id TEXT,
			task_id TEXT,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_scopes_tenant ON scopes(tenant_id);

		CREATE TABLE IF NOT EXISTS memory_entries (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL REFERENCES tenants(id),
			scope_id TEXT NOT NULL REFERENCES scopes(id),
			kind TEXT NOT NULL,
			title TEXT,
			content TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			source TEXT,
			author_agent_id TEXT,
			tool_name TEXT,
			content_hash TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE (tenant_id, scope_id, kind, content_hash)
		);
		CREATE INDEX IF NOT EXISTS idx_entries_scope ON memory_entries(tenant_id, scope_id, kind);
		CREATE INDEX IF NOT EXISTS idx_entries_created ON memory_entries(scope_id, created_at);

		CREATE TABLE IF NOT EXISTS memory_links (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id TEXT NOT NULL,
			from_id TEXT NOT NULL REFERENCES memory_entries(id) ON DELETE CASCADE,
			to_id TEXT NOT NULL REFERENCES memory_entries(id) ON DELETE CASCADE,
			relation TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			UNIQUE (from_id, to_id, relation)
		);
		CREATE INDEX IF NOT EXISTS idx_links_from ON memory_links(from_id, relation);
		CREATE INDEX IF NOT EXISTS idx_links_to ON memory_links(to_id, relation);

		CREATE TABLE IF NOT EXISTS memory_attachments (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			memory_id TEXT NOT NULL REFERENCES memory_entries(id) ON DELETE CASCADE,
			blob_key TEXT NOT NULL,
			filename TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			bytes INTEGER NOT NULL,
			sha256 TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_attachments_memory ON memory_attachments(memory_id);

		CREATE TABLE IF NOT EXISTS acl_grants (
			tenant_id TEXT NOT NULL,
			scope_id TEXT NOT NULL DEFAULT '',
			principal TEXT NOT NULL,
			permission TEXT NOT NULL,
			granted INTEGER NOT NULL,
			PRIMARY KEY (tenant_id, scope_id, principal, permission)
		);

		CREATE VIRTUAL TABLE IF NOT EXISTS entries_fts USING fts5(
			entry_id UNINDEXED,
			title,
			content,
			tokenize='porter unicode61'
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	if s.dim > 0 {
		vectorSchema := fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS memory_vec USING vec0(
				memory_id TEXT PRIMARY KEY,
				embedding float[%d] distance_metric=cosine
			);
		`, s.dim)
		if _, err := s.db.Exec(vectorSchema); err != nil {
			return fmt.Errorf("failed to create vector table: %w", err)
		}
	}

	return nil
}

// Ping verifies store connectivity for health reporting.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("store ping failed: %v: %w", err, ErrDependency)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureTenant inserts the tenant row if unseen. First-writer-wins.
func (s *Store) EnsureTenant(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required: %w", ErrValidation)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		tenantID, tenantID, nowNano())
	if err != nil {
		return fmt.Errorf("failed to ensure tenant: %w", err)
	}
	return nil
}

// ResolveScope validates the scope and lazily materializes the tenant and
// scope rows. The returned id is deterministic for the natural key, so
// concurrent first writers converge on one row.
func (s *Store) ResolveScope(ctx context.Context, tenantID string, scope Scope) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("tenant_id is required: %w", ErrValidation)
	}
	if scope.IsZero() {
		return "", fmt.Errorf("at least one scope dimension is required: %w", ErrValidation)
	}

	if err := s.EnsureTenant(ctx, tenantID); err != nil {
		return "", err
	}

	scopeID := ScopeKeyID(tenantID, scope)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scopes (id, tenant_id, channel_id, conversation_id, project_id, task_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		scopeID, tenantID,
		nullable(scope.Channel), nullable(scope.Conversation),
		nullable(scope.Project), nullable(scope.Task),
		nowNano())
	if err != nil {
		return "", fmt.Errorf("failed to resolve scope: %w", err)
	}
	return scopeID, nil
}

// ScopeIDs returns all scope ids for a tenant.
func (s *Store) ScopeIDs(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM scopes WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ScopeByID loads the scope dimensions behind a scope id.
func (s *Store) ScopeByID(ctx context.Context, tenantID, scopeID string) (*Scope, error) {
	var ch, conv, proj, task sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT channel_id, conversation_id, project_id, task_id
		 FROM scopes WHERE tenant_id = ? AND id = ?`,
		tenantID, scopeID).Scan(&ch, &conv, &proj, &task)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("scope %s not found: %w", scopeID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load scope: %w", err)
	}
	return &Scope{
		Channel:      ch.String,
		Conversation: conv.String,
		Project:      proj.String,
		Task:         task.String,
	}, nil
}

// ActiveScopeIDs returns scopes with non-summary activity since the cutoff.
func (s *Store) ActiveScopeIDs(ctx context.Context, tenantID string, sinceNano int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT sc.id
		 FROM scopes sc
		 JOIN memory_entries me ON me.scope_id = sc.id
		 WHERE sc.tenant_id = ? AND me.created_at >= ? AND me.kind != ?`,
		tenantID, sinceNano, string(KindSummary))
	if err != nil {
		return nil, fmt.Errorf("failed to list active scopes: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TenantIDs returns all known tenants, for job fan-out.
func (s *Store) TenantIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tenants`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
