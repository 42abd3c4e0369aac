package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PutAttachment persists attachment metadata. Callers must only invoke this
// after the blob upload has been confirmed, so a failed upload never leaves
// a dangling pointer behind.
func (s *Store) PutAttachment(ctx context.Context, a *Attachment, tenantID string) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_attachments
			(id, tenant_id, memory_id, blob_key, filename, mime_type, bytes, sha256, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		a.ID, tenantID, a.MemoryID, a.BlobKey, a.Filename, a.MimeType, a.Bytes, a.SHA256, nowNano())
	if err != nil {
		return fmt.Errorf("failed to write attachment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Re-attaching identical bytes to the same entry is a no-op.
		stored, err := s.GetAttachment(ctx, tenantID, a.ID)
		if err != nil {
			return err
		}
		*a = *stored
		return nil
	}

	stored, err := s.GetAttachment(ctx, tenantID, a.ID)
	if err != nil {
		return err
	}
	*a = *stored
	return nil
}

// GetAttachment returns attachment metadata by id within a tenant.
func (s *Store) GetAttachment(ctx context.Context, tenantID, attachmentID string) (*Attachment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, memory_id, blob_key, filename, mime_type, bytes, sha256, created_at
		 FROM memory_attachments
		 WHERE id = ? AND tenant_id = ?`,
		attachmentID, tenantID)
	a, err := scanAttachment(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("attachment %s: %w", attachmentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}
	return a, nil
}

// Attachments lists all attachments on an entry.
func (s *Store) Attachments(ctx context.Context, memoryID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, memory_id, blob_key, filename, mime_type, bytes, sha256, created_at
		 FROM memory_attachments
		 WHERE memory_id = ?`,
		memoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	var out []Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAttachment(r rowScanner) (*Attachment, error) {
	var (
		a           Attachment
		createdNano int64
	)
	err := r.Scan(&a.ID, &a.MemoryID, &a.BlobKey, &a.Filename, &a.MimeType,
		&a.Bytes, &a.SHA256, &createdNano)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = time.Unix(0, createdNano)
	return &a, nil
}
