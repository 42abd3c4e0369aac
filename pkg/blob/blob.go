// Package blob abstracts the attachment blob backend. The core only needs
// put/get-by-key plus an optional retrieval URL; the real object store is an
// external collaborator behind this interface.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Store is the minimal blob backend contract.
type Store interface {
	// Put uploads bytes under key. Callers persist attachment metadata only
	// after Put returns, never before.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Get downloads the bytes stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// URL returns a retrieval handle for key, or "" when the backend only
	// supports direct byte retrieval.
	URL(ctx context.Context, key string) (string, error)
}

// Key builds the tenant/memory/filename blob key.
func Key(tenantID, memoryID, filename string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_").Replace(filename)
	return tenantID + "/" + memoryID + "/" + safe
}

// SHA256 returns the hex digest of data; computed before upload so the
// attachment row carries integrity metadata.
func SHA256(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
