package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeContent collapses insignificant whitespace so near-identical
// submissions collide predictably on the content hash.
func NormalizeContent(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}

// ContentHash is a deterministic hash over (kind, title, normalized content).
// Pure function; the dedup invariant hangs off this value.
func ContentHash(kind Kind, title, content string) string {
	h := sha256.Sum256([]byte(string(kind) + "|" + title + "|" + NormalizeContent(content)))
	return hex.EncodeToString(h[:])
}

// EntryID derives the durable id from the full dedup tuple
// (tenant, scope, kind, content hash) so id uniqueness and the dedup
// invariant cannot disagree.
func EntryID(tenantID, scopeID, contentHash string) string {
	h := sha256.Sum256([]byte(tenantID + "|" + scopeID + "|" + contentHash))
	return "mem_" + hex.EncodeToString(h[:])[:24]
}

// ScopeKeyID canonicalizes a scope to a deterministic identifier computed
// from the tenant id and the present dimensions.
func ScopeKeyID(tenantID string, s Scope) string {
	key := tenantID + "|" + s.Channel + "|" + s.Conversation + "|" + s.Project + "|" + s.Task
	h := sha256.Sum256([]byte(key))
	return "sc_" + hex.EncodeToString(h[:])[:24]
}

// AttachmentID derives an attachment id from the owning entry and the payload
// hash. Folding the entry in keeps identical bytes attached to two entries as
// two rows, while re-attaching to the same entry stays a no-op.
func AttachmentID(memoryID, sha256Hex string) string {
	h := sha256.Sum256([]byte(memoryID + "|" + sha256Hex))
	return "att_" + hex.EncodeToString(h[:])[:24]
}
