package observability

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AuditEvent is one structured audit record for a tool call or ACL decision.
type AuditEvent struct {
	Type      string         `json:"event_type"` // "tool", "acl", "job"
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor,omitempty"` // principal or job run id
	Action    string         `json:"action"`          // e.g. "memory.write"
	Status    string         `json:"status"`          // "success", "failure", "denied"
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AuditLogger records audit events to its own sink, separate from the
// application log.
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	file   *os.File
}

var (
	auditOnce sync.Once
	auditInst *AuditLogger
)

// GetAuditLogger returns the global audit logger instance.
func GetAuditLogger() *AuditLogger {
	auditOnce.Do(func() {
		// Default to stderr if not initialized
		auditInst = &AuditLogger{
			logger: zerolog.New(os.Stderr).With().Timestamp().Logger(),
		}
	})
	return auditInst
}

// InitAuditLogger points the global audit logger at a file.
func InitAuditLogger(path string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	auditInst = &AuditLogger{
		logger: zerolog.New(file).With().Timestamp().Logger(),
		file:   file,
	}
	return nil
}

// Record emits an audit event.
func (a *AuditLogger) Record(event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("type", event.Type).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("status", event.Status)
	if event.Metadata != nil {
		entry = entry.Interface("metadata", event.Metadata)
	}
	entry.Msg("")
}

// Close closes the audit logger's file handle.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}

// RecordToolAudit logs one tool-boundary call.
func RecordToolAudit(tool, actor, status string, metadata map[string]any) {
	GetAuditLogger().Record(AuditEvent{
		Type:     "tool",
		Actor:    actor,
		Action:   tool,
		Status:   status,
		Metadata: metadata,
	})
}

// RecordACLAudit logs an access decision. Denials are always audited.
func RecordACLAudit(actor, action, status string, metadata map[string]any) {
	GetAuditLogger().Record(AuditEvent{
		Type:     "acl",
		Actor:    actor,
		Action:   action,
		Status:   status,
		Metadata: metadata,
	})
}
