package memory

import (
	"fmt"
	"time"
)

// Kind classifies a memory entry.
type Kind string

const (
	KindChatTurn    Kind = "chat_turn"
	KindTaskOutcome Kind = "task_outcome"
	KindDecision    Kind = "decision"
	KindRunbook     Kind = "runbook"
	KindDocChunk    Kind = "doc_chunk"
	KindSummary     Kind = "summary"
)

var kinds = map[Kind]bool{
	KindChatTurn:    true,
	KindTaskOutcome: true,
	KindDecision:    true,
	KindRunbook:     true,
	KindDocChunk:    true,
	KindSummary:     true,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return kinds[k] }

// Relation types a directed edge between two entries.
type Relation string

const (
	RelationSupports    Relation = "supports"
	RelationDerivedFrom Relation = "derived_from"
	RelationDuplicates  Relation = "duplicates"
	RelationSupersedes  Relation = "supersedes"
	RelationRelated     Relation = "related"
)

var relations = map[Relation]bool{
	RelationSupports:    true,
	RelationDerivedFrom: true,
	RelationDuplicates:  true,
	RelationSupersedes:  true,
	RelationRelated:     true,
}

// Valid reports whether r is a known relation.
func (r Relation) Valid() bool { return relations[r] }

// Permission levels for ACL grants. Admin implies read and write.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionAdmin Permission = "admin"
)

// Scope addresses a node in the tenant→channel→conversation→project→task
// hierarchy. Absent dimensions are null, not wildcards.
type Scope struct {
	Channel      string `json:"channel_id,omitempty"`
	Conversation string `json:"conversation_id,omitempty"`
	Project      string `json:"project_id,omitempty"`
	Task         string `json:"task_id,omitempty"`
}

// IsZero reports whether no dimension is set.
func (s Scope) IsZero() bool {
	return s.Channel == "" && s.Conversation == "" && s.Project == "" && s.Task == ""
}

func (s Scope) String() string {
	return fmt.Sprintf("channel=%s conversation=%s project=%s task=%s",
		s.Channel, s.Conversation, s.Project, s.Task)
}

// Entry is the durable unit of knowledge.
type Entry struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	ScopeID       string    `json:"scope_id"`
	Kind          Kind      `json:"kind"`
	Title         string    `json:"title,omitempty"`
	Content       string    `json:"content"`
	Tags          []string  `json:"tags"`
	Source        string    `json:"source,omitempty"`
	AuthorAgentID string    `json:"author_agent_id,omitempty"`
	ToolName      string    `json:"tool_name,omitempty"`
	ContentHash   string    `json:"content_hash"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Promoted reports whether the promote job has tagged this entry. Promotion
// is a tag, not a column, so the entry schema stays stable.
func (e *Entry) Promoted() bool {
	for _, t := range e.Tags {
		if t == TagPromoted {
			return true
		}
	}
	return false
}

// TagPromoted marks entries the promote job retains past pruning.
const TagPromoted = "promoted"

// Link is a directed, typed edge between two entries of the same tenant.
type Link struct {
	ID        int64     `json:"id"`
	FromID    string    `json:"from_memory_id"`
	ToID      string    `json:"to_memory_id"`
	Relation  Relation  `json:"relation"`
	CreatedAt time.Time `json:"created_at"`
}

// Attachment points at a blob; the blob itself lives in the blob backend.
type Attachment struct {
	ID        string    `json:"id"`
	MemoryID  string    `json:"memory_id"`
	BlobKey   string    `json:"blob_key"`
	Filename  string    `json:"filename"`
	MimeType  string    `json:"mime_type"`
	Bytes     int64     `json:"bytes"`
	SHA256    string    `json:"sha256"`
	CreatedAt time.Time `json:"created_at"`
}

// Grant is a single ACL row. No matching row means deny.
type Grant struct {
	TenantID   string     `json:"tenant_id"`
	ScopeID    string     `json:"scope_id,omitempty"` // empty = tenant-wide
	Principal  string     `json:"principal"`
	Permission Permission `json:"permission"`
	Granted    bool       `json:"granted"`
}

// SearchResult is one ranked hit from hybrid retrieval.
type SearchResult struct {
	Entry        Entry    `json:"entry"`
	Score        float64  `json:"score"`
	VectorScore  *float64 `json:"vector_score,omitempty"`
	KeywordScore *float64 `json:"keyword_score,omitempty"`
	RecencyScore float64  `json:"recency_score"`
}

// Weights configures the hybrid ranking composite.
type Weights struct {
	Vector  float64 `json:"vector" mapstructure:"vector"`
	Keyword float64 `json:"keyword" mapstructure:"keyword"`
	Recency float64 `json:"recency" mapstructure:"recency"`
}

// DefaultWeights are a design default, not a tuned constant.
func DefaultWeights() Weights {
	return Weights{Vector: 0.6, Keyword: 0.3, Recency: 0.1}
}
