package memory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeContent(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple", "hello world", "hello world"},
		{"leading trailing", "  hello world  ", "hello world"},
		{"internal runs", "hello    world", "hello world"},
		{"tabs and newlines", "hello\t\nworld", "hello world"},
		{"empty", "", ""},
		{"only whitespace", "  \t\n ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeContent(tt.input))
		})
	}
}

func TestContentHash(t *testing.T) {
	h1 := ContentHash(KindRunbook, "title", "some content")
	h2 := ContentHash(KindRunbook, "title", "some content")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	// Whitespace differences collapse to the same hash
	h3 := ContentHash(KindRunbook, "title", "  some   content ")
	assert.Equal(t, h1, h3)

	// Kind and title participate in the hash
	assert.NotEqual(t, h1, ContentHash(KindDecision, "title", "some content"))
	assert.NotEqual(t, h1, ContentHash(KindRunbook, "other", "some content"))
}

func TestEntryID(t *testing.T) {
	hash := ContentHash(KindRunbook, "t", "c")
	id := EntryID("acme", "sc_abc", hash)

	assert.True(t, strings.HasPrefix(id, "mem_"))
	assert.Len(t, id, len("mem_")+24)
	assert.Equal(t, id, EntryID("acme", "sc_abc", hash))

	// Same content in another tenant or scope yields a distinct id
	assert.NotEqual(t, id, EntryID("globex", "sc_abc", hash))
	assert.NotEqual(t, id, EntryID("acme", "sc_def", hash))
}

func TestScopeKeyID(t *testing.T) {
	s1 := Scope{Project: "apollo", Task: "t1"}
	id := ScopeKeyID("acme", s1)
	assert.True(t, strings.HasPrefix(id, "sc_"))
	assert.Equal(t, id, ScopeKeyID("acme", s1))

	assert.NotEqual(t, id, ScopeKeyID("acme", Scope{Project: "apollo"}))
	assert.NotEqual(t, id, ScopeKeyID("globex", s1))

	// Dimension values must not bleed into each other
	assert.NotEqual(t,
		ScopeKeyID("acme", Scope{Channel: "ab"}),
		ScopeKeyID("acme", Scope{Conversation: "ab"}))
}

func TestAttachmentID(t *testing.T) {
	sha := ContentHash(KindRunbook, "", "payload")
	id := AttachmentID("mem_a", sha)
	assert.True(t, strings.HasPrefix(id, "att_"))
	assert.Len(t, id, len("att_")+24)
	assert.Equal(t, id, AttachmentID("mem_a", sha))

	// Same bytes on a different entry is a different attachment
	assert.NotEqual(t, id, AttachmentID("mem_b", sha))
}
