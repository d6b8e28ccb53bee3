package models

import (
	"strconv"
	"strings"
	"time"
)

// Message roles within a conversation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChunkedContentPrefix marks a DocumentRecord whose content is stored as
// separate chunk records rather than inline. The placeholder format is
// "__CHUNKED__:<chunkCount>".
const ChunkedContentPrefix = "__CHUNKED__:"

// TruncationMarker is appended to document content that was cut down during
// capacity management. Content starting with the marker (everything was cut)
// or whose length no longer matches its integrity metadata is flagged by the
// validator for recovery.
const TruncationMarker = "[truncated]"

// Message is a single conversation turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// IntegrityMeta records the original content length and add time for a
// document so silent truncation can be detected on read-back.
type IntegrityMeta struct {
	OriginalLength int       `json:"original_length"`
	AddedAt        time.Time `json:"added_at"`
}

// DocumentRecord is a reference document attached to a conversation.
//
// Content is either stored inline, in which case len(Content) must equal
// Integrity.OriginalLength, or in chunked form, in which case Content holds
// the "__CHUNKED__:<n>" placeholder and the chunks live under their own
// storage keys.
type DocumentRecord struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Type         string        `json:"type"` // MIME type or source-defined kind
	Content      string        `json:"content"`
	LastModified time.Time     `json:"last_modified"`
	Integrity    IntegrityMeta `json:"integrity"`
}

// IsChunked reports whether the record's content lives in chunk records.
func (d *DocumentRecord) IsChunked() bool {
	return strings.HasPrefix(d.Content, ChunkedContentPrefix)
}

// ChunkCount returns the number of chunk records referenced by a chunked
// document, or 0 for inline documents or a malformed placeholder.
func (d *DocumentRecord) ChunkCount() int {
	if !d.IsChunked() {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimPrefix(d.Content, ChunkedContentPrefix))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// ConversationContext holds the full state of one conversation: ordered
// messages, attached documents, and free-form metadata. The context store
// owns instances in memory; the persisted copy is a derived snapshot.
type ConversationContext struct {
	ID        string            `json:"id"`
	Messages  []Message         `json:"messages"`
	Documents []DocumentRecord  `json:"documents"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Document returns the document with the given ID, or nil.
func (c *ConversationContext) Document(id string) *DocumentRecord {
	for i := range c.Documents {
		if c.Documents[i].ID == id {
			return &c.Documents[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the context. The store hands clones to
// callers so in-memory state cannot be mutated behind its back.
func (c *ConversationContext) Clone() *ConversationContext {
	clone := &ConversationContext{
		ID:        c.ID,
		Messages:  make([]Message, len(c.Messages)),
		Documents: make([]DocumentRecord, len(c.Documents)),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	copy(clone.Messages, c.Messages)
	copy(clone.Documents, c.Documents)
	if c.Metadata != nil {
		clone.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			clone.Metadata[k] = v
		}
	}
	return clone
}
