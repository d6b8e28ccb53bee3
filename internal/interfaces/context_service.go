package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/memoria/internal/models"
)

// ErrContextNotFound is returned when a conversation has no persisted or
// in-memory state.
var ErrContextNotFound = errors.New("conversation context not found")

// RefetchFunc is the optional recovery collaborator: given a document ID it
// returns fresh content, or an empty string when the source cannot supply it.
type RefetchFunc func(ctx context.Context, documentID string) (string, error)

// ContextService persists conversation state under a storage capacity
// budget. Every mutating call persists the full updated context immediately;
// persistence failures degrade (truncate, prune, minimal context) rather
// than surface as errors, so the in-memory context stays usable even when it
// cannot be saved.
type ContextService interface {
	// AppendMessage adds a conversation turn and persists the context.
	// Appends for a single conversation are strictly ordered by call order.
	AppendMessage(ctx context.Context, conversationID, role, content string) error

	// AddDocument attaches a reference document and persists the context.
	// Content above the chunking threshold is stored in chunked form.
	AddDocument(ctx context.Context, conversationID string, doc models.DocumentRecord) error

	// RemoveDocument detaches a document (and its chunks) and persists.
	RemoveDocument(ctx context.Context, conversationID, documentID string) error

	// Load returns the conversation context, reassembling chunked document
	// content. Returns ErrContextNotFound for unknown conversations.
	Load(ctx context.Context, conversationID string) (*models.ConversationContext, error)

	// SetRefetchFunc registers the recovery collaborator used to restore
	// documents the integrity validator flags.
	SetRefetchFunc(fn RefetchFunc)
}
