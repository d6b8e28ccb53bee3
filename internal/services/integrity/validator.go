// Package integrity checks stored conversation context for corruption or
// truncation. Validation is pure and synchronous; recovery is orchestrated
// by the context store so the read path is never blocked.
package integrity

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoria/internal/models"
)

// Problem describes a single flagged document.
type Problem struct {
	DocumentID string `json:"document_id"`
	Reason     string `json:"reason"`
}

// Result is the outcome of validating a conversation context.
type Result struct {
	Valid    bool      `json:"valid"`
	Problems []Problem `json:"problems,omitempty"`
}

// ChunkReader resolves one chunk of a chunked document. It must return
// ErrKeyNotFound-wrapped errors for missing chunks.
type ChunkReader func(ctx context.Context, documentID string, index int) (string, error)

// Validator validates document records against their integrity metadata.
type Validator struct {
	logger arbor.ILogger
}

// NewValidator creates a validator.
func NewValidator(logger arbor.ILogger) *Validator {
	return &Validator{logger: logger}
}

// Validate checks every document in the context. For inline documents the
// invariant is len(content) == integrity.original_length; for chunked
// documents every chunk key must resolve and chunk lengths must sum to the
// original length.
func (v *Validator) Validate(ctx context.Context, cctx *models.ConversationContext, readChunk ChunkReader) Result {
	result := Result{Valid: true}

	for i := range cctx.Documents {
		doc := &cctx.Documents[i]
		if reason := v.checkDocument(ctx, doc, readChunk); reason != "" {
			result.Valid = false
			result.Problems = append(result.Problems, Problem{DocumentID: doc.ID, Reason: reason})
		}
	}

	if !result.Valid {
		v.logger.Warn().
			Str("conversation_id", cctx.ID).
			Int("problems", len(result.Problems)).
			Msg("Context integrity validation failed")
	}
	return result
}

func (v *Validator) checkDocument(ctx context.Context, doc *models.DocumentRecord, readChunk ChunkReader) string {
	if doc.ID == "" || doc.Name == "" {
		return "missing document id or name"
	}

	if doc.IsChunked() {
		return v.checkChunked(ctx, doc, readChunk)
	}

	if doc.Content == "" {
		return "empty content"
	}
	if strings.HasPrefix(doc.Content, models.TruncationMarker) {
		return "content replaced by truncation placeholder"
	}
	if len(doc.Content) != doc.Integrity.OriginalLength {
		return fmt.Sprintf("content length %d does not match recorded original length %d",
			len(doc.Content), doc.Integrity.OriginalLength)
	}
	return ""
}

func (v *Validator) checkChunked(ctx context.Context, doc *models.DocumentRecord, readChunk ChunkReader) string {
	count := doc.ChunkCount()
	if count <= 0 {
		return "malformed chunk placeholder"
	}
	if readChunk == nil {
		return "chunked document with no chunk reader"
	}

	total := 0
	for i := 0; i < count; i++ {
		chunk, err := readChunk(ctx, doc.ID, i)
		if err != nil {
			return fmt.Sprintf("chunk %d of %d unresolvable", i, count)
		}
		total += len(chunk)
	}
	if total != doc.Integrity.OriginalLength {
		return fmt.Sprintf("chunk lengths sum to %d, expected %d", total, doc.Integrity.OriginalLength)
	}
	return ""
}
