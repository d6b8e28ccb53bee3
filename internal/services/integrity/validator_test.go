package integrity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoria/internal/models"
)

func newTestValidator() *Validator {
	return NewValidator(arbor.NewLogger())
}

func inlineDoc(id, content string) models.DocumentRecord {
	return models.DocumentRecord{
		ID:      id,
		Name:    id + ".txt",
		Content: content,
		Integrity: models.IntegrityMeta{
			OriginalLength: len(content),
			AddedAt:        time.Now(),
		},
	}
}

func contextWith(docs ...models.DocumentRecord) *models.ConversationContext {
	return &models.ConversationContext{ID: "conv-1", Documents: docs}
}

func TestValidateCleanContext(t *testing.T) {
	v := newTestValidator()

	result := v.Validate(context.Background(), contextWith(
		inlineDoc("doc-1", "some content"),
		inlineDoc("doc-2", "other content"),
	), nil)

	if !result.Valid {
		t.Errorf("Validate() flagged a clean context: %+v", result.Problems)
	}
}

func TestValidateInlineProblems(t *testing.T) {
	v := newTestValidator()

	truncated := inlineDoc("doc-trunc", "full original content that was cut")
	truncated.Content = truncated.Content[:10] + "\n" + models.TruncationMarker

	replaced := inlineDoc("doc-replaced", "gone")
	replaced.Content = models.TruncationMarker

	empty := inlineDoc("doc-empty", "had content once")
	empty.Content = ""

	unnamed := inlineDoc("doc-unnamed", "content")
	unnamed.Name = ""

	tests := []struct {
		name string
		doc  models.DocumentRecord
	}{
		{"length mismatch after truncation", truncated},
		{"content replaced by placeholder", replaced},
		{"empty content", empty},
		{"missing name", unnamed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate(context.Background(), contextWith(tt.doc), nil)
			if result.Valid {
				t.Fatal("Validate() passed a corrupt document")
			}
			if len(result.Problems) != 1 || result.Problems[0].DocumentID != tt.doc.ID {
				t.Errorf("Problems = %+v, want one problem for %s", result.Problems, tt.doc.ID)
			}
		})
	}
}

func TestValidateChunkedDocument(t *testing.T) {
	v := newTestValidator()

	doc := models.DocumentRecord{
		ID:      "doc-1",
		Name:    "big.txt",
		Content: "__CHUNKED__:3",
		Integrity: models.IntegrityMeta{
			OriginalLength: 30,
			AddedAt:        time.Now(),
		},
	}

	chunks := map[int]string{0: "aaaaaaaaaa", 1: "bbbbbbbbbb", 2: "cccccccccc"}
	reader := func(ctx context.Context, documentID string, index int) (string, error) {
		chunk, ok := chunks[index]
		if !ok {
			return "", errors.New("chunk not found")
		}
		return chunk, nil
	}

	result := v.Validate(context.Background(), contextWith(doc), reader)
	if !result.Valid {
		t.Errorf("Validate() flagged an intact chunked document: %+v", result.Problems)
	}

	// A missing chunk fails the document.
	delete(chunks, 1)
	result = v.Validate(context.Background(), contextWith(doc), reader)
	if result.Valid {
		t.Error("Validate() passed a chunked document with a missing chunk")
	}

	// Chunk lengths must sum to the recorded original length.
	chunks[1] = "short"
	result = v.Validate(context.Background(), contextWith(doc), reader)
	if result.Valid {
		t.Error("Validate() passed a chunked document with a short chunk")
	}
}

func TestValidateChunkedWithoutReader(t *testing.T) {
	v := newTestValidator()

	doc := models.DocumentRecord{
		ID:        "doc-1",
		Name:      "big.txt",
		Content:   "__CHUNKED__:2",
		Integrity: models.IntegrityMeta{OriginalLength: 40},
	}

	result := v.Validate(context.Background(), contextWith(doc), nil)
	if result.Valid {
		t.Error("Validate() passed a chunked document with no chunk reader")
	}
}

func TestValidateMalformedPlaceholder(t *testing.T) {
	v := newTestValidator()

	doc := models.DocumentRecord{
		ID:        "doc-1",
		Name:      "big.txt",
		Content:   "__CHUNKED__:not-a-number",
		Integrity: models.IntegrityMeta{OriginalLength: 40},
	}

	result := v.Validate(context.Background(), contextWith(doc), func(ctx context.Context, id string, i int) (string, error) {
		return "", nil
	})
	if result.Valid {
		t.Error("Validate() passed a malformed chunk placeholder")
	}
}
