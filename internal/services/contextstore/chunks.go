package contextstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ternarybob/memoria/internal/models"
)

func chunkKey(documentID string, index int) string {
	return chunkKeyPrefix + documentID + ":" + strconv.Itoa(index)
}

// writeChunks splits the document content into fixed-size chunk records and
// replaces the inline content with the "__CHUNKED__:<n>" placeholder. On any
// write failure the already-written chunks are removed and the document is
// left inline.
func (s *Service) writeChunks(ctx context.Context, doc *models.DocumentRecord) error {
	content := doc.Content
	size := s.cfg.ChunkSize
	if size <= 0 {
		return fmt.Errorf("chunk size not configured")
	}

	count := (len(content) + size - 1) / size
	for i := 0; i < count; i++ {
		start := i * size
		end := start + size
		if end > len(content) {
			end = len(content)
		}
		if err := s.kv.Set(ctx, chunkKey(doc.ID, i), content[start:end]); err != nil {
			for j := 0; j < i; j++ {
				_ = s.kv.Delete(ctx, chunkKey(doc.ID, j))
			}
			return fmt.Errorf("failed to write chunk %d of %d: %w", i, count, err)
		}
	}

	doc.Content = models.ChunkedContentPrefix + strconv.Itoa(count)
	s.logger.Debug().
		Str("document_id", doc.ID).
		Int("chunks", count).
		Int("original_length", doc.Integrity.OriginalLength).
		Msg("Document stored in chunked form")
	return nil
}

// readChunks reassembles a chunked document's content in index order. Any
// unresolvable chunk fails the whole read.
func (s *Service) readChunks(ctx context.Context, doc *models.DocumentRecord) (string, error) {
	count := doc.ChunkCount()
	if count <= 0 {
		return "", fmt.Errorf("malformed chunk placeholder %q", doc.Content)
	}

	var b strings.Builder
	b.Grow(doc.Integrity.OriginalLength)
	for i := 0; i < count; i++ {
		chunk, err := s.kv.Get(ctx, chunkKey(doc.ID, i))
		if err != nil {
			return "", fmt.Errorf("chunk %d of %d missing: %w", i, count, err)
		}
		b.WriteString(chunk)
	}
	return b.String(), nil
}

// readChunk resolves a single chunk, used by the integrity validator.
func (s *Service) readChunk(ctx context.Context, documentID string, index int) (string, error) {
	return s.kv.Get(ctx, chunkKey(documentID, index))
}

// deleteChunks removes all chunk records referenced by a chunked document.
func (s *Service) deleteChunks(ctx context.Context, doc *models.DocumentRecord) {
	count := doc.ChunkCount()
	for i := 0; i < count; i++ {
		if err := s.kv.Delete(ctx, chunkKey(doc.ID, i)); err != nil {
			s.logger.Warn().Err(err).Str("document_id", doc.ID).Int("chunk", i).Msg("Failed to delete chunk")
		}
	}
}
