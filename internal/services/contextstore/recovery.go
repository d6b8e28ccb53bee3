package contextstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ternarybob/memoria/internal/interfaces"
	"github.com/ternarybob/memoria/internal/models"
	"github.com/ternarybob/memoria/internal/services/integrity"
)

// scheduleValidation re-validates the just-written record asynchronously so
// the write path is never blocked by recovery work.
func (s *Service) scheduleValidation(conversationID string) {
	s.recoveryWG.Add(1)
	go func() {
		defer s.recoveryWG.Done()
		if _, err := s.ValidateAndRecover(context.Background(), conversationID); err != nil {
			s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("Post-write validation failed")
		}
	}()
}

// ValidateAndRecover re-reads the persisted record, validates it, and runs a
// best-effort recovery pass over every flagged document. Flagged documents
// that cannot be recovered stay flagged and visible; they are never silently
// deleted.
func (s *Service) ValidateAndRecover(ctx context.Context, conversationID string) (integrity.Result, error) {
	lock := s.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	raw, err := s.kv.Get(ctx, contextKey(conversationID))
	if err != nil {
		if err == interfaces.ErrKeyNotFound {
			return integrity.Result{Valid: true}, nil
		}
		return integrity.Result{}, fmt.Errorf("failed to re-read persisted context: %w", err)
	}

	stored := &models.ConversationContext{}
	if uerr := json.Unmarshal([]byte(raw), stored); uerr != nil {
		return integrity.Result{}, fmt.Errorf("persisted context unreadable: %w", uerr)
	}

	result := s.validator.Validate(ctx, stored, s.readChunk)
	if result.Valid {
		return result, nil
	}

	for _, problem := range result.Problems {
		s.recoverDocument(ctx, conversationID, problem)
	}
	return result, nil
}

// SweepIntegrity validates every tracked conversation, used by the
// maintenance scheduler.
func (s *Service) SweepIntegrity(ctx context.Context) error {
	ids := s.trackedConversations()
	for _, id := range ids {
		if _, err := s.ValidateAndRecover(ctx, id); err != nil {
			s.logger.Warn().Err(err).Str("conversation_id", id).Msg("Integrity sweep failed for conversation")
		}
	}
	s.logger.Debug().Int("conversations", len(ids)).Msg("Integrity sweep complete")
	return nil
}

// recoverDocument refetches one flagged document through the registered
// collaborator. Caller must hold the conversation lock.
func (s *Service) recoverDocument(ctx context.Context, conversationID string, problem integrity.Problem) {
	s.refetchMu.RLock()
	refetch := s.refetch
	s.refetchMu.RUnlock()

	failedCondition := "integrity:recovery-failed:" + problem.DocumentID
	if refetch == nil {
		s.notifier.NotifyOnce(failedCondition, interfaces.NotifyWarning,
			"Document could not be verified",
			fmt.Sprintf("Document %s failed integrity checks (%s) and no recovery source is configured.", problem.DocumentID, problem.Reason))
		return
	}

	content, err := refetch(ctx, problem.DocumentID)
	if err != nil || content == "" {
		s.logger.Warn().
			Err(err).
			Str("document_id", problem.DocumentID).
			Str("reason", problem.Reason).
			Msg("Document recovery failed")
		s.notifier.NotifyOnce(failedCondition, interfaces.NotifyWarning,
			"Document recovery failed",
			fmt.Sprintf("Document %s failed integrity checks (%s) and could not be refetched.", problem.DocumentID, problem.Reason))
		return
	}

	cctx, lerr := s.loadLocked(ctx, conversationID)
	if lerr != nil {
		s.logger.Warn().Err(lerr).Str("conversation_id", conversationID).Msg("Recovery could not load context")
		return
	}

	doc := cctx.Document(problem.DocumentID)
	if doc == nil {
		return
	}

	s.deleteChunks(ctx, doc)
	doc.Content = content
	doc.LastModified = s.now()
	doc.Integrity = models.IntegrityMeta{
		OriginalLength: len(content),
		AddedAt:        s.now(),
	}
	if len(doc.Content) > s.cfg.ChunkThreshold {
		if cerr := s.writeChunks(ctx, doc); cerr != nil {
			s.logger.Warn().Err(cerr).Str("document_id", doc.ID).Msg("Recovered document could not be re-chunked")
		}
	}
	cctx.UpdatedAt = s.now()

	if perr := s.persist(ctx, cctx); perr != nil {
		s.logger.Warn().Err(perr).Str("document_id", doc.ID).Msg("Recovered document could not be persisted")
		return
	}

	s.notifier.ResetCondition(failedCondition)
	s.notifier.NotifyOnce("integrity:recovered:"+problem.DocumentID, interfaces.NotifyInfo,
		"Document restored",
		fmt.Sprintf("Document %s was refetched after failing integrity checks.", problem.DocumentID))
	s.logger.Info().
		Str("document_id", problem.DocumentID).
		Int("content_length", len(content)).
		Msg("Document recovered")
}

// trackedConversations returns the IDs of in-memory conversations in a
// stable order.
func (s *Service) trackedConversations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.contexts))
	for id := range s.contexts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
