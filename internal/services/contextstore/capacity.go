package contextstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/memoria/internal/interfaces"
	"github.com/ternarybob/memoria/internal/models"
)

// persistFailedCondition keys the one-shot notification for an
// unrecoverable persist failure.
const persistFailedCondition = "contextstore:persist-failed"

// persist writes the context snapshot through the degrade ladder:
//
//  1. serialize and measure against the budget fraction of the quota
//  2. over budget: truncate document content, re-measure
//  3. still over: drop oldest messages beyond retention
//  4. still over: drop oldest documents beyond retention
//  5. attempt the write; on quota error persist a minimal context instead,
//     and as a last resort sweep other conversations' records and retry once
//
// The ladder degrades a clone; the in-memory context keeps full fidelity.
// Caller must hold the conversation lock.
func (s *Service) persist(ctx context.Context, cctx *models.ConversationContext) error {
	candidate := cctx.Clone()

	payload, err := json.Marshal(candidate)
	if err != nil {
		return fmt.Errorf("failed to serialize context: %w", err)
	}

	budget := s.budgetBytes(ctx)
	if budget > 0 && int64(len(payload)) > budget {
		s.truncateDocuments(candidate)
		payload, _ = json.Marshal(candidate)
	}
	if budget > 0 && int64(len(payload)) > budget {
		s.pruneMessages(candidate)
		payload, _ = json.Marshal(candidate)
	}
	if budget > 0 && int64(len(payload)) > budget {
		s.pruneDocuments(ctx, candidate)
		payload, _ = json.Marshal(candidate)
	}

	err = s.kv.Set(ctx, contextKey(candidate.ID), string(payload))
	if err == nil {
		return nil
	}
	if !errors.Is(err, interfaces.ErrQuotaExceeded) {
		return fmt.Errorf("failed to persist context: %w", err)
	}

	// Budget estimation was too optimistic for this backend; fall back to a
	// minimal context.
	s.logger.Warn().
		Str("conversation_id", candidate.ID).
		Int("payload_bytes", len(payload)).
		Msg("Quota exceeded despite degrade ladder, persisting minimal context")

	minimal := s.minimalContext(cctx)
	payload, _ = json.Marshal(minimal)
	err = s.kv.Set(ctx, contextKey(minimal.ID), string(payload))
	if err == nil {
		return nil
	}
	if !errors.Is(err, interfaces.ErrQuotaExceeded) {
		return fmt.Errorf("failed to persist minimal context: %w", err)
	}

	// Emergency sweep: evict other conversations' records, never the active
	// one, then retry once.
	s.emergencySweep(ctx, minimal.ID)
	err = s.kv.Set(ctx, contextKey(minimal.ID), string(payload))
	if err == nil {
		return nil
	}

	s.notifier.NotifyOnce(persistFailedCondition, interfaces.NotifyError,
		"Conversation could not be saved",
		"Storage capacity is exhausted; the conversation continues in memory but will not survive a restart.")
	return fmt.Errorf("failed to persist context after emergency sweep: %w", err)
}

// budgetBytes returns the byte budget for one serialized context, or 0 when
// the backend reports no quota.
func (s *Service) budgetBytes(ctx context.Context) int64 {
	_, quota, err := s.kv.Usage(ctx)
	if err != nil || quota <= 0 {
		return 0
	}
	fraction := s.cfg.BudgetFraction
	if fraction <= 0 || fraction > 1 {
		fraction = 1
	}
	return int64(float64(quota) * fraction)
}

// truncateDocuments cuts each inline document's content to MaxDocContent and
// appends the truncation marker. Integrity metadata is deliberately left
// untouched: the length mismatch is what flags the document for recovery.
func (s *Service) truncateDocuments(cctx *models.ConversationContext) {
	truncated := 0
	for i := range cctx.Documents {
		doc := &cctx.Documents[i]
		if doc.IsChunked() || len(doc.Content) <= s.cfg.MaxDocContent {
			continue
		}
		doc.Content = doc.Content[:s.cfg.MaxDocContent] + "\n" + models.TruncationMarker
		truncated++
	}
	if truncated > 0 {
		s.logger.Debug().
			Str("conversation_id", cctx.ID).
			Int("documents", truncated).
			Msg("Truncated document content to fit storage budget")
	}
}

// pruneMessages keeps only the most recent MaxMessages messages.
func (s *Service) pruneMessages(cctx *models.ConversationContext) {
	if s.cfg.MaxMessages <= 0 || len(cctx.Messages) <= s.cfg.MaxMessages {
		return
	}
	dropped := len(cctx.Messages) - s.cfg.MaxMessages
	cctx.Messages = append([]models.Message(nil), cctx.Messages[dropped:]...)
	s.logger.Debug().
		Str("conversation_id", cctx.ID).
		Int("dropped", dropped).
		Msg("Dropped oldest messages to fit storage budget")
}

// pruneDocuments keeps the MaxDocuments most recently added documents and
// deletes the chunk records of everything dropped.
func (s *Service) pruneDocuments(ctx context.Context, cctx *models.ConversationContext) {
	if s.cfg.MaxDocuments <= 0 || len(cctx.Documents) <= s.cfg.MaxDocuments {
		return
	}

	byAge := make([]models.DocumentRecord, len(cctx.Documents))
	copy(byAge, cctx.Documents)
	sort.SliceStable(byAge, func(i, j int) bool {
		return byAge[i].Integrity.AddedAt.After(byAge[j].Integrity.AddedAt)
	})

	kept := byAge[:s.cfg.MaxDocuments]
	for _, doc := range byAge[s.cfg.MaxDocuments:] {
		s.deleteChunks(ctx, &doc)
	}

	keepIDs := make(map[string]bool, len(kept))
	for _, doc := range kept {
		keepIDs[doc.ID] = true
	}

	// Preserve original attachment order among the survivors.
	survivors := cctx.Documents[:0]
	for _, doc := range cctx.Documents {
		if keepIDs[doc.ID] {
			survivors = append(survivors, doc)
		}
	}
	dropped := len(byAge) - len(survivors)
	cctx.Documents = survivors

	s.logger.Debug().
		Str("conversation_id", cctx.ID).
		Int("dropped", dropped).
		Msg("Dropped oldest documents to fit storage budget")
}

// minimalContext builds the last-resort snapshot: the most recent
// MinMessages messages, no documents, and a synthetic system message so the
// reduction is visible in the transcript.
func (s *Service) minimalContext(cctx *models.ConversationContext) *models.ConversationContext {
	minimal := &models.ConversationContext{
		ID:        cctx.ID,
		CreatedAt: cctx.CreatedAt,
		UpdatedAt: s.now(),
		Messages: []models.Message{{
			Role:      models.RoleSystem,
			Content:   "Earlier conversation context was reduced to fit storage limits.",
			Timestamp: s.now(),
		}},
	}

	keep := s.cfg.MinMessages
	if keep <= 0 {
		keep = 3
	}
	if keep > len(cctx.Messages) {
		keep = len(cctx.Messages)
	}
	minimal.Messages = append(minimal.Messages, cctx.Messages[len(cctx.Messages)-keep:]...)
	return minimal
}

// emergencySweep removes the persisted records (and chunks) of other
// conversations, oldest first, freeing roughly half of them. The active
// conversation's record is never touched.
func (s *Service) emergencySweep(ctx context.Context, activeID string) {
	keys, err := s.kv.ListKeys(ctx, contextKeyPrefix)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Emergency sweep could not list stored conversations")
		return
	}

	type candidate struct {
		conversationID string
		updatedAt      time.Time
	}
	var candidates []candidate
	for _, key := range keys {
		id := strings.TrimPrefix(key, contextKeyPrefix)
		if id == activeID {
			continue
		}
		raw, gerr := s.kv.Get(ctx, key)
		if gerr != nil {
			continue
		}
		var meta struct {
			UpdatedAt time.Time `json:"updated_at"`
		}
		_ = json.Unmarshal([]byte(raw), &meta)
		candidates = append(candidates, candidate{conversationID: id, updatedAt: meta.UpdatedAt})
	}
	if len(candidates) == 0 {
		return
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].updatedAt.Before(candidates[j].updatedAt)
	})

	evict := (len(candidates) + 1) / 2
	for _, c := range candidates[:evict] {
		s.evictConversation(ctx, c.conversationID)
	}
	s.logger.Warn().
		Int("evicted", evict).
		Str("active_conversation", activeID).
		Msg("Emergency sweep evicted oldest conversations")
}

// evictConversation removes a conversation's persisted record and any chunk
// records its documents reference.
func (s *Service) evictConversation(ctx context.Context, conversationID string) {
	raw, err := s.kv.Get(ctx, contextKey(conversationID))
	if err == nil {
		var stored models.ConversationContext
		if json.Unmarshal([]byte(raw), &stored) == nil {
			for i := range stored.Documents {
				s.deleteChunks(ctx, &stored.Documents[i])
			}
		}
	}
	if err := s.kv.Delete(ctx, contextKey(conversationID)); err != nil {
		s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("Failed to evict conversation record")
	}

	s.mu.Lock()
	delete(s.contexts, conversationID)
	s.mu.Unlock()
}
