// Package contextstore persists conversation messages and attached documents
// into a capacity-limited key/value medium. Writes are write-through: every
// mutation persists the full updated context immediately so state survives a
// process-ending failure at any point. When the serialized context exceeds
// the storage budget, a degrade ladder (truncate documents, prune messages,
// prune documents, minimal context, emergency sweep) shrinks the persisted
// snapshot; the in-memory context remains full fidelity for the session.
package contextstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoria/internal/interfaces"
	"github.com/ternarybob/memoria/internal/models"
	"github.com/ternarybob/memoria/internal/services/integrity"
)

const (
	contextKeyPrefix = "context:"
	chunkKeyPrefix   = "chunk:"
)

// Config tunes capacity management. The right budget is a deployment
// concern, so everything is configurable.
type Config struct {
	// BudgetFraction of the storage quota the serialized context may use
	// before the degrade ladder engages.
	BudgetFraction float64

	// MaxDocContent is the per-document content length after the truncation
	// step of the ladder.
	MaxDocContent int

	// MaxMessages and MaxDocuments are the retention counts for the pruning
	// steps of the ladder.
	MaxMessages  int
	MaxDocuments int

	// ChunkThreshold is the content length above which a document is stored
	// in chunked form; ChunkSize is the per-chunk length.
	ChunkThreshold int
	ChunkSize      int

	// MinMessages is the message count kept by the minimal-context fallback.
	MinMessages int
}

// DefaultConfig returns production defaults sized for a ~5MB quota medium.
func DefaultConfig() Config {
	return Config{
		BudgetFraction: 0.8,
		MaxDocContent:  10000,
		MaxMessages:    50,
		MaxDocuments:   10,
		ChunkThreshold: 100000,
		ChunkSize:      50000,
		MinMessages:    3,
	}
}

// Service implements interfaces.ContextService.
type Service struct {
	kv        interfaces.KeyValueStorage
	validator *integrity.Validator
	notifier  interfaces.Notifier
	logger    arbor.ILogger
	cfg       Config
	now       func() time.Time

	mu       sync.Mutex
	contexts map[string]*models.ConversationContext
	convMu   map[string]*sync.Mutex

	refetchMu sync.RWMutex
	refetch   interfaces.RefetchFunc

	recoveryWG sync.WaitGroup
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithNowFunc overrides the time source for deterministic tests.
func WithNowFunc(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a context store over the given key/value storage.
func NewService(kv interfaces.KeyValueStorage, validator *integrity.Validator, notifier interfaces.Notifier, logger arbor.ILogger, cfg Config, opts ...ServiceOption) *Service {
	s := &Service{
		kv:        kv,
		validator: validator,
		notifier:  notifier,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		contexts:  make(map[string]*models.ConversationContext),
		convMu:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetRefetchFunc registers the recovery collaborator.
func (s *Service) SetRefetchFunc(fn interfaces.RefetchFunc) {
	s.refetchMu.Lock()
	defer s.refetchMu.Unlock()
	s.refetch = fn
}

// AppendMessage adds a conversation turn and persists the context. Appends
// for one conversation are serialized by a per-conversation lock, so call
// order is preserved. A persistence failure is returned for visibility but
// the in-memory context has already been updated and stays usable.
func (s *Service) AppendMessage(ctx context.Context, conversationID, role, content string) error {
	lock := s.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	cctx := s.getOrCreate(ctx, conversationID)
	cctx.Messages = append(cctx.Messages, models.Message{
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
	})
	cctx.UpdatedAt = s.now()

	err := s.persist(ctx, cctx)
	s.scheduleValidation(conversationID)
	return err
}

// AddDocument attaches a reference document and persists. Content above the
// chunk threshold is stored as separate chunk records, with the document
// record holding a placeholder. A document with the same ID is replaced.
func (s *Service) AddDocument(ctx context.Context, conversationID string, doc models.DocumentRecord) error {
	if doc.ID == "" {
		return fmt.Errorf("document id is required")
	}

	lock := s.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	cctx := s.getOrCreate(ctx, conversationID)

	if doc.Integrity.OriginalLength == 0 {
		doc.Integrity.OriginalLength = len(doc.Content)
	}
	if doc.Integrity.AddedAt.IsZero() {
		doc.Integrity.AddedAt = s.now()
	}
	if doc.LastModified.IsZero() {
		doc.LastModified = s.now()
	}

	if len(doc.Content) > s.cfg.ChunkThreshold && !doc.IsChunked() {
		if err := s.writeChunks(ctx, &doc); err != nil {
			// Chunk storage failed; fall back to inline content and let the
			// degrade ladder deal with the size.
			s.logger.Warn().Err(err).Str("document_id", doc.ID).Msg("Chunked storage failed, storing inline")
		}
	}

	replaced := false
	for i := range cctx.Documents {
		if cctx.Documents[i].ID == doc.ID {
			cctx.Documents[i] = doc
			replaced = true
			break
		}
	}
	if !replaced {
		cctx.Documents = append(cctx.Documents, doc)
	}
	cctx.UpdatedAt = s.now()

	err := s.persist(ctx, cctx)
	s.scheduleValidation(conversationID)
	return err
}

// RemoveDocument detaches a document and deletes its chunk records.
func (s *Service) RemoveDocument(ctx context.Context, conversationID, documentID string) error {
	lock := s.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	cctx := s.getOrCreate(ctx, conversationID)

	found := false
	for i := range cctx.Documents {
		if cctx.Documents[i].ID == documentID {
			s.deleteChunks(ctx, &cctx.Documents[i])
			cctx.Documents = append(cctx.Documents[:i], cctx.Documents[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("document %s not attached to conversation %s", documentID, conversationID)
	}
	cctx.UpdatedAt = s.now()

	return s.persist(ctx, cctx)
}

// Load returns the conversation context with chunked document content
// reassembled. The in-memory copy is authoritative when present; otherwise
// the persisted snapshot is loaded. A missing chunk leaves the placeholder
// in place and is handled by the integrity validator, never as a silent gap.
func (s *Service) Load(ctx context.Context, conversationID string) (*models.ConversationContext, error) {
	lock := s.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	cctx, err := s.loadLocked(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	clone := cctx.Clone()
	for i := range clone.Documents {
		doc := &clone.Documents[i]
		if !doc.IsChunked() {
			continue
		}
		content, rerr := s.readChunks(ctx, doc)
		if rerr != nil {
			s.logger.Warn().Err(rerr).Str("document_id", doc.ID).Msg("Failed to reassemble chunked document")
			s.scheduleValidation(conversationID)
			continue
		}
		doc.Content = content
	}
	return clone, nil
}

// Close waits for in-flight recovery goroutines to finish.
func (s *Service) Close() error {
	s.recoveryWG.Wait()
	return nil
}

// loadLocked returns the in-memory context or loads the persisted snapshot.
// Caller must hold the conversation lock.
func (s *Service) loadLocked(ctx context.Context, conversationID string) (*models.ConversationContext, error) {
	s.mu.Lock()
	cctx, ok := s.contexts[conversationID]
	s.mu.Unlock()
	if ok {
		return cctx, nil
	}

	raw, err := s.kv.Get(ctx, contextKey(conversationID))
	if err != nil {
		if err == interfaces.ErrKeyNotFound {
			return nil, interfaces.ErrContextNotFound
		}
		return nil, fmt.Errorf("failed to load context: %w", err)
	}

	loaded := &models.ConversationContext{}
	if uerr := json.Unmarshal([]byte(raw), loaded); uerr != nil {
		return nil, fmt.Errorf("failed to decode stored context: %w", uerr)
	}

	s.mu.Lock()
	s.contexts[conversationID] = loaded
	s.mu.Unlock()
	return loaded, nil
}

// getOrCreate returns the tracked context, loading the persisted snapshot or
// creating a fresh context on the first turn. Caller must hold the
// conversation lock.
func (s *Service) getOrCreate(ctx context.Context, conversationID string) *models.ConversationContext {
	cctx, err := s.loadLocked(ctx, conversationID)
	if err == nil {
		return cctx
	}
	if err != interfaces.ErrContextNotFound {
		s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("Stored context unreadable, starting fresh")
	}

	cctx = &models.ConversationContext{
		ID:        conversationID,
		CreatedAt: s.now(),
		UpdatedAt: s.now(),
	}
	s.mu.Lock()
	s.contexts[conversationID] = cctx
	s.mu.Unlock()
	return cctx
}

// conversationLock returns the per-conversation mutex, creating it on first
// use.
func (s *Service) conversationLock(conversationID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.convMu[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		s.convMu[conversationID] = lock
	}
	return lock
}

func contextKey(conversationID string) string {
	return contextKeyPrefix + conversationID
}

var _ interfaces.ContextService = (*Service)(nil)
