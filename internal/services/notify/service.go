// Package notify implements the outbound notification sink with per-condition
// deduplication, so degraded-mode notices reach the user exactly once per
// episode instead of once per query.
package notify

import (
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoria/internal/interfaces"
)

// Service implements interfaces.Notifier.
type Service struct {
	logger   arbor.ILogger
	mu       sync.Mutex
	fired    map[string]bool
	handlers []interfaces.NotifyHandler
}

// NewService creates a notification service.
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		logger: logger,
		fired:  make(map[string]bool),
	}
}

// NotifyOnce emits the notification unless the condition already fired since
// its last reset. Handlers run synchronously in subscription order.
func (s *Service) NotifyOnce(condition string, kind interfaces.NotifyKind, title, description string) bool {
	s.mu.Lock()
	if s.fired[condition] {
		s.mu.Unlock()
		return false
	}
	s.fired[condition] = true
	handlers := make([]interfaces.NotifyHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	n := interfaces.Notification{Kind: kind, Title: title, Description: description}

	event := s.logger.Info()
	switch kind {
	case interfaces.NotifyWarning:
		event = s.logger.Warn()
	case interfaces.NotifyError:
		event = s.logger.Error()
	}
	event.
		Str("condition", condition).
		Str("title", title).
		Str("description", description).
		Msg("User notification")

	for _, handler := range handlers {
		handler(n)
	}
	return true
}

// ResetCondition re-arms a condition so it may fire again.
func (s *Service) ResetCondition(condition string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fired, condition)
}

// Subscribe registers a handler for delivered notifications.
func (s *Service) Subscribe(handler interfaces.NotifyHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

var _ interfaces.Notifier = (*Service)(nil)
