// Package knowledge implements the resilient knowledge connector: a state
// machine that degrades from live remote data to cached data to the offline
// corpus without ever surfacing an error to the conversation.
package knowledge

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoria/internal/interfaces"
	"github.com/ternarybob/memoria/internal/models"
	"github.com/ternarybob/memoria/internal/services/cache"
	"github.com/ternarybob/memoria/internal/services/retry"
)

// fallbackCondition keys the one-shot "offline" notification so the user
// sees it exactly once per latch activation.
const fallbackCondition = "connector:fallback-mode"

const cacheKeyPrefix = "knowledge"

// Config tunes the connector state machine.
type Config struct {
	// MaxAttempts is the consecutive-failure threshold that latches
	// fallback mode.
	MaxAttempts int

	// ProbeCooldown suppresses re-probing within the window; the last known
	// probe result is reused. The probe is an expensive network call and
	// must not be re-issued on every keystroke-driven query.
	ProbeCooldown time.Duration

	// CacheTTL is the freshness window for cached query results.
	CacheTTL time.Duration

	// FetchTimeout bounds a whole retry.Execute fetch cycle; zero means the
	// caller's context governs.
	FetchTimeout time.Duration
}

// Service implements interfaces.KnowledgeService.
//
// consecutiveFailures and the fallback latch are shared across all in-flight
// queries. Both only move toward more cautious states under concurrency, so
// a double-counted failure can latch fallback mode slightly early but never
// produce a false "connected" state.
type Service struct {
	remote   interfaces.RemoteClient
	corpus   interfaces.CorpusProvider
	notifier interfaces.Notifier
	logger   arbor.ILogger
	cache    *cache.Cache[[]models.KnowledgeItem]
	retry    *retry.Policy
	cfg      Config
	now      func() time.Time

	mu                  sync.Mutex
	state               models.ConnectorState
	consecutiveFailures int
	fallbackActive      bool
	lastProbeAt         time.Time
	lastProbeHealthy    bool
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithNowFunc overrides the time source for deterministic tests.
func WithNowFunc(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
		// Keep the cache on the same virtual clock.
		s.cache = cache.New[[]models.KnowledgeItem](s.cfg.CacheTTL, cache.WithNowFunc[[]models.KnowledgeItem](now))
	}
}

// WithRetryPolicy replaces the retry policy, used by tests to record
// backoff delays.
func WithRetryPolicy(policy *retry.Policy) ServiceOption {
	return func(s *Service) {
		s.retry = policy
	}
}

// NewService creates the knowledge connector in the Disconnected state.
// shouldRetry classifies remote errors; auth errors must return false so
// they short-circuit retries.
func NewService(
	remote interfaces.RemoteClient,
	corpusProvider interfaces.CorpusProvider,
	notifier interfaces.Notifier,
	logger arbor.ILogger,
	cfg Config,
	retryCfg *retry.Policy,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		remote:   remote,
		corpus:   corpusProvider,
		notifier: notifier,
		logger:   logger,
		cache:    cache.New[[]models.KnowledgeItem](cfg.CacheTTL),
		retry:    retryCfg,
		cfg:      cfg,
		now:      time.Now,
		state:    models.ConnectorDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchKnowledge answers a query. Network errors and empty responses are
// absorbed and converted into a degraded-but-valid result; the assistant
// must always have something to say.
func (s *Service) FetchKnowledge(ctx context.Context, query models.KnowledgeQuery) []models.KnowledgeItem {
	// Fallback mode: no network attempt at all.
	if s.fallbackModeActive() {
		s.logger.Debug().Str("query", query.Text).Msg("Fallback mode active, serving offline corpus")
		return s.corpus.Items(query.Text)
	}

	key := cache.DeriveKey(cacheKeyPrefix, query.CacheParams())
	if items, ok := s.cache.Get(key); ok {
		// Cached hit leaves the state machine untouched; in particular it
		// never clears the fallback latch.
		s.logger.Debug().Str("query", query.Text).Int("items", len(items)).Msg("Knowledge served from cache")
		return items
	}

	s.setState(models.ConnectorConnecting)

	if !s.probe(ctx, false) {
		s.recordFailure("health probe reported unhealthy")
		return s.corpus.Items(query.Text)
	}

	items, err := s.fetchWithRetry(ctx, query)
	if err != nil {
		s.logger.Warn().Err(err).Str("query", query.Text).Msg("Remote fetch failed after retries")
		s.recordFailure("remote fetch exhausted retries")
		return s.corpus.Items(query.Text)
	}
	if len(items) == 0 {
		// An empty response is "no usable live data", same as an error.
		s.recordFailure("remote returned no items")
		return s.corpus.Items(query.Text)
	}

	s.recordSuccess()
	s.cache.Set(key, items)
	s.logger.Debug().Str("query", query.Text).Int("items", len(items)).Msg("Knowledge fetched from remote")
	return items
}

// ForceRefresh clears cache and failure state unconditionally, then
// re-probes bypassing the cooldown.
func (s *Service) ForceRefresh(ctx context.Context) error {
	s.cache.Clear()

	s.mu.Lock()
	s.consecutiveFailures = 0
	s.fallbackActive = false
	s.mu.Unlock()
	s.notifier.ResetCondition(fallbackCondition)

	if !s.probe(ctx, true) {
		s.mu.Lock()
		s.state = models.ConnectorError
		s.consecutiveFailures = 1
		s.mu.Unlock()
		return ErrRemoteUnhealthy
	}

	s.setState(models.ConnectorConnected)
	s.logger.Info().Msg("Connector force-refreshed, remote healthy")
	return nil
}

// TryRecover probes the remote service bypassing the cooldown. Only a
// healthy probe clears fallback mode; a failed probe changes nothing, so a
// background re-probe can never silently un-latch a degraded connector.
func (s *Service) TryRecover(ctx context.Context) bool {
	if !s.probe(ctx, true) {
		return false
	}
	s.recordSuccess()
	s.logger.Info().Msg("Recovery probe succeeded, remote healthy")
	return true
}

// Reset returns the connector to a full cold start.
func (s *Service) Reset() {
	s.cache.Clear()
	s.mu.Lock()
	s.state = models.ConnectorDisconnected
	s.consecutiveFailures = 0
	s.fallbackActive = false
	s.lastProbeAt = time.Time{}
	s.lastProbeHealthy = false
	s.mu.Unlock()
	s.notifier.ResetCondition(fallbackCondition)
	s.logger.Debug().Msg("Connector reset to cold start")
}

// Status returns a snapshot of the connector state.
func (s *Service) Status() models.ConnectorStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.ConnectorStatus{
		State:               s.state,
		FallbackModeActive:  s.fallbackActive,
		ConsecutiveFailures: s.consecutiveFailures,
	}
}

// fetchWithRetry runs the remote fetch under the retry policy.
func (s *Service) fetchWithRetry(ctx context.Context, query models.KnowledgeQuery) ([]models.KnowledgeItem, error) {
	if s.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.FetchTimeout)
		defer cancel()
	}

	var items []models.KnowledgeItem
	err := s.retry.Execute(ctx, func(ctx context.Context) error {
		got, err := s.remote.FetchItems(ctx, query)
		if err != nil {
			return err
		}
		items = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// probe runs the health check, gated by the cooldown window unless bypass
// is set. Within the window the last known result is reused.
func (s *Service) probe(ctx context.Context, bypassCooldown bool) bool {
	s.mu.Lock()
	if !bypassCooldown && !s.lastProbeAt.IsZero() && s.now().Sub(s.lastProbeAt) < s.cfg.ProbeCooldown {
		healthy := s.lastProbeHealthy
		s.mu.Unlock()
		s.logger.Debug().Bool("healthy", healthy).Msg("Health probe within cooldown, reusing last result")
		return healthy
	}
	s.mu.Unlock()

	err := s.remote.TestConnection(ctx)
	healthy := err == nil
	if err != nil {
		s.logger.Debug().Err(err).Msg("Health probe failed")
	}

	s.mu.Lock()
	s.lastProbeAt = s.now()
	s.lastProbeHealthy = healthy
	s.mu.Unlock()
	return healthy
}

// recordSuccess transitions to Connected, resets the failure counter, and
// clears the fallback latch. A full successful fetch implies a healthy
// remote, which is one of the two permitted latch exits.
func (s *Service) recordSuccess() {
	s.mu.Lock()
	s.state = models.ConnectorConnected
	s.consecutiveFailures = 0
	wasFallback := s.fallbackActive
	s.fallbackActive = false
	s.mu.Unlock()

	if wasFallback {
		s.notifier.ResetCondition(fallbackCondition)
		s.logger.Info().Msg("Remote knowledge service recovered, fallback mode cleared")
	}
}

// recordFailure transitions to Error, bumps the failure counter, and latches
// fallback mode once the threshold is reached. The latch fires the offline
// notice exactly once per activation.
func (s *Service) recordFailure(reason string) {
	s.mu.Lock()
	s.state = models.ConnectorError
	s.consecutiveFailures++
	failures := s.consecutiveFailures
	latched := false
	if failures >= s.cfg.MaxAttempts && !s.fallbackActive {
		s.fallbackActive = true
		latched = true
	}
	s.mu.Unlock()

	s.logger.Warn().
		Str("reason", reason).
		Int("consecutive_failures", failures).
		Int("max_attempts", s.cfg.MaxAttempts).
		Msg("Knowledge connector failure")

	if latched {
		s.notifier.NotifyOnce(fallbackCondition, interfaces.NotifyWarning,
			"Knowledge service offline",
			"Live knowledge is unavailable; answers are served from the offline corpus until the connection recovers.")
	}
}

func (s *Service) fallbackModeActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallbackActive
}

func (s *Service) setState(state models.ConnectorState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

var _ interfaces.KnowledgeService = (*Service)(nil)
