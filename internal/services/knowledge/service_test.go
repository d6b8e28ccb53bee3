package knowledge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoria/internal/interfaces"
	"github.com/ternarybob/memoria/internal/models"
	"github.com/ternarybob/memoria/internal/services/corpus"
	"github.com/ternarybob/memoria/internal/services/retry"
)

var errRemoteDown = errors.New("connection refused")

// fakeRemote is a scriptable RemoteClient.
type fakeRemote struct {
	mu         sync.Mutex
	items      []models.KnowledgeItem
	fetchErr   error
	probeErr   error
	fetchCalls int
	probeCalls int
}

func (f *fakeRemote) FetchItems(ctx context.Context, query models.KnowledgeQuery) ([]models.KnowledgeItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.items, nil
}

func (f *fakeRemote) TestConnection(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeCalls++
	return f.probeErr
}

func (f *fakeRemote) set(items []models.KnowledgeItem, fetchErr, probeErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = items
	f.fetchErr = fetchErr
	f.probeErr = probeErr
}

func (f *fakeRemote) calls() (fetch, probe int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls, f.probeCalls
}

// fakeNotifier records NotifyOnce calls with real dedup semantics.
type fakeNotifier struct {
	mu    sync.Mutex
	fired map[string]int
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{fired: make(map[string]int)}
}

func (f *fakeNotifier) NotifyOnce(condition string, kind interfaces.NotifyKind, title, description string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fired[condition] > 0 {
		return false
	}
	f.fired[condition]++
	return true
}

func (f *fakeNotifier) ResetCondition(condition string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.fired, condition)
}

func (f *fakeNotifier) Subscribe(handler interfaces.NotifyHandler) {}

func (f *fakeNotifier) count(condition string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fired[condition]
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func remoteItems() []models.KnowledgeItem {
	return []models.KnowledgeItem{
		{ID: "live-1", Title: "Live answer", Content: "fresh data", Source: "remote", Relevance: 0.95},
	}
}

func newTestService(remote *fakeRemote, notifier *fakeNotifier, clock *testClock) *Service {
	logger := arbor.NewLogger()
	policy := retry.NewPolicy(2, time.Second, 30*time.Second, 1.5,
		retry.WithSleepFunc(func(ctx context.Context, d time.Duration) error { return nil }))
	return NewService(
		remote,
		corpus.NewProvider(logger),
		notifier,
		logger,
		Config{
			MaxAttempts:   3,
			ProbeCooldown: 30 * time.Second,
			CacheTTL:      5 * time.Minute,
		},
		policy,
		WithNowFunc(clock.Now),
	)
}

func TestFetchKnowledgeHappyPath(t *testing.T) {
	remote := &fakeRemote{items: remoteItems()}
	svc := newTestService(remote, newFakeNotifier(), newTestClock())

	items := svc.FetchKnowledge(context.Background(), models.KnowledgeQuery{Text: "staking"})
	if len(items) != 1 || items[0].ID != "live-1" {
		t.Fatalf("expected live items, got %v", items)
	}

	status := svc.Status()
	if status.State != models.ConnectorConnected {
		t.Errorf("state = %s, want connected", status.State)
	}
	if status.FallbackModeActive {
		t.Error("fallback mode should not be active")
	}
	if status.ConsecutiveFailures != 0 {
		t.Errorf("consecutive failures = %d, want 0", status.ConsecutiveFailures)
	}
}

func TestFetchKnowledgeServedFromCache(t *testing.T) {
	remote := &fakeRemote{items: remoteItems()}
	svc := newTestService(remote, newFakeNotifier(), newTestClock())
	query := models.KnowledgeQuery{Text: "staking"}

	svc.FetchKnowledge(context.Background(), query)
	svc.FetchKnowledge(context.Background(), query)

	fetch, _ := remote.calls()
	if fetch != 1 {
		t.Errorf("fetch calls = %d, want 1 (second query must hit cache)", fetch)
	}
}

func TestFetchKnowledgeNeverReturnsEmpty(t *testing.T) {
	remote := &fakeRemote{fetchErr: errRemoteDown, probeErr: errRemoteDown}
	svc := newTestService(remote, newFakeNotifier(), newTestClock())

	items := svc.FetchKnowledge(context.Background(), models.KnowledgeQuery{Text: "anything at all"})
	if len(items) == 0 {
		t.Fatal("degraded fetch returned no items; the corpus must fill in")
	}
	for _, item := range items {
		if item.Source != "offline-corpus" {
			t.Errorf("expected offline-corpus items, got source %q", item.Source)
		}
	}
}

func TestFallbackLatchesAfterMaxAttempts(t *testing.T) {
	remote := &fakeRemote{fetchErr: errRemoteDown}
	notifier := newFakeNotifier()
	clock := newTestClock()
	svc := newTestService(remote, notifier, clock)

	// Probe succeeds but the fetch fails, so each query is one failure.
	for i := 1; i <= 3; i++ {
		svc.FetchKnowledge(context.Background(), models.KnowledgeQuery{Text: "q"})
		status := svc.Status()
		if status.ConsecutiveFailures != i {
			t.Fatalf("after query %d: consecutive failures = %d, want %d", i, status.ConsecutiveFailures, i)
		}
		wantFallback := i >= 3
		if status.FallbackModeActive != wantFallback {
			t.Fatalf("after query %d: fallback = %t, want %t", i, status.FallbackModeActive, wantFallback)
		}
		clock.Advance(time.Minute) // step past the probe cooldown
	}

	if notifier.count("connector:fallback-mode") != 1 {
		t.Errorf("offline notice fired %d times, want exactly 1", notifier.count("connector:fallback-mode"))
	}
}

func TestFallbackSkipsNetworkEntirely(t *testing.T) {
	remote := &fakeRemote{fetchErr: errRemoteDown}
	clock := newTestClock()
	svc := newTestService(remote, newFakeNotifier(), clock)

	for i := 0; i < 3; i++ {
		svc.FetchKnowledge(context.Background(), models.KnowledgeQuery{Text: "q"})
		clock.Advance(time.Minute)
	}
	fetchBefore, probeBefore := remote.calls()

	// Remote recovers, but fallback mode must not notice on a plain query.
	remote.set(remoteItems(), nil, nil)
	items := svc.FetchKnowledge(context.Background(), models.KnowledgeQuery{Text: "defi"})

	fetchAfter, probeAfter := remote.calls()
	if fetchAfter != fetchBefore || probeAfter != probeBefore {
		t.Error("fallback mode made a network call")
	}
	if len(items) == 0 || items[0].Source != "offline-corpus" {
		t.Errorf("expected offline corpus items in fallback mode, got %v", items)
	}
}

func TestCachedHitDoesNotClearFallback(t *testing.T) {
	remote := &fakeRemote{items: remoteItems()}
	clock := newTestClock()
	svc := newTestService(remote, newFakeNotifier(), clock)
	query := models.KnowledgeQuery{Text: "staking"}

	// Populate the cache, then drive the connector into fallback with a
	// different query.
	svc.FetchKnowledge(context.Background(), query)
	remote.set(nil, errRemoteDown, errRemoteDown)
	clock.Advance(time.Minute)
	for i := 0; i < 3; i++ {
		svc.FetchKnowledge(context.Background(), models.KnowledgeQuery{Text: "other"})
		clock.Advance(time.Minute)
	}
	if !svc.Status().FallbackModeActive {
		t.Fatal("fallback mode should be latched")
	}

	// The cached query now serves from the corpus too: fallback short-circuits
	// before the cache, and must stay latched.
	svc.FetchKnowledge(context.Background(), query)
	if !svc.Status().FallbackModeActive {
		t.Error("a query in fallback mode must not clear the latch")
	}
}

func TestForceRefreshClearsLatchWhenHealthy(t *testing.T) {
	remote := &fakeRemote{fetchErr: errRemoteDown, probeErr: errRemoteDown}
	notifier := newFakeNotifier()
	clock := newTestClock()
	svc := newTestService(remote, notifier, clock)

	for i := 0; i < 3; i++ {
		svc.FetchKnowledge(context.Background(), models.KnowledgeQuery{Text: "q"})
		clock.Advance(time.Minute)
	}
	if !svc.Status().FallbackModeActive {
		t.Fatal("fallback mode should be latched")
	}

	remote.set(remoteItems(), nil, nil)
	if err := svc.ForceRefresh(context.Background()); err != nil {
		t.Fatalf("ForceRefresh() error = %v", err)
	}

	status := svc.Status()
	if status.FallbackModeActive {
		t.Error("fallback mode should be cleared after a healthy refresh")
	}
	if status.State != models.ConnectorConnected {
		t.Errorf("state = %s, want connected", status.State)
	}

	// The offline notice is re-armed: a fresh outage must notify again.
	remote.set(nil, errRemoteDown, errRemoteDown)
	clock.Advance(time.Minute)
	for i := 0; i < 3; i++ {
		svc.FetchKnowledge(context.Background(), models.KnowledgeQuery{Text: "q2"})
		clock.Advance(time.Minute)
	}
	if notifier.count("connector:fallback-mode") != 1 {
		t.Errorf("re-armed offline notice fired %d times, want 1", notifier.count("connector:fallback-mode"))
	}
}

func TestForceRefreshUnhealthyRemote(t *testing.T) {
	remote := &fakeRemote{probeErr: errRemoteDown}
	svc := newTestService(remote, newFakeNotifier(), newTestClock())

	err := svc.ForceRefresh(context.Background())
	if !errors.Is(err, ErrRemoteUnhealthy) {
		t.Fatalf("ForceRefresh() error = %v, want ErrRemoteUnhealthy", err)
	}
	status := svc.Status()
	if status.State != models.ConnectorError {
		t.Errorf("state = %s, want error", status.State)
	}
	if status.ConsecutiveFailures != 1 {
		t.Errorf("consecutive failures = %d, want 1", status.ConsecutiveFailures)
	}
}

func TestTryRecoverOnlyClearsLatchOnHealthyProbe(t *testing.T) {
	remote := &fakeRemote{fetchErr: errRemoteDown}
	clock := newTestClock()
	svc := newTestService(remote, newFakeNotifier(), clock)

	for i := 0; i < 3; i++ {
		svc.FetchKnowledge(context.Background(), models.KnowledgeQuery{Text: "q"})
		clock.Advance(time.Minute)
	}
	if !svc.Status().FallbackModeActive {
		t.Fatal("fallback mode should be latched")
	}

	// Unhealthy probe: latch and counters untouched.
	remote.set(nil, errRemoteDown, errRemoteDown)
	if svc.TryRecover(context.Background()) {
		t.Fatal("TryRecover() = true with an unhealthy remote")
	}
	if !svc.Status().FallbackModeActive {
		t.Error("failed recovery probe must not clear the latch")
	}

	// Healthy probe: latch cleared.
	remote.set(remoteItems(), nil, nil)
	if !svc.TryRecover(context.Background()) {
		t.Fatal("TryRecover() = false with a healthy remote")
	}
	if svc.Status().FallbackModeActive {
		t.Error("successful recovery probe should clear the latch")
	}
}

func TestProbeCooldownReusesLastResult(t *testing.T) {
	remote := &fakeRemote{items: remoteItems()}
	clock := newTestClock()
	svc := newTestService(remote, newFakeNotifier(), clock)

	svc.FetchKnowledge(context.Background(), models.KnowledgeQuery{Text: "a"})
	_, probesAfterFirst := remote.calls()

	// Within the cooldown a different query reuses the last probe result.
	clock.Advance(10 * time.Second)
	svc.FetchKnowledge(context.Background(), models.KnowledgeQuery{Text: "b"})
	_, probesWithinCooldown := remote.calls()
	if probesWithinCooldown != probesAfterFirst {
		t.Errorf("probe calls = %d, want %d (cooldown must suppress re-probe)", probesWithinCooldown, probesAfterFirst)
	}

	// Past the cooldown the probe is re-issued.
	clock.Advance(time.Minute)
	svc.FetchKnowledge(context.Background(), models.KnowledgeQuery{Text: "c"})
	_, probesAfterCooldown := remote.calls()
	if probesAfterCooldown != probesAfterFirst+1 {
		t.Errorf("probe calls = %d, want %d", probesAfterCooldown, probesAfterFirst+1)
	}
}

func TestEmptyRemoteResultCountsAsFailure(t *testing.T) {
	remote := &fakeRemote{items: nil} // healthy probe, empty result
	svc := newTestService(remote, newFakeNotifier(), newTestClock())

	items := svc.FetchKnowledge(context.Background(), models.KnowledgeQuery{Text: "defi"})
	if len(items) == 0 {
		t.Fatal("expected corpus items for an empty remote result")
	}

	status := svc.Status()
	if status.ConsecutiveFailures != 1 {
		t.Errorf("consecutive failures = %d, want 1 (empty result is a failure)", status.ConsecutiveFailures)
	}
	if status.State != models.ConnectorError {
		t.Errorf("state = %s, want error", status.State)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	remote := &fakeRemote{fetchErr: errRemoteDown}
	clock := newTestClock()
	svc := newTestService(remote, newFakeNotifier(), clock)

	svc.FetchKnowledge(context.Background(), models.KnowledgeQuery{Text: "q"})
	svc.FetchKnowledge(context.Background(), models.KnowledgeQuery{Text: "q"})
	if svc.Status().ConsecutiveFailures != 2 {
		t.Fatalf("consecutive failures = %d, want 2", svc.Status().ConsecutiveFailures)
	}

	remote.set(remoteItems(), nil, nil)
	clock.Advance(time.Minute)
	svc.FetchKnowledge(context.Background(), models.KnowledgeQuery{Text: "fresh"})

	status := svc.Status()
	if status.ConsecutiveFailures != 0 {
		t.Errorf("consecutive failures = %d, want 0 after success", status.ConsecutiveFailures)
	}
	if status.State != models.ConnectorConnected {
		t.Errorf("state = %s, want connected", status.State)
	}
}

func TestReset(t *testing.T) {
	remote := &fakeRemote{fetchErr: errRemoteDown}
	clock := newTestClock()
	svc := newTestService(remote, newFakeNotifier(), clock)

	for i := 0; i < 3; i++ {
		svc.FetchKnowledge(context.Background(), models.KnowledgeQuery{Text: "q"})
		clock.Advance(time.Minute)
	}

	svc.Reset()
	status := svc.Status()
	if status.State != models.ConnectorDisconnected {
		t.Errorf("state = %s, want disconnected", status.State)
	}
	if status.FallbackModeActive || status.ConsecutiveFailures != 0 {
		t.Errorf("Reset left residual state: %+v", status)
	}
}

// A user asks about DeFi while the remote service is down: every layer of
// degradation still produces a deterministic, on-topic answer.
func TestDefiQueryOffline(t *testing.T) {
	remote := &fakeRemote{fetchErr: errRemoteDown, probeErr: errRemoteDown}
	notifier := newFakeNotifier()
	clock := newTestClock()
	svc := newTestService(remote, notifier, clock)
	query := models.KnowledgeQuery{Text: "how does defi lending work"}

	var previous []models.KnowledgeItem
	for i := 0; i < 5; i++ {
		items := svc.FetchKnowledge(context.Background(), query)
		if len(items) == 0 || len(items) > corpus.DefaultMaxItems {
			t.Fatalf("query %d returned %d items, want 1..%d", i, len(items), corpus.DefaultMaxItems)
		}
		if items[0].ID != "corpus-defi-1" {
			t.Errorf("query %d: first item = %s, want curated corpus-defi-1", i, items[0].ID)
		}
		if previous != nil && len(items) != len(previous) {
			t.Errorf("query %d: result size changed from %d to %d", i, len(previous), len(items))
		}
		previous = items
		clock.Advance(time.Minute)
	}

	if !svc.Status().FallbackModeActive {
		t.Error("fallback mode should be latched after repeated failures")
	}
	if notifier.count("connector:fallback-mode") != 1 {
		t.Errorf("offline notice fired %d times, want exactly 1", notifier.count("connector:fallback-mode"))
	}
}
