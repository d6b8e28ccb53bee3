package interfaces

import (
	"context"

	"github.com/ternarybob/memoria/internal/models"
)

// RemoteClient is the external collaborator that talks to the remote
// knowledge service. Implementations may hang, error, or succeed; the
// connector core never assumes reachability.
type RemoteClient interface {
	// FetchItems retrieves knowledge items for a query. May return a
	// transport error or an auth error (distinguishable via errors.As on
	// the implementation's typed errors).
	FetchItems(ctx context.Context, query models.KnowledgeQuery) ([]models.KnowledgeItem, error)

	// TestConnection performs a lightweight health probe, distinct from a
	// full data fetch. Must be time-bounded by the implementation.
	TestConnection(ctx context.Context) error
}

// KnowledgeService is the connector facade the assistant queries. It always
// returns a usable result; remote failures degrade to cache and then to the
// offline corpus instead of surfacing as errors.
type KnowledgeService interface {
	// FetchKnowledge answers a query from live data, cache, or the fallback
	// corpus. It never returns an error to the caller.
	FetchKnowledge(ctx context.Context, query models.KnowledgeQuery) []models.KnowledgeItem

	// ForceRefresh clears the cache and failure state, then re-probes the
	// remote service bypassing the probe cooldown.
	ForceRefresh(ctx context.Context) error

	// TryRecover probes the remote service bypassing the cooldown and
	// clears fallback mode only when the probe succeeds. A failed probe
	// leaves the latch and counters untouched.
	TryRecover(ctx context.Context) bool

	// Reset returns the connector to a cold-start state: disconnected, no
	// counters, empty cache, fallback mode cleared.
	Reset()

	// Status returns a snapshot of the connector state.
	Status() models.ConnectorStatus
}

// CorpusProvider serves deterministic, query-keyed results from a static
// offline dataset. Pure: identical input yields identical output.
type CorpusProvider interface {
	Items(query string) []models.KnowledgeItem
}
