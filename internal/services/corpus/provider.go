// Package corpus provides the deterministic offline fallback dataset used
// when the knowledge connector has no live or cached answer.
package corpus

import (
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoria/internal/interfaces"
	"github.com/ternarybob/memoria/internal/models"
)

// DefaultMaxItems caps the number of items returned per query so downstream
// prompt size stays predictable.
const DefaultMaxItems = 8

// How many items the default mix draws from each pool when a query matches
// nothing or is empty.
const (
	defaultCuratedCount = 3
	defaultGeneralCount = 2
)

// Topic groups curated items under match keywords.
type Topic struct {
	Name     string
	Keywords []string
	Items    []models.KnowledgeItem
}

// Provider selects items from a static in-memory corpus. Selection is a pure
// function of the query: curated topic items first, then substring matches
// from the general pool, then a fixed default mix when nothing matched.
// Ties are broken by corpus order, never recomputed relevance.
type Provider struct {
	topics   []Topic
	general  []models.KnowledgeItem
	maxItems int
	logger   arbor.ILogger
}

// Option configures the Provider.
type Option func(*Provider)

// WithMaxItems overrides the per-query item cap.
func WithMaxItems(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.maxItems = n
		}
	}
}

// WithTopics appends curated topics to the built-in set.
func WithTopics(topics ...Topic) Option {
	return func(p *Provider) {
		p.topics = append(p.topics, topics...)
	}
}

// WithGeneralItems appends items to the general fallback pool.
func WithGeneralItems(items ...models.KnowledgeItem) Option {
	return func(p *Provider) {
		p.general = append(p.general, items...)
	}
}

// NewProvider creates a provider over the built-in corpus.
func NewProvider(logger arbor.ILogger, opts ...Option) *Provider {
	p := &Provider{
		topics:   builtinTopics(),
		general:  builtinGeneralPool(),
		maxItems: DefaultMaxItems,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Items returns the fallback items for a query. The result is never empty:
// an unmatched or blank query yields the fixed default mix.
func (p *Provider) Items(query string) []models.KnowledgeItem {
	normalized := strings.ToLower(strings.TrimSpace(query))

	var results []models.KnowledgeItem

	if normalized != "" {
		// Curated topic items come first, in topic declaration order.
		for _, topic := range p.topics {
			if topicMatches(topic, normalized) {
				results = append(results, topic.Items...)
			}
		}

		// Independently scan the general pool for substring matches.
		for _, item := range p.general {
			if strings.Contains(strings.ToLower(item.Title), normalized) ||
				strings.Contains(strings.ToLower(item.Content), normalized) {
				results = append(results, item)
			}
		}
	}

	// Never silent: fall back to a fixed default mix.
	if len(results) == 0 {
		results = p.defaultMix()
	}

	if len(results) > p.maxItems {
		results = results[:p.maxItems]
	}

	p.logger.Debug().
		Str("query", query).
		Int("items", len(results)).
		Msg("Served items from offline corpus")

	// Hand out copies so callers cannot mutate the corpus.
	out := make([]models.KnowledgeItem, len(results))
	copy(out, results)
	return out
}

// defaultMix returns the first items of the first curated topic plus the
// first items of the general pool, a deterministic slice of the corpus.
func (p *Provider) defaultMix() []models.KnowledgeItem {
	var mix []models.KnowledgeItem
	if len(p.topics) > 0 {
		items := p.topics[0].Items
		n := min(defaultCuratedCount, len(items))
		mix = append(mix, items[:n]...)
	}
	n := min(defaultGeneralCount, len(p.general))
	mix = append(mix, p.general[:n]...)
	return mix
}

func topicMatches(topic Topic, normalizedQuery string) bool {
	for _, kw := range topic.Keywords {
		if strings.Contains(normalizedQuery, kw) {
			return true
		}
	}
	return false
}

var _ interfaces.CorpusProvider = (*Provider)(nil)
