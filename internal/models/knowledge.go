package models

import (
	"strconv"
	"time"
)

// KnowledgeItem represents a single unit of knowledge returned to the
// assistant, regardless of whether it came from the remote service, the
// cache, or the offline corpus. Items are immutable once produced; identity
// is ID, but duplicates across sources are tolerated.
type KnowledgeItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	ItemType  string    `json:"item_type"` // article, definition, metric, guide
	Source    string    `json:"source"`    // human-readable source label
	Relevance float64   `json:"relevance"` // 0.0 - 1.0
	Timestamp time.Time `json:"timestamp"`
}

// KnowledgeQuery describes a knowledge lookup. All fields are optional;
// an empty query is valid and answered with the default corpus mix.
type KnowledgeQuery struct {
	Text     string `json:"text,omitempty"`
	Category string `json:"category,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// CacheParams returns the query as a flat string map for canonical cache
// key derivation. Zero values are omitted so logically-identical queries
// map to the same key.
func (q KnowledgeQuery) CacheParams() map[string]string {
	params := make(map[string]string, 3)
	if q.Text != "" {
		params["text"] = q.Text
	}
	if q.Category != "" {
		params["category"] = q.Category
	}
	if q.Limit > 0 {
		params["limit"] = strconv.Itoa(q.Limit)
	}
	return params
}
