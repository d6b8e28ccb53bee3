// Package knowledgeapi provides the reference HTTP client for the remote
// knowledge service. It implements the RemoteClient collaborator contract;
// the connector core never depends on this package directly.
package knowledgeapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoria/internal/interfaces"
	"github.com/ternarybob/memoria/internal/models"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout is the default HTTP timeout for data fetches.
	DefaultTimeout = 30 * time.Second

	// DefaultHealthTimeout bounds the health probe independently of data
	// fetches; a probe must stay cheap.
	DefaultHealthTimeout = 5 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 10
)

// Client is a knowledge API client.
type Client struct {
	baseURL       string
	apiKey        string
	httpClient    *http.Client
	logger        arbor.ILogger
	limiter       *rate.Limiter
	healthTimeout time.Duration
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithHealthTimeout bounds the health probe.
func WithHealthTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.healthTimeout = d
	}
}

// NewClient creates a new knowledge API client.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter:       rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		healthTimeout: DefaultHealthTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchItems retrieves knowledge items matching the query.
func (c *Client) FetchItems(ctx context.Context, query models.KnowledgeQuery) ([]models.KnowledgeItem, error) {
	params := url.Values{}
	if query.Text != "" {
		params.Set("q", query.Text)
	}
	if query.Category != "" {
		params.Set("category", query.Category)
	}
	if query.Limit > 0 {
		params.Set("limit", strconv.Itoa(query.Limit))
	}

	var result itemsResponse
	if err := c.get(ctx, "/v1/items", params, &result); err != nil {
		return nil, err
	}

	items := make([]models.KnowledgeItem, 0, len(result.Items))
	for _, w := range result.Items {
		items = append(items, models.KnowledgeItem{
			ID:        w.ID,
			Title:     w.Title,
			Content:   w.Content,
			ItemType:  w.ItemType,
			Source:    w.Source,
			Relevance: clampRelevance(w.Relevance),
			Timestamp: w.Timestamp,
		})
	}
	return items, nil
}

// FetchDocument retrieves the full content of a single document, used to
// restore attachments that fail integrity checks.
func (c *Client) FetchDocument(ctx context.Context, documentID string) (string, error) {
	var result documentResponse
	if err := c.get(ctx, "/v1/documents/"+url.PathEscape(documentID), nil, &result); err != nil {
		return "", err
	}
	return result.Content, nil
}

// TestConnection probes the health endpoint with a bounded timeout.
func (c *Client) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()
	return c.get(ctx, "/v1/health", nil, &struct{}{})
}

// get performs a GET request against the API.
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if !c.limiter.Allow() {
		return &RateLimitError{RetryAfter: time.Second}
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	if c.logger != nil {
		c.logger.Debug().
			Str("url", c.baseURL+path).
			Msg("Knowledge API request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func clampRelevance(r float64) float64 {
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

var _ interfaces.RemoteClient = (*Client)(nil)
