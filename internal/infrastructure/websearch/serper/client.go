package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/hybrid-rag-agent/internal/core/domain"
	"github.com/kirillkom/hybrid-rag-agent/internal/infrastructure/resilience"
)

const (
	DefaultEndpoint    = "https://google.serper.dev/search"
	DefaultMaxSnippets = 5
)

type Config struct {
	APIKey      string
	Endpoint    string
	MaxSnippets int
	Timeout     time.Duration
	Executor    *resilience.Executor
}

// Client turns a query into a digest of the top organic result snippets.
type Client struct {
	httpClient  *http.Client
	endpoint    string
	apiKey      string
	maxSnippets int
	executor    *resilience.Executor
}

type searchResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

func New(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.MaxSnippets <= 0 {
		cfg.MaxSnippets = DefaultMaxSnippets
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		endpoint:    cfg.Endpoint,
		apiKey:      cfg.APIKey,
		maxSnippets: cfg.MaxSnippets,
		executor:    cfg.Executor,
	}
}

// Search returns up to MaxSnippets snippets joined by newlines. Zero organic
// results give an empty digest and no error.
func (c *Client) Search(ctx context.Context, query string) (string, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return "", domain.WrapError(domain.ErrProvider, "serper search", errors.New("api key is not configured"))
	}

	body, err := json.Marshal(map[string]string{"q": query})
	if err != nil {
		return "", fmt.Errorf("marshal search request: %w", err)
	}

	var decoded searchResponse
	call := func(ctx context.Context) error {
		decoded = searchResponse{}
		return c.post(ctx, body, &decoded)
	}
	if c.executor == nil {
		err = call(ctx)
	} else {
		err = c.executor.Execute(ctx, "serper.search", call, resilience.ClassifyHTTPError)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		err = resilience.WrapTemporaryIfNeeded("serper search", err, resilience.ClassifyHTTPError)
		return "", domain.WrapError(domain.ErrProvider, "serper search", err)
	}

	snippets := make([]string, 0, c.maxSnippets)
	for _, item := range decoded.Organic {
		if len(snippets) == c.maxSnippets {
			break
		}
		snippets = append(snippets, item.Snippet)
	}
	return strings.Join(snippets, "\n"), nil
}

func (c *Client) post(ctx context.Context, body []byte, out *searchResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resilience.NewStatusError("serper", "search", resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode search response: %w", err)
	}
	return nil
}
