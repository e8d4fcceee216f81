package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Metadata carries the page metadata Firecrawl returns alongside scraped content.
type Metadata struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// SearchResult is one search hit with its scraped content, if any.
type SearchResult struct {
	URL      string    `json:"url,omitempty"`
	Markdown string    `json:"markdown,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// SearchOptions control a single search call.
type SearchOptions struct {
	Timeout time.Duration
	Limit   int
	Formats []string
}

// SearchError wraps any failure of the search provider. Timeout marks
// deadline expiries so callers can classify them in logs; handling is
// otherwise identical to any other provider failure.
type SearchError struct {
	Query   string
	Timeout bool
	Err     error
}

func (e *SearchError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("search %q timed out: %v", e.Query, e.Err)
	}
	return fmt.Sprintf("search %q failed: %v", e.Query, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }

// Firecrawl calls the Firecrawl search API, which scrapes each hit and
// returns its content as markdown.
type Firecrawl struct {
	APIKey  string
	BaseURL string
	client  *http.Client
}

// NewFirecrawl constructs a Firecrawl client. baseURL may be empty, in
// which case the hosted API endpoint is used.
func NewFirecrawl(apiKey, baseURL string) *Firecrawl {
	return NewFirecrawlWithClient(apiKey, baseURL, &http.Client{})
}

// NewFirecrawlWithClient constructs a Firecrawl client using the supplied
// HTTP client. Useful for tests and for overriding transport settings.
func NewFirecrawlWithClient(apiKey, baseURL string, client *http.Client) *Firecrawl {
	if baseURL == "" {
		baseURL = "https://api.firecrawl.dev"
	}
	return &Firecrawl{APIKey: apiKey, BaseURL: baseURL, client: client}
}

type searchRequest struct {
	Query         string         `json:"query"`
	Limit         int            `json:"limit,omitempty"`
	Timeout       int64          `json:"timeout,omitempty"`
	ScrapeOptions *scrapeOptions `json:"scrapeOptions,omitempty"`
}

type scrapeOptions struct {
	Formats []string `json:"formats"`
}

type searchResponse struct {
	Success bool           `json:"success"`
	Data    []SearchResult `json:"data"`
	Error   string         `json:"error,omitempty"`
}

// Search posts a query and returns the scraped hits. A failed call returns
// no results; partial success is never mixed with failure at this layer.
func (f *Firecrawl) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	if f.APIKey == "" {
		return nil, &SearchError{Query: query, Err: errors.New("firecrawl: API key is missing")}
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	body := searchRequest{
		Query: query,
		Limit: opts.Limit,
	}
	if opts.Timeout > 0 {
		body.Timeout = opts.Timeout.Milliseconds()
	}
	if len(opts.Formats) > 0 {
		body.ScrapeOptions = &scrapeOptions{Formats: opts.Formats}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &SearchError{Query: query, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.BaseURL+"/v1/search", bytes.NewReader(payload))
	if err != nil {
		return nil, &SearchError{Query: query, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.APIKey)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &SearchError{Query: query, Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SearchError{Query: query, Timeout: isTimeout(err), Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &SearchError{Query: query, Err: fmt.Errorf("firecrawl http %d: %s", resp.StatusCode, string(raw))}
	}

	var parsed searchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &SearchError{Query: query, Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}
	if !parsed.Success {
		return nil, &SearchError{Query: query, Err: fmt.Errorf("firecrawl error: %s", parsed.Error)}
	}

	return parsed.Data, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
