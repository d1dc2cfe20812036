// Package brave wraps the Brave web search REST API.
package brave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"deepresearch/backend/internal/config"
)

// Brave rejects queries past 50 words, so longer ones are cut there.
const queryWordCap = 50

const errorBodyCap = 8 << 10

var ErrMissingAPIKey = errors.New("brave api key is not configured")

// APIError carries a non-2xx answer with a clipped body for logging.
type APIError struct {
	StatusCode int
	Body       string
}

func (e APIError) Error() string {
	return fmt.Sprintf("brave returned %d: %s", e.StatusCode, e.Body)
}

// SearchResult is one normalized web hit.
type SearchResult struct {
	URL     string
	Title   string
	Snippet string
}

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg config.Config, httpClient *http.Client) Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return Client{
		apiKey:     strings.TrimSpace(cfg.BraveAPIKey),
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BraveBaseURL), "/"),
		httpClient: httpClient,
	}
}

// Search runs one web search and returns up to count deduplicated hits.
// An empty query is a no-op rather than an error.
func (c Client) Search(ctx context.Context, query string, count int) ([]SearchResult, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	query = capQueryWords(query)
	if query == "" {
		return nil, nil
	}
	if count <= 0 {
		count = 5
	}

	req, err := c.newSearchRequest(ctx, query, count)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request brave: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyCap))
		return nil, APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode brave response: %w", err)
	}
	return payload.hits(count), nil
}

func (c Client) newSearchRequest(ctx context.Context, query string, count int) (*http.Request, error) {
	endpoint, err := url.Parse(c.baseURL + "/web/search")
	if err != nil {
		return nil, fmt.Errorf("parse brave endpoint: %w", err)
	}

	params := endpoint.Query()
	params.Set("q", query)
	params.Set("count", strconv.Itoa(count))
	params.Set("spellcheck", "0")
	params.Set("text_decorations", "0")
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build brave request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)
	return req, nil
}

// Brave nests web hits under "web" on the search endpoint but has been
// seen answering with a top-level list too; take either.
type searchResponse struct {
	Web struct {
		Results []rawHit `json:"results"`
	} `json:"web"`
	Results []rawHit `json:"results"`
}

type rawHit struct {
	URL           string   `json:"url"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Snippet       string   `json:"snippet"`
	ExtraSnippets []string `json:"extra_snippets"`
}

// hits normalizes the raw listing: blank and repeated URLs are dropped
// and a missing title falls back to the URL.
func (r searchResponse) hits(limit int) []SearchResult {
	raw := r.Web.Results
	if len(raw) == 0 {
		raw = r.Results
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]SearchResult, 0, len(raw))
	for _, hit := range raw {
		if len(out) == limit {
			break
		}
		link := strings.TrimSpace(hit.URL)
		if link == "" {
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, SearchResult{URL: link, Title: hit.title(link), Snippet: hit.snippet()})
	}
	return out
}

func (h rawHit) title(fallback string) string {
	if title := strings.TrimSpace(h.Title); title != "" {
		return title
	}
	return fallback
}

// snippet prefers the description and walks down to the extra snippets
// when both snippet fields are blank.
func (h rawHit) snippet() string {
	if description := strings.TrimSpace(h.Description); description != "" {
		return description
	}
	if snippet := strings.TrimSpace(h.Snippet); snippet != "" {
		return snippet
	}
	if len(h.ExtraSnippets) > 0 {
		return strings.TrimSpace(h.ExtraSnippets[0])
	}
	return ""
}

func capQueryWords(query string) string {
	words := strings.Fields(query)
	if len(words) > queryWordCap {
		words = words[:queryWordCap]
	}
	return strings.Join(words, " ")
}
