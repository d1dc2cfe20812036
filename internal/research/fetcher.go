package research

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	defaultFetchTimeout   = 30 * time.Second
	defaultFetchRedirects = 3
	defaultContentRunes   = 80_000
	defaultFetchBodyCap   = int64(1_500_000)
	fetchUserAgent        = "deepresearch-bot/1.0"
)

type FetcherConfig struct {
	RequestTimeout  time.Duration
	MaxBytes        int64
	MaxRedirects    int
	MaxContentRunes int
}

// PageFetcher downloads a source page and extracts its readable text.
// It refuses private-network targets both at the URL and at dial time.
type PageFetcher struct {
	cfg        FetcherConfig
	httpClient *http.Client
}

type Page struct {
	URL   string
	Title string
	Text  string
}

func NewPageFetcher(cfg FetcherConfig, httpClient *http.Client) *PageFetcher {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultFetchTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultFetchBodyCap
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultFetchRedirects
	}
	if cfg.MaxContentRunes <= 0 {
		cfg.MaxContentRunes = defaultContentRunes
	}

	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.DialContext = guardedDialContext(&net.Dialer{Timeout: cfg.RequestTimeout})
		httpClient = &http.Client{Transport: transport}
	}

	httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= cfg.MaxRedirects {
			return fmt.Errorf("too many redirects")
		}
		if _, err := checkFetchURL(req.URL.String()); err != nil {
			return err
		}
		return nil
	}

	return &PageFetcher{cfg: cfg, httpClient: httpClient}
}

func (f *PageFetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	if f == nil {
		return Page{}, fmt.Errorf("fetcher is nil")
	}

	parsed, err := checkFetchURL(rawURL)
	if err != nil {
		return Page{URL: rawURL}, err
	}

	requestCtx, cancel := context.WithTimeout(ctx, f.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return Page{URL: parsed.String()}, err
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain,text/markdown,application/json,text/csv,application/pdf;q=0.9,*/*;q=0.2")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Page{URL: parsed.String()}, err
	}
	defer resp.Body.Close()

	page := Page{URL: parsed.String()}
	if resp.Request != nil && resp.Request.URL != nil {
		page.URL = resp.Request.URL.String()
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusBadRequest {
		return page, fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}

	contentType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if parsedType, _, parseErr := mime.ParseMediaType(contentType); parseErr == nil {
		contentType = parsedType
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	payload, _, err := readBoundedBody(resp.Body, f.cfg.MaxBytes)
	if err != nil {
		return page, err
	}

	title, text, err := documentText(contentType, payload, f.cfg.MaxContentRunes)
	if err != nil {
		return page, err
	}
	page.Title = title
	page.Text = text
	if strings.TrimSpace(page.Text) == "" {
		return page, fmt.Errorf("extracted content is empty")
	}
	return page, nil
}

func readBoundedBody(r io.Reader, maxBytes int64) ([]byte, bool, error) {
	if maxBytes <= 0 {
		maxBytes = defaultFetchBodyCap
	}
	limited := io.LimitReader(r, maxBytes+1)
	payload, err := io.ReadAll(limited)
	if err != nil {
		return nil, false, err
	}
	if int64(len(payload)) > maxBytes {
		return payload[:maxBytes], true, nil
	}
	return payload, false, nil
}
