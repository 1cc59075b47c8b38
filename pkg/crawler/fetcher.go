package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxBodyBytes = 10 * 1024 * 1024
	defaultUserAgent    = "compwatch/1.0"

	acceptHeader = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
)

// ErrBodyTooLarge is returned when a response body exceeds the fetcher's limit.
var ErrBodyTooLarge = errors.New("response body too large")

// Fetcher retrieves the raw body of a single URL. Implementations must not
// retry; a failed fetch is reported to the caller as-is.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) ([]byte, error)
}

// Options contains configuration for the HTTP fetcher
type Options struct {
	UserAgent    string        // User agent string
	Timeout      time.Duration // Per-request timeout
	MaxBodyBytes int64         // Response bodies beyond this size are rejected
	Client       *http.Client  // Optional preconfigured client
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.StatusCode, e.URL)
}

// HTTPFetcher is a synchronous Fetcher backed by net/http
type HTTPFetcher struct {
	client       *http.Client
	userAgent    string
	timeout      time.Duration
	maxBodyBytes int64
}

// NewHTTPFetcher creates a fetcher with the given options
func NewHTTPFetcher(opts Options) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	client := opts.Client
	if client == nil {
		jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		transport := &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     30 * time.Second,
		}
		client = &http.Client{Transport: transport, Timeout: opts.Timeout, Jar: jar}
	}

	return &HTTPFetcher{
		client:       client,
		userAgent:    opts.UserAgent,
		timeout:      opts.Timeout,
		maxBodyBytes: opts.MaxBodyBytes,
	}
}

// UserAgent returns the User-Agent header sent with every request
func (f *HTTPFetcher) UserAgent() string {
	return f.userAgent
}

// WithMaxBodyBytes returns a fetcher sharing f's client and User-Agent
// with a different body limit.
func (f *HTTPFetcher) WithMaxBodyBytes(n int64) *HTTPFetcher {
	clone := *f
	if n > 0 {
		clone.maxBodyBytes = n
	}
	return &clone
}

// Fetch performs a single GET. Non-2xx statuses and non-web MIME types are errors.
func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", pageURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: pageURL, StatusCode: resp.StatusCode}
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !isWebpageMIME(ct) {
		return nil, fmt.Errorf("fetch %s: unsupported content type %q", pageURL, ct)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", pageURL, err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, fmt.Errorf("fetch %s: %w (limit %d bytes)", pageURL, ErrBodyTooLarge, f.maxBodyBytes)
	}
	return body, nil
}

func isWebpageMIME(contentType string) bool {
	mimeType := strings.TrimSpace(strings.Split(strings.ToLower(contentType), ";")[0])
	webpageMIMEs := []string{"text/html", "application/xhtml+xml", "application/xhtml", "text/xml", "application/xml", "text/plain"}
	for _, mime := range webpageMIMEs {
		if mime == mimeType {
			return true
		}
	}
	return false
}
