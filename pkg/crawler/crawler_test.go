package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/amosWeiskopf/compwatch/internal/models"
)

func urlsOf(found []models.DiscoveredURL) []string {
	urls := make([]string, 0, len(found))
	for _, f := range found {
		urls = append(urls, f.URL)
	}
	return urls
}

func newTestCrawler(t *testing.T, cfg Config) *Crawler {
	t.Helper()
	c, err := New(cfg, NewHTTPFetcher(Options{UserAgent: "compwatch-test", Timeout: 5 * time.Second}), nil, nil)
	require.NoError(t, err)
	return c
}

func TestNewCrawler(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "valid URL", url: "https://example.com/resources/"},
		{name: "relative URL", url: "/resources/", wantErr: true},
		{name: "empty URL", url: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(Config{SeedURL: tt.url}, NewHTTPFetcher(Options{}), nil, nil)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, c)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, c)
			}
		})
	}
}

func TestDiscoverFollowsOnlyListingPages(t *testing.T) {
	var mu sync.Mutex
	visits := map[string]int{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		visits[r.URL.Path]++
		mu.Unlock()

		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/resources/":
			fmt.Fprint(w, `<html><body>
				<a href="/resources/blog">Blog</a>
				<a href="/resources/case-studies/">Case studies</a>
				<a href="/about">About</a>
				<a href="https://elsewhere.example.org/resources/blog/x">External</a>
				<a href="/resources/blog/first-post?utm_source=nav#top">First</a>
			</body></html>`)
		case "/resources/blog":
			fmt.Fprint(w, `<html><body>
				<a href="/resources/blog/first-post">First</a>
				<a href="/resources/blog/second-post">Second</a>
				<a href="/resources/whitepaper.pdf">PDF</a>
			</body></html>`)
		case "/resources/case-studies/":
			fmt.Fprint(w, `<html><body><a href="/resources/case-studies/acme">Acme</a></body></html>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := newTestCrawler(t, Config{
		SeedURL:      server.URL + "/resources/",
		PathPrefixes: []string{"/resources/"},
		MaxDepth:     3,
		MaxPages:     50,
	})

	found, err := c.Discover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		server.URL + "/resources/blog/first-post",
		server.URL + "/resources/blog/second-post",
		server.URL + "/resources/case-studies/acme",
	}, urlsOf(found))

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, visits["/resources/blog/first-post"], "content pages must not be fetched during discovery")
	assert.Zero(t, visits["/about"])
	assert.Equal(t, 1, visits["/resources/blog"])
}

func TestDiscoverStopsAtMaxDepth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/resources/":
			fmt.Fprint(w, `<a href="/resources/a">a</a>`)
		case "/resources/a":
			fmt.Fprint(w, `<a href="/resources/b">b</a>`)
		case "/resources/b":
			fmt.Fprint(w, `<a href="/resources/b/item">item</a>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	tests := []struct {
		name     string
		maxDepth int
		maxPages int
		want     int
	}{
		{name: "depth one never reaches b", maxDepth: 1, maxPages: 50, want: 0},
		{name: "depth two reaches b", maxDepth: 2, maxPages: 50, want: 1},
		{name: "page budget of one only covers the seed", maxDepth: 5, maxPages: 1, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCrawler(t, Config{
				SeedURL:      server.URL + "/resources/",
				PathPrefixes: []string{"/resources/"},
				MaxDepth:     tt.maxDepth,
				MaxPages:     tt.maxPages,
			})
			found, err := c.Discover(context.Background())
			require.NoError(t, err)
			assert.Len(t, found, tt.want)
		})
	}
}

func TestDiscoverTerminatesOnUnboundedFanOut(t *testing.T) {
	var mu sync.Mutex
	requests := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		n := requests
		mu.Unlock()
		w.Header().Set("Content-Type", "text/html")
		// Every listing page links to two fresh listing pages.
		fmt.Fprintf(w, `<a href="/resources/l%da">a</a><a href="/resources/l%db">b</a>`, n, n)
	}))
	defer server.Close()

	c := newTestCrawler(t, Config{
		SeedURL:      server.URL + "/resources/",
		PathPrefixes: []string{"/resources/"},
		MaxDepth:     50,
		MaxPages:     7,
	})

	_, err := c.Discover(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 7, requests)
}

func TestDiscoverSkipsFailedListingPages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/resources/":
			fmt.Fprint(w, `<a href="/resources/broken">x</a><a href="/resources/ok">y</a>`)
		case "/resources/broken":
			w.WriteHeader(http.StatusInternalServerError)
		case "/resources/ok":
			fmt.Fprint(w, `<a href="/resources/ok/item">item</a>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := newTestCrawler(t, Config{
		SeedURL:      server.URL + "/resources/",
		PathPrefixes: []string{"/resources/"},
		MaxDepth:     3,
		MaxPages:     10,
	})

	found, err := c.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{server.URL + "/resources/ok/item"}, urlsOf(found))
}

func TestRespectRobotsTxt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			fmt.Fprint(w, "User-agent: *\nDisallow: /resources/\n")
		default:
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, `<a href="/resources/blog/post">post</a>`)
		}
	}))
	defer server.Close()

	c := newTestCrawler(t, Config{
		SeedURL:         server.URL + "/resources/",
		PathPrefixes:    []string{"/resources/"},
		FollowRobotsTxt: true,
		UserAgent:       "compwatch-test",
	})

	found, err := c.Discover(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRobotsDisallowed))
	assert.Nil(t, found)
}

func TestMissingRobotsTxtAllowsCrawl(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<a href="/resources/blog/post">post</a>`)
	}))
	defer server.Close()

	c := newTestCrawler(t, Config{
		SeedURL:         server.URL + "/resources/",
		PathPrefixes:    []string{"/resources/"},
		FollowRobotsTxt: true,
		UserAgent:       "compwatch-test",
	})

	found, err := c.Discover(context.Background())
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestRateLimiting(t *testing.T) {
	var mu sync.Mutex
	var requestTimes []time.Time

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requestTimes = append(requestTimes, time.Now())
		mu.Unlock()
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<a href="/resources/a">a</a><a href="/resources/b">b</a>`)
	}))
	defer server.Close()

	limiter := rate.NewLimiter(rate.Every(200*time.Millisecond), 1)
	c, err := New(Config{
		SeedURL:      server.URL + "/resources/",
		PathPrefixes: []string{"/resources/"},
		MaxPages:     3,
	}, NewHTTPFetcher(Options{}), limiter, nil)
	require.NoError(t, err)

	_, err = c.Discover(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, requestTimes, 3)
	for i := 1; i < len(requestTimes); i++ {
		gap := requestTimes[i].Sub(requestTimes[i-1])
		// Should be close to 200ms between requests (with some tolerance)
		assert.Greater(t, gap.Milliseconds(), int64(150))
	}
}

func TestHTTPFetcher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "compwatch-test", r.Header.Get("User-Agent"))
			assert.Contains(t, r.Header.Get("Accept"), "text/html")
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, "<html>ok</html>")
		case "/image":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte{0x89, 0x50})
		case "/slow":
			time.Sleep(300 * time.Millisecond)
			fmt.Fprint(w, "late")
		default:
			w.WriteHeader(http.StatusGone)
		}
	}))
	defer server.Close()

	f := NewHTTPFetcher(Options{UserAgent: "compwatch-test", Timeout: 100 * time.Millisecond})

	body, err := f.Fetch(context.Background(), server.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", string(body))

	_, err = f.Fetch(context.Background(), server.URL+"/missing")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusGone, statusErr.StatusCode)

	_, err = f.Fetch(context.Background(), server.URL+"/image")
	assert.Error(t, err)

	_, err = f.Fetch(context.Background(), server.URL+"/slow")
	assert.Error(t, err, "per-request timeout must fail the item")
}

func TestHTTPFetcherBodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write(bytes.Repeat([]byte("x"), 64))
	}))
	defer server.Close()

	tests := []struct {
		name    string
		limit   int64
		wantErr bool
	}{
		{name: "exactly at limit", limit: 64},
		{name: "one byte over", limit: 63, wantErr: true},
	}

	base := NewHTTPFetcher(Options{MaxBodyBytes: 8})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := base.WithMaxBodyBytes(tt.limit).Fetch(context.Background(), server.URL)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrBodyTooLarge))
				return
			}
			require.NoError(t, err)
			assert.Len(t, body, 64)
		})
	}

	_, err := base.Fetch(context.Background(), server.URL)
	assert.True(t, errors.Is(err, ErrBodyTooLarge), "the original fetcher keeps its own limit")
}

func TestDiscoverFollowsPaginatedListings(t *testing.T) {
	var mu sync.Mutex
	visits := map[string]int{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		visits[r.URL.RequestURI()]++
		mu.Unlock()

		w.Header().Set("Content-Type", "text/html")
		switch r.URL.RequestURI() {
		case "/resources/":
			fmt.Fprint(w, `<a href="/resources/blog">Blog</a>`)
		case "/resources/blog":
			fmt.Fprint(w, `<a href="/resources/blog/post-one">One</a>
				<a href="/resources/blog?page=2">Next</a>`)
		case "/resources/blog?page=2":
			fmt.Fprint(w, `<a href="/resources/blog">Prev</a>
				<a href="/resources/blog?page=2#top">Top</a>
				<a href="/resources/blog/post-two?ref=page2">Two</a>
				<a href="/resources/blog/post-one">One again</a>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := newTestCrawler(t, Config{
		SeedURL:      server.URL + "/resources/",
		PathPrefixes: []string{"/resources/"},
		MaxDepth:     3,
		MaxPages:     10,
	})

	found, err := c.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		server.URL + "/resources/blog/post-one",
		server.URL + "/resources/blog/post-two",
	}, urlsOf(found))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, visits["/resources/blog"])
	assert.Equal(t, 1, visits["/resources/blog?page=2"])
}
