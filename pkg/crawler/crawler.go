package crawler

import (
	"bytes"
	"container/list"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/temoto/robotstxt"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/amosWeiskopf/compwatch/internal/logger"
	"github.com/amosWeiskopf/compwatch/internal/models"
	"github.com/amosWeiskopf/compwatch/pkg/utils"
)

// ErrRobotsDisallowed is returned when robots.txt forbids crawling the seed.
var ErrRobotsDisallowed = errors.New("crawl disallowed by robots.txt")

// Config bounds the fallback link-following discovery
type Config struct {
	SeedURL            string
	PathPrefixes       []string
	MaxDepth           int
	MaxPages           int
	ContentMinSegments int
	FollowRobotsTxt    bool
	UserAgent          string
}

// LinkQueueEntry is a listing page waiting to be visited
type LinkQueueEntry struct {
	URL   string
	Depth int
}

// Crawler discovers content URLs by walking listing pages breadth-first.
// It is single-threaded: one request at a time, paced by the limiter.
type Crawler struct {
	cfg     Config
	seed    *url.URL
	fetcher Fetcher
	limiter *rate.Limiter
	logger  logger.Logger
}

// New creates a Crawler rooted at cfg.SeedURL
func New(cfg Config, fetcher Fetcher, limiter *rate.Limiter, log logger.Logger) (*Crawler, error) {
	seed, err := url.Parse(cfg.SeedURL)
	if err != nil {
		return nil, fmt.Errorf("invalid seed URL: %w", err)
	}
	if seed.Scheme == "" || seed.Host == "" {
		return nil, fmt.Errorf("invalid seed URL %q: must be absolute", cfg.SeedURL)
	}
	if fetcher == nil {
		return nil, errors.New("crawler: fetcher is required")
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 3
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 200
	}
	if cfg.ContentMinSegments <= 0 {
		cfg.ContentMinSegments = 3
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &Crawler{
		cfg:     cfg,
		seed:    seed,
		fetcher: fetcher,
		limiter: limiter,
		logger:  log.With(logger.String("component", "crawler")),
	}, nil
}

// Discover walks listing pages from the seed and returns every content URL
// found, in discovery order. It stops at MaxDepth or after MaxPages fetches,
// whichever comes first. Failed page fetches are skipped.
func (c *Crawler) Discover(ctx context.Context) ([]models.DiscoveredURL, error) {
	if c.cfg.FollowRobotsTxt {
		allowed, err := c.isAllowedByRobots(ctx)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("%w: %s", ErrRobotsDisallowed, c.seed.String())
		}
	}

	var found []models.DiscoveredURL
	seen := make(map[string]bool)
	queue := list.New()

	start := listingKey(c.seed)
	seen[start] = true
	queue.PushBack(LinkQueueEntry{URL: start, Depth: 0})

	pages := 0
	for queue.Len() > 0 && pages < c.cfg.MaxPages {
		elem := queue.Front()
		entry := elem.Value.(LinkQueueEntry)
		queue.Remove(elem)

		if err := c.limiter.Wait(ctx); err != nil {
			return found, fmt.Errorf("rate limiter: %w", err)
		}
		pages++

		body, err := c.fetcher.Fetch(ctx, entry.URL)
		if err != nil {
			c.logger.Warn("listing page fetch failed", logger.String("url", entry.URL), logger.Error(err))
			continue
		}
		c.logger.Debug("visited listing page", logger.String("url", entry.URL), logger.Int("depth", entry.Depth))

		for _, link := range extractLinks(body, entry.URL) {
			target, ok := c.inScope(link)
			if !ok {
				continue
			}

			// Content is keyed by canonical URL; listings keep their query so
			// pagination (?page=2) is followed.
			if c.isContentPage(target) {
				canonical, err := utils.CanonicalURL(target.String())
				if err != nil || seen[canonical] {
					continue
				}
				seen[canonical] = true
				found = append(found, models.DiscoveredURL{URL: canonical})
				continue
			}

			key := listingKey(target)
			if seen[key] {
				continue
			}
			seen[key] = true
			if entry.Depth+1 <= c.cfg.MaxDepth {
				queue.PushBack(LinkQueueEntry{URL: key, Depth: entry.Depth + 1})
			}
		}
	}

	if queue.Len() > 0 {
		c.logger.Info("page budget exhausted", logger.Int("max_pages", c.cfg.MaxPages), logger.Int("unvisited", queue.Len()))
	}
	c.logger.Info("fallback discovery complete", logger.Int("pages_visited", pages), logger.Int("content_urls", len(found)))
	return found, nil
}

// isAllowedByRobots checks the seed path once before the crawl. A missing
// or unreadable robots.txt allows everything.
func (c *Crawler) isAllowedByRobots(ctx context.Context) (bool, error) {
	robotsURL := c.seed.Scheme + "://" + c.seed.Host + "/robots.txt"

	if err := c.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("rate limiter: %w", err)
	}
	body, err := c.fetcher.Fetch(ctx, robotsURL)
	if err != nil {
		c.logger.Debug("robots.txt unavailable, assuming allowed", logger.Error(err))
		return true, nil
	}

	robots, err := robotstxt.FromBytes(body)
	if err != nil {
		c.logger.Warn("robots.txt unparsable, assuming allowed", logger.Error(err))
		return true, nil
	}

	path := c.seed.EscapedPath()
	if path == "" {
		path = "/"
	}
	return robots.TestAgent(path, c.cfg.UserAgent), nil
}

// inScope parses a link and reports whether it is same-origin and under
// one of the configured path prefixes. The query string is kept.
func (c *Crawler) inScope(link string) (*url.URL, bool) {
	u, err := url.Parse(link)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, false
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme != strings.ToLower(c.seed.Scheme) || u.Host != strings.ToLower(c.seed.Host) {
		return nil, false
	}
	if !isWebpageURL(u.Path) {
		return nil, false
	}
	for _, prefix := range c.cfg.PathPrefixes {
		if strings.HasPrefix(u.Path, prefix) || u.Path == strings.TrimSuffix(prefix, "/") {
			return u, true
		}
	}
	return nil, false
}

// listingKey identifies a listing page: scheme and host lowercased, fragment
// dropped, query kept.
func listingKey(u *url.URL) string {
	k := *u
	k.Scheme = strings.ToLower(k.Scheme)
	k.Host = strings.ToLower(k.Host)
	k.Fragment = ""
	k.RawFragment = ""
	return k.String()
}

// isContentPage treats deep paths as individual items and shallow ones as listings
func (c *Crawler) isContentPage(u *url.URL) bool {
	return len(utils.PathSegments(u.Path)) >= c.cfg.ContentMinSegments
}

func isWebpageURL(path string) bool {
	lowercase := strings.ToLower(path)
	nonWebExts := []string{".jpg", ".jpeg", ".png", ".gif", ".svg", ".pdf", ".zip", ".mp4", ".mp3", ".css", ".js", ".xml"}
	for _, ext := range nonWebExts {
		if strings.HasSuffix(lowercase, ext) {
			return false
		}
	}
	return true
}

// extractLinks returns the absolute href of every anchor, in document order
func extractLinks(body []byte, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var links []string
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				href := strings.TrimSpace(attr.Val)
				if href == "" || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "tel:") {
					continue
				}
				ref, err := url.Parse(href)
				if err != nil {
					continue
				}
				links = append(links, base.ResolveReference(ref).String())
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			f(child)
		}
	}
	f(doc)
	return links
}
