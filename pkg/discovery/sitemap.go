// Package discovery resolves the candidate set of content URLs for a site
// from its sitemap manifest.
package discovery

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/amosWeiskopf/compwatch/internal/logger"
	"github.com/amosWeiskopf/compwatch/internal/models"
	"github.com/amosWeiskopf/compwatch/pkg/crawler"
	"github.com/amosWeiskopf/compwatch/pkg/utils"
)

// MaxSitemapBytes is the largest manifest the sitemap protocol allows.
const MaxSitemapBytes = 50 * 1024 * 1024

// ErrManifestUnavailable is returned when the sitemap cannot be fetched or parsed.
var ErrManifestUnavailable = errors.New("sitemap manifest unavailable")

// dateOnlyFormat is the date-only layout for sitemap lastmod values (e.g. "2024-01-15").
const dateOnlyFormat = "2006-01-02"

// Entry is a single <url> entry from a sitemap
type Entry struct {
	Loc     string
	LastMod *time.Time
}

type xmlURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []xmlURL `xml:"url"`
}

type xmlURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

type xmlSitemapIndex struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// ParseSitemap parses a <urlset> document. Entries without a <loc> are
// dropped; an absent or unparsable <lastmod> leaves LastMod nil.
func ParseSitemap(body []byte) ([]Entry, error) {
	var urlset xmlURLSet
	if err := xml.Unmarshal(body, &urlset); err != nil {
		return nil, fmt.Errorf("parse sitemap: %w", err)
	}

	entries := make([]Entry, 0, len(urlset.URLs))
	for _, u := range urlset.URLs {
		loc := strings.TrimSpace(u.Loc)
		if loc == "" {
			continue
		}
		entry := Entry{Loc: loc}
		if t, err := parseLastMod(u.LastMod); err == nil {
			entry.LastMod = &t
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ParseSitemapIndex returns the child sitemap locations of a <sitemapindex>
// document.
func ParseSitemapIndex(body []byte) ([]string, error) {
	var index xmlSitemapIndex
	if err := xml.Unmarshal(body, &index); err != nil {
		return nil, fmt.Errorf("parse sitemap index: %w", err)
	}

	locs := make([]string, 0, len(index.Sitemaps))
	for _, s := range index.Sitemaps {
		if loc := strings.TrimSpace(s.Loc); loc != "" {
			locs = append(locs, loc)
		}
	}
	return locs, nil
}

func isSitemapIndex(body []byte) bool {
	decoder := xml.NewDecoder(strings.NewReader(string(body)))
	for {
		tok, err := decoder.Token()
		if err != nil {
			return false
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local == "sitemapindex"
		}
	}
}

// parseLastMod accepts RFC 3339 timestamps and plain dates.
func parseLastMod(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, errors.New("empty lastmod")
	}
	if t, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateOnlyFormat, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse lastmod %q: %w", trimmed, err)
	}
	return t, nil
}

// Filter restricts entries to content-bearing URLs under prefixes. It drops
// the listing page at each prefix, any loc carrying a query or fragment,
// and duplicates by canonical URL. The first occurrence of a URL fixes its
// position; a later occurrence only fills in a missing lastmod.
func Filter(entries []Entry, prefixes []string) []models.DiscoveredURL {
	result := make([]models.DiscoveredURL, 0, len(entries))
	index := make(map[string]int, len(entries))

	for _, e := range entries {
		if utils.HasQueryOrFragment(e.Loc) {
			continue
		}
		canonical, err := utils.CanonicalURL(e.Loc)
		if err != nil {
			continue
		}
		u, err := url.Parse(canonical)
		if err != nil || !isContentPath(u.Path, prefixes) {
			continue
		}

		if i, ok := index[canonical]; ok {
			if result[i].LastModified == nil && e.LastMod != nil {
				result[i].LastModified = e.LastMod
			}
			continue
		}
		index[canonical] = len(result)
		result = append(result, models.DiscoveredURL{URL: canonical, LastModified: e.LastMod})
	}
	return result
}

// isContentPath reports whether path sits strictly below one of prefixes
func isContentPath(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		bare := strings.TrimSuffix(prefix, "/")
		if path == bare || path == bare+"/" {
			continue
		}
		if strings.HasPrefix(path, bare+"/") {
			return true
		}
	}
	return false
}

// Discoverer fetches a sitemap and returns the filtered content URLs
type Discoverer struct {
	sitemapURL string
	prefixes   []string
	fetcher    crawler.Fetcher
	limiter    *rate.Limiter
	logger     logger.Logger
}

// New creates a Discoverer for the sitemap at sitemapURL. Every manifest
// request waits on limiter, which the caller shares with page fetches.
func New(sitemapURL string, prefixes []string, fetcher crawler.Fetcher, limiter *rate.Limiter, log logger.Logger) *Discoverer {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Discoverer{
		sitemapURL: sitemapURL,
		prefixes:   prefixes,
		fetcher:    fetcher,
		limiter:    limiter,
		logger:     log.With(logger.String("component", "discovery")),
	}
}

func (d *Discoverer) fetch(ctx context.Context, sitemapURL string) ([]byte, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return d.fetcher.Fetch(ctx, sitemapURL)
}

// Discover fetches the manifest. A <sitemapindex> is expanded one level;
// a failing child sitemap is skipped, but a failing root is fatal and
// wraps ErrManifestUnavailable.
func (d *Discoverer) Discover(ctx context.Context) ([]models.DiscoveredURL, error) {
	body, err := d.fetch(ctx, d.sitemapURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrManifestUnavailable, err)
	}

	var entries []Entry
	if isSitemapIndex(body) {
		children, err := ParseSitemapIndex(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrManifestUnavailable, err)
		}
		for _, child := range children {
			childBody, err := d.fetch(ctx, child)
			if err != nil {
				if ctx.Err() != nil {
					return nil, err
				}
				d.logger.Warn("child sitemap fetch failed", logger.String("sitemap", child), logger.Error(err))
				continue
			}
			childEntries, err := ParseSitemap(childBody)
			if err != nil {
				d.logger.Warn("child sitemap unparsable", logger.String("sitemap", child), logger.Error(err))
				continue
			}
			entries = append(entries, childEntries...)
		}
	} else {
		entries, err = ParseSitemap(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrManifestUnavailable, err)
		}
	}

	urls := Filter(entries, d.prefixes)
	d.logger.Info("sitemap discovery complete",
		logger.String("sitemap", d.sitemapURL),
		logger.Int("entries", len(entries)),
		logger.Int("content_urls", len(urls)),
	)
	return urls, nil
}
