package pipeline

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/amosWeiskopf/compwatch/internal/config"
	"github.com/amosWeiskopf/compwatch/internal/logger"
	"github.com/amosWeiskopf/compwatch/pkg/analyzer"
	"github.com/amosWeiskopf/compwatch/pkg/classifier"
	"github.com/amosWeiskopf/compwatch/pkg/crawler"
	"github.com/amosWeiskopf/compwatch/pkg/discovery"
	"github.com/amosWeiskopf/compwatch/pkg/extractor"
	"github.com/amosWeiskopf/compwatch/pkg/storage"
)

// NewLimiter returns the shared request limiter: one request per delay,
// no bursts.
func NewLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// NewFetcher builds the HTTP fetcher described by cfg
func NewFetcher(cfg *config.Config) *crawler.HTTPFetcher {
	return crawler.NewHTTPFetcher(crawler.Options{
		UserAgent:    cfg.Crawler.UserAgent,
		Timeout:      cfg.Crawler.Timeout,
		MaxBodyBytes: cfg.Crawler.MaxBodyBytes,
	})
}

// Build wires an Orchestrator from configuration
func Build(cfg *config.Config, log logger.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}

	fetcher := NewFetcher(cfg)
	limiter := NewLimiter(cfg.Crawler.Delay)

	components := Components{
		Extractor:  extractor.New(fetcher, log),
		Classifier: classifier.New(cfg.Classifier.B2BAudience),
		Analyzer:   analyzer.New(),
		Store:      storage.New(cfg.Storage.Path),
		Limiter:    limiter,
		Logger:     log.With(logger.String("component", "pipeline")),
	}

	if cfg.Discovery.SitemapURL != "" && cfg.Discovery.Strategy != config.StrategyCrawl {
		manifests := fetcher.WithMaxBodyBytes(discovery.MaxSitemapBytes)
		components.Sitemap = discovery.New(cfg.Discovery.SitemapURL, cfg.Discovery.PathPrefixes, manifests, limiter, log)
	}
	if cfg.Discovery.SeedURL != "" && cfg.Discovery.Strategy != config.StrategySitemap {
		c, err := crawler.New(crawler.Config{
			SeedURL:            cfg.Discovery.SeedURL,
			PathPrefixes:       cfg.Discovery.PathPrefixes,
			MaxDepth:           cfg.Discovery.MaxDepth,
			MaxPages:           cfg.Discovery.MaxPages,
			ContentMinSegments: cfg.Discovery.ContentMinSegments,
			FollowRobotsTxt:    cfg.Discovery.FollowRobotsTxt,
			UserAgent:          fetcher.UserAgent(),
		}, fetcher, limiter, log)
		if err != nil {
			return nil, err
		}
		components.Crawl = c
	}

	return New(Options{
		Strategy:                cfg.Discovery.Strategy,
		ForceRefresh:            cfg.Crawler.ForceRefresh,
		MaxItems:                cfg.Crawler.MaxItems,
		CheckpointEvery:         cfg.Crawler.CheckpointEvery,
		FailureThresholdPercent: cfg.Crawler.FailureThresholdPercent,
	}, components)
}
