// Package pipeline sequences one incremental crawl run: discovery,
// selection, the rate-limited fetch loop, classification, merge and
// checkpointed persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/amosWeiskopf/compwatch/internal/config"
	"github.com/amosWeiskopf/compwatch/internal/logger"
	"github.com/amosWeiskopf/compwatch/internal/models"
	"github.com/amosWeiskopf/compwatch/pkg/analyzer"
	"github.com/amosWeiskopf/compwatch/pkg/classifier"
	"github.com/amosWeiskopf/compwatch/pkg/discovery"
	"github.com/amosWeiskopf/compwatch/pkg/extractor"
	"github.com/amosWeiskopf/compwatch/pkg/merge"
)

// ErrFailureRateExceeded is returned alongside the run summary when too
// many items failed. The corpus has still been saved.
var ErrFailureRateExceeded = errors.New("failure rate exceeded threshold")

// Discoverer produces the candidate content URLs for a run
type Discoverer interface {
	Discover(ctx context.Context) ([]models.DiscoveredURL, error)
}

// PageExtractor fetches and parses a single content page
type PageExtractor interface {
	Extract(ctx context.Context, pageURL string) (*extractor.Result, error)
}

// Store persists the corpus
type Store interface {
	Load() (*models.Corpus, error)
	Save(corpus *models.Corpus) error
	CheckWritable() error
}

// Options controls a run
type Options struct {
	Strategy                string
	ForceRefresh            bool
	MaxItems                int
	CheckpointEvery         int
	FailureThresholdPercent int
}

// Components are the collaborators of an Orchestrator. Sitemap and Crawl
// may be nil when the strategy does not use them.
type Components struct {
	Sitemap    Discoverer
	Crawl      Discoverer
	Extractor  PageExtractor
	Classifier *classifier.Classifier
	Analyzer   *analyzer.Analyzer
	Store      Store
	Limiter    *rate.Limiter
	Logger     logger.Logger
	Now        func() time.Time
}

// Orchestrator runs the crawl state machine. A single Orchestrator must not
// run concurrently with itself.
type Orchestrator struct {
	opts  Options
	c     Components
	state State
}

// New creates an Orchestrator
func New(opts Options, c Components) (*Orchestrator, error) {
	switch opts.Strategy {
	case config.StrategySitemap:
		if c.Sitemap == nil {
			return nil, errors.New("pipeline: sitemap strategy needs a sitemap discoverer")
		}
	case config.StrategyCrawl:
		if c.Crawl == nil {
			return nil, errors.New("pipeline: crawl strategy needs a crawler")
		}
	case config.StrategyAuto:
		if c.Sitemap == nil && c.Crawl == nil {
			return nil, errors.New("pipeline: auto strategy needs a sitemap discoverer or a crawler")
		}
	default:
		return nil, fmt.Errorf("pipeline: unknown strategy %q", opts.Strategy)
	}
	if c.Extractor == nil || c.Store == nil {
		return nil, errors.New("pipeline: extractor and store are required")
	}
	if c.Classifier == nil {
		c.Classifier = classifier.New(nil)
	}
	if c.Analyzer == nil {
		c.Analyzer = analyzer.New()
	}
	if c.Limiter == nil {
		c.Limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if c.Logger == nil {
		c.Logger = logger.NewNop()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if opts.FailureThresholdPercent < 0 {
		opts.FailureThresholdPercent = 0
	}

	return &Orchestrator{
		opts:  opts,
		c:     c,
		state: StateIdle,
	}, nil
}

// State returns the current run state
func (o *Orchestrator) State() State {
	return o.state
}

func (o *Orchestrator) transition(next State) {
	o.c.Logger.Debug("state transition", logger.String("from", o.state.String()), logger.String("to", next.String()))
	o.state = next
}

func (o *Orchestrator) fail(err error) error {
	o.transition(StateFailed)
	return err
}

// Discover runs only the discovery step and reports which strategy
// produced the result.
func (o *Orchestrator) Discover(ctx context.Context) ([]models.DiscoveredURL, string, error) {
	switch o.opts.Strategy {
	case config.StrategySitemap:
		urls, err := o.c.Sitemap.Discover(ctx)
		return urls, config.StrategySitemap, err
	case config.StrategyCrawl:
		urls, err := o.c.Crawl.Discover(ctx)
		return urls, config.StrategyCrawl, err
	}

	if o.c.Sitemap != nil {
		urls, err := o.c.Sitemap.Discover(ctx)
		if err == nil {
			return urls, config.StrategySitemap, nil
		}
		if o.c.Crawl == nil || !errors.Is(err, discovery.ErrManifestUnavailable) {
			return nil, config.StrategySitemap, err
		}
		o.c.Logger.Warn("sitemap unavailable, falling back to link crawl", logger.Error(err))
	}
	urls, err := o.c.Crawl.Discover(ctx)
	return urls, config.StrategyCrawl, err
}

// Run executes one crawl. Fatal errors leave the previous or last
// checkpointed corpus on disk. When the failure rate is above the
// threshold the full summary is returned together with
// ErrFailureRateExceeded.
func (o *Orchestrator) Run(ctx context.Context) (*models.RunSummary, error) {
	log := o.c.Logger
	summary := &models.RunSummary{
		ForceRefresh: o.opts.ForceRefresh,
		FailedURLs:   []string{},
		StartedAt:    o.c.Now().UTC(),
	}

	o.transition(StateLoading)
	if err := o.c.Store.CheckWritable(); err != nil {
		return nil, o.fail(fmt.Errorf("corpus store preflight: %w", err))
	}
	prev, err := o.c.Store.Load()
	if err != nil {
		return nil, o.fail(fmt.Errorf("load corpus: %w", err))
	}
	log.Info("loaded corpus", logger.Int("records", len(prev.Content)))

	o.transition(StateDiscovering)
	discovered, strategy, err := o.Discover(ctx)
	summary.Strategy = strategy
	if err != nil {
		return nil, o.fail(fmt.Errorf("discovery: %w", err))
	}
	summary.Discovered = len(discovered)

	o.transition(StateSelecting)
	plan := merge.NewPlan(prev, discovered, merge.PlanOptions{
		ForceRefresh: o.opts.ForceRefresh,
		MaxItems:     o.opts.MaxItems,
	})
	ws := merge.NewWorkingSet(prev, o.c.Now())

	// A discovered URL is counted in exactly one summary bucket.
	selected := make(map[string]bool, len(plan.Targets)+len(plan.SkippedOverCap))
	for _, t := range plan.Targets {
		selected[t.URL] = true
	}
	for _, s := range plan.SkippedOverCap {
		selected[s.URL] = true
	}
	for _, k := range plan.Known {
		ws.Touch(k.URL)
		if !selected[k.URL] {
			summary.KnownKept++
		}
	}
	summary.New = len(plan.New)
	summary.SkippedOverCap = len(plan.SkippedOverCap)
	log.Info("selected targets",
		logger.String("strategy", strategy),
		logger.Int("discovered", len(discovered)),
		logger.Int("new", len(plan.New)),
		logger.Int("known", len(plan.Known)),
		logger.Int("targets", len(plan.Targets)),
		logger.Int("skipped_over_cap", len(plan.SkippedOverCap)),
	)

	o.transition(StateFetching)
	for _, target := range plan.Targets {
		if err := ctx.Err(); err != nil {
			return nil, o.fail(fmt.Errorf("run cancelled: %w", err))
		}
		if err := o.c.Limiter.Wait(ctx); err != nil {
			return nil, o.fail(fmt.Errorf("run cancelled: %w", err))
		}

		summary.Attempted++
		result, err := o.c.Extractor.Extract(ctx, target.URL)
		if err != nil {
			summary.Failed++
			summary.FailedURLs = append(summary.FailedURLs, target.URL)
			log.Warn("item failed", logger.String("url", target.URL), logger.Error(err))
		} else {
			o.transition(StateClassifying)
			ws.Upsert(o.c.Classifier.Classify(result, target))
			summary.Fetched++
			o.transition(StateFetching)
		}

		if o.opts.CheckpointEvery > 0 && summary.Attempted%o.opts.CheckpointEvery == 0 {
			o.transition(StateCheckpointing)
			if err := o.save(ws); err != nil {
				return nil, o.fail(err)
			}
			log.Info("checkpoint saved", logger.Int("attempted", summary.Attempted), logger.Int("records", ws.Len()))
			o.transition(StateFetching)
		}
	}

	o.transition(StateFinalizing)
	if err := o.save(ws); err != nil {
		return nil, o.fail(err)
	}
	summary.TotalContent = ws.Len()
	if summary.Attempted > 0 {
		summary.FailureRate = float64(summary.Failed) / float64(summary.Attempted)
	}
	summary.FinishedAt = o.c.Now().UTC()

	if exceedsThreshold(summary.Failed, summary.Attempted, o.opts.FailureThresholdPercent) {
		o.transition(StateFailed)
		log.Error("failure rate exceeded",
			logger.Float64("failure_rate", summary.FailureRate),
			logger.Int("threshold_percent", o.opts.FailureThresholdPercent),
			logger.Strings("failed_urls", summary.FailedURLs),
		)
		return summary, fmt.Errorf("%w: %d of %d items failed (limit %d%%)",
			ErrFailureRateExceeded, summary.Failed, summary.Attempted, o.opts.FailureThresholdPercent)
	}

	o.transition(StateDone)
	log.Info("run complete",
		logger.Int("fetched", summary.Fetched),
		logger.Int("failed", summary.Failed),
		logger.Int("total_content", summary.TotalContent),
		logger.Duration("duration", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	return summary, nil
}

// save writes a full snapshot, summary included, so every checkpoint is a
// valid corpus on its own.
func (o *Orchestrator) save(ws *merge.WorkingSet) error {
	corpus := ws.Corpus()
	corpus.Summary = o.c.Analyzer.Analyze(corpus.Content)
	if err := o.c.Store.Save(corpus); err != nil {
		return fmt.Errorf("save corpus: %w", err)
	}
	return nil
}

// exceedsThreshold compares in integers so exactly the threshold passes
func exceedsThreshold(failed, attempted, percent int) bool {
	return failed*100 > attempted*percent
}
