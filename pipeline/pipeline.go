package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pevans/sitefeed/cache"
	"github.com/pevans/sitefeed/extract"
	"github.com/pevans/sitefeed/locate"
	"github.com/pevans/sitefeed/logging"
	"github.com/pevans/sitefeed/metrics"
	"github.com/pevans/sitefeed/newsfeed"
	"github.com/pevans/sitefeed/normalize"
	"github.com/pevans/sitefeed/scraper"
)

// State is a step of a pipeline run.
type State string

const (
	StateCacheCheck  State = "cache_check"
	StateAcquiring   State = "acquiring"
	StateLocating    State = "locating"
	StateExtracting  State = "extracting"
	StateNormalizing State = "normalizing"
	StateFallback    State = "fallback"
	StateDone        State = "done"
)

// Options configures a Pipeline. Acquirer is required.
type Options struct {
	Cache    cache.Cache
	Acquirer Acquirer
	Locator  *locate.Locator
	Status   StatusRecorder
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	// Now replaces time.Now for item dates, placeholders and status rows.
	Now func() time.Time
	// RunBudget bounds the network part of one run. Zero means no bound
	// beyond the acquirer's own timeouts.
	RunBudget time.Duration
	// SelfURL is the public base URL of the feed service, used for the
	// channel's self link.
	SelfURL string
	// OnTransition, when set, is called for every state change.
	OnTransition func(sourceID string, from, to State)
}

// Pipeline turns configured sources into feed results. It is safe for
// concurrent use; concurrent runs for the same source share one execution.
type Pipeline struct {
	catalog      *scraper.Catalog
	extractors   map[string]*extract.Extractor
	cache        cache.Cache
	acquirer     Acquirer
	locator      *locate.Locator
	status       StatusRecorder
	metrics      *metrics.Metrics
	logger       *zap.Logger
	now          func() time.Time
	budget       time.Duration
	selfURL      string
	onTransition func(string, State, State)

	group singleflight.Group
}

// New creates a pipeline for every source in catalog.
func New(catalog *scraper.Catalog, opts Options) (*Pipeline, error) {
	if catalog == nil {
		return nil, errors.New("pipeline needs a source catalog")
	}
	if opts.Acquirer == nil {
		return nil, errors.New("pipeline needs an acquirer")
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := logging.OrNop(opts.Logger)
	store := opts.Cache
	if store == nil {
		store = cache.NewMemory(cache.DefaultTTL, cache.WithClock(now))
	}
	locator := opts.Locator
	if locator == nil {
		locator = locate.New(0, logger)
	}

	p := &Pipeline{
		catalog:      catalog,
		extractors:   make(map[string]*extract.Extractor, catalog.Len()),
		cache:        store,
		acquirer:     opts.Acquirer,
		locator:      locator,
		status:       opts.Status,
		metrics:      opts.Metrics,
		logger:       logger,
		now:          now,
		budget:       opts.RunBudget,
		selfURL:      strings.TrimRight(opts.SelfURL, "/"),
		onTransition: opts.OnTransition,
	}

	for _, cfg := range catalog.List() {
		extractor, err := extract.New(cfg, extract.WithClock(now))
		if err != nil {
			return nil, fmt.Errorf("failed to build extractor: %w", err)
		}
		p.extractors[cfg.ID] = extractor
	}

	return p, nil
}

// ErrRunPanicked is the fallback cause when a run panics.
var ErrRunPanicked = errors.New("pipeline run panicked")

// Run produces the feed result for sourceID. The only error returned is
// scraper.ErrUnknownSource; every pipeline failure is turned into a stale
// or placeholder result instead.
//
// The run itself is detached from ctx cancellation so a caller giving up
// does not abort a run other callers are waiting on.
func (p *Pipeline) Run(ctx context.Context, sourceID string) (newsfeed.Result, error) {
	cfg, err := p.catalog.Get(sourceID)
	if err != nil {
		return newsfeed.Result{}, err
	}

	v, _, shared := p.group.Do(cfg.ID, func() (any, error) {
		runCtx := context.WithoutCancel(ctx)
		if p.budget > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, p.budget)
			defer cancel()
		}
		return p.execute(runCtx, cfg), nil
	})
	if shared {
		p.logger.Debug("Shared in-flight run", zap.String("source", cfg.ID))
	}

	result := v.(newsfeed.Result)
	result.Items = newsfeed.Clone(result.Items)
	return result, nil
}

// Sources returns the configured sources ordered by id.
func (p *Pipeline) Sources() []scraper.SourceConfig {
	return p.catalog.List()
}

// Source returns the configuration for one source.
func (p *Pipeline) Source(id string) (scraper.SourceConfig, error) {
	return p.catalog.Get(id)
}

// TTL is the freshness window applied to results.
func (p *Pipeline) TTL() time.Duration {
	return p.cache.TTL()
}

// channel builds the feed metadata for cfg.
func (p *Pipeline) channel(cfg scraper.SourceConfig) newsfeed.Channel {
	link, err := normalize.CanonicalLink(cfg.URL, cfg.KeepQuery)
	if err != nil {
		link = cfg.URL
	}

	ch := newsfeed.Channel{
		Title:       cfg.Name,
		Description: cfg.Description,
		Link:        link,
		Language:    cfg.Language,
		TTL:         p.cache.TTL(),
	}
	if p.selfURL != "" {
		ch.SelfURL = p.selfURL + "/feeds/" + url.PathEscape(cfg.ID)
	}
	return ch
}
