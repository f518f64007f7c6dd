package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pevans/sitefeed/logging"
	"github.com/pevans/sitefeed/metrics"
	"github.com/pevans/sitefeed/newsfeed"
	"github.com/pevans/sitefeed/normalize"
	"github.com/pevans/sitefeed/scraper"
	"github.com/pevans/sitefeed/sources"
)

// run tracks one execution for one source.
type run struct {
	p      *Pipeline
	cfg    scraper.SourceConfig
	id     uuid.UUID
	logger *zap.Logger
	state  State
}

func (r *run) enter(next State) {
	r.logger.Debug("Pipeline state change",
		zap.String("from", string(r.state)),
		zap.String(logging.FieldState, string(next)))
	if r.p.onTransition != nil {
		r.p.onTransition(r.cfg.ID, r.state, next)
	}
	r.state = next
}

// execute walks the state machine and always produces a non-empty result.
func (p *Pipeline) execute(ctx context.Context, cfg scraper.SourceConfig) newsfeed.Result {
	started := time.Now()
	r := &run{
		p:     p,
		cfg:   cfg,
		id:    uuid.New(),
		state: StateCacheCheck,
	}
	r.logger = logging.ForRun(p.logger, cfg.ID, r.id.String())

	result, hit := r.cached()
	if !hit {
		items, err := r.recovered(ctx)
		if err != nil {
			r.enter(StateFallback)
			result = r.fallback(err)
		} else {
			result = r.result(items, newsfeed.OutcomeFresh, nil)
		}
		p.cache.Set(cfg.ID, result)
	}
	r.enter(StateDone)

	r.record(result)
	p.metrics.ObserveRun(cfg.ID, string(result.Outcome), time.Since(started), len(result.Items))
	r.logger.Info("Pipeline run finished",
		zap.String("outcome", string(result.Outcome)),
		zap.Int("items", len(result.Items)),
		zap.Duration("duration", time.Since(started)))
	return result
}

// cached serves an unexpired cache entry.
func (r *run) cached() (newsfeed.Result, bool) {
	entry, ok := r.p.cache.Get(r.cfg.ID)
	if !ok {
		r.p.metrics.ObserveCache(metrics.CacheMiss)
		return newsfeed.Result{}, false
	}
	r.p.metrics.ObserveCache(metrics.CacheHit)

	result := entry.Result
	result.Outcome = newsfeed.OutcomeCached
	result.Err = nil
	return result, true
}

// recovered runs fresh and turns a panic into ErrRunPanicked so it falls
// back like any other failure.
func (r *run) recovered(ctx context.Context) (items []newsfeed.NewsItem, err error) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("Pipeline run panicked",
				zap.String(logging.FieldState, string(r.state)),
				zap.Any("panic", v),
				zap.Stack("stack"))
			items, err = nil, fmt.Errorf("%w in %s: %v", ErrRunPanicked, r.state, v)
		}
	}()
	return r.fresh(ctx)
}

// fresh acquires, locates, extracts and normalizes. Any error it returns is
// fatal to the run.
func (r *run) fresh(ctx context.Context) ([]newsfeed.NewsItem, error) {
	r.enter(StateAcquiring)
	doc, err := r.p.acquirer.Acquire(ctx, r.cfg.URL, r.cfg.WaitFor)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire page: %w", err)
	}
	defer func() {
		if err := doc.Close(); err != nil {
			r.logger.Warn("Failed to close page", zap.Error(err))
		}
	}()

	r.enter(StateLocating)
	match, err := r.p.locator.Locate(ctx, doc, r.cfg.Strategy)
	if err != nil {
		return nil, fmt.Errorf("failed to locate content: %w", err)
	}

	r.enter(StateExtracting)
	items, stats := r.p.extractors[r.cfg.ID].ExtractAll(match.Elements, match.BaseURL)
	r.logger.Debug("Extracted items",
		zap.String("selector", match.Selector),
		zap.Float64("confidence", match.Confidence),
		zap.Int("elements", stats.Elements),
		zap.Int("items", stats.Items),
		zap.Int("dropped", stats.Dropped))

	r.enter(StateNormalizing)
	items, report, err := normalize.Normalize(items, normalize.Options{
		MaxItems:  r.cfg.MaxItems,
		KeepQuery: r.cfg.KeepQuery,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to normalize items: %w", err)
	}
	r.logger.Debug("Normalized items",
		zap.Int("input", report.Input),
		zap.Int("invalid", report.Invalid),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("truncated", report.Truncated))

	return items, nil
}

// fallback serves the last cached result regardless of expiry, or a single
// placeholder item when nothing was ever cached.
func (r *run) fallback(cause error) newsfeed.Result {
	if entry, ok := r.p.cache.GetStale(r.cfg.ID); ok && len(entry.Result.Items) > 0 {
		r.p.metrics.ObserveCache(metrics.CacheStale)
		r.logger.Warn("Run failed, serving stale result",
			zap.Error(cause),
			zap.Time("stored_at", entry.StoredAt))
		return r.result(entry.Result.Items, newsfeed.OutcomeStale, cause)
	}

	r.logger.Warn("Run failed with nothing cached, serving placeholder", zap.Error(cause))
	return r.result([]newsfeed.NewsItem{Placeholder(r.cfg, r.p.now())}, newsfeed.OutcomePlaceholder, cause)
}

func (r *run) result(items []newsfeed.NewsItem, outcome newsfeed.Outcome, cause error) newsfeed.Result {
	return newsfeed.Result{
		SourceID:    r.cfg.ID,
		Channel:     r.p.channel(r.cfg),
		Items:       items,
		Outcome:     outcome,
		GeneratedAt: r.p.now(),
		Err:         cause,
	}
}

func (r *run) record(result newsfeed.Result) {
	if r.p.status == nil {
		return
	}
	err := r.p.status.RecordRun(sources.RunRecord{
		SourceID:  r.cfg.ID,
		RunID:     r.id,
		At:        r.p.now(),
		Outcome:   result.Outcome,
		ItemCount: len(result.Items),
		Err:       result.Err,
	})
	if err != nil {
		r.logger.Warn("Failed to record run status", zap.Error(err))
	}
}

// Placeholder is the informational item served when a source cannot be
// read and nothing is cached. It points readers at the source itself.
func Placeholder(cfg scraper.SourceConfig, now time.Time) newsfeed.NewsItem {
	link, err := normalize.CanonicalLink(cfg.URL, cfg.KeepQuery)
	if err != nil {
		link = cfg.URL
	}
	name := cfg.Name
	if name == "" {
		name = cfg.ID
	}
	category := cfg.DefaultCategory
	if category == "" {
		category = scraper.DefaultCategory
	}

	return newsfeed.NewsItem{
		Title: name + " is temporarily unavailable",
		Link:  link,
		Description: fmt.Sprintf(
			"The latest updates from %s could not be retrieved right now. Visit %s directly for current news.",
			name, link),
		PublicationDate: now.UTC(),
		Category:        category,
		GUID:            link + "#status",
	}
}
