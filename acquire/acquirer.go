// Package acquire drives a browser session to a source page, presenting a
// randomized fingerprint, falling back through navigation strategies and
// waiting out bot-challenge interstitials.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/pevans/sitefeed/logging"
	"github.com/pevans/sitefeed/metrics"
	"github.com/pevans/sitefeed/retry"
)

// DefaultMaxSessions caps concurrently open browser sessions.
const DefaultMaxSessions = 2

// Options configures an Acquirer.
type Options struct {
	Strategies  []Strategy
	Timeouts    Timeouts
	MaxSessions int64
	// Rand seeds fingerprint generation. Nil uses a random source.
	Rand    *rand.Rand
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Acquirer hands out rendered pages. It is safe for concurrent use; each
// returned Page owns its session exclusively.
type Acquirer struct {
	launcher   Launcher
	strategies []Strategy
	timeouts   Timeouts
	slots      *semaphore.Weighted
	logger     *zap.Logger
	metrics    *metrics.Metrics

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates an Acquirer over launcher.
func New(launcher Launcher, opts Options) *Acquirer {
	timeouts := opts.Timeouts.withDefaults()
	strategies := opts.Strategies
	if len(strategies) == 0 {
		strategies = DefaultStrategies(timeouts)
	}
	maxSessions := opts.MaxSessions
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	logger := logging.OrNop(opts.Logger)

	return &Acquirer{
		launcher:   launcher,
		strategies: strategies,
		timeouts:   timeouts,
		slots:      semaphore.NewWeighted(maxSessions),
		logger:     logger,
		metrics:    opts.Metrics,
		rng:        rng,
	}
}

// Page is a rendered document backed by a live session. Callers must Close
// it on every path.
type Page struct {
	RequestURL string
	FinalURL   string
	Status     int
	Strategy   string
	Title      string
	// Challenge is the signal that cleared a challenge page, if one was
	// shown.
	Challenge Signal

	session Session
	release func()
	once    sync.Once
	err     error
}

// HTML returns the current serialized DOM, re-read from the session so
// deferred rendering is visible on repeated calls.
func (p *Page) HTML(ctx context.Context) (string, error) {
	return p.session.Content(ctx)
}

// BaseURL is the URL relative links resolve against.
func (p *Page) BaseURL() string {
	if p.FinalURL != "" {
		return p.FinalURL
	}
	return p.RequestURL
}

// Close releases the session and its slot. It is idempotent.
func (p *Page) Close() error {
	p.once.Do(func() {
		p.err = p.session.Close()
		p.release()
	})
	return p.err
}

// Acquire renders url. When waitHint is set the acquirer waits for that
// selector but proceeds without it on timeout. A failed attempt is retried
// once with a fresh session; the returned error is always an *Error.
func (a *Acquirer) Acquire(ctx context.Context, url, waitHint string) (*Page, error) {
	var page *Page

	policy := retry.Once(0)
	policy.IsRetryable = func(err error) bool {
		return KindOf(err) != 0 && ctx.Err() == nil
	}
	policy.OnRetry = func(attempt int, err error) {
		a.logger.Info("Retrying acquisition with a fresh session",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		p, err := a.attempt(ctx, url, waitHint)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err == nil {
		return page, nil
	}

	var aerr *Error
	if errors.As(err, &aerr) {
		return nil, aerr
	}
	return nil, newError(KindNavigationFailed, url, err)
}

func (a *Acquirer) attempt(ctx context.Context, url, waitHint string) (*Page, error) {
	slotCtx, cancel := context.WithTimeout(ctx, a.timeouts.SlotWait)
	err := a.slots.Acquire(slotCtx, 1)
	cancel()
	if err != nil {
		return nil, newError(KindInitFailed, url, fmt.Errorf("no browser session slot: %w", err))
	}
	release := func() {
		a.slots.Release(1)
		a.metrics.SessionClosed()
	}
	a.metrics.SessionOpened()

	session, err := a.launcher.Launch(ctx, a.fingerprint())
	if err != nil {
		release()
		return nil, newError(KindInitFailed, url, err)
	}

	page := &Page{RequestURL: url, session: session, release: release}
	ok := false
	defer func() {
		if !ok {
			if cerr := page.Close(); cerr != nil {
				a.logger.Warn("Failed to close browser session", zap.String("url", url), zap.Error(cerr))
			}
		}
	}()

	if err := a.navigate(ctx, page); err != nil {
		return nil, err
	}

	html, err := session.Content(ctx)
	if err != nil {
		return nil, newError(KindNavigationFailed, url, fmt.Errorf("failed to read content: %w", err))
	}
	title, _ := session.Title(ctx)
	if IsChallengePage(title, html) {
		a.logger.Info("Challenge page detected", zap.String("url", url), zap.String("title", title))
		sig, err := a.resolveChallenge(ctx, session)
		if err != nil {
			return nil, newError(KindChallengeUnresolved, url, err)
		}
		page.Challenge = sig
	}

	if waitHint != "" {
		if err := session.WaitForSelector(ctx, waitHint, a.timeouts.SelectorWait); err != nil {
			a.logger.Debug("Wait hint not satisfied, continuing with present content",
				zap.String("url", url),
				zap.String("selector", waitHint),
				zap.Error(err))
		}
	}

	page.Title, _ = session.Title(ctx)
	page.FinalURL = session.URL()
	ok = true
	return page, nil
}

// navigate tries each strategy in order until one returns a 2xx status.
func (a *Acquirer) navigate(ctx context.Context, page *Page) error {
	var errs []error
	for _, strategy := range a.strategies {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		status, err := page.session.Navigate(ctx, page.RequestURL, strategy.options())
		success := err == nil && status >= 200 && status < 300
		a.metrics.ObserveNavigation(strategy.Name, success)
		if success {
			page.Status = status
			page.Strategy = strategy.Name
			return nil
		}
		if err == nil {
			err = fmt.Errorf("status %d", status)
		}
		a.logger.Debug("Navigation strategy failed",
			zap.String("url", page.RequestURL),
			zap.String("strategy", strategy.Name),
			zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", strategy.Name, err))
	}
	return newError(KindNavigationFailed, page.RequestURL, errors.Join(errs...))
}

// resolveChallenge races the completion signals until the page no longer
// looks like a challenge or the challenge budget runs out.
func (a *Acquirer) resolveChallenge(ctx context.Context, s Session) (Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeouts.ChallengeWait)
	defer cancel()

	start := time.Now()
	for {
		sig, err := raceSignals(ctx, s, a.timeouts.ChallengePoll)
		if err != nil {
			return "", fmt.Errorf("no completion signal within %s: %w", a.timeouts.ChallengeWait, err)
		}
		title, _ := s.Title(ctx)
		html, err := s.Content(ctx)
		if err == nil && !IsChallengePage(title, html) {
			a.logger.Info("Challenge cleared",
				zap.String("signal", string(sig)),
				zap.Duration("elapsed", time.Since(start)))
			return sig, nil
		}
	}
}

func (a *Acquirer) fingerprint() Fingerprint {
	a.rngMu.Lock()
	defer a.rngMu.Unlock()
	return NewFingerprint(a.rng)
}
