// Package locate finds the repeated item elements on a rendered page by
// trying an ordered cascade of candidate selectors.
package locate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/pevans/sitefeed/logging"
	"github.com/pevans/sitefeed/retry"
	"github.com/pevans/sitefeed/scraper"
)

// DefaultRescanDelay is the wait before the single deferred re-scan.
const DefaultRescanDelay = 2 * time.Second

// ErrNoContentFound means no candidate selector met its threshold, even
// after the re-scan.
var ErrNoContentFound = errors.New("no content found")

// Document is rendered markup that can be re-read after deferred rendering.
type Document interface {
	HTML(ctx context.Context) (string, error)
	BaseURL() string
}

// StaticDocument is a Document over fixed markup.
type StaticDocument struct {
	Markup string
	URL    string
}

func (d StaticDocument) HTML(context.Context) (string, error) { return d.Markup, nil }
func (d StaticDocument) BaseURL() string                      { return d.URL }

// Match is the winning candidate and the elements it selected.
type Match struct {
	Selector string
	Index    int
	Count    int
	// Confidence is 1 for the first candidate and falls linearly with
	// position; it is halved when the match needed the re-scan.
	Confidence float64
	Rescanned  bool
	Elements   *goquery.Selection
	BaseURL    string
}

// Locator runs selector cascades.
type Locator struct {
	rescanDelay time.Duration
	logger      *zap.Logger
}

// New creates a Locator. A negative rescanDelay disables the wait but keeps
// the re-scan.
func New(rescanDelay time.Duration, logger *zap.Logger) *Locator {
	if rescanDelay == 0 {
		rescanDelay = DefaultRescanDelay
	}
	if rescanDelay < 0 {
		rescanDelay = 0
	}
	logger = logging.OrNop(logger)
	return &Locator{rescanDelay: rescanDelay, logger: logger}
}

// Locate returns the first candidate whose match count exceeds its
// threshold. When the first pass finds nothing it waits once and re-reads
// the document before giving up with ErrNoContentFound.
func (l *Locator) Locate(ctx context.Context, doc Document, strategy scraper.ExtractionStrategy) (*Match, error) {
	if len(strategy) == 0 {
		return nil, fmt.Errorf("%w: no candidate selectors", ErrNoContentFound)
	}

	policy := retry.Once(l.rescanDelay)
	policy.IsRetryable = func(err error) bool {
		return errors.Is(err, ErrNoContentFound)
	}
	policy.OnRetry = func(int, error) {
		l.logger.Debug("No candidate matched, re-scanning after delay",
			zap.Duration("delay", l.rescanDelay),
			zap.Int("candidates", len(strategy)))
	}

	var (
		match   *Match
		lastErr error
	)
	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		m, err := scan(ctx, doc, strategy)
		if err != nil {
			lastErr = err
			return err
		}
		if attempt > 1 {
			m.Rescanned = true
			m.Confidence /= 2
		}
		match = m
		return nil
	})
	if err != nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, fmt.Errorf("%w: %v", ErrNoContentFound, err)
	}

	l.logger.Debug("Located content",
		zap.String("selector", match.Selector),
		zap.Int("count", match.Count),
		zap.Float64("confidence", match.Confidence))
	return match, nil
}

// scan makes one pass over the candidates against a fresh read of doc.
func scan(ctx context.Context, doc Document, strategy scraper.ExtractionStrategy) (*Match, error) {
	html, err := doc.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	n := len(strategy)
	for i, cand := range strategy {
		sel := parsed.Find(cand.Selector)
		if count := sel.Length(); count > cand.Threshold {
			return &Match{
				Selector:   cand.Selector,
				Index:      i,
				Count:      count,
				Confidence: float64(n-i) / float64(n),
				Elements:   sel,
				BaseURL:    doc.BaseURL(),
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: none of %d candidates met its threshold", ErrNoContentFound, n)
}
