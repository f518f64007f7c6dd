package pipeline

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/sitefeed/acquire"
	"github.com/pevans/sitefeed/cache"
	"github.com/pevans/sitefeed/locate"
	"github.com/pevans/sitefeed/newsfeed"
	"github.com/pevans/sitefeed/rss"
	"github.com/pevans/sitefeed/scraper"
	"github.com/pevans/sitefeed/sources"
)

var testNow = time.Date(2026, time.October, 14, 12, 0, 0, 0, time.UTC)

const cardsPage = `<html><body>
<header><a href="/">Home</a><a href="/en">EN</a></header>
<section class="news">
  <article class="card">
    <a href="/news/budget-approved"><h3>Budget approved for 2026</h3></a>
    <span class="date">02/05/2025</span>
    <p>The assembly approved the national budget after a long session.</p>
  </article>
  <article class="card">
    <a href="/news/port-reopens"><h3>Port reopens after repairs</h3></a>
    <span class="date">30/06/2025</span>
    <p>The northern port reopened on Monday after three weeks of repairs.</p>
  </article>
  <article class="card">
    <a href="/news/vaccination-drive"><h3>Vaccination drive extended</h3></a>
    <span class="date">15/01/2025</span>
    <p>Clinics will stay open on weekends until the end of the month.</p>
  </article>
</section>
</body></html>`

// fakeDocument serves fixed markup and counts closes.
type fakeDocument struct {
	locate.StaticDocument
	closed *atomic.Int32
}

func (d fakeDocument) Close() error {
	d.closed.Add(1)
	return nil
}

// fakeAcquirer hands out fakeDocuments or a fixed error.
type fakeAcquirer struct {
	mu     sync.Mutex
	markup string
	err    error
	delay  time.Duration
	calls  atomic.Int32
	closed atomic.Int32
	urls   []string
}

func (f *fakeAcquirer) Acquire(ctx context.Context, pageURL, _ string) (Document, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.urls = append(f.urls, pageURL)
	markup, err := f.markup, f.err
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err != nil {
		return nil, err
	}
	return fakeDocument{
		StaticDocument: locate.StaticDocument{Markup: markup, URL: pageURL},
		closed:         &f.closed,
	}, nil
}

func (f *fakeAcquirer) set(markup string, err error) {
	f.mu.Lock()
	f.markup, f.err = markup, err
	f.mu.Unlock()
}

// statusLog records RunRecords in memory.
type statusLog struct {
	mu      sync.Mutex
	records []sources.RunRecord
}

func (s *statusLog) RecordRun(rec sources.RunRecord) error {
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return nil
}

func (s *statusLog) all() []sources.RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sources.RunRecord(nil), s.records...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testCatalog(t *testing.T) *scraper.Catalog {
	t.Helper()
	catalog, err := scraper.NewCatalog([]scraper.SourceConfig{
		{
			ID:       "ministry",
			Name:     "Ministry of Health",
			URL:      "https://ministry.example.org/news/",
			Strategy: scraper.ExtractionStrategy{{Selector: ".featured"}, {Selector: "article.card"}},
		},
	})
	require.NoError(t, err)
	return catalog
}

type harness struct {
	pipeline *Pipeline
	acquirer *fakeAcquirer
	cache    *cache.Memory
	clock    *clock
	status   *statusLog
}

func newHarness(t *testing.T, markup string, acquireErr error) *harness {
	t.Helper()
	h := &harness{
		acquirer: &fakeAcquirer{markup: markup, err: acquireErr},
		clock:    &clock{now: testNow},
		status:   &statusLog{},
	}
	h.cache = cache.NewMemory(30*time.Minute, cache.WithClock(h.clock.Now))

	p, err := New(testCatalog(t), Options{
		Cache:    h.cache,
		Acquirer: h.acquirer,
		Locator:  locate.New(-1, nil),
		Status:   h.status,
		Now:      h.clock.Now,
		SelfURL:  "https://feeds.example.net/",
	})
	require.NoError(t, err)
	h.pipeline = p
	return h
}

func assertInvariants(t *testing.T, items []newsfeed.NewsItem) {
	t.Helper()
	require.NotEmpty(t, items)
	require.NoError(t, newsfeed.Validate(items))
}

func TestRun_FreshCards(t *testing.T) {
	h := newHarness(t, cardsPage, nil)

	result, err := h.pipeline.Run(context.Background(), "ministry")
	require.NoError(t, err)

	assert.Equal(t, newsfeed.OutcomeFresh, result.Outcome)
	assert.NoError(t, result.Err)
	require.Len(t, result.Items, 3)
	assertInvariants(t, result.Items)

	assert.Equal(t, "Port reopens after repairs", result.Items[0].Title)
	assert.Equal(t, "Budget approved for 2026", result.Items[1].Title)
	assert.Equal(t, "Vaccination drive extended", result.Items[2].Title)
	assert.Equal(t, time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC), result.Items[0].PublicationDate)
	assert.Equal(t, "https://ministry.example.org/news/port-reopens", result.Items[0].Link)
	for _, item := range result.Items {
		assert.NotEmpty(t, item.Description)
		assert.Equal(t, item.Link, item.GUID)
	}

	assert.Equal(t, "Ministry of Health", result.Channel.Title)
	assert.Equal(t, "https://ministry.example.org/news", result.Channel.Link)
	assert.Equal(t, "https://feeds.example.net/feeds/ministry", result.Channel.SelfURL)
	assert.Equal(t, 30*time.Minute, result.Channel.TTL)
	assert.Equal(t, testNow, result.GeneratedAt)

	assert.EqualValues(t, 1, h.acquirer.closed.Load(), "page should be closed")
}

func TestRun_SerializesToValidFeed(t *testing.T) {
	h := newHarness(t, cardsPage, nil)

	result, err := h.pipeline.Run(context.Background(), "ministry")
	require.NoError(t, err)

	data, err := rss.Marshal(result)
	require.NoError(t, err)
	feed, err := rss.Validate(data)
	require.NoError(t, err)
	assert.Len(t, feed.Items, 3)
}

func TestRun_Idempotent(t *testing.T) {
	h := newHarness(t, cardsPage, nil)

	first, err := h.pipeline.Run(context.Background(), "ministry")
	require.NoError(t, err)

	h.clock.Advance(10 * time.Minute)
	h.acquirer.set(strings.Replace(cardsPage, "Port reopens", "Changed", 1), nil)

	second, err := h.pipeline.Run(context.Background(), "ministry")
	require.NoError(t, err)

	assert.Equal(t, newsfeed.OutcomeCached, second.Outcome)
	assert.Equal(t, first.Items, second.Items)
	assert.EqualValues(t, 1, h.acquirer.calls.Load(), "second run should not acquire")
}

func TestRun_RefreshesAfterTTL(t *testing.T) {
	h := newHarness(t, cardsPage, nil)

	_, err := h.pipeline.Run(context.Background(), "ministry")
	require.NoError(t, err)

	h.clock.Advance(31 * time.Minute)
	result, err := h.pipeline.Run(context.Background(), "ministry")
	require.NoError(t, err)

	assert.Equal(t, newsfeed.OutcomeFresh, result.Outcome)
	assert.EqualValues(t, 2, h.acquirer.calls.Load())
}

func TestRun_CallerCannotMutateCache(t *testing.T) {
	h := newHarness(t, cardsPage, nil)

	first, err := h.pipeline.Run(context.Background(), "ministry")
	require.NoError(t, err)
	first.Items[0].Title = "mutated"

	second, err := h.pipeline.Run(context.Background(), "ministry")
	require.NoError(t, err)
	assert.Equal(t, "Port reopens after repairs", second.Items[0].Title)
}

func TestRun_PlaceholderOnFailure(t *testing.T) {
	tests := []struct {
		name   string
		markup string
		err    error
		is     error
	}{
		{
			name: "navigation failure",
			err:  &acquire.Error{Kind: acquire.KindNavigationFailed, URL: "https://ministry.example.org/news/", Err: errors.New("timeout")},
			is:   acquire.ErrNavigationFailed,
		},
		{
			name:   "no selector matches",
			markup: `<html><body><div class="other">Nothing here</div></body></html>`,
			is:     locate.ErrNoContentFound,
		},
		{
			name:   "all items missing titles and links",
			markup: `<html><body><article class="card"><span>30/06/2025</span></article><article class="card"></article></body></html>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.markup, tt.err)

			result, err := h.pipeline.Run(context.Background(), "ministry")
			require.NoError(t, err)

			assert.Equal(t, newsfeed.OutcomePlaceholder, result.Outcome)
			require.Error(t, result.Err)
			if tt.is != nil {
				assert.ErrorIs(t, result.Err, tt.is)
			}
			require.Len(t, result.Items, 1)
			assertInvariants(t, result.Items)

			item := result.Items[0]
			assert.Equal(t, "https://ministry.example.org/news", item.Link)
			assert.Contains(t, item.Title, "Ministry of Health")
			assert.Contains(t, item.Description, "https://ministry.example.org/news")
			assert.Equal(t, "https://ministry.example.org/news#status", item.GUID)
			assert.Equal(t, testNow, item.PublicationDate)
		})
	}
}

func TestRun_PlaceholderIsWrittenThrough(t *testing.T) {
	h := newHarness(t, "", errors.New("browser gone"))

	_, err := h.pipeline.Run(context.Background(), "ministry")
	require.NoError(t, err)

	entry, ok := h.cache.Get("ministry")
	require.True(t, ok, "placeholder should be cached")
	assert.Equal(t, newsfeed.OutcomePlaceholder, entry.Result.Outcome)

	result, err := h.pipeline.Run(context.Background(), "ministry")
	require.NoError(t, err)
	assert.Equal(t, newsfeed.OutcomeCached, result.Outcome)
	assert.EqualValues(t, 1, h.acquirer.calls.Load(), "failing source should not be retried within the TTL")
}

func TestRun_StaleFallback(t *testing.T) {
	h := newHarness(t, cardsPage, nil)

	fresh, err := h.pipeline.Run(context.Background(), "ministry")
	require.NoError(t, err)

	h.clock.Advance(45 * time.Minute)
	h.acquirer.set("", &acquire.Error{Kind: acquire.KindChallengeUnresolved, Err: errors.New("still blocked")})

	stale, err := h.pipeline.Run(context.Background(), "ministry")
	require.NoError(t, err)

	assert.Equal(t, newsfeed.OutcomeStale, stale.Outcome)
	assert.ErrorIs(t, stale.Err, acquire.ErrChallengeUnresolved)
	assert.Equal(t, fresh.Items, stale.Items)

	entry, ok := h.cache.Get("ministry")
	require.True(t, ok, "stale result should be written through")
	assert.Equal(t, fresh.Items, entry.Result.Items)
}

func TestRun_UnknownSource(t *testing.T) {
	h := newHarness(t, cardsPage, nil)

	_, err := h.pipeline.Run(context.Background(), "nope")
	assert.ErrorIs(t, err, scraper.ErrUnknownSource)
	assert.Zero(t, h.acquirer.calls.Load())
}

func TestRun_RecordsStatus(t *testing.T) {
	h := newHarness(t, cardsPage, nil)

	_, err := h.pipeline.Run(context.Background(), "ministry")
	require.NoError(t, err)
	_, err = h.pipeline.Run(context.Background(), "ministry")
	require.NoError(t, err)

	records := h.status.all()
	require.Len(t, records, 2)
	assert.Equal(t, newsfeed.OutcomeFresh, records[0].Outcome)
	assert.Equal(t, 3, records[0].ItemCount)
	assert.Equal(t, newsfeed.OutcomeCached, records[1].Outcome)
	assert.NotEqual(t, records[0].RunID, records[1].RunID)
}

func TestRun_StateTransitions(t *testing.T) {
	tests := []struct {
		name   string
		markup string
		err    error
		want   []State
	}{
		{
			name:   "fresh",
			markup: cardsPage,
			want:   []State{StateAcquiring, StateLocating, StateExtracting, StateNormalizing, StateDone},
		},
		{
			name: "acquire failure",
			err:  errors.New("boom"),
			want: []State{StateAcquiring, StateFallback, StateDone},
		},
		{
			name:   "locate failure",
			markup: "<html></html>",
			want:   []State{StateAcquiring, StateLocating, StateFallback, StateDone},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []State
			p, err := New(testCatalog(t), Options{
				Acquirer: &fakeAcquirer{markup: tt.markup, err: tt.err},
				Locator:  locate.New(-1, nil),
				Now:      func() time.Time { return testNow },
				OnTransition: func(_ string, _, to State) {
					got = append(got, to)
				},
			})
			require.NoError(t, err)

			_, err = p.Run(context.Background(), "ministry")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRun_ConcurrentCallsShareOneRun(t *testing.T) {
	h := newHarness(t, cardsPage, nil)
	h.acquirer.delay = 50 * time.Millisecond

	const callers = 8
	var wg sync.WaitGroup
	results := make([]newsfeed.Result, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := h.pipeline.Run(context.Background(), "ministry")
			assert.NoError(t, err)
			results[i] = result
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, h.acquirer.calls.Load(), int32(2))
	for _, result := range results {
		assert.Equal(t, results[0].Items, result.Items)
	}
}

func TestRun_CancelledCallerStillCompletes(t *testing.T) {
	h := newHarness(t, cardsPage, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := h.pipeline.Run(ctx, "ministry")
	require.NoError(t, err)
	assert.Equal(t, newsfeed.OutcomeFresh, result.Outcome)
}

func TestRun_BudgetExceeded(t *testing.T) {
	blocking := AcquirerFunc(func(ctx context.Context, _, _ string) (Document, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	p, err := New(testCatalog(t), Options{
		Acquirer:  blocking,
		Locator:   locate.New(-1, nil),
		RunBudget: 20 * time.Millisecond,
		Now:       func() time.Time { return testNow },
	})
	require.NoError(t, err)

	result, err := p.Run(context.Background(), "ministry")
	require.NoError(t, err)
	assert.Equal(t, newsfeed.OutcomePlaceholder, result.Outcome)
	assert.ErrorIs(t, result.Err, context.DeadlineExceeded)
}

func TestRun_PanicFallsBack(t *testing.T) {
	h := newHarness(t, cardsPage, nil)
	fresh, err := h.pipeline.Run(context.Background(), "ministry")
	require.NoError(t, err)

	panicking := AcquirerFunc(func(context.Context, string, string) (Document, error) {
		panic("renderer crashed")
	})
	newPipeline := func(c *cache.Memory) *Pipeline {
		p, err := New(testCatalog(t), Options{
			Cache:    c,
			Acquirer: panicking,
			Locator:  locate.New(-1, nil),
			Now:      h.clock.Now,
		})
		require.NoError(t, err)
		return p
	}

	t.Run("stale", func(t *testing.T) {
		h.clock.Advance(45 * time.Minute)
		result, err := newPipeline(h.cache).Run(context.Background(), "ministry")
		require.NoError(t, err)
		assert.Equal(t, newsfeed.OutcomeStale, result.Outcome)
		assert.ErrorIs(t, result.Err, ErrRunPanicked)
		assert.Equal(t, fresh.Items, result.Items)
	})

	t.Run("placeholder", func(t *testing.T) {
		empty := cache.NewMemory(30*time.Minute, cache.WithClock(h.clock.Now))
		result, err := newPipeline(empty).Run(context.Background(), "ministry")
		require.NoError(t, err)
		assert.Equal(t, newsfeed.OutcomePlaceholder, result.Outcome)
		assert.ErrorIs(t, result.Err, ErrRunPanicked)
		assertInvariants(t, result.Items)

		_, ok := empty.Get("ministry")
		assert.True(t, ok, "fallback after a panic is cached")
	})
}

func TestNew_RequiresAcquirer(t *testing.T) {
	_, err := New(testCatalog(t), Options{})
	assert.Error(t, err)
}

func TestPlaceholder(t *testing.T) {
	cfg := scraper.SourceConfig{
		ID:  "tse",
		URL: "https://Elections.Example.org:443/comunicados/?page=2",
	}.WithDefaults()

	item := Placeholder(cfg, testNow)

	assert.Equal(t, "https://elections.example.org/comunicados", item.Link)
	assert.Equal(t, "tse is temporarily unavailable", item.Title)
	assert.Equal(t, scraper.DefaultCategory, item.Category)
	assert.Equal(t, item.Link+"#status", item.GUID)
	_, err := url.Parse(item.GUID)
	assert.NoError(t, err)
	require.NoError(t, newsfeed.Validate([]newsfeed.NewsItem{item}))
}
