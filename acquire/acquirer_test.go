package acquire

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAcquirer(l Launcher, maxSessions int64) *Acquirer {
	return New(l, Options{
		Timeouts:    fastTimeouts(),
		MaxSessions: maxSessions,
		Rand:        rand.New(rand.NewPCG(1, 2)),
	})
}

func TestAcquire_FirstStrategySucceeds(t *testing.T) {
	launcher := &fakeLauncher{}
	a := newTestAcquirer(launcher, 1)

	page, err := a.Acquire(context.Background(), "https://example.org/news", "")
	require.NoError(t, err)

	assert.Equal(t, "content-loaded", page.Strategy)
	assert.Equal(t, 200, page.Status)
	assert.Equal(t, "Ministry News", page.Title)
	assert.Equal(t, "https://example.org/news/", page.BaseURL())
	assert.Empty(t, page.Challenge)

	html, err := page.HTML(context.Background())
	require.NoError(t, err)
	assert.Contains(t, html, `class="news"`)

	require.NoError(t, page.Close())
	require.NoError(t, page.Close())
	assert.Equal(t, 1, launcher.sessions[0].closeCalls, "close is idempotent")
}

func TestAcquire_FallsBackThroughStrategies(t *testing.T) {
	session := &fakeSession{
		statuses: []int{403, 0, 200},
		navErrs:  []error{nil, errors.New("timeout 1000ms exceeded"), nil},
	}
	launcher := &fakeLauncher{newSession: func(int) *fakeSession { return session }}
	a := newTestAcquirer(launcher, 1)

	page, err := a.Acquire(context.Background(), "https://example.org/news", "")
	require.NoError(t, err)
	defer page.Close()

	assert.Equal(t, "network-idle", page.Strategy)
	require.Len(t, session.navCalls, 3)
	assert.Equal(t, WaitContentLoaded, session.navCalls[0].WaitUntil)
	assert.Empty(t, session.navCalls[0].Referer)
	assert.Equal(t, SearchReferer, session.navCalls[1].Referer)
	assert.Equal(t, WaitNetworkIdle, session.navCalls[2].WaitUntil)
	assert.Equal(t, 1, launcher.launches)
}

func TestAcquire_NavigationFailedRetriesOnceWithFreshSession(t *testing.T) {
	launcher := &fakeLauncher{newSession: func(int) *fakeSession {
		return &fakeSession{statuses: []int{503, 503, 503, 503}}
	}}
	a := newTestAcquirer(launcher, 1)

	page, err := a.Acquire(context.Background(), "https://example.org/news", "")
	require.Error(t, err)
	assert.Nil(t, page)

	assert.True(t, errors.Is(err, ErrNavigationFailed))
	assert.Equal(t, KindNavigationFailed, KindOf(err))
	assert.Equal(t, 2, launcher.launches)
	for _, s := range launcher.sessions {
		assert.True(t, s.isClosed(), "every failed session is released")
		assert.Len(t, s.navCalls, 4)
	}

	// Slot was released: a later acquisition is not blocked.
	launcher.newSession = nil
	page, err = a.Acquire(context.Background(), "https://example.org/news", "")
	require.NoError(t, err)
	page.Close()
}

func TestAcquire_InitFailedRetried(t *testing.T) {
	launcher := &fakeLauncher{launchErrs: []error{errBrowserGone}}
	a := newTestAcquirer(launcher, 1)

	page, err := a.Acquire(context.Background(), "https://example.org/news", "")
	require.NoError(t, err)
	defer page.Close()
	assert.Equal(t, 2, launcher.launches)
}

func TestAcquire_InitFailedTwice(t *testing.T) {
	launcher := &fakeLauncher{launchErrs: []error{errBrowserGone, errBrowserGone}}
	a := newTestAcquirer(launcher, 1)

	_, err := a.Acquire(context.Background(), "https://example.org/news", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInitFailed)
	assert.ErrorIs(t, err, errBrowserGone)

	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "https://example.org/news", aerr.URL)
}

func TestAcquire_ChallengeClears(t *testing.T) {
	launcher := &fakeLauncher{newSession: func(int) *fakeSession {
		return &fakeSession{challenge: true, clearAt: time.Now().Add(40 * time.Millisecond)}
	}}
	a := newTestAcquirer(launcher, 1)

	page, err := a.Acquire(context.Background(), "https://example.org/news", "")
	require.NoError(t, err)
	defer page.Close()

	assert.Contains(t, []Signal{SignalTitleCleared, SignalBodyChanged, SignalReadyComplete}, page.Challenge)
	assert.Equal(t, "Ministry News", page.Title)
	assert.Equal(t, 1, launcher.launches)
}

func TestAcquire_ChallengeUnresolved(t *testing.T) {
	launcher := &fakeLauncher{newSession: func(int) *fakeSession {
		return &fakeSession{challenge: true}
	}}
	a := newTestAcquirer(launcher, 1)

	_, err := a.Acquire(context.Background(), "https://example.org/news", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChallengeUnresolved)
	assert.Equal(t, 2, launcher.launches)
	for _, s := range launcher.sessions {
		assert.True(t, s.isClosed())
	}
}

func TestAcquire_WaitHintTimeoutIsNonFatal(t *testing.T) {
	session := &fakeSession{waitErr: errors.New("timeout 10ms exceeded")}
	launcher := &fakeLauncher{newSession: func(int) *fakeSession { return session }}
	a := newTestAcquirer(launcher, 1)

	page, err := a.Acquire(context.Background(), "https://example.org/news", ".news-list")
	require.NoError(t, err)
	defer page.Close()

	assert.Equal(t, []string{".news-list"}, session.waitedFor)
}

func TestAcquire_SessionLimit(t *testing.T) {
	launcher := &fakeLauncher{}
	a := newTestAcquirer(launcher, 1)

	held, err := a.Acquire(context.Background(), "https://example.org/a", "")
	require.NoError(t, err)

	_, err = a.Acquire(context.Background(), "https://example.org/b", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInitFailed)

	require.NoError(t, held.Close())
	page, err := a.Acquire(context.Background(), "https://example.org/b", "")
	require.NoError(t, err)
	page.Close()
}

func TestAcquire_CancelledContext(t *testing.T) {
	launcher := &fakeLauncher{}
	a := newTestAcquirer(launcher, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Acquire(ctx, "https://example.org/news", "")
	require.Error(t, err)
	var aerr *Error
	assert.ErrorAs(t, err, &aerr)
}

func TestAcquire_FreshFingerprintPerAttempt(t *testing.T) {
	launcher := &fakeLauncher{launchErrs: []error{errBrowserGone}}
	a := newTestAcquirer(launcher, 1)

	page, err := a.Acquire(context.Background(), "https://example.org/news", "")
	require.NoError(t, err)
	defer page.Close()

	require.Len(t, launcher.fingerprints, 2)
	for _, fp := range launcher.fingerprints {
		assert.NotEmpty(t, fp.UserAgent)
		assert.NotEmpty(t, fp.Languages)
	}
}

func TestDefaultStrategies(t *testing.T) {
	strategies := DefaultStrategies(StandardTimeouts())

	require.Len(t, strategies, 4)
	names := make([]string, len(strategies))
	for i, s := range strategies {
		names[i] = s.Name
		assert.Positive(t, s.Timeout)
	}
	assert.Equal(t, []string{"content-loaded", "search-referral", "network-idle", "full-load"}, names)
}

func TestConstrainedTimeoutsAreTighter(t *testing.T) {
	std, con := StandardTimeouts(), ConstrainedTimeouts()

	assert.Less(t, con.Navigation, std.Navigation)
	assert.Less(t, con.NavigationSlow, std.NavigationSlow)
	assert.Less(t, con.SelectorWait, std.SelectorWait)
	assert.Less(t, con.ChallengeWait, std.ChallengeWait)
}
