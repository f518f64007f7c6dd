package acquire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const normalPage = `<html><head><title>Ministry News</title></head><body><ul class="news"><li>One</li></ul></body></html>`

const challengeHTML = `<html><head><title>Just a moment...</title></head><body><div class="cf-browser-verification">Checking your browser before accessing</div></body></html>`

// fakeSession scripts navigation results and can pretend to show a
// challenge page until clearAt.
type fakeSession struct {
	mu sync.Mutex

	statuses []int
	navErrs  []error
	navCalls []NavigateOptions

	content string
	title   string

	challenge bool
	clearAt   time.Time

	waitErr    error
	waitedFor  []string
	closed     bool
	closeCalls int
}

func (s *fakeSession) Navigate(_ context.Context, _ string, opts NavigateOptions) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.navCalls)
	s.navCalls = append(s.navCalls, opts)
	if i < len(s.navErrs) && s.navErrs[i] != nil {
		return 0, s.navErrs[i]
	}
	if i < len(s.statuses) {
		return s.statuses[i], nil
	}
	return 200, nil
}

func (s *fakeSession) challenging() bool {
	return s.challenge && (s.clearAt.IsZero() || time.Now().Before(s.clearAt))
}

func (s *fakeSession) Content(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.challenging() {
		return challengeHTML, nil
	}
	if s.content == "" {
		return normalPage, nil
	}
	return s.content, nil
}

func (s *fakeSession) Title(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.challenging() {
		return "Just a moment...", nil
	}
	if s.title == "" {
		return "Ministry News", nil
	}
	return s.title, nil
}

func (s *fakeSession) Evaluate(_ context.Context, expression string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch expression {
	case bodyTextScript:
		if s.challenging() {
			return "Checking your browser before accessing", nil
		}
		return "One", nil
	case readyScript:
		return !s.challenging(), nil
	}
	return nil, fmt.Errorf("unexpected expression %q", expression)
}

func (s *fakeSession) WaitForSelector(_ context.Context, selector string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitedFor = append(s.waitedFor, selector)
	return s.waitErr
}

func (s *fakeSession) URL() string {
	return "https://example.org/news/"
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closeCalls++
	return nil
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeLauncher returns sessions from newSession and records fingerprints.
type fakeLauncher struct {
	mu           sync.Mutex
	newSession   func(n int) *fakeSession
	launchErrs   []error
	sessions     []*fakeSession
	fingerprints []Fingerprint
	launches     int
}

func (l *fakeLauncher) Launch(_ context.Context, fp Fingerprint) (Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.launches
	l.launches++
	l.fingerprints = append(l.fingerprints, fp)
	if n < len(l.launchErrs) && l.launchErrs[n] != nil {
		return nil, l.launchErrs[n]
	}
	s := &fakeSession{}
	if l.newSession != nil {
		s = l.newSession(n)
	}
	l.sessions = append(l.sessions, s)
	return s, nil
}

var errBrowserGone = errors.New("browser has disconnected")

func fastTimeouts() Timeouts {
	return Timeouts{
		Navigation:     time.Second,
		NavigationSlow: time.Second,
		SelectorWait:   10 * time.Millisecond,
		ChallengeWait:  300 * time.Millisecond,
		ChallengePoll:  5 * time.Millisecond,
		SlotWait:       50 * time.Millisecond,
	}
}
