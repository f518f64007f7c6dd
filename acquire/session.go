package acquire

import (
	"context"
	"time"
)

// WaitState is the page lifecycle event a navigation waits for.
type WaitState string

const (
	WaitContentLoaded WaitState = "domcontentloaded"
	WaitNetworkIdle   WaitState = "networkidle"
	WaitLoad          WaitState = "load"
)

// SearchReferer is attached by strategies that simulate organic search
// traffic.
const SearchReferer = "https://www.google.com/"

// NavigateOptions controls a single navigation.
type NavigateOptions struct {
	WaitUntil WaitState
	Referer   string
	Timeout   time.Duration
}

// Session is one browser page owned by a single pipeline run. It is never
// shared between runs.
type Session interface {
	// Navigate loads url and returns the main document's HTTP status.
	Navigate(ctx context.Context, url string, opts NavigateOptions) (int, error)
	// Content returns the current serialized DOM.
	Content(ctx context.Context) (string, error)
	// Title returns the current document title.
	Title(ctx context.Context) (string, error)
	// Evaluate runs a JavaScript expression in the page.
	Evaluate(ctx context.Context, expression string) (any, error)
	// WaitForSelector blocks until selector is attached or timeout elapses.
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	// URL returns the page's current URL.
	URL() string
	// Close releases the page and its browser context.
	Close() error
}

// Launcher creates sessions presenting the given fingerprint.
type Launcher interface {
	Launch(ctx context.Context, fp Fingerprint) (Session, error)
}

// Strategy is one navigation attempt in the ordered fallback list.
type Strategy struct {
	Name      string
	WaitUntil WaitState
	Referer   string
	Timeout   time.Duration
}

func (s Strategy) options() NavigateOptions {
	return NavigateOptions{WaitUntil: s.WaitUntil, Referer: s.Referer, Timeout: s.Timeout}
}

// DefaultStrategies returns the navigation order: a quick content-loaded
// attempt, the same with a search referer, a network-idle attempt and
// finally a full load with the search referer.
func DefaultStrategies(t Timeouts) []Strategy {
	return []Strategy{
		{Name: "content-loaded", WaitUntil: WaitContentLoaded, Timeout: t.Navigation},
		{Name: "search-referral", WaitUntil: WaitContentLoaded, Referer: SearchReferer, Timeout: t.Navigation},
		{Name: "network-idle", WaitUntil: WaitNetworkIdle, Timeout: t.NavigationSlow},
		{Name: "full-load", WaitUntil: WaitLoad, Referer: SearchReferer, Timeout: t.NavigationSlow},
	}
}

// Timeouts are the acquisition budgets of one timeout profile.
type Timeouts struct {
	Navigation     time.Duration `yaml:"navigation"`
	NavigationSlow time.Duration `yaml:"navigation_slow"`
	SelectorWait   time.Duration `yaml:"selector_wait"`
	ChallengeWait  time.Duration `yaml:"challenge_wait"`
	ChallengePoll  time.Duration `yaml:"challenge_poll"`
	SlotWait       time.Duration `yaml:"slot_wait"`
}

// StandardTimeouts suit an unconstrained host.
func StandardTimeouts() Timeouts {
	return Timeouts{
		Navigation:     20 * time.Second,
		NavigationSlow: 45 * time.Second,
		SelectorWait:   10 * time.Second,
		ChallengeWait:  20 * time.Second,
		ChallengePoll:  500 * time.Millisecond,
		SlotWait:       60 * time.Second,
	}
}

// ConstrainedTimeouts suit hosts with a hard wall-clock ceiling per
// invocation.
func ConstrainedTimeouts() Timeouts {
	return Timeouts{
		Navigation:     8 * time.Second,
		NavigationSlow: 15 * time.Second,
		SelectorWait:   4 * time.Second,
		ChallengeWait:  8 * time.Second,
		ChallengePoll:  250 * time.Millisecond,
		SlotWait:       10 * time.Second,
	}
}

// withDefaults fills zero fields from the standard profile.
func (t Timeouts) withDefaults() Timeouts {
	d := StandardTimeouts()
	if t.Navigation <= 0 {
		t.Navigation = d.Navigation
	}
	if t.NavigationSlow <= 0 {
		t.NavigationSlow = d.NavigationSlow
	}
	if t.SelectorWait <= 0 {
		t.SelectorWait = d.SelectorWait
	}
	if t.ChallengeWait <= 0 {
		t.ChallengeWait = d.ChallengeWait
	}
	if t.ChallengePoll <= 0 {
		t.ChallengePoll = d.ChallengePoll
	}
	if t.SlotWait <= 0 {
		t.SlotWait = d.SlotWait
	}
	return t
}
