package acquire

import (
	"errors"
	"fmt"
)

var (
	// ErrNavigationFailed means no navigation strategy produced a 2xx response.
	ErrNavigationFailed = errors.New("navigation failed")
	// ErrInitFailed means the browser or page session could not be created.
	ErrInitFailed = errors.New("browser session init failed")
	// ErrChallengeUnresolved means a bot-challenge page did not clear in time.
	ErrChallengeUnresolved = errors.New("challenge page unresolved")
)

// Kind classifies an acquisition failure.
type Kind int

const (
	KindNavigationFailed Kind = iota + 1
	KindInitFailed
	KindChallengeUnresolved
)

func (k Kind) String() string {
	switch k {
	case KindNavigationFailed:
		return "NavigationFailed"
	case KindInitFailed:
		return "InitFailed"
	case KindChallengeUnresolved:
		return "ChallengeUnresolved"
	default:
		return "Unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindNavigationFailed:
		return ErrNavigationFailed
	case KindInitFailed:
		return ErrInitFailed
	case KindChallengeUnresolved:
		return ErrChallengeUnresolved
	default:
		return nil
	}
}

// Error is returned by Acquire for every failed acquisition. It matches the
// package sentinel for its Kind under errors.Is.
type Error struct {
	Kind Kind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("acquire %s: %s", e.URL, e.Kind)
	}
	return fmt.Sprintf("acquire %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

func newError(kind Kind, url string, err error) *Error {
	return &Error{Kind: kind, URL: url, Err: err}
}

// KindOf returns the Kind of err, or zero when err is not an acquisition
// error.
func KindOf(err error) Kind {
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr.Kind
	}
	return 0
}
