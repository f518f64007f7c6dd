package newsfeed

import (
	"errors"
	"fmt"
	"time"
)

// Invariant violations reported by Validate.
var (
	ErrMissingTitle  = errors.New("item has empty title")
	ErrMissingLink   = errors.New("item has empty link")
	ErrDuplicateLink = errors.New("duplicate item link")
	ErrUnsorted      = errors.New("items are not sorted by publication date")
	ErrZeroDate      = errors.New("item has zero publication date")
)

// NewsItem is a single entry republished in a source's feed.
type NewsItem struct {
	Title           string    `json:"title"`
	Link            string    `json:"link"`
	Description     string    `json:"description"`
	PublicationDate time.Time `json:"publication_date"`
	Category        string    `json:"category"`
	GUID            string    `json:"guid"`
	Enclosure       string    `json:"enclosure,omitempty"`
}

// Channel holds the feed-level metadata handed to the serializer alongside
// the items.
type Channel struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Link        string        `json:"link"`
	Language    string        `json:"language"`
	SelfURL     string        `json:"self_url,omitempty"`
	TTL         time.Duration `json:"ttl"`
}

// Outcome describes how a result's items were obtained.
type Outcome string

const (
	// OutcomeFresh means the items came from a successful run.
	OutcomeFresh Outcome = "fresh"
	// OutcomeCached means the items came from an unexpired cache entry.
	OutcomeCached Outcome = "cached"
	// OutcomeStale means the run failed and an expired cache entry was
	// served instead.
	OutcomeStale Outcome = "stale"
	// OutcomePlaceholder means the run failed with nothing cached and a
	// synthesized informational item was served.
	OutcomePlaceholder Outcome = "placeholder"
)

// IsFallback reports whether the outcome came from the error path.
func (o Outcome) IsFallback() bool {
	return o == OutcomeStale || o == OutcomePlaceholder
}

// Result is the output of one pipeline invocation for one source.
type Result struct {
	SourceID    string     `json:"source_id"`
	Channel     Channel    `json:"channel"`
	Items       []NewsItem `json:"items"`
	Outcome     Outcome    `json:"outcome"`
	GeneratedAt time.Time  `json:"generated_at"`
	// Err is the fatal error that sent the run to the fallback path, if
	// any. It is informational only.
	Err error `json:"-"`
}

// Clone returns a deep copy of items so cached batches cannot be mutated
// through a caller's slice.
func Clone(items []NewsItem) []NewsItem {
	if items == nil {
		return nil
	}
	out := make([]NewsItem, len(items))
	copy(out, items)
	return out
}

// Validate checks the invariants every emitted batch must satisfy: non-empty
// title and link, unique links, a non-zero date, and non-increasing
// publication dates.
func Validate(items []NewsItem) error {
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		if item.Title == "" {
			return fmt.Errorf("item %d: %w", i, ErrMissingTitle)
		}
		if item.Link == "" {
			return fmt.Errorf("item %d: %w", i, ErrMissingLink)
		}
		if item.PublicationDate.IsZero() {
			return fmt.Errorf("item %d: %w", i, ErrZeroDate)
		}
		if _, dup := seen[item.Link]; dup {
			return fmt.Errorf("item %d (%s): %w", i, item.Link, ErrDuplicateLink)
		}
		seen[item.Link] = struct{}{}
		if i > 0 && item.PublicationDate.After(items[i-1].PublicationDate) {
			return fmt.Errorf("item %d: %w", i, ErrUnsorted)
		}
	}
	return nil
}
