package scraper

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Default values applied by WithDefaults.
const (
	DefaultMaxItems             = 20
	DefaultDescriptionMaxLength = 500
	DefaultCategory             = "News"
	DefaultLanguage             = "en"
	DefaultYearsBack            = 6
	DefaultYearsAhead           = 4
)

// DefaultSlugPrefixes are the redundant leading tokens stripped from
// filename-like titles.
var DefaultSlugPrefixes = []string{"NEWS", "ITEM", "DOC"}

// Validation errors.
var (
	ErrMissingID         = errors.New("source id is required")
	ErrMissingURL        = errors.New("source url is required")
	ErrInvalidURL        = errors.New("source url must be an absolute http(s) url")
	ErrNoCandidates      = errors.New("strategy needs at least one candidate selector")
	ErrEmptySelector     = errors.New("candidate selector is empty")
	ErrInvalidMaxItems   = errors.New("max_items must be positive")
	ErrInvalidDescLength = errors.New("description_max_length must be positive")
)

// SourceConfig defines how to scrape one institutional website and
// republish it as a feed.
type SourceConfig struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	URL         string `yaml:"url" json:"url"`
	BaseURL     string `yaml:"base_url,omitempty" json:"base_url,omitempty"` // Default: scheme+host of URL
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Language    string `yaml:"language,omitempty" json:"language,omitempty"`

	// WaitFor is an optional selector the acquirer waits for after
	// navigation. A timeout waiting for it is not fatal.
	WaitFor string `yaml:"wait_for,omitempty" json:"wait_for,omitempty"`

	Strategy   ExtractionStrategy `yaml:"strategy" json:"strategy"`
	Fields     FieldHints         `yaml:"fields,omitempty" json:"fields,omitempty"`
	Categories []CategoryRule     `yaml:"categories,omitempty" json:"categories,omitempty"`

	DefaultCategory      string     `yaml:"default_category,omitempty" json:"default_category,omitempty"`
	MaxItems             int        `yaml:"max_items,omitempty" json:"max_items,omitempty"`
	DescriptionMaxLength int        `yaml:"description_max_length,omitempty" json:"description_max_length,omitempty"`
	KeepQuery            bool       `yaml:"keep_query,omitempty" json:"keep_query,omitempty"`
	SlugPrefixes         []string   `yaml:"slug_prefixes,omitempty" json:"slug_prefixes,omitempty"`
	DateWindow           DateWindow `yaml:"date_window,omitempty" json:"date_window,omitempty"`

	// Boilerplate lists extra regular expressions removed from
	// descriptions on top of the built-in set.
	Boilerplate []string `yaml:"boilerplate,omitempty" json:"boilerplate,omitempty"`
}

// ExtractionStrategy is an ordered list of candidate selectors tried from
// most to least specific.
type ExtractionStrategy []Candidate

// Candidate is one step of an ExtractionStrategy. It matches when the
// selector finds more than Threshold elements.
type Candidate struct {
	Selector  string `yaml:"selector" json:"selector"`
	Threshold int    `yaml:"threshold,omitempty" json:"threshold,omitempty"`
}

// Selectors returns the candidate selectors in priority order.
func (s ExtractionStrategy) Selectors() []string {
	out := make([]string, 0, len(s))
	for _, c := range s {
		out = append(out, c.Selector)
	}
	return out
}

// FieldHints are optional per-source selectors that are tried before the
// generic extraction strategies for each field.
type FieldHints struct {
	Title       string `yaml:"title,omitempty" json:"title,omitempty"`
	Link        string `yaml:"link,omitempty" json:"link,omitempty"`
	Date        string `yaml:"date,omitempty" json:"date,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Image       string `yaml:"image,omitempty" json:"image,omitempty"`
}

// CategoryRule assigns Label when any keyword appears in an item's link path
// or title.
type CategoryRule struct {
	Label    string   `yaml:"label" json:"label"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// DateWindow bounds plausible publication years relative to the current
// year.
type DateWindow struct {
	YearsBack  int `yaml:"years_back,omitempty" json:"years_back,omitempty"`
	YearsAhead int `yaml:"years_ahead,omitempty" json:"years_ahead,omitempty"`
}

// WithDefaults returns a copy of the config with zero values replaced by
// defaults.
func (c SourceConfig) WithDefaults() SourceConfig {
	if c.Name == "" {
		c.Name = c.ID
	}
	if c.BaseURL == "" {
		if u, err := url.Parse(c.URL); err == nil && u.Host != "" {
			c.BaseURL = u.Scheme + "://" + u.Host
		}
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.DefaultCategory == "" {
		c.DefaultCategory = DefaultCategory
	}
	if c.MaxItems == 0 {
		c.MaxItems = DefaultMaxItems
	}
	if c.DescriptionMaxLength == 0 {
		c.DescriptionMaxLength = DefaultDescriptionMaxLength
	}
	if c.SlugPrefixes == nil {
		c.SlugPrefixes = DefaultSlugPrefixes
	}
	if c.DateWindow.YearsBack == 0 {
		c.DateWindow.YearsBack = DefaultYearsBack
	}
	if c.DateWindow.YearsAhead == 0 {
		c.DateWindow.YearsAhead = DefaultYearsAhead
	}
	if c.Description == "" {
		c.Description = "Latest updates from " + c.Name
	}
	return c
}

// Validate reports the first configuration problem found.
func (c SourceConfig) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return ErrMissingID
	}
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("source %s: %w", c.ID, ErrMissingURL)
	}
	u, err := url.Parse(c.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("source %s: %w", c.ID, ErrInvalidURL)
	}
	if len(c.Strategy) == 0 {
		return fmt.Errorf("source %s: %w", c.ID, ErrNoCandidates)
	}
	for i, cand := range c.Strategy {
		if strings.TrimSpace(cand.Selector) == "" {
			return fmt.Errorf("source %s candidate %d: %w", c.ID, i, ErrEmptySelector)
		}
	}
	if c.MaxItems < 0 {
		return fmt.Errorf("source %s: %w", c.ID, ErrInvalidMaxItems)
	}
	if c.DescriptionMaxLength < 0 {
		return fmt.Errorf("source %s: %w", c.ID, ErrInvalidDescLength)
	}
	return nil
}
