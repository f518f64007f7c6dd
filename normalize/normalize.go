// Package normalize turns extracted items into the final batch: canonical
// links, no duplicates, newest first and capped.
package normalize

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/pevans/sitefeed/newsfeed"
)

// ErrEmptyResult means no item survived normalization.
var ErrEmptyResult = errors.New("empty result")

// Options configures Normalize for one source.
type Options struct {
	// MaxItems caps the batch. Zero keeps everything.
	MaxItems int
	// KeepQuery retains query strings in canonical links for sites that
	// route items by query parameter.
	KeepQuery bool
}

// Report counts what Normalize discarded.
type Report struct {
	Input      int
	Invalid    int
	Duplicates int
	Truncated  int
}

// Normalize validates items, rewrites links to canonical form, drops
// duplicates keeping the first occurrence, sorts by publication date
// descending and applies the item cap. Items with equal dates keep their
// page order.
func Normalize(items []newsfeed.NewsItem, opts Options) ([]newsfeed.NewsItem, Report, error) {
	report := Report{Input: len(items)}
	seen := make(map[string]bool, len(items))
	out := make([]newsfeed.NewsItem, 0, len(items))

	for _, item := range items {
		item.Title = strings.TrimSpace(item.Title)
		if item.Title == "" || item.PublicationDate.IsZero() {
			report.Invalid++
			continue
		}

		link, err := CanonicalLink(item.Link, opts.KeepQuery)
		if err != nil {
			report.Invalid++
			continue
		}
		if seen[link] {
			report.Duplicates++
			continue
		}
		seen[link] = true

		if item.GUID == "" || item.GUID == item.Link {
			item.GUID = link
		}
		item.Link = link
		if strings.TrimSpace(item.Description) == "" {
			item.Description = item.Title
		}
		out = append(out, item)
	}

	slices.SortStableFunc(out, func(a, b newsfeed.NewsItem) int {
		return b.PublicationDate.Compare(a.PublicationDate)
	})

	if opts.MaxItems > 0 && len(out) > opts.MaxItems {
		report.Truncated = len(out) - opts.MaxItems
		out = out[:opts.MaxItems]
	}

	if len(out) == 0 {
		return nil, report, fmt.Errorf("%w: %d items in, %d invalid, %d duplicates",
			ErrEmptyResult, report.Input, report.Invalid, report.Duplicates)
	}
	return out, report, nil
}

// CanonicalLink lowercases scheme and host, drops default ports, trailing
// slashes and the fragment, and drops the query unless keepQuery is set.
// The root path is kept as "/".
func CanonicalLink(raw string, keepQuery bool) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid link %q: %w", raw, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("link %q is not an absolute http(s) url", raw)
	}

	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !isDefaultPort(u.Scheme, port) {
		host = host + ":" + port
	}

	canonical := &url.URL{
		Scheme: u.Scheme,
		User:   u.User,
		Host:   host,
		Path:   strings.TrimRight(u.Path, "/"),
	}
	if canonical.Path == "" {
		canonical.Path = "/"
	}
	if keepQuery && u.RawQuery != "" {
		canonical.RawQuery = u.Query().Encode()
	}
	return canonical.String(), nil
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}
