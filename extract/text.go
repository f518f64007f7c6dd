package extract

import (
	"fmt"
	"html"
	"path"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kennygrant/sanitize"
)

// Ellipsis is appended to truncated descriptions.
const Ellipsis = "..."

// defaultBoilerplate removes non-content fragments that leak into item
// text: tracking snippets, share-widget JSON and legal attribution lines.
var defaultBoilerplate = []string{
	`(?i)(?:window\.)?dataLayer\.push\([^)]*\);?`,
	`(?i)\bgtag\([^)]*\);?`,
	`(?i)\bfbq\([^)]*\);?`,
	`\{[^{}]*"[A-Za-z_]+"\s*:[^{}]*\}`,
	`(?i)\bshare\s+(?:on|via|this(?:\s+page)?)(?:\s*(?:facebook|twitter|linkedin|whatsapp|email|x)\b)*`,
	`(?i)(?:©|\(c\)|copyright)\s*\d{4}[^.\n]*\.?`,
	`(?i)\ball rights reserved\.?`,
	`(?i)\b(?:read more|learn more|en savoir plus|lire la suite)\s*[»›>]*`,
}

var (
	slugSeparators = regexp.MustCompile(`[-_\s]+`)
	fileExtension  = regexp.MustCompile(`(?i)\.(?:pdf|docx?|xlsx?|pptx?|html?|aspx?|php|jpe?g|png)$`)
	upperSlug      = regexp.MustCompile(`\b[A-Z]{2,}(?:-[A-Z0-9]+){2,}\b`)
)

// Cleaner turns raw element text into plain description text.
type Cleaner struct {
	boilerplate []*regexp.Regexp
}

// NewCleaner compiles the built-in boilerplate patterns plus extra.
func NewCleaner(extra []string) (*Cleaner, error) {
	c := &Cleaner{}
	for _, expr := range append(append([]string(nil), defaultBoilerplate...), extra...) {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid boilerplate pattern %q: %w", expr, err)
		}
		c.boilerplate = append(c.boilerplate, re)
	}
	return c, nil
}

// Clean strips markup and boilerplate and collapses whitespace.
func (c *Cleaner) Clean(s string) string {
	// Element text can still carry escaped markup or inline scripts.
	s = html.UnescapeString(sanitize.HTML(s))
	for _, re := range c.boilerplate {
		s = re.ReplaceAllString(s, " ")
	}
	return collapseSpace(s)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate shortens s to at most max runes, cutting at the last whitespace
// before the cap and appending Ellipsis. Text within the cap is returned
// as is.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	cut := runes[:max]
	if !unicode.IsSpace(runes[max]) {
		if i := lastSpace(cut); i > 0 {
			cut = cut[:i]
		}
	}
	out := strings.TrimRightFunc(string(cut), func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';' || r == ':' || r == '-'
	})
	return out + Ellipsis
}

func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return -1
}

// LooksLikeSlug reports whether s reads as a filename or identifier rather
// than a natural-language title.
func LooksLikeSlug(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if fileExtension.MatchString(s) || strings.Contains(s, "_") {
		return true
	}
	if !strings.ContainsAny(s, " \t") && strings.Contains(s, "-") {
		return true
	}
	return upperSlug.MatchString(s)
}

// Deslug turns a filename-like title into words: the extension is dropped,
// separators become spaces, leading prefix tokens are removed and every
// word is capitalized. When nothing but prefixes remain the raw slug is
// returned.
func Deslug(s string, prefixes []string) string {
	raw := strings.TrimSpace(s)
	base := raw
	if !strings.ContainsAny(raw, " \t") {
		base = path.Base(raw)
	}
	base = fileExtension.ReplaceAllString(base, "")

	tokens := slugSeparators.Split(base, -1)
	tokens = dropEmpty(tokens)
	for len(tokens) > 0 && isPrefix(tokens[0], prefixes) {
		tokens = tokens[1:]
	}
	if len(tokens) == 0 {
		return raw
	}

	for i, tok := range tokens {
		tokens[i] = capitalize(tok)
	}
	return strings.Join(tokens, " ")
}

// NormalizeTitle collapses whitespace and de-slugs identifier-like titles.
func NormalizeTitle(s string, prefixes []string) string {
	s = collapseSpace(s)
	if LooksLikeSlug(s) {
		return Deslug(s, prefixes)
	}
	return s
}

func isPrefix(tok string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.EqualFold(tok, p) {
			return true
		}
	}
	return false
}

func dropEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func capitalize(word string) string {
	r, size := utf8.DecodeRuneInString(word)
	if r == utf8.RuneError {
		return word
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(word[size:])
}
