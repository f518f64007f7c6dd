package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/pevans/sitefeed/scraper"
)

// DefaultVocabulary is used for sources that configure no category rules.
var DefaultVocabulary = []scraper.CategoryRule{
	{Label: "Press Release", Keywords: []string{"press release", "communique", "press"}},
	{Label: "Newsletter", Keywords: []string{"newsletter", "bulletin"}},
	{Label: "Journal", Keywords: []string{"journal", "gazette"}},
	{Label: "Event", Keywords: []string{"event", "events", "agenda"}},
	{Label: "Report", Keywords: []string{"report", "annual report"}},
}

var wordSeparators = regexp.MustCompile(`[^\pL\pN]+`)

// Categorizer matches item links and titles against a keyword vocabulary.
type Categorizer struct {
	rules    []scraper.CategoryRule
	fallback string
}

// NewCategorizer builds a categorizer. Empty rules select
// DefaultVocabulary.
func NewCategorizer(rules []scraper.CategoryRule, fallback string) *Categorizer {
	if len(rules) == 0 {
		rules = DefaultVocabulary
	}
	if fallback == "" {
		fallback = scraper.DefaultCategory
	}
	return &Categorizer{rules: rules, fallback: fallback}
}

// Categorize returns the label of the first rule with a keyword in the link
// path or title, or the fallback label.
func (c *Categorizer) Categorize(link, title string) string {
	haystacks := []string{words(linkPath(link)), words(title)}
	for _, rule := range c.rules {
		for _, kw := range rule.Keywords {
			needle := words(kw)
			if strings.TrimSpace(needle) == "" {
				continue
			}
			for _, h := range haystacks {
				if strings.Contains(h, needle) {
					return rule.Label
				}
			}
		}
	}
	return c.fallback
}

// words lowercases s and reduces it to space-delimited words with padding
// so containment checks respect word boundaries.
func words(s string) string {
	return " " + strings.TrimSpace(wordSeparators.ReplaceAllString(strings.ToLower(s), " ")) + " "
}

func linkPath(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	return u.Path
}
