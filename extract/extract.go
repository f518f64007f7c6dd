// Package extract turns located item elements into news items. Every field
// is resolved by its own ordered cascade of strategies.
package extract

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/pevans/sitefeed/newsfeed"
	"github.com/pevans/sitefeed/scraper"
)

const (
	primaryTitleSelector = `[class*="title"], strong, b`
	headingSelector      = "h1, h2, h3, h4, h5, h6"
	dateSelector         = `time, [datetime], [itemprop="datePublished"], [class*="date"], [class*="time"], [class*="published"]`
	paragraphSelector    = `p, [class*="summary"], [class*="excerpt"], [class*="teaser"], [class*="description"], [class*="intro"]`
	contentSelector      = `[class*="content"], [class*="body"], [class*="text"]`
	imageSelector        = "img"
)

var dateAttributes = []string{"datetime", "content", "data-date", "data-time", "title"}

var imageAttributes = []string{"src", "data-src", "data-lazy-src", "data-original", "srcset"}

// titleMatch is a resolved title together with the node and anchor it
// came from.
type titleMatch struct {
	text   string
	node   *goquery.Selection
	anchor *goquery.Selection
}

// covers reports whether node is the title node or the title anchor, or
// sits inside either. A title node that is the item element itself covers
// nothing.
func (m titleMatch) covers(el, node *goquery.Selection) bool {
	for _, t := range []*goquery.Selection{m.node, m.anchor} {
		if t == nil || t.Length() == 0 || t.Get(0) == el.Get(0) {
			continue
		}
		if t.Get(0) == node.Get(0) || t.Contains(node.Get(0)) {
			return true
		}
	}
	return false
}

// Extractor extracts items for one source.
type Extractor struct {
	cfg        scraper.SourceConfig
	now        func() time.Time
	cleaner    *Cleaner
	categories *Categorizer

	titles []Strategy[titleMatch]
	images []Strategy[string]
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithClock replaces time.Now for the date fallback and window.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		e.now = now
	}
}

// New builds an extractor for cfg, which should already have defaults
// applied.
func New(cfg scraper.SourceConfig, opts ...Option) (*Extractor, error) {
	cleaner, err := NewCleaner(cfg.Boilerplate)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", cfg.ID, err)
	}

	e := &Extractor{
		cfg:        cfg,
		now:        time.Now,
		cleaner:    cleaner,
		categories: NewCategorizer(cfg.Categories, cfg.DefaultCategory),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.titles = e.titleStrategies()
	e.images = e.imageStrategies()
	return e, nil
}

// Stats counts the outcome of one ExtractAll call.
type Stats struct {
	Elements int
	Items    int
	Dropped  int
}

// ExtractAll extracts every element in sel. Elements without a resolvable
// link are skipped.
func (e *Extractor) ExtractAll(sel *goquery.Selection, baseURL string) ([]newsfeed.NewsItem, Stats) {
	stats := Stats{Elements: sel.Length()}
	items := make([]newsfeed.NewsItem, 0, stats.Elements)
	now := e.now()

	sel.Each(func(_ int, el *goquery.Selection) {
		item, ok := e.extract(el, baseURL, now)
		if !ok {
			stats.Dropped++
			return
		}
		items = append(items, item)
	})
	stats.Items = len(items)
	return items, stats
}

// Item extracts a single element. It reports false when the element has
// no usable link.
func (e *Extractor) Item(el *goquery.Selection, baseURL string) (newsfeed.NewsItem, bool) {
	return e.extract(el, baseURL, e.now())
}

func (e *Extractor) extract(el *goquery.Selection, baseURL string, now time.Time) (newsfeed.NewsItem, bool) {
	base := e.base(baseURL)

	// Dates can sit in inline scripts, so resolve them before scripts are
	// dropped from the text strategies.
	published := e.date(el, now)
	el.Find("script, style, noscript, template").Remove()

	title, _, _ := Run(el, e.titles)
	link, ok := e.resolveLink(el, title.anchor, base)
	if !ok {
		return newsfeed.NewsItem{}, false
	}

	text := title.text
	if text == "" {
		// Only a raw identifier is available: fall back to the link's
		// filename.
		text = linkSlug(link)
	}
	text = NormalizeTitle(text, e.cfg.SlugPrefixes)
	if text == "" || (title.text == "" && !hasLetter(text)) {
		return newsfeed.NewsItem{}, false
	}

	desc, _, ok := Run(el, e.descriptionsFor(title, text))
	if !ok {
		desc = text
	}

	item := newsfeed.NewsItem{
		Title:           text,
		Link:            link,
		Description:     desc,
		PublicationDate: published,
		Category:        e.categories.Categorize(link, text),
	}
	if img, _, ok := Run(el, e.images); ok {
		item.Enclosure = absolutize(base, img)
	}
	return item, true
}

func (e *Extractor) base(pageURL string) *url.URL {
	for _, raw := range []string{pageURL, e.cfg.BaseURL, e.cfg.URL} {
		if u, err := url.Parse(raw); err == nil && u.IsAbs() {
			return u
		}
	}
	return &url.URL{}
}

// titleStrategies resolve the title: the configured hint, a primary title
// element inside the main link, any heading, the main link's text and
// finally the longest non-language-switcher link.
func (e *Extractor) titleStrategies() []Strategy[titleMatch] {
	var out []Strategy[titleMatch]
	if hint := e.cfg.Fields.Title; hint != "" {
		out = append(out, Strategy[titleMatch]{Name: "hint", Extract: func(el *goquery.Selection) (titleMatch, bool) {
			node := el.Find(hint).First()
			return titleFrom(node, anchorFor(node, el))
		}})
	}
	return append(out,
		Strategy[titleMatch]{Name: "primary-title", Extract: func(el *goquery.Selection) (titleMatch, bool) {
			anchor := mainLink(el)
			if anchor.Length() == 0 {
				return titleMatch{}, false
			}
			return titleFrom(anchor.Find(primaryTitleSelector).First(), anchor)
		}},
		Strategy[titleMatch]{Name: "heading", Extract: func(el *goquery.Selection) (titleMatch, bool) {
			node := el.Find(headingSelector).First()
			return titleFrom(node, anchorFor(node, el))
		}},
		Strategy[titleMatch]{Name: "link-text", Extract: func(el *goquery.Selection) (titleMatch, bool) {
			anchor := mainLink(el)
			m, ok := titleFrom(anchor, anchor)
			return m, ok && !isLanguageCode(m.text)
		}},
		Strategy[titleMatch]{Name: "longest-link", Extract: longestLink},
	)
}

func titleFrom(node, anchor *goquery.Selection) (titleMatch, bool) {
	if node.Length() == 0 {
		return titleMatch{}, false
	}
	text := collapseSpace(node.Text())
	if text == "" {
		return titleMatch{}, false
	}
	return titleMatch{text: text, node: node, anchor: anchor}, true
}

func longestLink(el *goquery.Selection) (titleMatch, bool) {
	var best titleMatch
	links(el).Each(func(_ int, a *goquery.Selection) {
		text := collapseSpace(a.Text())
		if isLanguageCode(text) {
			return
		}
		if len(text) > len(best.text) {
			best = titleMatch{text: text, node: a, anchor: a}
		}
	})
	return best, best.text != ""
}

// isLanguageCode matches two-letter switcher labels such as "EN" or "fr".
func isLanguageCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

func hasLetter(s string) bool {
	return strings.IndexFunc(s, unicode.IsLetter) >= 0
}

func links(el *goquery.Selection) *goquery.Selection {
	return el.Find("a[href]").AddSelection(el.Filter("a[href]"))
}

// mainLink is the element itself when it is an anchor, otherwise its first
// anchor.
func mainLink(el *goquery.Selection) *goquery.Selection {
	if goquery.NodeName(el) == "a" {
		if _, ok := el.Attr("href"); ok {
			return el
		}
	}
	return el.Find("a[href]").First()
}

// anchorFor finds the anchor wrapping or inside node, falling back to the
// item's main link.
func anchorFor(node, el *goquery.Selection) *goquery.Selection {
	if node.Length() == 0 {
		return mainLink(el)
	}
	if a := node.Closest("a[href]"); a.Length() > 0 {
		return a
	}
	if a := node.Find("a[href]").First(); a.Length() > 0 {
		return a
	}
	return mainLink(el)
}

func (e *Extractor) resolveLink(el, anchor *goquery.Selection, base *url.URL) (string, bool) {
	candidates := make([]*goquery.Selection, 0, 3)
	if hint := e.cfg.Fields.Link; hint != "" {
		candidates = append(candidates, el.Find(hint).First())
	}
	if anchor != nil {
		candidates = append(candidates, anchor)
	}
	candidates = append(candidates, mainLink(el))

	for _, c := range candidates {
		href, ok := c.Attr("href")
		if !ok || !usableHref(href) {
			continue
		}
		if link := absolutize(base, href); link != "" {
			return link, true
		}
	}
	return "", false
}

func usableHref(href string) bool {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return false
	}
	lower := strings.ToLower(href)
	return !strings.HasPrefix(lower, "javascript:") && !strings.HasPrefix(lower, "mailto:") && !strings.HasPrefix(lower, "tel:")
}

// absolutize resolves ref against base and returns "" for anything that is
// not http(s).
func absolutize(base *url.URL, ref string) string {
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ""
	}
	u := base.ResolveReference(r)
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

func linkSlug(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	p := strings.TrimSuffix(u.Path, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	if decoded, err := url.PathUnescape(p); err == nil {
		p = decoded
	}
	return p
}

// date resolves the publication date: the configured hint, a dedicated
// date element, then a scan of the element's text and markup. Dates
// outside the plausibility window are discarded. The fallback is now.
func (e *Extractor) date(el *goquery.Selection, now time.Time) time.Time {
	accept := Window(now, e.cfg.DateWindow.YearsBack, e.cfg.DateWindow.YearsAhead)

	var strategies []Strategy[time.Time]
	if hint := e.cfg.Fields.Date; hint != "" {
		strategies = append(strategies, Strategy[time.Time]{Name: "hint", Extract: func(el *goquery.Selection) (time.Time, bool) {
			return dateFromNodes(el.Find(hint), accept)
		}})
	}
	strategies = append(strategies,
		Strategy[time.Time]{Name: "date-element", Extract: func(el *goquery.Selection) (time.Time, bool) {
			return dateFromNodes(el.Find(dateSelector), accept)
		}},
		Strategy[time.Time]{Name: "text-scan", Extract: func(el *goquery.Selection) (time.Time, bool) {
			if t, ok := ParseDate(el.Text(), accept); ok {
				return t, true
			}
			html, err := goquery.OuterHtml(el)
			if err != nil {
				return time.Time{}, false
			}
			return ParseDate(html, accept)
		}},
	)

	if t, _, ok := Run(el, strategies); ok {
		return t
	}
	return now
}

func dateFromNodes(nodes *goquery.Selection, accept func(time.Time) bool) (time.Time, bool) {
	var (
		found time.Time
		ok    bool
	)
	nodes.EachWithBreak(func(_ int, node *goquery.Selection) bool {
		for _, attr := range dateAttributes {
			if v, has := node.Attr(attr); has {
				if found, ok = ParseDate(v, accept); ok {
					return false
				}
			}
		}
		found, ok = ParseDate(node.Text(), accept)
		return !ok
	})
	return found, ok
}

// descriptionsFor builds the description cascade for one item: the
// configured hint, the first paragraph-like element, a content block and
// the element text minus the title. Nodes covered by the title are never
// used as the description.
func (e *Extractor) descriptionsFor(title titleMatch, text string) []Strategy[string] {
	var out []Strategy[string]
	if hint := e.cfg.Fields.Description; hint != "" {
		out = append(out, Strategy[string]{Name: "hint", Extract: func(el *goquery.Selection) (string, bool) {
			return e.firstDescription(el, el.Find(hint), title)
		}})
	}
	return append(out,
		Strategy[string]{Name: "paragraph", Extract: func(el *goquery.Selection) (string, bool) {
			return e.firstDescription(el, el.Find(paragraphSelector), title)
		}},
		Strategy[string]{Name: "content-block", Extract: func(el *goquery.Selection) (string, bool) {
			return e.firstDescription(el, el.Find(contentSelector), title)
		}},
		Strategy[string]{Name: "element-text", Extract: func(el *goquery.Selection) (string, bool) {
			return e.description(withoutTitle(collapseSpace(el.Text()), title.text, text))
		}},
	)
}

func (e *Extractor) firstDescription(el, nodes *goquery.Selection, title titleMatch) (string, bool) {
	var (
		desc string
		ok   bool
	)
	nodes.EachWithBreak(func(_ int, node *goquery.Selection) bool {
		if title.covers(el, node) {
			return true
		}
		raw := collapseSpace(node.Text())
		if title.node != nil && title.node.Length() > 0 && node.Contains(title.node.Get(0)) {
			raw = withoutTitle(raw, title.text)
		}
		desc, ok = e.description(raw)
		return !ok
	})
	return desc, ok
}

func withoutTitle(text string, titles ...string) string {
	for _, t := range titles {
		if t != "" {
			text = strings.Replace(text, t, "", 1)
		}
	}
	return text
}

func (e *Extractor) description(raw string) (string, bool) {
	text := e.cleaner.Clean(raw)
	if text == "" {
		return "", false
	}
	return Truncate(text, e.cfg.DescriptionMaxLength), true
}

func (e *Extractor) imageStrategies() []Strategy[string] {
	var out []Strategy[string]
	if hint := e.cfg.Fields.Image; hint != "" {
		out = append(out, Strategy[string]{Name: "hint", Extract: func(el *goquery.Selection) (string, bool) {
			return imageSource(el.Find(hint).First())
		}})
	}
	return append(out,
		Strategy[string]{Name: "img", Extract: func(el *goquery.Selection) (string, bool) {
			return imageSource(el.Find(imageSelector).First())
		}},
		Strategy[string]{Name: "pdf-link", Extract: func(el *goquery.Selection) (string, bool) {
			var href string
			links(el).EachWithBreak(func(_ int, a *goquery.Selection) bool {
				v, _ := a.Attr("href")
				if strings.HasSuffix(strings.ToLower(strings.SplitN(v, "?", 2)[0]), ".pdf") {
					href = v
					return false
				}
				return true
			})
			return href, href != ""
		}},
	)
}

func imageSource(node *goquery.Selection) (string, bool) {
	if node.Length() == 0 {
		return "", false
	}
	for _, attr := range imageAttributes {
		v, ok := node.Attr(attr)
		v = strings.TrimSpace(v)
		if !ok || v == "" || strings.HasPrefix(v, "data:") {
			continue
		}
		if attr == "srcset" {
			fields := strings.Fields(strings.Split(v, ",")[0])
			if len(fields) == 0 {
				continue
			}
			v = fields[0]
		}
		return v, true
	}
	return "", false
}
