// Package rss serializes pipeline results as RSS 2.0 and checks serialized
// feeds by parsing them back.
package rss

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/pevans/sitefeed/newsfeed"
)

// ContentType is the media type feeds are served with.
const ContentType = "application/rss+xml; charset=utf-8"

const (
	atomNamespace = "http://www.w3.org/2005/Atom"
	generator     = "sitefeed"
)

var (
	ErrNotRSS         = errors.New("document is not an RSS feed")
	ErrNoItems        = errors.New("feed has no items")
	ErrIncompleteItem = errors.New("feed item lacks title or link")
)

type document struct {
	XMLName xml.Name `xml:"rss"`
	Version string   `xml:"version,attr"`
	Atom    string   `xml:"xmlns:atom,attr"`
	Channel channel  `xml:"channel"`
}

type channel struct {
	Title         cdata     `xml:"title"`
	Link          string    `xml:"link"`
	Description   cdata     `xml:"description"`
	Language      string    `xml:"language,omitempty"`
	LastBuildDate string    `xml:"lastBuildDate"`
	Generator     string    `xml:"generator"`
	TTL           int       `xml:"ttl,omitempty"`
	AtomLink      *atomLink `xml:"atom:link,omitempty"`
	Items         []item    `xml:"item"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

type item struct {
	Title       cdata      `xml:"title"`
	Link        string     `xml:"link"`
	Description cdata      `xml:"description"`
	GUID        guid       `xml:"guid"`
	PubDate     string     `xml:"pubDate"`
	Category    *cdata     `xml:"category,omitempty"`
	Enclosure   *enclosure `xml:"enclosure,omitempty"`
}

type guid struct {
	IsPermaLink bool   `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

type enclosure struct {
	URL    string `xml:"url,attr"`
	Length int    `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

type cdata struct {
	Text string `xml:",cdata"`
}

// Marshal renders result as an RSS 2.0 document.
func Marshal(result newsfeed.Result) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, result); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes result as an RSS 2.0 document to w.
func Encode(w io.Writer, result newsfeed.Result) error {
	ch := result.Channel
	built := result.GeneratedAt
	if built.IsZero() {
		built = time.Now()
	}

	doc := document{
		Version: "2.0",
		Atom:    atomNamespace,
		Channel: channel{
			Title:         cdata{clean(ch.Title)},
			Link:          ch.Link,
			Description:   cdata{clean(ch.Description)},
			Language:      ch.Language,
			LastBuildDate: formatDate(built),
			Generator:     generator,
			TTL:           int(ch.TTL / time.Minute),
			Items:         make([]item, 0, len(result.Items)),
		},
	}
	if ch.SelfURL != "" {
		doc.Channel.AtomLink = &atomLink{Href: ch.SelfURL, Rel: "self", Type: "application/rss+xml"}
	}

	for _, it := range result.Items {
		id := it.GUID
		if id == "" {
			id = it.Link
		}
		out := item{
			Title:       cdata{clean(it.Title)},
			Link:        it.Link,
			Description: cdata{clean(it.Description)},
			GUID:        guid{IsPermaLink: id == it.Link, Value: id},
			PubDate:     formatDate(it.PublicationDate),
		}
		if it.Category != "" {
			out.Category = &cdata{clean(it.Category)}
		}
		if it.Enclosure != "" {
			out.Enclosure = &enclosure{URL: it.Enclosure, Type: enclosureType(it.Enclosure)}
		}
		doc.Channel.Items = append(doc.Channel.Items, out)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("failed to write feed: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode feed: %w", err)
	}
	return enc.Close()
}

// formatDate renders t in the RFC 2822 form RSS readers expect.
func formatDate(t time.Time) string {
	return t.UTC().Format(time.RFC1123Z)
}

func enclosureType(link string) string {
	p := link
	if u, err := url.Parse(link); err == nil {
		p = u.Path
	}
	t := mime.TypeByExtension(strings.ToLower(path.Ext(p)))
	if t == "" {
		return "application/octet-stream"
	}
	if i := strings.Index(t, ";"); i >= 0 {
		t = t[:i]
	}
	return t
}

// clean drops runes XML 1.0 cannot carry.
func clean(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r < 0x20, r == 0xFFFE, r == 0xFFFF:
			return -1
		case r >= 0xD800 && r <= 0xDFFF:
			return -1
		}
		return r
	}, s)
}

// Validate parses data back and checks it is an RSS feed whose items all
// carry a title and link.
func Validate(data []byte) (*gofeed.Feed, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}
	if feed.FeedType != "rss" {
		return nil, fmt.Errorf("%w: detected %q", ErrNotRSS, feed.FeedType)
	}
	if len(feed.Items) == 0 {
		return nil, ErrNoItems
	}
	for i, it := range feed.Items {
		if strings.TrimSpace(it.Title) == "" || strings.TrimSpace(it.Link) == "" {
			return nil, fmt.Errorf("item %d: %w", i, ErrIncompleteItem)
		}
	}
	return feed, nil
}
