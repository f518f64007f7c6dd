package rss

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/sitefeed/newsfeed"
)

func sampleResult() newsfeed.Result {
	return newsfeed.Result{
		SourceID: "ministry",
		Channel: newsfeed.Channel{
			Title:       "Ministry of Transport",
			Description: "Latest updates from Ministry of Transport",
			Link:        "https://ministry.example.org/news",
			Language:    "en",
			SelfURL:     "https://feeds.example.net/feeds/ministry",
			TTL:         30 * time.Minute,
		},
		Items: []newsfeed.NewsItem{
			{
				Title:           "Port reopens <after> repairs & tests",
				Link:            "https://ministry.example.org/news/port",
				Description:     "Text with a null\x00 and a control char\x07",
				PublicationDate: time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
				Category:        "Press Release",
				GUID:            "https://ministry.example.org/news/port",
				Enclosure:       "https://ministry.example.org/img/port.JPG",
			},
			{
				Title:           "Journal 2025 01",
				Link:            "https://ministry.example.org/files/journal.pdf",
				Description:     "Journal 2025 01",
				PublicationDate: time.Date(2025, 1, 15, 9, 30, 0, 0, time.FixedZone("CET", 3600)),
				GUID:            "https://ministry.example.org/files/journal.pdf#status",
				Enclosure:       "https://ministry.example.org/files/journal.pdf?dl=1",
			},
		},
		Outcome:     newsfeed.OutcomeFresh,
		GeneratedAt: time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	data, err := Marshal(sampleResult())
	require.NoError(t, err)

	feed, err := Validate(data)
	require.NoError(t, err)

	assert.Equal(t, "Ministry of Transport", feed.Title)
	assert.Equal(t, "en", feed.Language)
	require.Len(t, feed.Items, 2)

	first := feed.Items[0]
	assert.Equal(t, "Port reopens <after> repairs & tests", first.Title)
	assert.Equal(t, "https://ministry.example.org/news/port", first.Link)
	assert.Equal(t, "Text with a null and a control char", first.Description)
	assert.Equal(t, []string{"Press Release"}, first.Categories)
	require.NotNil(t, first.PublishedParsed)
	assert.True(t, first.PublishedParsed.Equal(time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)))
	require.Len(t, first.Enclosures, 1)
	assert.Equal(t, "image/jpeg", first.Enclosures[0].Type)

	second := feed.Items[1]
	assert.Equal(t, "https://ministry.example.org/files/journal.pdf#status", second.GUID)
	require.Len(t, second.Enclosures, 1)
	assert.Equal(t, "application/pdf", second.Enclosures[0].Type)
}

func TestEncode_Markup(t *testing.T) {
	data, err := Marshal(sampleResult())
	require.NoError(t, err)
	out := string(data)

	assert.True(t, strings.HasPrefix(out, `<?xml version="1.0" encoding="UTF-8"?>`))
	assert.Contains(t, out, `xmlns:atom="http://www.w3.org/2005/Atom"`)
	assert.Contains(t, out, `<atom:link href="https://feeds.example.net/feeds/ministry" rel="self" type="application/rss+xml">`)
	assert.Contains(t, out, `<title><![CDATA[Port reopens <after> repairs & tests]]></title>`)
	assert.Contains(t, out, `<guid isPermaLink="true">https://ministry.example.org/news/port</guid>`)
	assert.Contains(t, out, `<guid isPermaLink="false">https://ministry.example.org/files/journal.pdf#status</guid>`)
	assert.Contains(t, out, `<pubDate>Mon, 30 Jun 2025 00:00:00 +0000</pubDate>`)
	assert.Contains(t, out, `<pubDate>Wed, 15 Jan 2025 08:30:00 +0000</pubDate>`)
	assert.Contains(t, out, `<lastBuildDate>Tue, 01 Jul 2025 08:00:00 +0000</lastBuildDate>`)
	assert.Contains(t, out, `<ttl>30</ttl>`)
	assert.NotContains(t, out, "\x00")
}

func TestEncode_NoSelfLinkOrCategory(t *testing.T) {
	result := sampleResult()
	result.Channel.SelfURL = ""
	result.Channel.TTL = 0
	result.Items = result.Items[1:]

	data, err := Marshal(result)
	require.NoError(t, err)
	out := string(data)

	assert.NotContains(t, out, "atom:link")
	assert.NotContains(t, out, "<category>")
	assert.NotContains(t, out, "<ttl>")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		data string
		err  error
	}{
		{
			name: "atom feed",
			data: `<?xml version="1.0"?><feed xmlns="http://www.w3.org/2005/Atom"><title>x</title><entry><title>a</title><link href="https://e.org/a"/></entry></feed>`,
			err:  ErrNotRSS,
		},
		{
			name: "no items",
			data: `<?xml version="1.0"?><rss version="2.0"><channel><title>x</title><link>https://e.org</link></channel></rss>`,
			err:  ErrNoItems,
		},
		{
			name: "item without link",
			data: `<?xml version="1.0"?><rss version="2.0"><channel><title>x</title><item><title>a</title></item></channel></rss>`,
			err:  ErrIncompleteItem,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate([]byte(tt.data))
			assert.ErrorIs(t, err, tt.err)
		})
	}

	_, err := Validate([]byte("not xml at all"))
	assert.Error(t, err)
}

func TestEnclosureType(t *testing.T) {
	assert.Equal(t, "image/png", enclosureType("https://e.org/a/b.PNG?x=1"))
	assert.Equal(t, "application/pdf", enclosureType("https://e.org/doc.pdf"))
	assert.Equal(t, "application/octet-stream", enclosureType("https://e.org/download"))
}
