package acquire

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
)

const (
	baseViewportWidth  = 1920
	baseViewportHeight = 1080
	viewportJitter     = 0.10
)

// userAgents is the rotation fingerprints draw from.
var userAgents = []userAgent{
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36", "Windows", false},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36", "macOS", false},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0", "Windows", false},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.1 Safari/605.1.15", "macOS", false},
	{"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36", "Linux", false},
	{"Mozilla/5.0 (iPhone; CPU iPhone OS 18_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.1 Mobile/15E148 Safari/604.1", "iOS", true},
	{"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Mobile Safari/537.36", "Android", true},
}

// languageSets are the Accept-Language variants fingerprints draw from.
var languageSets = [][]string{
	{"en-US", "en"},
	{"en-GB", "en"},
	{"en-US", "en", "fr"},
	{"fr-FR", "fr", "en"},
	{"de-DE", "de", "en"},
}

type userAgent struct {
	value    string
	platform string
	mobile   bool
}

// Fingerprint is the browser identity presented for one session.
type Fingerprint struct {
	UserAgent string
	Platform  string
	Mobile    bool
	Width     int
	Height    int
	Languages []string
}

// NewFingerprint draws a viewport within ten percent of 1920x1080, a user
// agent from the rotation and a language set.
func NewFingerprint(rng *rand.Rand) Fingerprint {
	ua := userAgents[rng.IntN(len(userAgents))]
	langs := languageSets[rng.IntN(len(languageSets))]

	return Fingerprint{
		UserAgent: ua.value,
		Platform:  ua.platform,
		Mobile:    ua.mobile,
		Width:     jitter(rng, baseViewportWidth),
		Height:    jitter(rng, baseViewportHeight),
		Languages: append([]string(nil), langs...),
	}
}

func jitter(rng *rand.Rand, base int) int {
	delta := (rng.Float64()*2 - 1) * viewportJitter
	return int(float64(base) * (1 + delta))
}

// Locale is the primary language tag.
func (f Fingerprint) Locale() string {
	if len(f.Languages) == 0 {
		return "en-US"
	}
	return f.Languages[0]
}

// AcceptLanguage renders the languages with descending quality values.
func (f Fingerprint) AcceptLanguage() string {
	parts := make([]string, 0, len(f.Languages))
	for i, lang := range f.Languages {
		if i == 0 {
			parts = append(parts, lang)
			continue
		}
		q := 1.0 - float64(i)*0.1
		if q < 0.1 {
			q = 0.1
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", lang, q))
	}
	return strings.Join(parts, ",")
}

// Headers returns the request headers sent with every navigation.
func (f Fingerprint) Headers() map[string]string {
	mobile := "?0"
	if f.Mobile {
		mobile = "?1"
	}
	return map[string]string{
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language":           f.AcceptLanguage(),
		"Sec-Ch-Ua-Mobile":          mobile,
		"Sec-Ch-Ua-Platform":        fmt.Sprintf("%q", f.Platform),
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-User":            "?1",
		"Upgrade-Insecure-Requests": "1",
	}
}

const stealthTemplate = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'languages', { get: () => %s });
Object.defineProperty(navigator, 'plugins', {
	get: () => [
		{ name: 'PDF Viewer', filename: 'internal-pdf-viewer' },
		{ name: 'Chrome PDF Viewer', filename: 'internal-pdf-viewer' },
		{ name: 'Chromium PDF Viewer', filename: 'internal-pdf-viewer' },
	],
});
window.chrome = window.chrome || { runtime: {} };
`

// StealthScript returns the init script that hides automation markers and
// reports languages consistent with the Accept-Language header.
func (f Fingerprint) StealthScript() string {
	langs, err := json.Marshal(f.Languages)
	if err != nil || len(f.Languages) == 0 {
		langs = []byte(`["en-US","en"]`)
	}
	return fmt.Sprintf(stealthTemplate, langs)
}
