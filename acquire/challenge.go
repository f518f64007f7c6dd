package acquire

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Signal names the completion signal that ended a challenge wait.
type Signal string

const (
	SignalTitleCleared  Signal = "title-cleared"
	SignalBodyChanged   Signal = "body-changed"
	SignalReadyComplete Signal = "ready-complete"
)

// challengePhrases are matched case-insensitively against the title and
// against short page text.
var challengePhrases = []string{
	"just a moment",
	"checking your browser",
	"verifying you are human",
	"verify you are human",
	"attention required",
	"ddos protection by",
	"please enable javascript and cookies",
	"please wait while we verify",
}

// challengeMarkup are markup fragments only interstitial pages carry.
var challengeMarkup = []string{
	"cf-browser-verification",
	"cf-challenge-running",
	"challenge-platform",
	"_incapsula_resource",
	"ddos-guard",
}

// Interstitials carry a few sentences and hardly any links. Body phrases
// are only checked on pages within both limits.
const (
	maxChallengeText  = 2048
	maxChallengeLinks = 3
)

const challengeNodeSelector = "#challenge-form, #challenge-running, #challenge-stage, #cf-challenge-running, .cf-browser-verification"

const (
	bodyTextScript = `() => document.body ? document.body.innerText : ''`
	readyScript    = `() => document.readyState === 'complete' && !document.querySelector('` + challengeNodeSelector + `')`
)

// IsChallengePage reports whether title or markup look like a bot-challenge
// interstitial. Phrases in the body only count on short pages with almost
// no links, so listings that mention them in article text pass.
func IsChallengePage(title, html string) bool {
	if containsPhrase(title) {
		return true
	}
	lower := strings.ToLower(html)
	for _, marker := range challengeMarkup {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	body := doc.Find("body")
	if body.Find("a[href]").Length() > maxChallengeLinks {
		return false
	}
	body.Find("script, style, noscript, template").Remove()
	text := strings.Join(strings.Fields(body.Text()), " ")
	return len(text) <= maxChallengeText && containsPhrase(text)
}

func containsPhrase(s string) bool {
	lower := strings.ToLower(s)
	for _, phrase := range challengePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// raceSignals polls the independent completion signals and returns the
// first one to fire. The title signal only runs when the current title
// carries a challenge phrase.
func raceSignals(ctx context.Context, s Session, poll time.Duration) (Signal, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	title, _ := s.Title(ctx)
	baseline, _ := bodyText(ctx, s)

	fired := make(chan Signal, 3)
	watch := func(sig Signal, done func(context.Context) bool) {
		go func() {
			ticker := time.NewTicker(poll)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if done(ctx) {
						fired <- sig
						return
					}
				}
			}
		}()
	}

	if containsPhrase(title) {
		watch(SignalTitleCleared, func(ctx context.Context) bool {
			t, err := s.Title(ctx)
			return err == nil && !containsPhrase(t)
		})
	}
	watch(SignalBodyChanged, func(ctx context.Context) bool {
		text, err := bodyText(ctx, s)
		return err == nil && text != baseline
	})
	watch(SignalReadyComplete, func(ctx context.Context) bool {
		v, err := s.Evaluate(ctx, readyScript)
		ready, ok := v.(bool)
		return err == nil && ok && ready
	})

	select {
	case sig := <-fired:
		return sig, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func bodyText(ctx context.Context, s Session) (string, error) {
	v, err := s.Evaluate(ctx, bodyTextScript)
	if err != nil {
		return "", err
	}
	text, _ := v.(string)
	return text, nil
}
