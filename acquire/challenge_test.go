package acquire

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const phraseListing = `<html><head><title>Ministry News</title></head><body><ul class="news">
<li><a href="/n/1"><h3>Just a moment of reflection for the victims</h3></a></li>
<li><a href="/n/2"><h3>Attention required: new vaccination schedule</h3></a></li>
<li><a href="/n/3"><h3>Hospital wing opens</h3></a></li>
<li><a href="/n/4"><h3>Budget approved</h3></a></li>
</ul></body></html>`

func TestIsChallengePage(t *testing.T) {
	tests := []struct {
		name  string
		title string
		html  string
		want  bool
	}{
		{"cloudflare title", "Just a moment...", "<html></html>", true},
		{"verification markup", "Example", `<div class="cf-browser-verification"></div>`, true},
		{"body phrase", "Example", "<p>Checking your browser before accessing example.org</p>", true},
		{"incapsula", "", `<script src="/_Incapsula_Resource?x=1"></script>`, true},
		{"normal page", "Ministry News", normalPage, false},
		{"phrase in listing text", "Ministry News", phraseListing, false},
		{"phrase in long article", "Ministry News", "<article><p>Just a moment of reflection.</p><p>" + strings.Repeat("The council met to review the plan. ", 80) + "</p></article>", false},
		{"phrase in script only", "Ministry News", `<body><script>var t = "just a moment";</script><p>News</p></body>`, false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsChallengePage(tt.title, tt.html))
		})
	}
}

func TestRaceSignals_ReadyWinsWithoutTitlePhrase(t *testing.T) {
	// Markup-only challenge: the title watcher never starts.
	s := &fakeSession{title: "Example"}

	sig, err := raceSignals(context.Background(), s, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, SignalReadyComplete, sig)
}

func TestRaceSignals_Timeout(t *testing.T) {
	s := &fakeSession{challenge: true}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := raceSignals(ctx, s, time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestError(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("run failed: %w", newError(KindChallengeUnresolved, "https://example.org", cause))

	assert.ErrorIs(t, err, ErrChallengeUnresolved)
	assert.NotErrorIs(t, err, ErrNavigationFailed)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindChallengeUnresolved, KindOf(err))
	assert.Equal(t, Kind(0), KindOf(cause))
	assert.Contains(t, err.Error(), "ChallengeUnresolved")
}
