package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var months = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "sept": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

const monthPattern = `(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)`

var (
	dmyPattern       = regexp.MustCompile(`\b(\d{1,2})[/.](\d{1,2})[/.](\d{4})\b`)
	isoPattern       = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})(?:[T ](\d{2}):(\d{2})(?::(\d{2})(?:\.\d+)?)?(Z|[+-]\d{2}:?\d{2})?)?`)
	dayMonthPattern  = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+` + monthPattern + `\.?,?\s+(\d{4})\b`)
	monthDayPattern  = regexp.MustCompile(`(?i)\b` + monthPattern + `\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)
	dotNetPattern    = regexp.MustCompile(`/Date\((-?\d+)(?:[+-]\d{4})?\)\\?/`)
	isoOffsetPattern = regexp.MustCompile(`^([+-]\d{2}):?(\d{2})$`)
)

// dateParsers are tried in order; each returns every date it finds in s.
var dateParsers = []func(string) []time.Time{
	parseDayMonthYear,
	parseISO,
	parseTextual,
	parseDotNet,
}

// ParseDate returns the first date found in s for which accept returns
// true. Dates without a zone are UTC. A nil accept takes any valid date.
func ParseDate(s string, accept func(time.Time) bool) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, parse := range dateParsers {
		for _, t := range parse(s) {
			if accept == nil || accept(t) {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func parseDayMonthYear(s string) []time.Time {
	var out []time.Time
	for _, m := range dmyPattern.FindAllStringSubmatch(s, -1) {
		if t, ok := civilDate(atoi(m[3]), atoi(m[2]), atoi(m[1])); ok {
			out = append(out, t)
		}
	}
	return out
}

func parseISO(s string) []time.Time {
	var out []time.Time
	for _, m := range isoPattern.FindAllStringSubmatch(s, -1) {
		t, ok := civilDate(atoi(m[1]), atoi(m[2]), atoi(m[3]))
		if !ok {
			continue
		}
		if m[4] != "" {
			t = t.Add(time.Duration(atoi(m[4]))*time.Hour +
				time.Duration(atoi(m[5]))*time.Minute +
				time.Duration(atoi(m[6]))*time.Second)
			t = t.Add(-zoneOffset(m[7]))
		}
		out = append(out, t)
	}
	return out
}

func parseTextual(s string) []time.Time {
	var out []time.Time
	for _, m := range dayMonthPattern.FindAllStringSubmatch(s, -1) {
		if t, ok := civilDate(atoi(m[3]), int(months[strings.ToLower(m[2])]), atoi(m[1])); ok {
			out = append(out, t)
		}
	}
	for _, m := range monthDayPattern.FindAllStringSubmatch(s, -1) {
		if t, ok := civilDate(atoi(m[3]), int(months[strings.ToLower(m[1])]), atoi(m[2])); ok {
			out = append(out, t)
		}
	}
	return out
}

func parseDotNet(s string) []time.Time {
	var out []time.Time
	for _, m := range dotNetPattern.FindAllStringSubmatch(s, -1) {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		out = append(out, time.UnixMilli(ms).UTC())
	}
	return out
}

// civilDate builds a UTC midnight, rejecting values time.Date would
// normalize such as 31/02.
func civilDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}

func zoneOffset(zone string) time.Duration {
	m := isoOffsetPattern.FindStringSubmatch(zone)
	if m == nil {
		return 0
	}
	hours := atoi(m[1])
	minutes := time.Duration(atoi(m[2])) * time.Minute
	if hours < 0 || strings.HasPrefix(m[1], "-") {
		return time.Duration(hours)*time.Hour - minutes
	}
	return time.Duration(hours)*time.Hour + minutes
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// Window accepts dates whose year lies within yearsBack and yearsAhead of
// now's year.
func Window(now time.Time, yearsBack, yearsAhead int) func(time.Time) bool {
	lo, hi := now.Year()-yearsBack, now.Year()+yearsAhead
	return func(t time.Time) bool {
		y := t.Year()
		return y >= lo && y <= hi
	}
}
