package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	spaceRe    = regexp.MustCompile(`\s+`)
	digitsRe   = regexp.MustCompile(`\d[\d,.\s]*`)
	relativeRe = regexp.MustCompile(`(?i)(\d+|an?|one)\s+(second|minute|hour|day|week|month|year)s?\s+ago`)
)

// CleanText trims s and collapses internal whitespace runs to a single space.
func CleanText(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// ParseCount extracts the first integer in s, ignoring thousands separators.
// "1,234 downloads" yields 1234; text without digits yields 0.
func ParseCount(s string) int {
	m := digitsRe.FindString(s)
	if m == "" {
		return 0
	}
	m = strings.NewReplacer(",", "", ".", "", " ", "").Replace(m)
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}

// RelativeToISO converts "3 days ago" style strings into an RFC 3339 timestamp
// relative to now. Anything else is returned cleaned but otherwise unchanged.
func RelativeToISO(s string, now time.Time) string {
	s = CleanText(s)
	m := relativeRe.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	n := 1
	if v, err := strconv.Atoi(m[1]); err == nil {
		n = v
	}
	var t time.Time
	switch strings.ToLower(m[2]) {
	case "second":
		t = now.Add(-time.Duration(n) * time.Second)
	case "minute":
		t = now.Add(-time.Duration(n) * time.Minute)
	case "hour":
		t = now.Add(-time.Duration(n) * time.Hour)
	case "day":
		t = now.AddDate(0, 0, -n)
	case "week":
		t = now.AddDate(0, 0, -7*n)
	case "month":
		t = now.AddDate(0, -n, 0)
	case "year":
		t = now.AddDate(-n, 0, 0)
	}
	return t.UTC().Format(time.RFC3339)
}
