package util

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var stripPolicy = bluemonday.StrictPolicy()

func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimSpace(s)
}

// StripHTML removes all markup from s and returns whitespace-collapsed text.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return CleanText(s)
	}
	return CleanText(html.UnescapeString(stripPolicy.Sanitize(s)))
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

var titleSeparators = []string{":", " - ", " — ", " | "}

// OrgNameFromTitle guesses an organization from titles shaped like
// "Org Name: Something" or "Org Name - Something". It returns "" when no
// plausible prefix exists.
func OrgNameFromTitle(title string) string {
	title = CleanText(title)
	for _, sep := range titleSeparators {
		before, _, ok := strings.Cut(title, sep)
		if !ok {
			continue
		}
		cand := strings.TrimSpace(before)
		if n := utf8.RuneCountInString(cand); n > 3 && n < 100 {
			return cand
		}
	}
	return ""
}

// ContainsAny reports the first keyword found in text, case-insensitively.
// Keywords are matched verbatim, so "city of " requires the trailing space.
func ContainsAny(text string, keywords []string) (string, bool) {
	lt := strings.ToLower(text)
	for _, k := range keywords {
		if strings.TrimSpace(k) == "" {
			continue
		}
		k = strings.ToLower(k)
		if strings.Contains(lt, k) {
			return k, true
		}
	}
	return "", false
}
