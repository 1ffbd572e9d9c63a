package util

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// SelectText returns the cleaned text of the first match of css under sel.
// An empty selector means sel itself.
func SelectText(sel *goquery.Selection, css string) string {
	if strings.TrimSpace(css) == "" {
		return CleanText(sel.Text())
	}
	return CleanText(sel.Find(css).First().Text())
}

// SelectHref returns the href of the first match of css under sel, or of
// sel itself when it is an anchor and css is empty.
func SelectHref(sel *goquery.Selection, css string) string {
	target := sel
	if strings.TrimSpace(css) != "" {
		target = sel.Find(css).First()
	} else if goquery.NodeName(sel) != "a" {
		target = sel.Find("a[href]").First()
	}
	href, _ := target.Attr("href")
	return strings.TrimSpace(href)
}

func LooksLikeJunkTitle(t string) bool {
	l := strings.ToLower(CleanText(t))
	switch l {
	case "", "read more", "more", "view", "details", "apply", "learn more":
		return true
	}
	return len(l) < 4
}
