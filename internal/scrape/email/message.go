package email

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"leadscout-engine/internal/scrape/util"
)

var reURL = regexp.MustCompile(`https?://[^\s<>"']+`)

var subjectPrefixes = []string{"fwd:", "fw:", "re:", "[alert]", "alert:", "new rfp:", "rfp alert:"}

// parsed is the useful content of one alert email.
type parsed struct {
	Subject  string
	FromName string
	Text     string
	Links    []string
}

// parseMessage reads subject, sender display name, body text and links from
// a raw RFC822 message. HTML bodies are used only when no text/plain part
// exists.
func parseMessage(raw []byte) (parsed, error) {
	var p parsed
	if len(raw) == 0 {
		return p, errors.New("empty message")
	}
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && mr == nil {
		return p, err
	}

	p.Subject, _ = mr.Header.Subject()
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		p.FromName = from[0].Name
		if p.FromName == "" {
			p.FromName = from[0].Address
		}
	}

	var plain, html []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if len(plain)+len(html) > 0 {
				break
			}
			return p, err
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := mime.ParseMediaType(h.Get("Content-Type"))
		b, err := io.ReadAll(io.LimitReader(part.Body, 1<<20))
		if err != nil {
			continue
		}
		switch ct {
		case "text/html":
			html = append(html, string(b))
		case "", "text/plain":
			plain = append(plain, string(b))
		}
	}

	switch {
	case len(plain) > 0:
		body := strings.Join(plain, "\n")
		p.Text = util.CleanText(body)
		p.Links = textLinks(body)
	case len(html) > 0:
		body := strings.Join(html, "\n")
		p.Text = util.StripHTML(body)
		p.Links = htmlLinks(body)
	}
	return p, nil
}

func textLinks(s string) []string {
	var out []string
	for _, u := range reURL.FindAllString(s, -1) {
		out = append(out, strings.TrimRight(u, ".,);:]\"'>"))
	}
	return out
}

func htmlLinks(s string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return textLinks(s)
	}
	var out []string
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
			out = append(out, href)
		}
	})
	return out
}

// primaryLink picks the first link that is not unsubscribe or preference
// boilerplate.
func primaryLink(links []string) string {
	for _, l := range links {
		if !util.IsBoilerplateURL(l) {
			return util.CanonicalURL(l)
		}
	}
	return ""
}

func cleanSubject(s string) string {
	s = util.CleanText(s)
	for changed := true; changed; {
		changed = false
		ls := strings.ToLower(s)
		for _, pre := range subjectPrefixes {
			if strings.HasPrefix(ls, pre) {
				s = strings.TrimSpace(s[len(pre):])
				changed = true
				break
			}
		}
	}
	return s
}
