package util

import (
	"net/url"
	"sort"
	"strings"
)

// CanonicalURL lowercases scheme and host, drops the fragment and common
// tracking parameters, and sorts the query.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for k := range q {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, "utm_") ||
			lk == "gclid" || lk == "fbclid" || lk == "msclkid" ||
			lk == "mc_cid" || lk == "mc_eid" ||
			lk == "mkt_tok" {
			q.Del(k)
		}
	}

	for k := range q {
		vals := q[k]
		sort.Strings(vals)
		q[k] = vals
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ResolveURL resolves href against base. It returns "" when href is empty
// or cannot be parsed.
func ResolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return CanonicalURL(ref.String())
	}
	return CanonicalURL(base.ResolveReference(ref).String())
}

// IsBoilerplateURL flags links found in alert emails that never point at an
// opportunity.
func IsBoilerplateURL(u string) bool {
	lu := strings.ToLower(u)
	for _, s := range []string{"unsubscribe", "manage-preferences", "preferences", "list-manage.com/profile", "mailto:", "view-in-browser", "privacy"} {
		if strings.Contains(lu, s) {
			return true
		}
	}
	return false
}

// HostOf returns the lowercase host of raw without a leading "www.".
func HostOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
