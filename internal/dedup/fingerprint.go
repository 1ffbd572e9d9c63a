// Package dedup computes the content fingerprint used as a lead's identity.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"leadscout-engine/internal/domain"
)

// SummaryRunes is how much of the normalized summary feeds the hash.
const SummaryRunes = 500

// Normalize lowercases s, turns every rune that is not a letter or digit
// into a space, and collapses whitespace.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimRight(b.String(), " ")
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return strings.TrimRight(s[:pos], " ")
		}
		i++
	}
	return s
}

// Fingerprint returns the hex sha256 of the normalized title, org name and
// the first SummaryRunes runes of the normalized summary. It does not depend
// on source, URL or fetch time.
func Fingerprint(o domain.RawOpportunity) string {
	h := sha256.New()
	h.Write([]byte(Normalize(o.Title)))
	h.Write([]byte{0x1f})
	h.Write([]byte(Normalize(o.OrgName)))
	h.Write([]byte{0x1f})
	h.Write([]byte(truncateRunes(Normalize(o.Summary), SummaryRunes)))
	return hex.EncodeToString(h.Sum(nil))
}
