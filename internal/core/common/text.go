package common

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9\s]`)

// NormalizeText lowercases s, turns every character other than ASCII letters,
// digits and whitespace into a space, and collapses runs of whitespace.
func NormalizeText(s string) string {
	if s == "" {
		return ""
	}
	s = nonAlnum.ReplaceAllString(strings.ToLower(s), " ")
	return strings.Join(strings.Fields(s), " ")
}

// TokenSet splits normalized text on whitespace into a set.
func TokenSet(normalized string) map[string]struct{} {
	fields := strings.Fields(normalized)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Overlap is |a ∩ b| / min(|a|, |b|), or 0 when either set is empty.
func Overlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	shared := 0
	for t := range small {
		if _, ok := large[t]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(small))
}

// Truncate shortens s to at most n bytes, appending "..." when cut. The cut
// never splits a multi-byte rune.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
