package model

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// NormalizeKey lowercases s and collapses whitespace after NFKC
// normalization, so "Stop  Bar" and "stop bar" compare equal.
// cases.Caser is stateful, so a fresh one is built per call.
func NormalizeKey(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Lower(language.Und).String(s)
	return strings.Join(strings.Fields(s), " ")
}

// ItemKey returns the grouping key for a quantity: lower(item) + "_" + lower(unit).
func ItemKey(item, unit string) string {
	return NormalizeKey(item) + "_" + NormalizeKey(unit)
}

// ContainsWord reports whether phrase occurs in text on word boundaries.
// Both arguments are expected to be normalized already.
func ContainsWord(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	for start := 0; start <= len(text)-len(phrase); {
		idx := strings.Index(text[start:], phrase)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(phrase)
		if (idx == 0 || !isWordByte(text[idx-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		start = idx + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// appendUnique appends values not already present (compared with NormalizeKey).
func appendUnique(dst []string, values ...string) []string {
	seen := make(map[string]struct{}, len(dst)+len(values))
	for _, v := range dst {
		seen[NormalizeKey(v)] = struct{}{}
	}
	for _, v := range values {
		k := NormalizeKey(v)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		dst = append(dst, strings.TrimSpace(v))
	}
	return dst
}
