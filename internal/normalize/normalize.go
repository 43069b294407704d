// Package normalize produces comparison keys for contact values while
// remembering where each kept rune came from in the input.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Result is a normalized string plus a mapping back into the original input.
type Result struct {
	codepoints []rune
	positions  []int
}

// String returns the normalized value.
func (r Result) String() string {
	return string(r.codepoints)
}

// Len returns the number of runes in the normalized value.
func (r Result) Len() int {
	return len(r.codepoints)
}

// Codepoints returns a copy of the normalized runes.
func (r Result) Codepoints() []rune {
	out := make([]rune, len(r.codepoints))
	copy(out, r.codepoints)
	return out
}

// MapPosition maps a rune index in the normalized value to a rune index in
// the original input. Indexes at or past the end map just past the last kept
// rune.
func (r Result) MapPosition(i int) int {
	if i < 0 {
		return 0
	}
	if i < len(r.positions) {
		return r.positions[i]
	}
	if len(r.positions) == 0 {
		return 0
	}
	return r.positions[len(r.positions)-1] + 1
}

// MarshalText encodes the normalized value only.
func (r Result) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a normalized value. The original input is not part of
// the encoding, so positions map every rune to itself.
func (r *Result) UnmarshalText(text []byte) error {
	r.codepoints = []rune(string(text))
	r.positions = make([]int, len(r.codepoints))
	for i := range r.positions {
		r.positions[i] = i
	}
	return nil
}

const phoneSeparators = "-.():/ "

// SimplifyPhoneNumber strips separators so that differently formatted
// numbers compare equal: "+1 (210) 379-2244" becomes "+12103792244".
func SimplifyPhoneNumber(phone string) Result {
	res := Result{
		codepoints: make([]rune, 0, len(phone)),
		positions:  make([]int, 0, len(phone)),
	}
	pos := 0
	for _, c := range phone {
		if !strings.ContainsRune(phoneSeparators, c) {
			res.codepoints = append(res.codepoints, c)
			res.positions = append(res.positions, pos)
		}
		pos++
	}
	return res
}

// NormalizeWithResult removes diacritics and optionally lowercases s.
func NormalizeWithResult(s string, makeLowercase bool) Result {
	res := Result{
		codepoints: make([]rune, 0, len(s)),
		positions:  make([]int, 0, len(s)),
	}
	pos := 0
	for _, c := range s {
		for _, d := range norm.NFD.String(string(c)) {
			if unicode.Is(unicode.Mn, d) {
				continue
			}
			if makeLowercase {
				d = unicode.ToLower(d)
			}
			res.codepoints = append(res.codepoints, d)
			res.positions = append(res.positions, pos)
		}
		pos++
	}
	return res
}
