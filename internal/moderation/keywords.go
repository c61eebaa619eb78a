package moderation

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cloudflare/ahocorasick"
	"golang.org/x/text/unicode/norm"
)

// keywordSet is an immutable dictionary compiled into an Aho-Corasick
// automaton. It is safe for concurrent use.
type keywordSet struct {
	terms   []string
	runes   [][]rune
	bounded []bool
	matcher *ahocorasick.Matcher
}

// span is one dictionary hit in rune offsets, end exclusive.
type span struct {
	term       string
	start, end int
}

// newKeywordSet normalizes and deduplicates terms. With wordBoundaries set,
// ASCII terms only match between non-alphanumeric runes; non-ASCII terms
// always match as substrings since Korean attaches particles directly to
// the word they modify.
func newKeywordSet(terms []string, wordBoundaries bool) *keywordSet {
	ks := &keywordSet{}
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		n := normalizeTerm(t)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		ks.terms = append(ks.terms, n)
		ks.runes = append(ks.runes, []rune(n))
		ks.bounded = append(ks.bounded, wordBoundaries && isASCII(n))
	}
	if len(ks.terms) > 0 {
		ks.matcher = ahocorasick.NewStringMatcher(ks.terms)
	}
	return ks
}

func (ks *keywordSet) size() int { return len(ks.terms) }

// find returns every occurrence of every dictionary term in text, which must
// already be normalized with normalizeRunes. Spans are ordered by position.
func (ks *keywordSet) find(text []rune) []span {
	if ks.matcher == nil || len(text) == 0 {
		return nil
	}

	// The automaton only reports which terms occur, not where.
	hits := ks.matcher.MatchThreadSafe([]byte(string(text)))
	if len(hits) == 0 {
		return nil
	}

	var spans []span
	for _, idx := range hits {
		if idx < 0 || idx >= len(ks.terms) {
			continue
		}
		spans = append(spans, ks.occurrences(idx, text)...)
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})
	return spans
}

func (ks *keywordSet) occurrences(idx int, text []rune) []span {
	needle := ks.runes[idx]
	var out []span
	for i := 0; i+len(needle) <= len(text); i++ {
		if !runesAt(text, needle, i) {
			continue
		}
		end := i + len(needle)
		if ks.bounded[idx] && !(isBoundary(text, i-1) && isBoundary(text, end)) {
			continue
		}
		out = append(out, span{term: ks.terms[idx], start: i, end: end})
	}
	return out
}

func runesAt(text, needle []rune, at int) bool {
	for j, r := range needle {
		if text[at+j] != r {
			return false
		}
	}
	return true
}

func isBoundary(text []rune, i int) bool {
	if i < 0 || i >= len(text) {
		return true
	}
	r := text[i]
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// normalizeRunes folds text rune by rune: compatibility forms collapse via
// NFKC when they map to a single rune, then everything is lower-cased. The
// output has exactly one rune per input rune so hit offsets can be applied
// back to the original text.
func normalizeRunes(text string) []rune {
	out := make([]rune, 0, len(text))
	for _, r := range text {
		out = append(out, foldRune(r))
	}
	return out
}

func foldRune(r rune) rune {
	if r < utf8.RuneSelf {
		return unicode.ToLower(r)
	}
	var buf [utf8.UTFMax]byte
	n := utf8.EncodeRune(buf[:], r)
	if !norm.NFKC.IsNormal(buf[:n]) {
		folded := norm.NFKC.Bytes(buf[:n])
		if utf8.RuneCount(folded) == 1 {
			r, _ = utf8.DecodeRune(folded)
		}
	}
	return unicode.ToLower(r)
}

func normalizeTerm(term string) string {
	return string(normalizeRunes(strings.TrimSpace(term)))
}
