// Package moderation screens short user-submitted text before it is
// published. A dictionary filter, a set of content rules and an optional
// external classifier each contribute signals that the Moderator folds into
// a single approve/reject decision.
package moderation

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// LexicalResult is the dictionary filter's verdict. Cleaned is the input
// with every rune of every matched term replaced by '*'.
type LexicalResult struct {
	Profane bool
	Cleaned string
	Terms   []string
}

// Filter is a case-insensitive profanity detector and masker. It never
// fails and is safe for concurrent use.
type Filter struct {
	keywords *keywordSet
}

// NewFilter returns a Filter loaded with the built-in Korean and English
// dictionary.
func NewFilter() *Filter {
	return NewFilterWithTerms(DefaultProfanity())
}

// NewFilterWithTerms returns a Filter using exactly the given terms. Blank
// entries are ignored.
func NewFilterWithTerms(terms []string) *Filter {
	return &Filter{keywords: newKeywordSet(terms, true)}
}

// Size returns the number of distinct normalized terms.
func (f *Filter) Size() int {
	return f.keywords.size()
}

// Check scans text in two passes: once as written and once with leetspeak
// substitutions undone. Matches from both passes are masked.
func (f *Filter) Check(text string) LexicalResult {
	plain := normalizeRunes(text)

	spans := f.keywords.find(plain)
	if leet, changed := leetRunes(plain); changed {
		spans = append(spans, f.keywords.find(leet)...)
	}
	if len(spans) == 0 {
		return LexicalResult{Cleaned: text}
	}

	masked := []rune(text)
	seen := make(map[string]bool, len(spans))
	var terms []string
	for _, s := range spans {
		for i := s.start; i < s.end; i++ {
			masked[i] = '*'
		}
		if !seen[s.term] {
			seen[s.term] = true
			terms = append(terms, s.term)
		}
	}

	return LexicalResult{
		Profane: true,
		Cleaned: string(masked),
		Terms:   terms,
	}
}

// leetMap undoes common character substitutions.
var leetMap = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'@': 'a',
	'$': 's',
	'!': 'i',
}

// leetRunes applies the leet substitutions to each whitespace-delimited
// token that contains at least one letter, so plain numbers like "42" and
// prices like "$5" are left alone. A trailing run of '!' is punctuation, not
// an 'i'. The result has the same length as text.
func leetRunes(text []rune) ([]rune, bool) {
	out := make([]rune, len(text))
	copy(out, text)
	changed := false

	i := 0
	for i < len(out) {
		if unicode.IsSpace(out[i]) {
			i++
			continue
		}
		start := i
		hasLetter := false
		for i < len(out) && !unicode.IsSpace(out[i]) {
			if unicode.IsLetter(out[i]) {
				hasLetter = true
			}
			i++
		}
		if !hasLetter {
			continue
		}
		end := i
		for end > start && out[end-1] == '!' {
			end--
		}
		for j := start; j < end; j++ {
			if mapped, ok := leetMap[out[j]]; ok {
				out[j] = mapped
				changed = true
			}
		}
	}
	return out, changed
}

// LoadTermsFile reads one term per line. Blank lines and lines starting
// with '#' are skipped.
func LoadTermsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("moderation: open terms file: %w", err)
	}
	defer f.Close()

	var terms []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		terms = append(terms, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("moderation: read terms file: %w", err)
	}
	return terms, nil
}
