package moderation

import "regexp"

// Compiled once at package init and shared by every call.
var (
	// urlPattern matches http/https URLs, www. URLs, and common TLD patterns.
	// The bare-domain variant requires a trailing "/" to avoid false positives
	// on version strings like "v2.0" or decimal numbers like "3.14".
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|kr|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// phonePattern matches free-standing numbers such as
	//   +1-555-123-4567, (555) 123-4567, 555.123.4567
	// Anchored to whitespace/string boundaries so short numbers like "100"
	// or digits inside words don't match.
	phonePattern = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)

	// dashedPhonePattern matches Korean-style 010-1234-5678 numbers even
	// when a particle is glued to the end ("010-1234-5678로").
	dashedPhonePattern = regexp.MustCompile(`\d{2,3}-\d{3,4}-\d{4}`)
)

// spamCheck pairs a detection function with the rule name reported in
// RuleFlag.Rule.
type spamCheck struct {
	name  string
	match func(string) bool
}

// spamChecks run in order; every matching check produces its own flag.
var spamChecks = []spamCheck{
	{name: "char_run", match: hasCharRun},
	{name: "url", match: func(text string) bool {
		return urlPattern.MatchString(text)
	}},
	{name: "phone", match: func(text string) bool {
		return phonePattern.MatchString(text) || dashedPhonePattern.MatchString(text)
	}},
}

// charRunThreshold is the number of identical consecutive runes that counts
// as flooding.
const charRunThreshold = 6

// hasCharRun reports whether text contains charRunThreshold or more
// consecutive identical runes. RE2 has no backreferences, so this is a
// linear scan.
func hasCharRun(text string) bool {
	count := 1
	prev := rune(-1)
	for _, r := range text {
		if r == prev {
			count++
			if count >= charRunThreshold {
				return true
			}
		} else {
			count = 1
			prev = r
		}
	}
	return false
}

// spamFlags returns one flag per matching spam check.
func spamFlags(text string) []RuleFlag {
	var flags []RuleFlag
	for _, sc := range spamChecks {
		if sc.match(text) {
			flags = append(flags, RuleFlag{
				Family:     FamilySpam,
				Rule:       sc.name,
				Reason:     ReasonSuspectedSpam,
				Confidence: confidenceSpam,
			})
		}
	}
	return flags
}
