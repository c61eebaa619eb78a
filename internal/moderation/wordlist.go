package moderation

// defaultProfanity is the built-in dictionary. ASCII entries match on word
// boundaries, Hangul entries as substrings.
var defaultProfanity = []string{
	// Korean
	"씨발", "씨바", "씨팔", "시팔", "ㅅㅂ", "ㅆㅂ",
	"개새끼", "개새기", "개색기", "개색끼", "개쉐이",
	"병신", "븅신", "ㅂㅅ",
	"지랄", "ㅈㄹ",
	"존나", "졸라", "존니",
	"좆", "좆까", "좆같",
	"썅", "염병", "엠창",
	"미친놈", "미친년", "미친새끼",
	"느금마", "니애미", "니애비",
	"닥쳐", "꺼져",

	// English
	"fuck", "fucking", "fucker", "motherfucker", "fck",
	"shit", "bullshit",
	"bitch", "bastard", "asshole", "ass",
	"dick", "cunt", "pussy",
	"slut", "whore",
	"retard",
	"nigger", "nigga", "faggot",
	"kill yourself", "go die",
}

// DefaultProfanity returns a copy of the built-in dictionary.
func DefaultProfanity() []string {
	out := make([]string, len(defaultProfanity))
	copy(out, defaultProfanity)
	return out
}
