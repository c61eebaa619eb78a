package moderation

// Rule families.
const (
	FamilyHardBlock  = "hard_block"
	FamilyMinorsHarm = "minors_harm"
	FamilySpam       = "spam"
)

// Confidence caps contributed by each signal. The final confidence is the
// minimum over every signal that fired.
const (
	confidenceProfanity   = 0.9
	confidenceExternal    = 0.8
	confidenceHardBlock   = 0.7
	confidenceMinorsHarm  = 0.8
	confidenceSpam        = 0.6
	confidenceSystemError = 0.5
)

var defaultExtremeViolence = []string{
	"살인", "죽이", "고문", "절단", "시체", "시신", "강간", "성폭행",
}

var defaultHarmfulToMinors = []string{
	"자살", "약물", "마약", "도박", "성인", "19금",
}

// RuleFlag is a single rule hit.
type RuleFlag struct {
	Family     string
	Rule       string
	Reason     string
	Confidence float64
}

// RuleResult collects every rule hit for one text. HardBlock is set when a
// hard-block family rule fired.
type RuleResult struct {
	HardBlock bool
	Flags     []RuleFlag
}

// RuleConfig adds terms on top of the built-in keyword lists.
type RuleConfig struct {
	ExtremeViolence []string
	HarmfulToMinors []string
}

// RuleEngine evaluates content-type specific keyword rules and spam
// heuristics. Keyword rules are case-insensitive substring matches.
type RuleEngine struct {
	extremeViolence *keywordSet
	harmfulToMinors *keywordSet
}

// NewRuleEngine builds the keyword automatons.
func NewRuleEngine(cfg RuleConfig) *RuleEngine {
	return &RuleEngine{
		extremeViolence: newKeywordSet(append(append([]string(nil), defaultExtremeViolence...), cfg.ExtremeViolence...), false),
		harmfulToMinors: newKeywordSet(append(append([]string(nil), defaultHarmfulToMinors...), cfg.HarmfulToMinors...), false),
	}
}

// Evaluate runs every rule family that applies to ct. Keyword families only
// cover creature submissions; spam heuristics cover every type.
func (e *RuleEngine) Evaluate(text string, ct ContentType) RuleResult {
	var res RuleResult

	if ct == ContentCreature {
		normalized := normalizeRunes(text)
		if spans := e.extremeViolence.find(normalized); len(spans) > 0 {
			res.HardBlock = true
			res.Flags = append(res.Flags, RuleFlag{
				Family:     FamilyHardBlock,
				Rule:       spans[0].term,
				Reason:     ReasonExtremeViolence,
				Confidence: confidenceHardBlock,
			})
		}
		if spans := e.harmfulToMinors.find(normalized); len(spans) > 0 {
			res.Flags = append(res.Flags, RuleFlag{
				Family:     FamilyMinorsHarm,
				Rule:       spans[0].term,
				Reason:     ReasonHarmfulToMinors,
				Confidence: confidenceMinorsHarm,
			})
		}
	}

	res.Flags = append(res.Flags, spamFlags(text)...)
	return res
}
