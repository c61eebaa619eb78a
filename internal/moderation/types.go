package moderation

import "fmt"

// ContentType identifies what kind of user content is being screened.
// Some rule families only apply to particular types.
type ContentType string

const (
	ContentCreature ContentType = "creature"
	ContentComment  ContentType = "comment"
	ContentGeneral  ContentType = "general"
)

// Valid reports whether t is one of the known content types.
func (t ContentType) Valid() bool {
	switch t {
	case ContentCreature, ContentComment, ContentGeneral:
		return true
	}
	return false
}

// ParseContentType converts a raw request value into a ContentType.
func ParseContentType(s string) (ContentType, error) {
	t := ContentType(s)
	if !t.Valid() {
		return "", fmt.Errorf("moderation: unknown content type %q", s)
	}
	return t, nil
}

// Human-readable rejection reasons. These strings are stored in the
// moderation log and aggregated by the stats endpoint, so changing one
// splits its history.
const (
	ReasonInappropriateLanguage = "inappropriate language"
	ReasonHateSpeech            = "hate speech"
	ReasonHarassment            = "harassment or threats"
	ReasonSexualContent         = "sexual content"
	ReasonViolentContent        = "violent content"
	ReasonSelfHarm              = "self-harm"
	ReasonExtremeViolence       = "extreme violence"
	ReasonHarmfulToMinors       = "potentially harmful to minors"
	ReasonSuspectedSpam         = "suspected spam"
	ReasonSystemError           = "moderation system error"
)

// ModerationRequest is a single screening call. It arrives either over HTTP
// or on the moderation.check NATS subject; RequestID is only set for the
// latter and names the reply subject.
type ModerationRequest struct {
	RequestID    string      `json:"request_id,omitempty"`
	Text         string      `json:"text"`
	Type         ContentType `json:"type"`
	ReportReason string      `json:"reportReason,omitempty"`
}

// ModerationResult is the outcome of one screening call.
// IsApproved is true exactly when Reasons is empty.
type ModerationResult struct {
	IsApproved   bool     `json:"isApproved"`
	Confidence   float64  `json:"confidence"`
	Reasons      []string `json:"reasons"`
	FilteredText string   `json:"filteredText"`
	ModerationID string   `json:"moderationId"`
}
