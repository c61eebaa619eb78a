package moderation

import (
	"context"
	"errors"
)

// ErrClassifierTimeout is recorded when the external classifier does not
// answer within the configured deadline.
var ErrClassifierTimeout = errors.New("moderation: external classifier timed out")

// Categories is the external classifier's verdict. Flagged may be set
// without any known category when the upstream flags something this
// service does not map to a reason.
type Categories struct {
	Flagged    bool `json:"flagged"`
	Hate       bool `json:"hate"`
	Harassment bool `json:"harassment"`
	Sexual     bool `json:"sexual"`
	Violence   bool `json:"violence"`
	SelfHarm   bool `json:"self-harm"`
}

// Any reports whether any signal at all was raised.
func (c Categories) Any() bool {
	return c.Flagged || c.Hate || c.Harassment || c.Sexual || c.Violence || c.SelfHarm
}

// reasons returns the reasons for each flagged category in a fixed order.
func (c Categories) reasons() []string {
	var out []string
	if c.Hate {
		out = append(out, ReasonHateSpeech)
	}
	if c.Harassment {
		out = append(out, ReasonHarassment)
	}
	if c.Sexual {
		out = append(out, ReasonSexualContent)
	}
	if c.Violence {
		out = append(out, ReasonViolentContent)
	}
	if c.SelfHarm {
		out = append(out, ReasonSelfHarm)
	}
	return out
}

// Classifier is an opaque remote text classifier. Implementations must
// honour ctx cancellation.
type Classifier interface {
	Classify(ctx context.Context, text string) (Categories, error)
}
