package modlog

import (
	"encoding/json"
	"math"
)

// Stats summarises a window of decisions. ApprovalRate is a percentage with
// one decimal.
type Stats struct {
	TotalChecked int           `json:"totalChecked"`
	Approved     int           `json:"approved"`
	Rejected     int           `json:"rejected"`
	ApprovalRate float64       `json:"approvalRate"`
	TopReasons   []ReasonCount `json:"topReasons"`
}

// ReasonCount is encoded as a two-element JSON array: ["reason", count].
type ReasonCount struct {
	Reason string `db:"reason"`
	Count  int    `db:"count"`
}

func (rc ReasonCount) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{rc.Reason, rc.Count})
}

// BuildStats derives the rejected count and approval rate.
func BuildStats(total, approved int, top []ReasonCount) Stats {
	if top == nil {
		top = []ReasonCount{}
	}
	st := Stats{
		TotalChecked: total,
		Approved:     approved,
		Rejected:     total - approved,
		TopReasons:   top,
	}
	if total > 0 {
		st.ApprovalRate = math.Round(float64(approved)/float64(total)*1000) / 10
	}
	return st
}
