// Package report accepts user reports against content, keeps the set of
// distinct pending reporters per content item in Redis, archives every
// report in PostgreSQL, and feeds the live pending count to the escalation
// state machine.
package report

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxDescriptionRunes bounds the free-text description of a report.
const MaxDescriptionRunes = 1000

var (
	// ErrDuplicateReport is returned when the reporter already has a pending
	// report for the same content.
	ErrDuplicateReport = errors.New("report: duplicate pending report")

	// ErrRateLimited is returned when the reporter exceeded the submission
	// budget.
	ErrRateLimited = errors.New("report: rate limited")
)

// validReasons is the set of allowed reason values, matching the CHECK
// constraint on the content_reports table.
var validReasons = map[string]bool{
	"spam":          true,
	"inappropriate": true,
	"violence":      true,
	"harassment":    true,
	"other":         true,
}

// validContentTypes are the content kinds that can be reported.
var validContentTypes = map[string]bool{
	"creature": true,
	"comment":  true,
}

// ValidContentType reports whether t is a reportable content kind.
func ValidContentType(t string) bool {
	return validContentTypes[t]
}

// Report status values.
const (
	StatusPending  = "pending"
	StatusResolved = "resolved"
	StatusRejected = "rejected"
)

// Report is one archived report row.
type Report struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ContentID   string    `db:"content_id" json:"contentId"`
	ContentType string    `db:"content_type" json:"contentType"`
	Reason      string    `db:"reason" json:"reason"`
	Description string    `db:"description" json:"description,omitempty"`
	ReporterKey string    `db:"reporter_key" json:"-"`
	Status      string    `db:"status" json:"status"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// SubmitRequest is the caller's view of a new report.
type SubmitRequest struct {
	ContentID   string
	ContentType string
	Reason      string
	Description string
	ReporterKey string
	// ClientKey is the caller's network identity. The rate limit is keyed
	// on it, falling back to ReporterKey when empty.
	ClientKey string
}

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("report: invalid %s: %s", e.Field, e.Message)
}

func (req SubmitRequest) normalize() (Report, error) {
	rep := Report{
		ContentID:   strings.TrimSpace(req.ContentID),
		ContentType: strings.TrimSpace(req.ContentType),
		Reason:      strings.TrimSpace(req.Reason),
		Description: strings.TrimSpace(req.Description),
		ReporterKey: strings.TrimSpace(req.ReporterKey),
	}

	switch {
	case rep.ContentID == "":
		return Report{}, &ValidationError{Field: "contentId", Message: "is required"}
	case rep.ContentType == "":
		return Report{}, &ValidationError{Field: "contentType", Message: "is required"}
	case !validContentTypes[rep.ContentType]:
		return Report{}, &ValidationError{Field: "contentType", Message: fmt.Sprintf("unsupported value %q", rep.ContentType)}
	case rep.Reason == "":
		return Report{}, &ValidationError{Field: "reason", Message: "is required"}
	case !validReasons[rep.Reason]:
		return Report{}, &ValidationError{Field: "reason", Message: fmt.Sprintf("unsupported value %q", rep.Reason)}
	case rep.ReporterKey == "":
		return Report{}, &ValidationError{Field: "reporter", Message: "could not identify reporter"}
	case utf8.RuneCountInString(rep.Description) > MaxDescriptionRunes:
		return Report{}, &ValidationError{Field: "description", Message: fmt.Sprintf("longer than %d characters", MaxDescriptionRunes)}
	}
	return rep, nil
}
