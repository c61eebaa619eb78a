package messaging

import (
	"context"

	"github.com/nosurfing/moderation/internal/report"
)

// ReportNotifier publishes registry events: every accepted report goes to
// report.created, and status changes go to content.status.<content_type>.
type ReportNotifier struct {
	pub Publisher
}

func NewReportNotifier(pub Publisher) *ReportNotifier {
	return &ReportNotifier{pub: pub}
}

// Notify implements report.Notifier.
func (n *ReportNotifier) Notify(_ context.Context, ev report.Event) error {
	switch ev.Type {
	case report.EventReportCreated:
		return PublishJSON(n.pub, SubjectReportCreated, ev)
	case report.EventStatusChanged:
		subject := SubjectContentStatus
		if ev.Transition != nil {
			subject += "." + ev.Transition.Ref.Type
		}
		return PublishJSON(n.pub, subject, ev)
	}
	return nil
}
