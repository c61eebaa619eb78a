package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/nosurfing/moderation/internal/escalation"
	"github.com/nosurfing/moderation/internal/report"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 100
)

type submitReportRequest struct {
	ContentID       string `json:"contentId"`
	ContentType     string `json:"contentType"`
	Reason          string `json:"reason"`
	Description     string `json:"description,omitempty"`
	ReporterSession string `json:"reporterSession,omitempty"`
}

type submitReportResponse struct {
	Success       bool              `json:"success"`
	ReportID      string            `json:"reportId"`
	Message       string            `json:"message"`
	ContentStatus escalation.Status `json:"contentStatus,omitempty"`
	PendingCount  int               `json:"pendingCount"`
}

type reportStatsResponse struct {
	Success bool         `json:"success"`
	Stats   report.Stats `json:"stats"`
}

type recentReportsResponse struct {
	Success bool            `json:"success"`
	Reports []report.Report `json:"reports"`
}

// reporterKey identifies the reporter for deduplication: the X-Session-ID
// header, then the body's reporterSession, then the client IP. Rate limiting
// always uses the client IP.
func reporterKey(r *http.Request, body submitReportRequest) string {
	if v := strings.TrimSpace(r.Header.Get("X-Session-ID")); v != "" {
		return v
	}
	if v := strings.TrimSpace(body.ReporterSession); v != "" {
		return v
	}
	return clientIP(r)
}

func (h *handler) submitReport(w http.ResponseWriter, r *http.Request) {
	var req submitReportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	sub, err := h.deps.Reports.Submit(r.Context(), report.SubmitRequest{
		ContentID:   req.ContentID,
		ContentType: req.ContentType,
		Reason:      req.Reason,
		Description: req.Description,
		ReporterKey: reporterKey(r, req),
		ClientKey:   clientIP(r),
	})
	if err != nil {
		h.handleReportError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, submitReportResponse{
		Success:       true,
		ReportID:      sub.Report.ID.String(),
		Message:       "report received, it will be reviewed",
		ContentStatus: sub.Transition.To,
		PendingCount:  sub.Transition.PendingCount,
	})
}

func (h *handler) handleReportError(w http.ResponseWriter, err error) {
	if !report.IsClientError(err) {
		h.log.Error("report submission failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not record the report, please retry")
		return
	}

	var verr *report.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", verr.Field+" "+verr.Message)
	case errors.Is(err, report.ErrDuplicateReport):
		writeError(w, http.StatusConflict, "DUPLICATE_REPORT", "you already reported this content")
	default:
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many reports, try again later")
	}
}

func (h *handler) reportStats(w http.ResponseWriter, r *http.Request) {
	if h.deps.ReportArchive == nil {
		writeError(w, http.StatusServiceUnavailable, "ARCHIVE_UNAVAILABLE", "report archive is not configured")
		return
	}
	st, err := h.deps.ReportArchive.Stats(r.Context())
	if err != nil {
		h.log.Error("report stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not load report statistics")
		return
	}
	writeJSON(w, http.StatusOK, reportStatsResponse{Success: true, Stats: st})
}

func (h *handler) recentReports(w http.ResponseWriter, r *http.Request) {
	if h.deps.ReportArchive == nil {
		writeError(w, http.StatusServiceUnavailable, "ARCHIVE_UNAVAILABLE", "report archive is not configured")
		return
	}

	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer")
			return
		}
		limit = min(n, maxRecentLimit)
	}

	reports, err := h.deps.ReportArchive.Recent(r.Context(), limit)
	if err != nil {
		h.log.Error("recent reports failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not load recent reports")
		return
	}
	writeJSON(w, http.StatusOK, recentReportsResponse{Success: true, Reports: reports})
}
