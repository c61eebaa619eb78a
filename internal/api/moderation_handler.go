package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/nosurfing/moderation/internal/moderation"
	"github.com/nosurfing/moderation/internal/modlog"
)

type moderateRequest struct {
	Text         string `json:"text"`
	Type         string `json:"type"`
	ReportReason string `json:"reportReason,omitempty"`
}

type moderationStatsResponse struct {
	Success bool         `json:"success"`
	Stats   modlog.Stats `json:"stats"`
	Note    string       `json:"note,omitempty"`
}

func (h *handler) moderate(w http.ResponseWriter, r *http.Request) {
	if h.deps.ModerateLimiter != nil {
		if ok, _ := h.deps.ModerateLimiter.Allow(r.Context(), clientIP(r)); !ok {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many moderation requests, slow down")
			return
		}
	}

	var req moderateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" || req.Type == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "text and type are required")
		return
	}
	ct, err := moderation.ParseContentType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	res := h.deps.Moderator.Moderate(r.Context(), moderation.ModerationRequest{
		RequestID:    requestID(r),
		Text:         req.Text,
		Type:         ct,
		ReportReason: req.ReportReason,
	})
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) moderationStats(w http.ResponseWriter, r *http.Request) {
	if h.deps.ModerationStats == nil {
		writeJSON(w, http.StatusOK, moderationStatsResponse{
			Success: true,
			Stats:   modlog.BuildStats(0, 0, nil),
			Note:    "moderation log is not configured, live statistics unavailable",
		})
		return
	}

	st, err := h.deps.ModerationStats.Stats(r.Context(), h.now().Add(-h.deps.StatsWindow))
	if err != nil {
		h.log.Warn("moderation stats unavailable", zap.Error(err))
		writeJSON(w, http.StatusOK, moderationStatsResponse{
			Success: true,
			Stats:   modlog.BuildStats(0, 0, nil),
			Note:    "moderation log unavailable, live statistics unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, moderationStatsResponse{Success: true, Stats: st})
}
