package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nosurfing/moderation/internal/escalation"
	"github.com/nosurfing/moderation/internal/moderation"
	"github.com/nosurfing/moderation/internal/modlog"
	"github.com/nosurfing/moderation/internal/ratelimit"
	"github.com/nosurfing/moderation/internal/report"
)

func newModerator() *moderation.Moderator {
	return moderation.NewModerator(moderation.Config{}, moderation.NewFilter(),
		moderation.NewRuleEngine(moderation.RuleConfig{}), nil, nil)
}

type stubSubmitter struct {
	got report.SubmitRequest
	sub report.Submission
	err error
}

func (s *stubSubmitter) Submit(_ context.Context, req report.SubmitRequest) (report.Submission, error) {
	s.got = req
	return s.sub, s.err
}

type stubArchive struct {
	stats      report.Stats
	reports    []report.Report
	err        error
	gotLimit   int
	recentCall bool
}

func (a *stubArchive) Stats(context.Context) (report.Stats, error) { return a.stats, a.err }

func (a *stubArchive) Recent(_ context.Context, limit int) ([]report.Report, error) {
	a.recentCall = true
	a.gotLimit = limit
	return a.reports, a.err
}

type stubModStats struct {
	since time.Time
	st    modlog.Stats
	err   error
}

func (s *stubModStats) Stats(_ context.Context, since time.Time) (modlog.Stats, error) {
	s.since = since
	return s.st, s.err
}

func do(t *testing.T, h http.Handler, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			if err := json.NewEncoder(&buf).Encode(b); err != nil {
				t.Fatalf("encode body: %v", err)
			}
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.7:51234"
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestModerateEndpoint(t *testing.T) {
	h := NewRouter(Deps{Moderator: newModerator(), Reports: &stubSubmitter{}})

	tests := []struct {
		name         string
		body         any
		wantStatus   int
		wantApproved bool
		wantReason   string
	}{
		{"clean comment", map[string]string{"text": "what a spooky story", "type": "comment"}, http.StatusOK, true, ""},
		{"profanity", map[string]string{"text": "this is shit", "type": "comment"}, http.StatusOK, false, moderation.ReasonInappropriateLanguage},
		{"creature hard block", map[string]string{"text": "시체가 가득한 방", "type": "creature"}, http.StatusOK, false, moderation.ReasonExtremeViolence},
		{"missing text", map[string]string{"type": "comment"}, http.StatusBadRequest, false, ""},
		{"missing type", map[string]string{"text": "hello"}, http.StatusBadRequest, false, ""},
		{"unknown type", map[string]string{"text": "hello", "type": "video"}, http.StatusBadRequest, false, ""},
		{"malformed body", "{", http.StatusBadRequest, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/moderate", tt.body, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if tt.wantStatus != http.StatusOK {
				var apiErr APIError
				if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil || apiErr.Success || apiErr.Code == "" {
					t.Errorf("error body = %s", rec.Body)
				}
				return
			}

			var res moderation.ModerationResult
			if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if res.IsApproved != tt.wantApproved {
				t.Errorf("isApproved = %v, want %v (%v)", res.IsApproved, tt.wantApproved, res.Reasons)
			}
			if tt.wantReason != "" && !contains(res.Reasons, tt.wantReason) {
				t.Errorf("reasons = %v, want %q", res.Reasons, tt.wantReason)
			}
			if res.ModerationID == "" {
				t.Error("moderationId missing")
			}
		})
	}
}

func TestModerateResponseShape(t *testing.T) {
	h := NewRouter(Deps{Moderator: newModerator()})
	rec := do(t, h, http.MethodPost, "/moderate", map[string]string{"text": "hi", "type": "general"}, nil)

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"isApproved", "confidence", "reasons", "filteredText", "moderationId"} {
		if _, ok := body[key]; !ok {
			t.Errorf("response missing %q: %s", key, rec.Body)
		}
	}
	if reasons, ok := body["reasons"].([]any); !ok || len(reasons) != 0 {
		t.Errorf("reasons = %v, want empty array", body["reasons"])
	}
}

func TestModerateRateLimited(t *testing.T) {
	limiter := ratelimit.NewLocalLimiter(ratelimit.Rule{Limit: 1, Window: time.Minute}, nil)
	h := NewRouter(Deps{Moderator: newModerator(), ModerateLimiter: limiter})

	body := map[string]string{"text": "hello", "type": "comment"}
	if rec := do(t, h, http.MethodPost, "/moderate", body, nil); rec.Code != http.StatusOK {
		t.Fatalf("first call status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/moderate", body, nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second call status = %d, want 429", rec.Code)
	}
}

func TestModerationStats(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	t.Run("from store", func(t *testing.T) {
		store := &stubModStats{st: modlog.BuildStats(4, 3, []modlog.ReasonCount{{Reason: "suspected spam", Count: 1}})}
		h := newRouter(Deps{Moderator: newModerator(), ModerationStats: store}, clock)

		rec := do(t, h, http.MethodGet, "/moderation/stats", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if want := now.Add(-24 * time.Hour); !store.since.Equal(want) {
			t.Errorf("since = %v, want %v", store.since, want)
		}
		want := `{"success":true,"stats":{"totalChecked":4,"approved":3,"rejected":1,"approvalRate":75,"topReasons":[["suspected spam",1]]}}`
		if got := bytes.TrimSpace(rec.Body.Bytes()); string(got) != want {
			t.Errorf("body = %s\nwant   %s", got, want)
		}
	})

	t.Run("store error falls back to zeros with note", func(t *testing.T) {
		store := &stubModStats{err: errors.New("db down")}
		h := newRouter(Deps{Moderator: newModerator(), ModerationStats: store}, clock)

		rec := do(t, h, http.MethodGet, "/moderation/stats", nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var resp moderationStatsResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Note == "" || resp.Stats.TotalChecked != 0 || resp.Stats.ApprovalRate != 0 {
			t.Errorf("unexpected fallback %+v", resp)
		}
	})

	t.Run("no store configured", func(t *testing.T) {
		h := newRouter(Deps{Moderator: newModerator()}, clock)
		rec := do(t, h, http.MethodGet, "/moderation/stats", nil, nil)
		if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(`"note"`)) {
			t.Errorf("status = %d body = %s", rec.Code, rec.Body)
		}
	})
}

func TestSubmitReport(t *testing.T) {
	id := uuid.New()
	accepted := report.Submission{
		Report: report.Report{ID: id},
		Transition: escalation.Transition{
			Ref:          escalation.ContentRef{Type: "creature", ID: "c1"},
			From:         escalation.StatusApproved,
			To:           escalation.StatusHidden,
			PendingCount: 3,
			Changed:      true,
		},
	}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"accepted", nil, http.StatusCreated, ""},
		{"validation", &report.ValidationError{Field: "reason", Message: "is required"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"duplicate", report.ErrDuplicateReport, http.StatusConflict, "DUPLICATE_REPORT"},
		{"rate limited", report.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
		{"storage failure", errors.New("redis down"), http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &stubSubmitter{sub: accepted, err: tt.err}
			h := NewRouter(Deps{Moderator: newModerator(), Reports: sub})

			body := map[string]string{"contentId": "c1", "contentType": "creature", "reason": "violence"}
			rec := do(t, h, http.MethodPost, "/reports", body, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body)
			}

			if tt.err != nil {
				var apiErr APIError
				_ = json.Unmarshal(rec.Body.Bytes(), &apiErr)
				if apiErr.Code != tt.wantCode {
					t.Errorf("code = %q, want %q", apiErr.Code, tt.wantCode)
				}
				if tt.wantStatus == http.StatusConflict && apiErr.Message != "you already reported this content" {
					t.Errorf("duplicate message = %q", apiErr.Message)
				}
				return
			}

			var resp submitReportResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !resp.Success || resp.ReportID != id.String() || resp.ContentStatus != escalation.StatusHidden || resp.PendingCount != 3 {
				t.Errorf("unexpected response %+v", resp)
			}
		})
	}
}

func TestSubmitReportReporterKey(t *testing.T) {
	body := map[string]string{"contentId": "c1", "contentType": "comment", "reason": "spam", "reporterSession": "body-session"}

	tests := []struct {
		name   string
		body   map[string]string
		header     map[string]string
		want       string
		wantClient string
	}{
		{"header wins", body, map[string]string{"X-Session-ID": "header-session"}, "header-session", "203.0.113.7"},
		{"body session", body, nil, "body-session", "203.0.113.7"},
		{"client ip", map[string]string{"contentId": "c1", "contentType": "comment", "reason": "spam"}, nil, "203.0.113.7", "203.0.113.7"},
		{"forwarded ip", map[string]string{"contentId": "c1", "contentType": "comment", "reason": "spam"},
			map[string]string{"X-Forwarded-For": "198.51.100.4"}, "198.51.100.4", "198.51.100.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &stubSubmitter{sub: report.Submission{Report: report.Report{ID: uuid.New()}}}
			h := NewRouter(Deps{Moderator: newModerator(), Reports: sub})

			if rec := do(t, h, http.MethodPost, "/reports", tt.body, tt.header); rec.Code != http.StatusCreated {
				t.Fatalf("status = %d", rec.Code)
			}
			if sub.got.ReporterKey != tt.want {
				t.Errorf("ReporterKey = %q, want %q", sub.got.ReporterKey, tt.want)
			}
			if sub.got.ClientKey != tt.wantClient {
				t.Errorf("ClientKey = %q, want %q", sub.got.ClientKey, tt.wantClient)
			}
		})
	}
}

func TestReportStatsAndRecent(t *testing.T) {
	archive := &stubArchive{
		stats:   report.Stats{Total: 3, Pending: 2, Resolved: 1, ByReason: map[string]int{"spam": 3}, ByType: map[string]int{"comment": 3}},
		reports: []report.Report{{ID: uuid.New(), ContentID: "c1", ContentType: "comment", Reason: "spam", ReporterKey: "secret"}},
	}
	h := NewRouter(Deps{Moderator: newModerator(), ReportArchive: archive})

	rec := do(t, h, http.MethodGet, "/reports/stats", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	var stats reportStatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil || stats.Stats.Total != 3 || stats.Stats.ByReason["spam"] != 3 {
		t.Errorf("stats = %+v, %v", stats, err)
	}

	limits := []struct {
		query      string
		wantStatus int
		wantLimit  int
	}{
		{"", http.StatusOK, 20},
		{"?limit=5", http.StatusOK, 5},
		{"?limit=500", http.StatusOK, 100},
		{"?limit=0", http.StatusBadRequest, 0},
		{"?limit=abc", http.StatusBadRequest, 0},
	}
	for _, tt := range limits {
		archive.gotLimit, archive.recentCall = 0, false
		rec := do(t, h, http.MethodGet, "/reports/recent"+tt.query, nil, nil)
		if rec.Code != tt.wantStatus {
			t.Errorf("recent%s status = %d, want %d", tt.query, rec.Code, tt.wantStatus)
			continue
		}
		if tt.wantStatus == http.StatusOK && archive.gotLimit != tt.wantLimit {
			t.Errorf("recent%s limit = %d, want %d", tt.query, archive.gotLimit, tt.wantLimit)
		}
		if tt.wantStatus != http.StatusOK && archive.recentCall {
			t.Errorf("recent%s queried the archive", tt.query)
		}
	}

	rec = do(t, h, http.MethodGet, "/reports/recent", nil, nil)
	if bytes.Contains(rec.Body.Bytes(), []byte("secret")) {
		t.Error("reporter key leaked in recent reports")
	}

	archive.err = errors.New("db down")
	if rec := do(t, h, http.MethodGet, "/reports/stats", nil, nil); rec.Code != http.StatusInternalServerError {
		t.Errorf("stats with db error status = %d", rec.Code)
	}
}

func TestReportArchiveNotConfigured(t *testing.T) {
	h := NewRouter(Deps{Moderator: newModerator()})
	for _, path := range []string{"/reports/stats", "/reports/recent"} {
		if rec := do(t, h, http.MethodGet, path, nil, nil); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", path, rec.Code)
		}
	}
}

func TestHealthAndReady(t *testing.T) {
	healthy := ReadinessCheck{Name: "redis", Check: func(context.Context) error { return nil }}
	broken := ReadinessCheck{Name: "postgres", Check: func(context.Context) error { return errors.New("connection refused") }}

	h := NewRouter(Deps{Moderator: newModerator(), Readiness: []ReadinessCheck{healthy}})
	if rec := do(t, h, http.MethodGet, "/health", nil, nil); rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/ready", nil, nil); rec.Code != http.StatusOK {
		t.Errorf("ready status = %d", rec.Code)
	}

	h = NewRouter(Deps{Moderator: newModerator(), Readiness: []ReadinessCheck{healthy, broken}})
	rec := do(t, h, http.MethodGet, "/ready", nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready status = %d, want 503", rec.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "not_ready" || body.Checks["redis"] != "ok" || body.Checks["postgres"] == "ok" {
		t.Errorf("unexpected readiness body %+v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewRouter(Deps{Moderator: newModerator()})
	do(t, h, http.MethodPost, "/moderate", map[string]string{"text": "hello", "type": "comment"}, nil)

	rec := do(t, h, http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte("moderation_decisions_total")) {
		t.Errorf("metrics status = %d, missing decision counter", rec.Code)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
