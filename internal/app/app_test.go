package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/nosurfing/moderation/internal/config"
	"github.com/nosurfing/moderation/internal/escalation"
	"github.com/nosurfing/moderation/internal/moderation"
	"github.com/nosurfing/moderation/internal/ratelimit"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := config.Default()
	cfg.Redis.Addr = mr.Addr()
	cfg.Postgres.DSN = ""
	cfg.NATS.URL = "nats://127.0.0.1:1"
	return cfg
}

func newTestApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func post(t *testing.T, h http.Handler, path, session string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	if session != "" {
		req.Header.Set("X-Session-ID", session)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAppDegradedModeEscalatesReports(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	h := a.Handler()

	want := []escalation.Status{escalation.StatusApproved, escalation.StatusApproved, escalation.StatusHidden}
	for i, session := range []string{"s1", "s2", "s3"} {
		rec := post(t, h, "/reports", session, map[string]string{
			"contentId": "creature-42", "contentType": "creature", "reason": "violence",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("report %d status = %d (%s)", i+1, rec.Code, rec.Body)
		}
		var resp struct {
			ContentStatus escalation.Status `json:"contentStatus"`
			PendingCount  int               `json:"pendingCount"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.ContentStatus != want[i] || resp.PendingCount != i+1 {
			t.Errorf("report %d: status=%s pending=%d, want %s/%d", i+1, resp.ContentStatus, resp.PendingCount, want[i], i+1)
		}
	}

	if rec := post(t, h, "/reports", "s1", map[string]string{
		"contentId": "creature-42", "contentType": "creature", "reason": "spam",
	}); rec.Code != http.StatusConflict {
		t.Errorf("duplicate report status = %d, want 409", rec.Code)
	}
}

func TestAppDegradedModeEndpoints(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	h := a.Handler()

	rec := post(t, h, "/moderate", "", map[string]string{"text": "a friendly ghost", "type": "comment"})
	if rec.Code != http.StatusOK {
		t.Fatalf("moderate status = %d", rec.Code)
	}

	for path, want := range map[string]int{
		"/ready":            http.StatusOK,
		"/moderation/stats": http.StatusOK,
		"/reports/stats":    http.StatusServiceUnavailable,
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != want {
			t.Errorf("GET %s = %d, want %d", path, rec.Code, want)
		}
	}
}

func TestNewFailsWithoutRedis(t *testing.T) {
	cfg := config.Default()
	cfg.Redis.Addr = "127.0.0.1:1"
	if _, err := New(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Fatal("expected error when redis is unreachable")
	}
}

func TestNewModeratorLoadsExtraTerms(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terms.txt")
	if err := os.WriteFile(path, []byte("# local list\nbogleech\n"), 0o600); err != nil {
		t.Fatalf("write terms: %v", err)
	}

	cfg := config.Default()
	cfg.Moderation.ProfanityFile = path
	cfg.Moderation.ExtraProfanity = []string{"grimsnark"}

	mod, err := NewModerator(cfg, nil)
	if err != nil {
		t.Fatalf("new moderator: %v", err)
	}
	for _, text := range []string{"you bogleech", "what a grimsnark"} {
		res := mod.Moderate(context.Background(), moderation.ModerationRequest{Text: text, Type: moderation.ContentComment})
		if res.IsApproved {
			t.Errorf("%q approved, want rejected", text)
		}
	}

	cfg.Moderation.ProfanityFile = filepath.Join(t.TempDir(), "missing.txt")
	if _, err := NewModerator(cfg, nil); err == nil {
		t.Error("expected error for missing terms file")
	}
}

func TestNewClassifierDisabledWithoutKey(t *testing.T) {
	if c := NewClassifier(config.ClassifierConfig{}); c != nil {
		t.Error("classifier should be nil without an API key")
	}
	if c := NewClassifier(config.ClassifierConfig{APIKey: "sk-test"}); c == nil {
		t.Error("classifier should be built with an API key")
	}
}

func TestNewLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := NewRedis(context.Background(), config.RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	if l := NewLimiter(rdb, true, ratelimit.RuleReport, 0, nil); l != nil {
		t.Error("zero budget should disable limiting")
	}

	for _, distributed := range []bool{true, false} {
		l := NewLimiter(rdb, distributed, ratelimit.Rule{Key: "rl:test:", Window: time.Hour}, 2, nil)
		key := "caller"
		if !distributed {
			key = "local-caller"
		}
		for i := 0; i < 2; i++ {
			if ok, _ := l.Allow(context.Background(), key); !ok {
				t.Fatalf("distributed=%v: call %d rejected", distributed, i+1)
			}
		}
		if ok, _ := l.Allow(context.Background(), key); ok {
			t.Errorf("distributed=%v: third call allowed", distributed)
		}
	}
}
