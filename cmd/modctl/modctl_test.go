package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nosurfing/moderation/internal/escalation"
	"github.com/nosurfing/moderation/internal/report"
)

type fakeResolver struct {
	calls int
	n     int64
}

func (f *fakeResolver) Resolve(context.Context, escalation.ContentRef) (int64, error) {
	f.calls++
	return f.n, nil
}

func newAdmin(t *testing.T, archive reportResolver) (*statusAdmin, *report.PendingStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	pending := report.NewPendingStore(rdb)
	return &statusAdmin{
		statuses: escalation.NewRedisStore(rdb),
		pending:  pending,
		archive:  archive,
	}, pending
}

func TestStatusAdminGetAndSet(t *testing.T) {
	ctx := context.Background()
	admin, pending := newAdmin(t, nil)
	ref := escalation.ContentRef{Type: "comment", ID: "c9"}

	status, count, err := admin.get(ctx, ref)
	if err != nil || status != escalation.StatusApproved || count != 0 {
		t.Fatalf("fresh content: %s/%d/%v", status, count, err)
	}

	for _, reporter := range []string{"a", "b"} {
		if _, _, err := pending.Increment(ctx, ref, reporter); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	if _, err := admin.set(ctx, ref, escalation.StatusBlocked, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	status, count, _ = admin.get(ctx, ref)
	if status != escalation.StatusBlocked || count != 2 {
		t.Errorf("after set: %s/%d, want blocked/2", status, count)
	}

	if _, err := admin.set(ctx, ref, escalation.StatusApproved, true); err != nil {
		t.Fatalf("set with resolve: %v", err)
	}
	status, count, _ = admin.get(ctx, ref)
	if status != escalation.StatusApproved || count != 0 {
		t.Errorf("after resolve: %s/%d, want approved/0", status, count)
	}
}

func TestStatusAdminResolveArchive(t *testing.T) {
	archive := &fakeResolver{n: 4}
	admin, _ := newAdmin(t, archive)
	ref := escalation.ContentRef{Type: "creature", ID: "x"}

	n, err := admin.set(context.Background(), ref, escalation.StatusHidden, false)
	if err != nil || n != 0 || archive.calls != 0 {
		t.Fatalf("without resolve: n=%d calls=%d err=%v", n, archive.calls, err)
	}
	n, err = admin.set(context.Background(), ref, escalation.StatusHidden, true)
	if err != nil || n != 4 || archive.calls != 1 {
		t.Errorf("with resolve: n=%d calls=%d err=%v", n, archive.calls, err)
	}
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		typ, id string
		wantErr bool
	}{
		{"creature", "c1", false},
		{"comment", "42", false},
		{"video", "1", true},
		{"comment", "", true},
	}
	for _, tt := range tests {
		ref, err := parseRef(tt.typ, tt.id)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseRef(%q, %q) err = %v", tt.typ, tt.id, err)
			continue
		}
		if err == nil && ref.Key() != tt.typ+":"+tt.id {
			t.Errorf("parseRef(%q, %q) key = %q", tt.typ, tt.id, ref.Key())
		}
	}
}

func TestRunProbes(t *testing.T) {
	var out bytes.Buffer
	failed := runProbes(context.Background(), &out, []probe{
		{"redis", func(context.Context) error { return nil }},
		{"classifier", func(context.Context) error { return fmt.Errorf("no api key: %w", errSkipped) }},
		{"postgres", func(context.Context) error { return errors.New("connection refused") }},
		{"nats", func(context.Context) error {
			return errors.Join(errors.New("dial tcp: refused"), errors.New("no servers available"))
		}},
	})
	if failed != 2 {
		t.Errorf("failed = %d, want 2", failed)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("output lines = %d:\n%s", len(lines), out.String())
	}
	if !strings.Contains(lines[3], "dial tcp: refused; no servers available") {
		t.Errorf("joined error not folded: %q", lines[3])
	}
	for i, want := range []string{"ok", "skipped", "FAIL", "FAIL"} {
		if !strings.Contains(lines[i], want) {
			t.Errorf("line %d = %q, want %q", i, lines[i], want)
		}
	}
}
