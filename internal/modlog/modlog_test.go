package modlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/nosurfing/moderation/internal/moderation"
)

func TestBuildStats(t *testing.T) {
	tests := []struct {
		name             string
		total, approved  int
		wantRejected     int
		wantApprovalRate float64
	}{
		{"empty window", 0, 0, 0, 0},
		{"all approved", 4, 4, 0, 100},
		{"one decimal", 3, 2, 1, 66.7},
		{"rounds half up", 8, 1, 7, 12.5},
		{"none approved", 5, 0, 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := BuildStats(tt.total, tt.approved, nil)
			if st.Rejected != tt.wantRejected {
				t.Errorf("Rejected = %d, want %d", st.Rejected, tt.wantRejected)
			}
			if st.ApprovalRate != tt.wantApprovalRate {
				t.Errorf("ApprovalRate = %v, want %v", st.ApprovalRate, tt.wantApprovalRate)
			}
			if st.TopReasons == nil {
				t.Error("TopReasons must be non-nil")
			}
		})
	}
}

func TestStatsJSON(t *testing.T) {
	st := BuildStats(10, 7, []ReasonCount{{"inappropriate language", 2}, {"suspected spam", 1}})
	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"totalChecked":10,"approved":7,"rejected":3,"approvalRate":70,` +
		`"topReasons":[["inappropriate language",2],["suspected spam",1]]}`
	if string(data) != want {
		t.Errorf("json = %s\nwant  %s", data, want)
	}

	data, _ = json.Marshal(BuildStats(0, 0, nil))
	if string(data) != `{"totalChecked":0,"approved":0,"rejected":0,"approvalRate":0,"topReasons":[]}` {
		t.Errorf("empty json = %s", data)
	}
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(sqlx.NewDb(db, "postgres")), mock
}

func TestStoreSaveLog(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO moderation_logs").
		WithArgs("mod_1_abc", "hello", "comment", false, 0.6, sqlmock.AnyArg(), created).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO moderation_logs").
		WillReturnError(sql.ErrConnDone)

	entry := Entry{
		ModerationID: "mod_1_abc",
		ContentType:  "comment",
		Text:         "hello",
		Confidence:   0.6,
		Reasons:      []string{"suspected spam"},
		CreatedAt:    created,
	}
	if err := store.SaveLog(context.Background(), entry); err != nil {
		t.Fatalf("SaveLog: %v", err)
	}
	if err := store.SaveLog(context.Background(), entry); err == nil {
		t.Fatal("expected error from failing insert")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStoreStats(t *testing.T) {
	store, mock := newMockStore(t)
	since := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) AS total").
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"total", "approved"}).AddRow(20, 15))
	mock.ExpectQuery("unnest\\(reasons\\)").
		WithArgs(since, topReasonsLimit).
		WillReturnRows(sqlmock.NewRows([]string{"reason", "count"}).
			AddRow("inappropriate language", 3).
			AddRow("suspected spam", 2))

	st, err := store.Stats(context.Background(), since)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalChecked != 20 || st.Rejected != 5 || st.ApprovalRate != 75 {
		t.Errorf("stats = %+v", st)
	}
	if len(st.TopReasons) != 2 || st.TopReasons[0].Reason != "inappropriate language" || st.TopReasons[0].Count != 3 {
		t.Errorf("TopReasons = %+v", st.TopReasons)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStoreStatsError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT COUNT").WillReturnError(sql.ErrConnDone)

	if _, err := store.Stats(context.Background(), time.Now()); !errors.Is(err, sql.ErrConnDone) {
		t.Fatalf("error = %v, want wrapped ErrConnDone", err)
	}
}

func TestStoreDeleteBefore(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("DELETE FROM moderation_logs").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := store.DeleteBefore(context.Background(), cutoff)
	if err != nil || n != 42 {
		t.Fatalf("DeleteBefore = %d, %v", n, err)
	}
}

type memSaver struct {
	mu      sync.Mutex
	entries []Entry
	err     error
	started chan struct{}
	release chan struct{}
}

func (s *memSaver) SaveLog(_ context.Context, e Entry) error {
	if s.started != nil {
		s.started <- struct{}{}
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *memSaver) saved() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

func TestWriterRecordsDecision(t *testing.T) {
	saver := &memSaver{}
	w := NewWriter(saver, 8, nil)

	req := moderation.ModerationRequest{Text: "hi there", Type: moderation.ContentComment}
	res := moderation.ModerationResult{
		IsApproved:   false,
		Confidence:   0.6,
		Reasons:      []string{moderation.ReasonSuspectedSpam},
		ModerationID: "mod_1_a",
	}
	w.Record(req, res)
	w.Close()

	got := saver.saved()
	if len(got) != 1 {
		t.Fatalf("saved %d entries, want 1", len(got))
	}
	e := got[0]
	if e.ModerationID != "mod_1_a" || e.ContentType != "comment" || e.Text != "hi there" || e.IsApproved {
		t.Errorf("unexpected entry %+v", e)
	}
	if len(e.Reasons) != 1 || e.Reasons[0] != moderation.ReasonSuspectedSpam {
		t.Errorf("Reasons = %v", e.Reasons)
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestWriterDropsWhenFull(t *testing.T) {
	saver := &memSaver{started: make(chan struct{}), release: make(chan struct{})}
	w := NewWriter(saver, 1, nil)

	if !w.Enqueue(Entry{ModerationID: "1"}) {
		t.Fatal("first entry rejected")
	}
	<-saver.started // the drain goroutine now holds entry 1

	if !w.Enqueue(Entry{ModerationID: "2"}) {
		t.Fatal("second entry should fit in the buffer")
	}
	if w.Enqueue(Entry{ModerationID: "3"}) {
		t.Fatal("third entry should be dropped")
	}

	go func() {
		for range saver.started {
		}
	}()
	close(saver.release)
	w.Close()
	close(saver.started)

	if got := saver.saved(); len(got) != 2 {
		t.Fatalf("saved %d entries, want 2", len(got))
	}
	if w.Enqueue(Entry{ModerationID: "4"}) {
		t.Error("closed writer accepted an entry")
	}
}

func TestWriterCloseKeepsAcceptedEntries(t *testing.T) {
	for round := 0; round < 50; round++ {
		saver := &memSaver{}
		w := NewWriter(saver, 1024, nil)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 16; j++ {
					if w.Enqueue(Entry{ModerationID: "x"}) {
						mu.Lock()
						accepted++
						mu.Unlock()
					}
				}
			}()
		}
		w.Close()
		wg.Wait()

		if got := len(saver.saved()); got != accepted {
			t.Fatalf("round %d: saved %d entries, accepted %d", round, got, accepted)
		}
	}
}

func TestWriterSwallowsStoreErrors(t *testing.T) {
	saver := &memSaver{err: errors.New("db down")}
	w := NewWriter(saver, 4, nil)
	for i := 0; i < 3; i++ {
		w.Enqueue(Entry{ModerationID: "x"})
	}
	w.Close()
	if len(saver.saved()) != 0 {
		t.Error("nothing should have been stored")
	}
}

type fakeDeleter struct {
	cutoff time.Time
	n      int64
	err    error
}

func (d *fakeDeleter) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	d.cutoff = cutoff
	return d.n, d.err
}

func TestPurgerRun(t *testing.T) {
	del := &fakeDeleter{n: 9}
	p, err := NewPurger(del, 48*time.Hour, "@daily", nil)
	if err != nil {
		t.Fatalf("NewPurger: %v", err)
	}
	now := time.Date(2026, 6, 10, 3, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	n, err := p.Run(context.Background())
	if err != nil || n != 9 {
		t.Fatalf("Run = %d, %v", n, err)
	}
	if want := now.Add(-48 * time.Hour); !del.cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", del.cutoff, want)
	}

	del.err = errors.New("db down")
	if _, err := p.Run(context.Background()); err == nil {
		t.Error("expected error")
	}

	p.Start()
	p.Stop()
}

func TestNewPurgerValidation(t *testing.T) {
	if _, err := NewPurger(&fakeDeleter{}, 0, "@daily", nil); err == nil {
		t.Error("zero retention accepted")
	}
	if _, err := NewPurger(&fakeDeleter{}, time.Hour, "every tuesday", nil); err == nil {
		t.Error("bad schedule accepted")
	}
	if _, err := NewPurger(&fakeDeleter{}, time.Hour, "0 3 * * *", nil); err != nil {
		t.Errorf("five-field schedule rejected: %v", err)
	}
}
