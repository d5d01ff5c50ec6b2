package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/facility-review-core/internal/testutil"
)

func TestSQLiteRepository_CreateAndList(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := NewSQLiteRepository(db.DB)
	ctx := t.Context()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	entries := []*AuditLog{
		{Action: "approve", EntityType: "review", EntityID: "1", AdminID: 7, Source: "api", CreatedAt: base},
		{Action: "reject", EntityType: "review", EntityID: "2", AdminID: 7, Source: "api", CreatedAt: base.Add(time.Minute),
			Details: map[string]any{"comment": "blurry"}},
		{Action: "login", EntityType: "admin", EntityID: "8", AdminID: 8, Source: "api", CreatedAt: base.Add(2 * time.Minute)},
		{Action: "submit", EntityType: "review", EntityID: "3", Source: "contractor", CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, e := range entries {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if e.ID == "" {
			t.Fatal("Create() did not assign an ID")
		}
	}

	tests := []struct {
		name    string
		filter  Filter
		wantIDs []string
		total   int
	}{
		{"all newest first", Filter{}, []string{"3", "8", "2", "1"}, 4},
		{"by admin", Filter{AdminID: 7}, []string{"2", "1"}, 2},
		{"by action", Filter{Action: "login"}, []string{"8"}, 1},
		{"by entity", Filter{EntityType: "review", EntityID: "3"}, []string{"3"}, 1},
		{"paged", Filter{Limit: 2, Offset: 1}, []string{"8", "2"}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.total {
				t.Errorf("Total = %d, want %d", res.Total, tt.total)
			}
			if len(res.Logs) != len(tt.wantIDs) {
				t.Fatalf("got %d logs, want %d", len(res.Logs), len(tt.wantIDs))
			}
			for i, want := range tt.wantIDs {
				if res.Logs[i].EntityID != want {
					t.Errorf("Logs[%d].EntityID = %q, want %q", i, res.Logs[i].EntityID, want)
				}
			}
		})
	}

	res, err := repo.List(ctx, Filter{Action: "reject"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	got := res.Logs[0]
	if got.Details["comment"] != "blurry" {
		t.Errorf("Details = %v, want comment=blurry", got.Details)
	}
	if !got.CreatedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base.Add(time.Minute))
	}

	res, err = repo.List(ctx, Filter{Action: "submit"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Logs[0].AdminID != 0 {
		t.Errorf("AdminID = %d, want 0 for contractor entry", res.Logs[0].AdminID)
	}
}

type failingRepo struct {
	Repository
	calls chan *AuditLog
}

func (f *failingRepo) Create(_ context.Context, log *AuditLog) error {
	f.calls <- log
	return errors.New("disk full")
}

func TestRecorder_DrainsOnShutdown(t *testing.T) {
	db := testutil.OpenDB(t)
	repo := NewSQLiteRepository(db.DB)
	rec := NewRecorder(repo, 8, nil)

	for i := range 3 {
		rec.Record(&AuditLog{Action: "approve", EntityType: "review", EntityID: string(rune('a' + i)), Source: "api"})
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	rec.Run(ctx)

	select {
	case <-rec.Done():
	default:
		t.Fatal("Done() not closed after Run returned")
	}

	res, err := repo.List(t.Context(), Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 3 {
		t.Errorf("Total = %d, want 3", res.Total)
	}
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	repo := &failingRepo{calls: make(chan *AuditLog, 4)}
	rec := NewRecorder(repo, 1, nil)

	rec.Record(&AuditLog{Action: "first"})
	rec.Record(&AuditLog{Action: "second"})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	rec.Run(ctx)

	if n := len(repo.calls); n != 1 {
		t.Fatalf("repository saw %d entries, want 1", n)
	}
	if got := (<-repo.calls).Action; got != "first" {
		t.Errorf("written entry = %q, want first", got)
	}
}

func TestRecorder_NilSafe(t *testing.T) {
	var rec *Recorder
	rec.Record(&AuditLog{Action: "noop"})
}
