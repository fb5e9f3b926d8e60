package audit

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(SQLiteConfig{Path: filepath.Join(t.TempDir(), "audit.db")})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_RecordAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	entries := []*Entry{
		{SessionID: "s1", Turn: 1, Action: "read", Category: "workflow", Decision: "allow", Trust: 10, Time: base},
		{SessionID: "s1", Turn: 2, Action: "edit", Category: "workflow", Decision: "deny", Trust: 10,
			Reason: "[mutation-requires-hypothesis] gather evidence", RuleIDs: []string{"verification-stale", "mutation-requires-hypothesis"},
			Snapshot: json.RawMessage(`{"trust":10}`), Duration: 1500 * time.Microsecond, Time: base.Add(time.Minute)},
		{SessionID: "s2", Turn: 1, Action: "bash", Category: "safety", Decision: "deny", EngineError: "engine failure during session",
			Time: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
		if e.ID == "" {
			t.Error("Record() did not assign an id")
		}
	}

	tests := []struct {
		name    string
		query   Query
		wantIDs []string
	}{
		{"all newest first", Query{}, []string{entries[2].ID, entries[1].ID, entries[0].ID}},
		{"by session", Query{SessionID: "s1"}, []string{entries[1].ID, entries[0].ID}},
		{"by decision", Query{Decision: "deny"}, []string{entries[2].ID, entries[1].ID}},
		{"by rule", Query{RuleID: "mutation-requires-hypothesis"}, []string{entries[1].ID}},
		{"rule id is matched whole", Query{RuleID: "mutation"}, nil},
		{"time window", Query{Since: base.Add(30 * time.Second), Until: base.Add(90 * time.Second)}, []string{entries[1].ID}},
		{"limit", Query{Limit: 1}, []string{entries[2].ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Query(ctx, tt.query)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("Query() returned %d entries, want %d", len(got), len(tt.wantIDs))
			}
			for i, e := range got {
				if e.ID != tt.wantIDs[i] {
					t.Errorf("entry %d = %s, want %s", i, e.ID, tt.wantIDs[i])
				}
			}
		})
	}

	got, err := s.Query(ctx, Query{RuleID: "verification-stale"})
	if err != nil || len(got) != 1 {
		t.Fatalf("Query() = %v, %v", got, err)
	}
	e := got[0]
	if e.Reason != entries[1].Reason || e.Duration != 1500*time.Microsecond || !e.Time.Equal(entries[1].Time) {
		t.Errorf("round trip mismatch: %+v", e)
	}
	if string(e.Snapshot) != `{"trust":10}` || len(e.RuleIDs) != 2 {
		t.Errorf("snapshot %s rules %v", e.Snapshot, e.RuleIDs)
	}

	n, err := s.Count(ctx, Query{Decision: "deny"})
	if err != nil || n != 2 {
		t.Errorf("Count() = %d, %v; want 2", n, err)
	}
}

func TestSQLiteStore_Prune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		if err := s.Record(ctx, &Entry{SessionID: "s1", Action: "read", Decision: "allow", Time: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatal(err)
		}
	}
	removed, err := s.Prune(ctx, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("Prune() removed %d, want 2", removed)
	}
	if n, _ := s.Count(ctx, Query{}); n != 3 {
		t.Errorf("remaining = %d, want 3", n)
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(SQLiteConfig{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Record(ctx, &Entry{SessionID: "s1", Action: "read", Decision: "allow"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	s, err = NewSQLiteStore(SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()
	if n, _ := s.Count(ctx, Query{}); n != 1 {
		t.Errorf("entries after reopen = %d, want 1", n)
	}
}

func TestNewSQLiteStore_EmptyPath(t *testing.T) {
	if _, err := NewSQLiteStore(SQLiteConfig{}); err == nil {
		t.Error("NewSQLiteStore() accepted an empty path")
	}
}
