package journal

import (
	"testing"
	"time"
)

func init() {
	timeNow = func() time.Time {
		return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	}
}

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// --- Sync runs ---

func TestRecordSyncRun_RoundTrip(t *testing.T) {
	s := testStore(t)

	run := SyncRun{
		ID:            "run-1",
		DurationMS:    420,
		Success:       true,
		FailureCount:  1,
		ConflictCount: 2,
		Detail:        `{"degraded":["git"]}`,
	}
	if err := s.RecordSyncRun(run); err != nil {
		t.Fatalf("RecordSyncRun: %v", err)
	}

	runs, err := s.RecentSyncRuns(5)
	if err != nil {
		t.Fatalf("RecentSyncRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	got := runs[0]
	if got.ID != "run-1" || !got.Success || got.FailureCount != 1 || got.ConflictCount != 2 {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if got.StartedAt == "" {
		t.Error("StartedAt should be defaulted")
	}
}

func TestRecentSyncRuns_NewestFirst(t *testing.T) {
	s := testStore(t)

	for i, ts := range []string{"2026-03-01T09:00:00Z", "2026-03-01T09:30:00Z", "2026-03-01T09:15:00Z"} {
		run := SyncRun{ID: string(rune('a' + i)), StartedAt: ts, Success: true}
		if err := s.RecordSyncRun(run); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.RecentSyncRuns(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	if runs[0].ID != "b" || runs[1].ID != "c" {
		t.Errorf("order = %s,%s want b,c", runs[0].ID, runs[1].ID)
	}
}

// --- LastFullSync ---

func TestLastFullSync_NoneRecorded(t *testing.T) {
	s := testStore(t)

	_, ok, err := s.LastFullSync()
	if err != nil {
		t.Fatalf("LastFullSync: %v", err)
	}
	if ok {
		t.Error("ok should be false with no runs")
	}
}

func TestLastFullSync_IgnoresPartialRuns(t *testing.T) {
	s := testStore(t)

	_ = s.RecordSyncRun(SyncRun{ID: "full", StartedAt: "2026-03-01T08:00:00Z", Success: true})
	_ = s.RecordSyncRun(SyncRun{ID: "partial", StartedAt: "2026-03-01T09:00:00Z", Success: true, FailureCount: 2})
	_ = s.RecordSyncRun(SyncRun{ID: "failed", StartedAt: "2026-03-01T09:30:00Z", Success: false})

	got, ok, err := s.LastFullSync()
	if err != nil {
		t.Fatalf("LastFullSync: %v", err)
	}
	if !ok {
		t.Fatal("ok should be true")
	}
	want := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("LastFullSync = %v, want %v", got, want)
	}
}

// --- Snapshots ---

func TestRecordSnapshot_RoundTrip(t *testing.T) {
	s := testStore(t)

	snap := Snapshot{Status: "degraded", ErrorCount: 2, AvgResponseMS: 12.5}
	if err := s.RecordSnapshot(snap); err != nil {
		t.Fatalf("RecordSnapshot: %v", err)
	}

	snaps, err := s.RecentSnapshots(5)
	if err != nil {
		t.Fatalf("RecentSnapshots: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(snaps))
	}
	got := snaps[0]
	if got.Status != "degraded" || got.ErrorCount != 2 || got.AvgResponseMS != 12.5 {
		t.Errorf("round-trip mismatch: %+v", got)
	}
}

// --- Stats ---

func TestStats(t *testing.T) {
	s := testStore(t)

	_ = s.RecordSyncRun(SyncRun{ID: "a", StartedAt: "2026-03-01T08:00:00Z", Success: true})
	_ = s.RecordSyncRun(SyncRun{ID: "b", StartedAt: "2026-03-01T09:00:00Z", Success: false})
	_ = s.RecordSnapshot(Snapshot{Status: "healthy"})

	st, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalSyncRuns != 2 {
		t.Errorf("TotalSyncRuns = %d, want 2", st.TotalSyncRuns)
	}
	if st.FailedSyncRuns != 1 {
		t.Errorf("FailedSyncRuns = %d, want 1", st.FailedSyncRuns)
	}
	if st.TotalSnapshots != 1 {
		t.Errorf("TotalSnapshots = %d, want 1", st.TotalSnapshots)
	}
	if st.LastSyncAt != "2026-03-01T09:00:00Z" {
		t.Errorf("LastSyncAt = %s", st.LastSyncAt)
	}
}
