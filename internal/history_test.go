package internal

import (
	"context"
	"testing"
	"time"
)

func newTestHistory(t *testing.T) *HistoryStore {
	t.Helper()
	db, err := OpenDatabase(":memory:")
	if err != nil {
		t.Fatalf("OpenDatabase() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewHistoryStore(db)
}

func TestHistoryStore_RecordAndList(t *testing.T) {
	ctx := context.Background()
	h := newTestHistory(t)

	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	first := CreateTestReconstruction("mon-a")
	first.ID = "rec-1"
	second := CreateTestReconstruction("mon-b")
	second.ID = "rec-2"
	third := CreateTestReconstruction("mon-a")
	third.ID = "rec-3"

	for _, rec := range []*Reconstruction{first, second, third} {
		if err := h.Record(ctx, rec, map[int]string{1: "/out/step_1.jpg"}); err != nil {
			t.Fatalf("Record(%s) error = %v", rec.ID, err)
		}
	}

	all, err := h.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List() returned %d entries, want 3", len(all))
	}
	if all[0].ID != "rec-3" || all[2].ID != "rec-1" {
		t.Errorf("List() order = %s, %s, %s; want newest first", all[0].ID, all[1].ID, all[2].ID)
	}

	e := all[0]
	if e.MonitorID != "mon-a" || e.GroupingKey != "check-group-1" {
		t.Errorf("entry identity = %+v", e)
	}
	if e.StepCount != 3 || e.FailedCount != 1 {
		t.Errorf("StepCount/FailedCount = %d/%d, want 3/1", e.StepCount, e.FailedCount)
	}
	if e.DurationMicros != 12_400_000 {
		t.Errorf("DurationMicros = %d", e.DurationMicros)
	}
	if !e.StartedAt.Equal(first.Run.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", e.StartedAt, first.Run.StartedAt)
	}
	if e.Elapsed != 850*time.Millisecond {
		t.Errorf("Elapsed = %v, want 850ms", e.Elapsed)
	}

	filtered, err := h.List(ctx, "mon-b", 10)
	if err != nil {
		t.Fatalf("List(mon-b) error = %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != "rec-2" {
		t.Errorf("List(mon-b) = %+v, want rec-2 only", filtered)
	}

	limited, err := h.List(ctx, "", 2)
	if err != nil {
		t.Fatalf("List(limit 2) error = %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("List(limit 2) returned %d entries", len(limited))
	}
}

func TestHistoryStore_Steps(t *testing.T) {
	ctx := context.Background()
	h := newTestHistory(t)

	rec := CreateTestReconstruction("mon-a")
	if err := h.Record(ctx, rec, map[int]string{1: "/out/step_1.jpg", 4: "/out/step_4.jpg"}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	steps, err := h.Steps(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Steps() error = %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("Steps() returned %d, want 3", len(steps))
	}

	if steps[0].StepIndex != 1 || steps[0].Status != "ok" || steps[0].OutputPath != "/out/step_1.jpg" {
		t.Errorf("steps[0] = %+v", steps[0])
	}
	if steps[0].Width != 1280 || steps[0].Height != 720 || steps[0].SizeBytes != 4 {
		t.Errorf("steps[0] dimensions = %+v", steps[0])
	}
	if steps[1].StepIndex != 2 || steps[1].Status != "missing_tile_payload" || steps[1].Error == "" {
		t.Errorf("steps[1] = %+v", steps[1])
	}
	if steps[2].StepIndex != 4 {
		t.Errorf("steps[2].StepIndex = %d, want 4", steps[2].StepIndex)
	}
}

func TestHistoryStore_DuplicateID(t *testing.T) {
	ctx := context.Background()
	h := newTestHistory(t)
	rec := CreateTestReconstruction("mon-a")

	if err := h.Record(ctx, rec, nil); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := h.Record(ctx, rec, nil); err == nil {
		t.Error("recording the same id twice should fail")
	}

	entries, err := h.List(ctx, "", 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("failed Record should roll back, got %d entries", len(entries))
	}
}
