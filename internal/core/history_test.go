package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryHistory(t *testing.T) {
	h := NewMemoryHistory()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, ws := range []string{"ws-1", "ws-2", "ws-1"} {
		run := RunRecord{
			ID:          string(rune('a' + i)),
			WorkspaceID: ws,
			Status:      RunRunning,
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := h.StartRun(ctx, run); err != nil {
			t.Fatalf("StartRun() error = %v", err)
		}
	}

	if err := h.FinishRun(ctx, RunRecord{ID: "a", WorkspaceID: "ws-1", Status: RunFailed, StartedAt: base}); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}
	if err := h.FinishRun(ctx, RunRecord{ID: "zzz"}); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("FinishRun(unknown) error = %v, want ErrRunNotFound", err)
	}

	runs, _ := h.ListRuns(ctx, RunFilter{WorkspaceID: "ws-1"})
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "a" {
		t.Errorf("ListRuns(ws-1) = %+v, want [c a] newest first", runs)
	}

	runs, _ = h.ListRuns(ctx, RunFilter{Status: RunFailed})
	if len(runs) != 1 || runs[0].ID != "a" {
		t.Errorf("ListRuns(failed) = %+v, want [a]", runs)
	}

	runs, _ = h.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
	if len(runs) != 1 || runs[0].ID != "b" {
		t.Errorf("ListRuns(limit 1 offset 1) = %+v, want [b]", runs)
	}

	n, _ := h.PurgeRuns(ctx, base.Add(time.Hour))
	if n != 1 {
		t.Errorf("PurgeRuns() = %d, want 1 (running runs are kept)", n)
	}
	if _, err := h.GetRun(ctx, "a"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun(a) error = %v, want ErrRunNotFound", err)
	}
}

func TestStateFromResults(t *testing.T) {
	previous := InputTableStateList{
		{Source: "in.c-a.old", LastImportDate: "2023"},
		{Source: "in.c-a.t", LastImportDate: "2023"},
	}
	results := []StagingResult{
		{Source: "in.c-a.t", Succeeded: true, Metadata: TableMetadata{LastImportDate: "2024"}},
		{Source: "in.c-a.failed", Succeeded: false, Metadata: TableMetadata{LastImportDate: "2024"}},
	}

	next := stateFromResults(previous, results)
	if len(next) != 2 {
		t.Fatalf("stateFromResults() = %+v, want 2 entries", next)
	}
	if st, _ := next.Get("in.c-a.t"); st.LastImportDate != "2024" {
		t.Errorf("state for t = %q, want 2024", st.LastImportDate)
	}
	if _, ok := next.Get("in.c-a.old"); !ok {
		t.Error("previous state for untouched table was dropped")
	}
	if _, ok := next.Get("in.c-a.failed"); ok {
		t.Error("failed table must not update state")
	}
}

func TestResolveAdaptive(t *testing.T) {
	ref := TableRef{Source: "in.c-a.t", Options: ExportOptions{ChangedSince: ChangedSinceAdaptive}}

	if got := resolveAdaptive(ref, nil).Options.ChangedSince; got != "" {
		t.Errorf("without state ChangedSince = %q, want full load", got)
	}
	states := InputTableStateList{{Source: "in.c-a.t", LastImportDate: "2024-02-02"}}
	if got := resolveAdaptive(ref, states).Options.ChangedSince; got != "2024-02-02" {
		t.Errorf("with state ChangedSince = %q, want 2024-02-02", got)
	}
	fixed := TableRef{Source: "in.c-a.t", Options: ExportOptions{ChangedSince: "-1 day"}}
	if got := resolveAdaptive(fixed, states).Options.ChangedSince; got != "-1 day" {
		t.Errorf("fixed ChangedSince = %q, want unchanged", got)
	}
}
