package core

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrRunNotFound is returned by a HistoryStore for unknown run ids.
var ErrRunNotFound = errors.New("staging run not found")

// RunStatus is the lifecycle state of a recorded staging run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RunTable is the recorded outcome of one table in a run.
type RunTable struct {
	Source         string     `json:"source"`
	PhysicalSource string     `json:"physicalSource"`
	SourceBranchID string     `json:"sourceBranchId,omitempty"`
	Destination    string     `json:"destination"`
	Method         LoadMethod `json:"method"`
	JobID          string     `json:"jobId,omitempty"`
	Succeeded      bool       `json:"succeeded"`
	Error          string     `json:"error,omitempty"`
}

// RunRecord is one staging request as kept in history.
type RunRecord struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspaceId"`
	BranchID    string     `json:"branchId,omitempty"`
	Status      RunStatus  `json:"status"`
	Preserve    bool       `json:"preserve"`
	Tables      []RunTable `json:"tables"`
	Error       string     `json:"error,omitempty"`
	ErrorCode   string     `json:"errorCode,omitempty"`
	IPAddress   string     `json:"ipAddress,omitempty"`
	UserAgent   string     `json:"userAgent,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	FinishedAt  time.Time  `json:"finishedAt,omitempty"`
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	WorkspaceID string
	Status      RunStatus
	Limit       int
	Offset      int
}

// HistoryStore persists staging runs.
type HistoryStore interface {
	StartRun(ctx context.Context, run RunRecord) error
	FinishRun(ctx context.Context, run RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error)
	PurgeRuns(ctx context.Context, olderThan time.Time) (int64, error)
}

func runTablesFromResults(results []StagingResult) []RunTable {
	tables := make([]RunTable, len(results))
	for i, r := range results {
		tables[i] = RunTable{
			Source:         r.Source,
			PhysicalSource: r.Physical.TableID,
			SourceBranchID: r.Physical.BranchID,
			Destination:    r.Destination,
			Method:         r.Method,
			JobID:          r.JobID,
			Succeeded:      r.Succeeded,
			Error:          r.Error,
		}
	}
	return tables
}

// MemoryHistory is an in-process HistoryStore used by the CLI and tests.
type MemoryHistory struct {
	mu   sync.RWMutex
	runs map[string]RunRecord
}

// NewMemoryHistory creates an empty MemoryHistory.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{runs: make(map[string]RunRecord)}
}

func (h *MemoryHistory) StartRun(_ context.Context, run RunRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs[run.ID] = cloneRun(run)
	return nil
}

func (h *MemoryHistory) FinishRun(_ context.Context, run RunRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.runs[run.ID]; !ok {
		return ErrRunNotFound
	}
	h.runs[run.ID] = cloneRun(run)
	return nil
}

func (h *MemoryHistory) GetRun(_ context.Context, id string) (*RunRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	run, ok := h.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	out := cloneRun(run)
	return &out, nil
}

func (h *MemoryHistory) ListRuns(_ context.Context, filter RunFilter) ([]RunRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []RunRecord
	for _, run := range h.runs {
		if filter.WorkspaceID != "" && run.WorkspaceID != filter.WorkspaceID {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		out = append(out, cloneRun(run))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (h *MemoryHistory) PurgeRuns(_ context.Context, olderThan time.Time) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var n int64
	for id, run := range h.runs {
		if run.Status != RunRunning && run.StartedAt.Before(olderThan) {
			delete(h.runs, id)
			n++
		}
	}
	return n, nil
}

func cloneRun(run RunRecord) RunRecord {
	out := run
	out.Tables = append([]RunTable(nil), run.Tables...)
	return out
}
