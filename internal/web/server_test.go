package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/keboola/platform-libraries-sub003/internal/config"
	"github.com/keboola/platform-libraries-sub003/internal/core"
)

// fakeStorage serves table metadata from a map and finishes every job successfully.
type fakeStorage struct {
	mu         sync.Mutex
	tables     map[string]core.TableMetadata
	onBranch   map[string]bool
	submitted  []core.JobKind
	jobStatus  core.JobStatus
	jobMessage string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		tables: map[string]core.TableMetadata{
			"in.c-sales.orders": {
				ID:      "in.c-sales.orders",
				Name:    "orders",
				Backend: core.BackendSnowflake,
				Columns: []string{"id", "amount"},
			},
		},
		onBranch:  map[string]bool{},
		jobStatus: core.JobSuccess,
	}
}

func (f *fakeStorage) TableExistsOnBranch(_ context.Context, tableID, branchID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onBranch[branchID+"/"+tableID], nil
}

func (f *fakeStorage) BucketMetadata(context.Context, string) ([]core.MetadataEntry, error) {
	return nil, nil
}

func (f *fakeStorage) TableMetadata(_ context.Context, src core.PhysicalSource) (core.TableMetadata, error) {
	meta, ok := f.tables[src.TableID]
	if !ok {
		return core.TableMetadata{}, fmt.Errorf("table %s: %w", src.TableID, core.ErrTableNotFound)
	}
	return meta, nil
}

func (f *fakeStorage) SubmitCloneJob(context.Context, string, []core.LoadInstruction, bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, core.JobKindClone)
	return "job-clone", nil
}

func (f *fakeStorage) SubmitCopyJob(context.Context, string, []core.LoadInstruction, bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, core.JobKindCopy)
	return "job-copy", nil
}

func (f *fakeStorage) PollJob(context.Context, string) (core.JobOutcome, error) {
	return core.JobOutcome{Status: f.jobStatus, Message: f.jobMessage}, nil
}

func newTestServer(t *testing.T, storage *fakeStorage, sec config.SecurityConfig) *Server {
	t.Helper()
	svc := core.NewService(storage, nil, nil, core.Options{MaxConcurrent: 2, MaxWait: time.Second})
	return NewServer(svc, ServerOptions{
		Defaults: Defaults{
			Branch:  core.BranchContext{DefaultBranchID: "100", Mode: core.RealBranchStorage},
			Backend: core.BackendSnowflake,
			Timeout: time.Minute,
		},
		Security: sec,
	})
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleStage_Clone(t *testing.T) {
	storage := newFakeStorage()
	s := newTestServer(t, storage, config.SecurityConfig{})

	rec := do(t, s, http.MethodPost, "/api/stage", `{
		"workspaceId": "ws-1",
		"tables": [{"source": "in.c-sales.orders", "options": {"overwrite": true}}]
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var report core.StagingReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Cloned != 1 || len(report.Results) != 1 {
		t.Fatalf("report = %+v", report)
	}
	if got := report.Results[0]; got.Method != core.MethodClone || got.Destination != "orders" || !got.Succeeded {
		t.Errorf("result = %+v", got)
	}
	if len(storage.submitted) != 1 || storage.submitted[0] != core.JobKindClone {
		t.Errorf("submitted = %v, want one clone job", storage.submitted)
	}

	// The run is recorded and visible through the runs API.
	rec = do(t, s, http.MethodGet, "/api/runs/"+report.RunID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get run status = %d", rec.Code)
	}
	var run core.RunRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.Status != core.RunSucceeded || run.WorkspaceID != "ws-1" {
		t.Errorf("run = %+v", run)
	}
}

func TestHandleStage_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		status   int
		wantCode string
	}{
		{"malformed json", `{`, http.StatusBadRequest, "REQ001"},
		{"unknown field", `{"workspace": "ws-1"}`, http.StatusBadRequest, "REQ001"},
		{"bad timeout", `{"workspaceId": "ws-1", "timeout": "soon", "tables": [{"source": "in.c-sales.orders"}]}`, http.StatusBadRequest, "REQ001"},
		{"no tables", `{"workspaceId": "ws-1", "tables": []}`, http.StatusBadRequest, "CFG005"},
		{"no workspace", `{"tables": [{"source": "in.c-sales.orders"}]}`, http.StatusBadRequest, "CFG006"},
		{"invalid source", `{"workspaceId": "ws-1", "tables": [{"source": "orders"}]}`, http.StatusBadRequest, "CFG001"},
		{"escaping destination", `{"workspaceId": "ws-1", "tables": [{"source": "in.c-sales.orders", "destination": "../escaped"}]}`, http.StatusBadRequest, "CFG007"},
		{"missing table", `{"workspaceId": "ws-1", "tables": [{"source": "in.c-sales.missing"}]}`, http.StatusNotFound, "STO001"},
		{"incompatible bigquery load", `{"workspaceId": "ws-1", "workspaceBackend": "bigquery", "tables": [{"source": "in.c-sales.orders"}]}`, http.StatusUnprocessableEntity, "CFG003"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, newFakeStorage(), config.SecurityConfig{})
			rec := do(t, s, http.MethodPost, "/api/stage", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d, body = %s", rec.Code, tt.status, rec.Body.String())
			}
			var resp ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode error response: %v", err)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestHandleStage_JobFailureIncludesReport(t *testing.T) {
	storage := newFakeStorage()
	storage.jobStatus = core.JobError
	storage.jobMessage = "warehouse unavailable"
	s := newTestServer(t, storage, config.SecurityConfig{})

	rec := do(t, s, http.MethodPost, "/api/stage", `{
		"workspaceId": "ws-1",
		"tables": [{"source": "in.c-sales.orders"}]
	}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != "JOB001" {
		t.Errorf("code = %q, want JOB001", resp.Code)
	}
	if resp.Report == nil || len(resp.Report.Results) != 1 || resp.Report.Results[0].Succeeded {
		t.Errorf("report = %+v", resp.Report)
	}
}

func TestHandleResolve(t *testing.T) {
	storage := newFakeStorage()
	storage.onBranch["123/in.c-sales.orders"] = true
	s := newTestServer(t, storage, config.SecurityConfig{})

	tests := []struct {
		name       string
		body       string
		wantBranch string
		wantReason core.SourceReason
	}{
		{"production", `{"source": "in.c-sales.orders"}`, "100", core.ReasonProduction},
		{"dev branch has table", `{"source": "in.c-sales.orders", "branch": {"branchId": "123"}}`, "123", core.ReasonBranch},
		{"dev branch falls back", `{"source": "in.c-sales.other", "branch": {"branchId": "123"}}`, "100", core.ReasonFallback},
		{"explicit source branch", `{"source": "in.c-sales.orders", "sourceBranchId": "555"}`, "555", core.ReasonOverride},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/resolve", tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
			}
			var resp resolveResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Physical.BranchID != tt.wantBranch || resp.Physical.Reason != tt.wantReason {
				t.Errorf("physical = %+v", resp.Physical)
			}
		})
	}
}

func TestHandleResolve_EmulatedNeedsBranchName(t *testing.T) {
	s := newTestServer(t, newFakeStorage(), config.SecurityConfig{})
	rec := do(t, s, http.MethodPost, "/api/resolve", `{"source": "in.c-sales.orders", "branch": {"branchId": "123", "mode": "emulated"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleGetRun_NotFound(t *testing.T) {
	s := newTestServer(t, newFakeStorage(), config.SecurityConfig{})
	rec := do(t, s, http.MethodGet, "/api/runs/does-not-exist", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleListRuns_Empty(t *testing.T) {
	s := newTestServer(t, newFakeStorage(), config.SecurityConfig{})
	rec := do(t, s, http.MethodGet, "/api/runs?limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"runs":[]}` {
		t.Errorf("body = %s", got)
	}
}

func TestHandleStatus(t *testing.T) {
	s := newTestServer(t, newFakeStorage(), config.SecurityConfig{})
	rec := do(t, s, http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Limiter core.StagingLimiterStatus `json:"limiter"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Limiter.MaxConcurrent != 2 || resp.Limiter.Available != 2 {
		t.Errorf("limiter = %+v", resp.Limiter)
	}
}

func TestDashboard(t *testing.T) {
	s := newTestServer(t, newFakeStorage(), config.SecurityConfig{})
	do(t, s, http.MethodPost, "/api/stage", `{"workspaceId": "ws-dash", "tables": [{"source": "in.c-sales.orders"}]}`)

	rec := do(t, s, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Content-Type"), "text/html") {
		t.Errorf("content type = %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "ws-dash") {
		t.Error("dashboard should list the recorded run")
	}
}

func TestAPIRequiresKey(t *testing.T) {
	s := newTestServer(t, newFakeStorage(), config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret"}})

	if rec := do(t, s, http.MethodGet, "/api/status", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("without key status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with key status = %d, want 200", rec.Code)
	}

	if rec := do(t, s, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200 without key", rec.Code)
	}
}

func TestIPRateLimiter(t *testing.T) {
	rl := newIPRateLimiter(2)
	defer rl.stop()

	if !rl.allow("1.1.1.1") || !rl.allow("1.1.1.1") {
		t.Fatal("burst requests should pass")
	}
	if rl.allow("1.1.1.1") {
		t.Error("third request should be limited")
	}
	if !rl.allow("2.2.2.2") {
		t.Error("other IPs have their own bucket")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrTooManyStagingRequests, http.StatusTooManyRequests},
		{core.ErrRunNotFound, http.StatusNotFound},
		{&core.StagingTimeoutError{JobID: "1"}, http.StatusGatewayTimeout},
		{&core.RestrictedBucketAccessError{BucketID: "in.c-dev"}, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: x", errBadRequest), http.StatusBadRequest},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
