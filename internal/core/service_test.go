package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestService(storage *fakeStorage, manifests ManifestWriter, history HistoryStore) *Service {
	return NewService(storage, manifests, history, Options{ProjectID: "1", MaxConcurrent: 2, MaxWait: time.Second})
}

func TestPlanAndExecute_StagesAndWritesManifests(t *testing.T) {
	storage := newFakeStorage()
	storage.addTable(snowflakeTable("in.c-sales.orders"))
	storage.addTable(snowflakeTable("in.c-sales.customers"))
	storage.addTable(snowflakeTable("in.c-dev-1-sales.customers"))
	storage.addBranchTable("100", "in.c-dev-1-sales.customers")

	manifests := &recordingManifests{}
	history := NewMemoryHistory()
	svc := newTestService(storage, manifests, history)

	ctx := ContextWithRequester(context.Background(), Requester{IPAddress: "10.0.0.1", UserAgent: "test"})
	report, err := svc.PlanAndExecute(ctx, StagingRequest{
		Tables: []TableRef{
			{Source: "in.c-sales.orders", Options: ExportOptions{Overwrite: true}},
			{Source: "in.c-sales.customers", Destination: "cust", Options: ExportOptions{Limit: 10}},
		},
		Branch:           devBranch(EmulatedBranchStorage),
		WorkspaceID:      "ws-1",
		WorkspaceBackend: BackendSnowflake,
	})
	if err != nil {
		t.Fatalf("PlanAndExecute() error = %v", err)
	}

	if report.RunID == "" {
		t.Error("RunID is empty")
	}
	if report.Cloned != 1 || report.Copied != 1 || report.Viewed != 0 {
		t.Errorf("counts = %d/%d/%d, want 1 cloned 1 copied", report.Cloned, report.Copied, report.Viewed)
	}
	if got := report.Results[1].Physical.TableID; got != "in.c-dev-1-sales.customers" {
		t.Errorf("Physical = %q, want emulated branch table", got)
	}
	if len(manifests.written) != 2 || manifests.written[0] != "orders" || manifests.written[1] != "cust" {
		t.Errorf("manifests = %v, want [orders cust]", manifests.written)
	}
	if len(report.InputState) != 2 {
		t.Errorf("InputState = %+v, want two entries", report.InputState)
	}

	run, err := svc.GetRun(context.Background(), report.RunID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != RunSucceeded || len(run.Tables) != 2 {
		t.Errorf("run = %+v, want succeeded with 2 tables", run)
	}
	if run.IPAddress != "10.0.0.1" || run.BranchID != "123" {
		t.Errorf("run requester/branch = %q/%q", run.IPAddress, run.BranchID)
	}
}

func TestPlanAndExecute_ConfigurationErrorSubmitsNothing(t *testing.T) {
	storage := newFakeStorage()
	storage.buckets["in.c-dev"] = []MetadataEntry{{Key: MetadataKeyCreatedByBranch, Value: "123"}}
	storage.addTable(snowflakeTable("in.c-dev.t"))

	history := NewMemoryHistory()
	svc := newTestService(storage, &recordingManifests{}, history)

	report, err := svc.PlanAndExecute(context.Background(), StagingRequest{
		Tables:           []TableRef{{Source: "in.c-dev.t"}},
		Branch:           productionBranch(),
		WorkspaceID:      "ws-1",
		WorkspaceBackend: BackendSnowflake,
	})
	var target *RestrictedBucketAccessError
	if !errors.As(err, &target) {
		t.Fatalf("PlanAndExecute() error = %v, want RestrictedBucketAccessError", err)
	}
	if len(storage.jobs()) != 0 {
		t.Errorf("submitted %d jobs, want none", len(storage.jobs()))
	}

	run, err := svc.GetRun(context.Background(), report.RunID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != RunFailed || run.ErrorCode != "CFG002" {
		t.Errorf("run status/code = %s/%s, want failed/CFG002", run.Status, run.ErrorCode)
	}
}

func TestPlanAndExecute_AdaptiveUsesStoredState(t *testing.T) {
	storage := newFakeStorage()
	storage.addTable(snowflakeTable("in.c-a.t"))
	svc := newTestService(storage, nil, nil)

	_, err := svc.PlanAndExecute(context.Background(), StagingRequest{
		Tables:           []TableRef{{Source: "in.c-a.t", Options: ExportOptions{ChangedSince: ChangedSinceAdaptive}}},
		Branch:           productionBranch(),
		WorkspaceID:      "ws",
		WorkspaceBackend: BackendSnowflake,
		InputState:       InputTableStateList{{Source: "in.c-a.t", LastImportDate: "2024-01-01T00:00:00+0000"}},
	})
	if err != nil {
		t.Fatalf("PlanAndExecute() error = %v", err)
	}
	jobs := storage.jobs()
	if len(jobs) != 1 || jobs[0].Kind != JobKindCopy {
		t.Fatalf("jobs = %+v, want one copy job", jobs)
	}
	if got := jobs[0].Instructions[0].Options.ChangedSince; got != "2024-01-01T00:00:00+0000" {
		t.Errorf("ChangedSince = %q, want stored import date", got)
	}
}

func TestPlanAndExecute_RequestValidation(t *testing.T) {
	svc := newTestService(newFakeStorage(), nil, nil)

	if _, err := svc.PlanAndExecute(context.Background(), StagingRequest{WorkspaceID: "ws"}); !errors.Is(err, ErrNoTables) {
		t.Errorf("error = %v, want ErrNoTables", err)
	}
	_, err := svc.PlanAndExecute(context.Background(), StagingRequest{Tables: []TableRef{{Source: "in.c-a.t"}}})
	if !errors.Is(err, ErrWorkspaceRequired) {
		t.Errorf("error = %v, want ErrWorkspaceRequired", err)
	}
}

func TestPlanAndExecute_JobFailureReturnsReport(t *testing.T) {
	storage := newFakeStorage()
	storage.addTable(snowflakeTable("in.c-a.t"))
	storage.outcomes[JobKindClone] = JobOutcome{Status: JobError, Message: "boom"}
	manifests := &recordingManifests{}
	svc := newTestService(storage, manifests, nil)

	report, err := svc.PlanAndExecute(context.Background(), StagingRequest{
		Tables:           []TableRef{{Source: "in.c-a.t"}},
		Branch:           productionBranch(),
		WorkspaceID:      "ws",
		WorkspaceBackend: BackendSnowflake,
	})
	var target *JobFailedError
	if !errors.As(err, &target) {
		t.Fatalf("error = %v, want JobFailedError", err)
	}
	if report == nil || len(report.Failed()) != 1 {
		t.Fatalf("report = %+v, want one failed result", report)
	}
	if len(manifests.written) != 0 {
		t.Errorf("manifests = %v, want none for failed tables", manifests.written)
	}
}

func TestResolveSource(t *testing.T) {
	storage := newFakeStorage()
	storage.addBranchTable("123", "in.c-a.t")
	svc := newTestService(storage, nil, nil)

	got, err := svc.ResolveSource(context.Background(), TableRef{Source: "in.c-a.t"}, devBranch(RealBranchStorage))
	if err != nil {
		t.Fatalf("ResolveSource() error = %v", err)
	}
	if got.BranchID != "123" {
		t.Errorf("BranchID = %q, want 123", got.BranchID)
	}
}

func TestStartHistoryPurgeScheduler(t *testing.T) {
	history := NewMemoryHistory()
	old := time.Now().Add(-48 * time.Hour)
	_ = history.StartRun(context.Background(), RunRecord{ID: "old", Status: RunSucceeded, StartedAt: old})
	_ = history.StartRun(context.Background(), RunRecord{ID: "new", Status: RunSucceeded, StartedAt: time.Now()})

	svc := newTestService(newFakeStorage(), nil, history)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.StartHistoryPurgeScheduler(ctx, PurgeConfig{Retention: 24 * time.Hour, CheckInterval: time.Hour})
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := history.GetRun(context.Background(), "old"); errors.Is(err, ErrRunNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("old run was not purged")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if _, err := history.GetRun(context.Background(), "new"); err != nil {
		t.Errorf("recent run purged: %v", err)
	}
}
