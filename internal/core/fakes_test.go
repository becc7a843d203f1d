package core

import (
	"context"
	"fmt"
	"sync"
)

// fakeStorage is an in-memory StorageClient.
type fakeStorage struct {
	mu sync.Mutex

	// branch id -> table ids present on that branch
	branchTables map[string]map[string]bool
	buckets      map[string][]MetadataEntry
	tables       map[string]TableMetadata

	metadataCalls map[string]int
	bucketCalls   map[string]int

	submitted   []submittedJob
	outcomes    map[JobKind]JobOutcome
	submitErr   map[JobKind]error
	pollErr     map[JobKind]error
	blockOnPoll map[JobKind]bool
	events      []string
}

type submittedJob struct {
	ID           string
	Kind         JobKind
	WorkspaceID  string
	Instructions []LoadInstruction
	Preserve     bool
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		branchTables:  make(map[string]map[string]bool),
		buckets:       make(map[string][]MetadataEntry),
		tables:        make(map[string]TableMetadata),
		metadataCalls: make(map[string]int),
		bucketCalls:   make(map[string]int),
		outcomes:      make(map[JobKind]JobOutcome),
		submitErr:     make(map[JobKind]error),
		pollErr:       make(map[JobKind]error),
		blockOnPoll:   make(map[JobKind]bool),
	}
}

func (f *fakeStorage) addBranchTable(branchID, tableID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.branchTables[branchID] == nil {
		f.branchTables[branchID] = make(map[string]bool)
	}
	f.branchTables[branchID][tableID] = true
}

func (f *fakeStorage) addTable(meta TableMetadata) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[meta.ID] = meta
}

func (f *fakeStorage) TableExistsOnBranch(_ context.Context, tableID, branchID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.branchTables[branchID][tableID], nil
}

func (f *fakeStorage) BucketMetadata(_ context.Context, bucketID string) ([]MetadataEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bucketCalls[bucketID]++
	entries, ok := f.buckets[bucketID]
	if !ok {
		return nil, ErrBucketNotFound
	}
	return entries, nil
}

func (f *fakeStorage) TableMetadata(_ context.Context, src PhysicalSource) (TableMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metadataCalls[src.TableID]++
	meta, ok := f.tables[src.TableID]
	if !ok {
		return TableMetadata{}, ErrTableNotFound
	}
	return meta, nil
}

func (f *fakeStorage) submit(kind JobKind, workspaceID string, instructions []LoadInstruction, preserve bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.submitErr[kind]; err != nil {
		return "", err
	}
	id := fmt.Sprintf("%s-%d", kind, len(f.submitted)+1)
	f.submitted = append(f.submitted, submittedJob{
		ID:           id,
		Kind:         kind,
		WorkspaceID:  workspaceID,
		Instructions: instructions,
		Preserve:     preserve,
	})
	f.events = append(f.events, "submit:"+string(kind))
	return id, nil
}

func (f *fakeStorage) SubmitCloneJob(_ context.Context, workspaceID string, instructions []LoadInstruction, preserve bool) (string, error) {
	return f.submit(JobKindClone, workspaceID, instructions, preserve)
}

func (f *fakeStorage) SubmitCopyJob(_ context.Context, workspaceID string, instructions []LoadInstruction, preserve bool) (string, error) {
	return f.submit(JobKindCopy, workspaceID, instructions, preserve)
}

func (f *fakeStorage) PollJob(ctx context.Context, jobID string) (JobOutcome, error) {
	f.mu.Lock()
	var kind JobKind
	for _, j := range f.submitted {
		if j.ID == jobID {
			kind = j.Kind
		}
	}
	block := f.blockOnPoll[kind]
	pollErr := f.pollErr[kind]
	outcome, ok := f.outcomes[kind]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return JobOutcome{}, ctx.Err()
	}
	if pollErr != nil {
		return JobOutcome{}, pollErr
	}

	f.mu.Lock()
	f.events = append(f.events, "done:"+string(kind))
	f.mu.Unlock()

	if !ok {
		outcome = JobOutcome{Status: JobSuccess}
	}
	return outcome, nil
}

func (f *fakeStorage) jobs() []submittedJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submittedJob(nil), f.submitted...)
}

// recordingManifests collects written manifests in order.
type recordingManifests struct {
	mu      sync.Mutex
	written []string
	err     error
}

func (r *recordingManifests) WriteManifest(_ context.Context, res StagingResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.written = append(r.written, res.Destination)
	return nil
}

func snowflakeTable(id string) TableMetadata {
	return TableMetadata{ID: id, Backend: BackendSnowflake, LastImportDate: "2024-05-01T10:00:00+0000"}
}

func bigqueryTable(id string) TableMetadata {
	return TableMetadata{ID: id, Backend: BackendBigQuery}
}

func productionBranch() BranchContext {
	return BranchContext{DefaultBranchID: "100", Mode: RealBranchStorage}
}

func devBranch(mode BranchStorageMode) BranchContext {
	return BranchContext{BranchID: "123", BranchName: "Dev 1", DefaultBranchID: "100", Mode: mode}
}
