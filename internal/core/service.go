package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/keboola/platform-libraries-sub003/internal/logging"
)

// DefaultStagingTimeout bounds the wait for remote jobs when a request sets none.
var DefaultStagingTimeout = 15 * time.Minute

// StorageClient is everything the service needs from the storage service.
type StorageClient interface {
	BranchInspector
	BucketInspector
	MetadataReader
	JobRunner
}

// ManifestWriter persists the manifest of one staged table.
type ManifestWriter interface {
	WriteManifest(ctx context.Context, result StagingResult) error
}

// Options tunes a Service. Zero values use the package defaults.
type Options struct {
	MetadataConcurrency int
	MaxConcurrent       int
	MaxWait             time.Duration
	DefaultTimeout      time.Duration
	ProjectID           string
}

// Service provides staging resolution and load planning for any frontend.
type Service struct {
	resolver  *Resolver
	validator *BucketValidator
	builder   *PlanBuilder
	executor  *Executor
	manifests ManifestWriter
	history   HistoryStore

	limiter        *StagingLimiter
	workspaces     *workspaceLocks
	defaultTimeout time.Duration
	projectID      string
}

// NewService wires a Service. manifests and history may be nil.
func NewService(storage StorageClient, manifests ManifestWriter, history HistoryStore, opts Options) *Service {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultStagingTimeout
	}
	if history == nil {
		history = NewMemoryHistory()
	}
	return &Service{
		resolver:       NewResolver(storage),
		validator:      NewBucketValidator(storage),
		builder:        NewPlanBuilder(storage, opts.MetadataConcurrency),
		executor:       NewExecutor(storage),
		manifests:      manifests,
		history:        history,
		limiter:        NewStagingLimiter(opts.MaxConcurrent, opts.MaxWait),
		workspaces:     newWorkspaceLocks(),
		defaultTimeout: opts.DefaultTimeout,
		projectID:      opts.ProjectID,
	}
}

// ResolveSource resolves a single table reference without staging it.
func (s *Service) ResolveSource(ctx context.Context, ref TableRef, bc BranchContext) (PhysicalSource, error) {
	return s.resolver.Resolve(ctx, ref, bc)
}

// PlanAndExecute resolves, validates, plans and stages the requested tables
// into the workspace. On a job failure the report is returned together with
// the error so callers can see which tables made it.
func (s *Service) PlanAndExecute(ctx context.Context, req StagingRequest) (*StagingReport, error) {
	if len(req.Tables) == 0 {
		return nil, ErrNoTables
	}
	if req.WorkspaceID == "" {
		return nil, ErrWorkspaceRequired
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	runID := uuid.New().String()
	ctx = logging.ContextWithRunID(ctx, runID)
	logger := logging.FromContext(ctx)

	unlock, err := s.workspaces.lock(ctx, req.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("wait for workspace %s: %w", req.WorkspaceID, err)
	}
	defer unlock()

	start := time.Now()
	requester := RequesterFromContext(ctx)
	run := RunRecord{
		ID:          runID,
		WorkspaceID: req.WorkspaceID,
		BranchID:    req.Branch.EffectiveBranchID(),
		Status:      RunRunning,
		Preserve:    req.Preserve,
		IPAddress:   requester.IPAddress,
		UserAgent:   requester.UserAgent,
		StartedAt:   start,
	}
	if err := s.history.StartRun(ctx, run); err != nil {
		logger.Warn("failed to record staging run start", "error", err)
	}

	logger.Info("staging started",
		"workspace_id", req.WorkspaceID,
		"branch_id", run.BranchID,
		"tables", len(req.Tables),
		"preserve", req.Preserve,
	)

	report, err := s.stage(ctx, runID, req)
	report.Duration = time.Since(start)

	run.Tables = runTablesFromResults(report.Results)
	run.FinishedAt = time.Now()
	run.Status = RunSucceeded
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
		run.ErrorCode = MapError(err).Code
	}
	// The request context may already be done; history still gets the outcome.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if ferr := s.history.FinishRun(finishCtx, run); ferr != nil {
		logger.Warn("failed to record staging run result", "error", ferr)
	}

	if err != nil {
		logger.Error("staging failed",
			"error", err,
			"error_code", run.ErrorCode,
			"duration_ms", report.Duration.Milliseconds(),
		)
		return report, err
	}
	logger.Info("staging completed",
		"cloned", report.Cloned,
		"copied", report.Copied,
		"viewed", report.Viewed,
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}

// stage runs the pipeline. The returned report is never nil.
func (s *Service) stage(ctx context.Context, runID string, req StagingRequest) (*StagingReport, error) {
	report := &StagingReport{RunID: runID, InputState: req.InputState}

	if err := s.validator.Validate(ctx, req.Tables, req.Branch); err != nil {
		return report, err
	}

	refs := make([]TableRef, len(req.Tables))
	for i, ref := range req.Tables {
		refs[i] = resolveAdaptive(ref, req.InputState)
	}

	resolved, err := s.resolver.ResolveAll(ctx, refs, req.Branch)
	if err != nil {
		return report, err
	}

	plan, err := s.builder.Build(ctx, resolved, PlanTarget{Backend: req.WorkspaceBackend, ProjectID: s.projectID}, req.Preserve)
	if err != nil {
		return report, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	exec, execErr := s.executor.Execute(ctx, req.WorkspaceID, plan, timeout)
	report.Results = exec.Results

	for _, res := range exec.Results {
		if !res.Succeeded {
			continue
		}
		switch res.Method {
		case MethodClone:
			report.Cloned++
		case MethodView:
			report.Viewed++
		default:
			report.Copied++
		}
	}

	if err := s.writeManifests(ctx, exec.Results); err != nil {
		return report, errors.Join(execErr, err)
	}
	report.InputState = stateFromResults(req.InputState, exec.Results)
	return report, execErr
}

// writeManifests emits manifests for succeeded tables in input order.
func (s *Service) writeManifests(ctx context.Context, results []StagingResult) error {
	if s.manifests == nil {
		return nil
	}
	for _, res := range results {
		if !res.Succeeded {
			continue
		}
		if err := s.manifests.WriteManifest(ctx, res); err != nil {
			return fmt.Errorf("write manifest for %s: %w", res.Destination, err)
		}
	}
	return nil
}

// GetRun returns a recorded staging run.
func (s *Service) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	return s.history.GetRun(ctx, id)
}

// ListRuns returns recorded runs, newest first.
func (s *Service) ListRuns(ctx context.Context, filter RunFilter) ([]RunRecord, error) {
	return s.history.ListRuns(ctx, filter)
}

// LimiterStatus returns the current concurrency limiter state.
func (s *Service) LimiterStatus() StagingLimiterStatus {
	return s.limiter.Status()
}

// WaitForDrain blocks until in-flight staging requests finish or ctx ends.
func (s *Service) WaitForDrain(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
