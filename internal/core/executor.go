package core

// executor.go turns a LoadPlan into remote batch jobs.
//
// The clone batch always runs to completion before the copy batch is
// submitted. The storage service does not lock between its "table exists"
// check and table creation, so overlapping clone and copy jobs on one
// workspace fail nondeterministically with "table already exists".
//
// State machine:
//
//	Idle -> CloneInFlight -> ClonedOrFailed -> CopyInFlight -> Done
//
// A failed clone batch fails every table of the plan and no copy batch is
// submitted. A copy batch reports per-table outcomes; tables that finished
// before a sibling failed stay succeeded and nothing is rolled back. A copy
// job that ends in error is always returned as a JobFailedError, even when
// each of its items reported success.

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/keboola/platform-libraries-sub003/internal/logging"
)

// JobRunner submits batch jobs and waits for them. PollJob blocks until the
// job is terminal or ctx ends; transport retries are its own concern.
type JobRunner interface {
	SubmitCloneJob(ctx context.Context, workspaceID string, instructions []LoadInstruction, preserve bool) (string, error)
	SubmitCopyJob(ctx context.Context, workspaceID string, instructions []LoadInstruction, preserve bool) (string, error)
	PollJob(ctx context.Context, jobID string) (JobOutcome, error)
}

// ExecutorState is the position of an execution in its state machine.
type ExecutorState string

const (
	StateIdle           ExecutorState = "idle"
	StateCloneInFlight  ExecutorState = "clone_in_flight"
	StateClonedOrFailed ExecutorState = "cloned_or_failed"
	StateCopyInFlight   ExecutorState = "copy_in_flight"
	StateDone           ExecutorState = "done"
)

// Execution is the outcome of Executor.Execute.
type Execution struct {
	Queue   *LoadQueue
	Results []StagingResult
	State   ExecutorState
}

// Executor runs load plans. It holds no per-plan state.
type Executor struct {
	runner JobRunner
}

// NewExecutor creates an Executor submitting jobs through runner.
func NewExecutor(runner JobRunner) *Executor {
	return &Executor{runner: runner}
}

// Execute stages plan into workspaceID. timeout bounds the total wait for
// remote jobs; zero means wait as long as ctx allows.
//
// The returned Execution is never nil and holds one result per instruction
// in input order, even when an error is returned.
func (e *Executor) Execute(ctx context.Context, workspaceID string, plan *LoadPlan, timeout time.Duration) (*Execution, error) {
	exec := &Execution{Queue: &LoadQueue{}, State: StateIdle}
	results := make(map[int]StagingResult, plan.Len())
	finish := func() *Execution {
		exec.Results = orderedResults(results)
		exec.State = StateDone
		return exec
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	logger := logging.FromContext(ctx)
	cloneGroup := plan.CloneInstructions()
	copyGroup := plan.CopyInstructions()
	cloned := false

	if len(cloneGroup) > 0 {
		exec.State = StateCloneInFlight
		job, err := e.runJob(ctx, waitCtx, exec.Queue, workspaceID, JobKindClone, cloneGroup, plan.Preserve(), timeout)
		exec.State = StateClonedOrFailed

		if err == nil && job.Outcome.Status != JobSuccess {
			err = &JobFailedError{
				JobID:   job.ID,
				Kind:    JobKindClone,
				Tables:  sourcesOf(plan.Instructions()),
				Message: job.Outcome.Message,
			}
		}
		if err != nil {
			jobID := ""
			if job != nil {
				jobID = job.ID
			}
			logger.Error("clone job failed, skipping copy job", "job_id", jobID, "error", err)
			for _, in := range cloneGroup {
				results[in.Index] = failedResult(in, jobID, err.Error())
			}
			for _, in := range copyGroup {
				results[in.Index] = failedResult(in, "", "not staged: "+err.Error())
			}
			return finish(), err
		}

		cloned = true
		for _, in := range cloneGroup {
			results[in.Index] = succeededResult(in, job.ID)
		}
	}

	if len(copyGroup) > 0 {
		// A clone batch that ran without preserve already cleaned the
		// workspace; the copy batch must not wipe what it cloned.
		preserve := plan.Preserve() || cloned

		exec.State = StateCopyInFlight
		job, err := e.runJob(ctx, waitCtx, exec.Queue, workspaceID, JobKindCopy, copyGroup, preserve, timeout)
		if err != nil {
			jobID := ""
			if job != nil {
				jobID = job.ID
			}
			for _, in := range copyGroup {
				results[in.Index] = failedResult(in, jobID, err.Error())
			}
			return finish(), err
		}

		var failed []string
		message := job.Outcome.Message
		for _, in := range copyGroup {
			ok, msg := copyTableOutcome(job, in)
			if ok {
				results[in.Index] = succeededResult(in, job.ID)
				continue
			}
			if message == "" {
				message = msg
			}
			failed = append(failed, in.Source)
			results[in.Index] = failedResult(in, job.ID, msg)
		}
		if len(failed) == 0 && job.Outcome.Status != JobSuccess {
			// Every item reported success but the job itself failed.
			failed = sourcesOf(copyGroup)
			if message == "" {
				message = "copy job failed"
			}
		}
		if len(failed) > 0 {
			logger.Error("copy job finished with failures", "job_id", job.ID, "status", string(job.Outcome.Status), "failed_tables", failed)
			return finish(), &JobFailedError{
				JobID:   job.ID,
				Kind:    JobKindCopy,
				Tables:  failed,
				Message: message,
			}
		}
	}

	return finish(), nil
}

// runJob submits one batch and blocks until it is terminal. It returns an
// error only when the job could not be submitted or awaited; a job that
// ended in failure is returned with its outcome.
func (e *Executor) runJob(ctx, waitCtx context.Context, queue *LoadQueue, workspaceID string, kind JobKind, instructions []LoadInstruction, preserve bool, timeout time.Duration) (*LoadJob, error) {
	logger := logging.FromContext(ctx)
	job := &LoadJob{Kind: kind, Instructions: instructions}

	var err error
	if kind == JobKindClone {
		job.ID, err = e.runner.SubmitCloneJob(ctx, workspaceID, instructions, preserve)
	} else {
		job.ID, err = e.runner.SubmitCopyJob(ctx, workspaceID, instructions, preserve)
	}
	if err != nil {
		return nil, &JobFailedError{
			Kind:    kind,
			Tables:  job.Tables(),
			Message: fmt.Sprintf("submit: %v", err),
			Err:     err,
		}
	}
	job.SubmittedAt = time.Now()
	queue.add(job)

	logger.Info("load job submitted",
		"job_id", job.ID,
		"kind", string(kind),
		"workspace_id", workspaceID,
		"tables", len(instructions),
		"preserve", preserve,
	)

	outcome, err := e.runner.PollJob(waitCtx, job.ID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return job, &StagingTimeoutError{
				JobID:   job.ID,
				Kind:    kind,
				Tables:  job.Tables(),
				Timeout: timeout,
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return job, fmt.Errorf("wait for %s job %s: %w", kind, job.ID, ctxErr)
		}
		return job, &JobFailedError{
			JobID:   job.ID,
			Kind:    kind,
			Tables:  job.Tables(),
			Message: fmt.Sprintf("poll: %v", err),
			Err:     err,
		}
	}
	if !outcome.Status.Terminal() {
		return job, &JobFailedError{
			JobID:   job.ID,
			Kind:    kind,
			Tables:  job.Tables(),
			Message: fmt.Sprintf("job returned in non-terminal status %q", outcome.Status),
		}
	}

	job.Outcome = outcome
	job.FinishedAt = time.Now()
	logger.Info("load job finished",
		"job_id", job.ID,
		"kind", string(kind),
		"status", string(outcome.Status),
		"duration_ms", job.FinishedAt.Sub(job.SubmittedAt).Milliseconds(),
	)
	return job, nil
}

// copyTableOutcome reads the per-table result of a copy job, falling back to
// the job status when the service reported no item for the table.
func copyTableOutcome(job *LoadJob, in LoadInstruction) (bool, string) {
	if item, ok := job.tableResult(in.Destination); ok {
		return item.Succeeded, item.Message
	}
	if job.Outcome.Status == JobSuccess {
		return true, ""
	}
	msg := job.Outcome.Message
	if msg == "" {
		msg = "copy job failed"
	}
	return false, msg
}

func succeededResult(in LoadInstruction, jobID string) StagingResult {
	return StagingResult{
		Source:      in.Source,
		Physical:    in.Physical,
		Destination: in.Destination,
		Method:      in.Method,
		JobID:       jobID,
		Succeeded:   true,
		Metadata:    in.Metadata,
	}
}

func failedResult(in LoadInstruction, jobID, msg string) StagingResult {
	res := succeededResult(in, jobID)
	res.Succeeded = false
	res.Error = msg
	return res
}

func orderedResults(byIndex map[int]StagingResult) []StagingResult {
	idx := make([]int, 0, len(byIndex))
	for i := range byIndex {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]StagingResult, len(idx))
	for n, i := range idx {
		out[n] = byIndex[i]
	}
	return out
}

func sourcesOf(instructions []LoadInstruction) []string {
	out := make([]string, len(instructions))
	for i, in := range instructions {
		out[i] = in.Source
	}
	return out
}
