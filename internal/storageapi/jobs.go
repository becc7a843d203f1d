package storageapi

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/keboola/platform-libraries-sub003/internal/core"
	"github.com/keboola/platform-libraries-sub003/internal/logging"
)

var _ core.StorageClient = (*Client)(nil)

// loadInput is one table of a workspace load request.
type loadInput struct {
	Source         string   `json:"source"`
	SourceBranchID string   `json:"sourceBranchId,omitempty"`
	Destination    string   `json:"destination"`
	UseView        bool     `json:"useView,omitempty"`
	Overwrite      bool     `json:"overwrite,omitempty"`
	Columns        []string `json:"columns,omitempty"`
	WhereColumn    string   `json:"whereColumn,omitempty"`
	WhereValues    []string `json:"whereValues,omitempty"`
	WhereOperator  string   `json:"whereOperator,omitempty"`
	ChangedSince   string   `json:"changedSince,omitempty"`
	Rows           int      `json:"rows,omitempty"`
}

type loadRequest struct {
	Input    []loadInput `json:"input"`
	Preserve bool        `json:"preserve"`
}

type jobJSON struct {
	ID      flexibleID `json:"id"`
	Status  string     `json:"status"`
	Results *struct {
		Tables []struct {
			Destination string `json:"destination"`
			Status      string `json:"status"`
			Message     string `json:"message"`
		} `json:"tables"`
	} `json:"results"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (j jobJSON) outcome() core.JobOutcome {
	out := core.JobOutcome{Status: core.JobStatus(j.Status)}
	if j.Error != nil {
		out.Message = j.Error.Message
	}
	if j.Results != nil {
		for _, t := range j.Results.Tables {
			out.Tables = append(out.Tables, core.TableJobResult{
				Destination: t.Destination,
				Succeeded:   t.Status != string(core.JobError),
				Message:     t.Message,
			})
		}
	}
	return out
}

func cloneInputs(instructions []core.LoadInstruction) []loadInput {
	out := make([]loadInput, len(instructions))
	for i, in := range instructions {
		out[i] = loadInput{
			Source:         in.Physical.TableID,
			SourceBranchID: in.Physical.BranchID,
			Destination:    in.Destination,
			Overwrite:      in.Options.Overwrite,
		}
	}
	return out
}

func copyInputs(instructions []core.LoadInstruction) []loadInput {
	out := make([]loadInput, len(instructions))
	for i, in := range instructions {
		out[i] = loadInput{
			Source:         in.Physical.TableID,
			SourceBranchID: in.Physical.BranchID,
			Destination:    in.Destination,
			UseView:        in.UseView(),
			Overwrite:      in.Options.Overwrite,
			Columns:        in.Options.Columns,
			WhereColumn:    in.Options.WhereColumn,
			WhereValues:    in.Options.WhereValues,
			WhereOperator:  in.Options.WhereOperator,
			ChangedSince:   in.Options.ChangedSince,
			Rows:           in.Options.Limit,
		}
	}
	return out
}

// SubmitCloneJob starts a workspace load-clone job.
func (c *Client) SubmitCloneJob(ctx context.Context, workspaceID string, instructions []core.LoadInstruction, preserve bool) (string, error) {
	return c.submit(ctx, "v2/storage/workspaces/"+url.PathEscape(workspaceID)+"/load-clone",
		loadRequest{Input: cloneInputs(instructions), Preserve: preserve})
}

// SubmitCopyJob starts a workspace load job. Instructions with the view
// method are sent with useView.
func (c *Client) SubmitCopyJob(ctx context.Context, workspaceID string, instructions []core.LoadInstruction, preserve bool) (string, error) {
	return c.submit(ctx, "v2/storage/workspaces/"+url.PathEscape(workspaceID)+"/load",
		loadRequest{Input: copyInputs(instructions), Preserve: preserve})
}

func (c *Client) submit(ctx context.Context, path string, req loadRequest) (string, error) {
	var job jobJSON
	if err := c.postSubmission(ctx, path, req, &job); err != nil {
		return "", err
	}
	if job.ID == "" {
		return "", fmt.Errorf("POST %s: response has no job id", path)
	}
	return string(job.ID), nil
}

// PollJob waits until the job is terminal or ctx ends. The poll interval
// doubles up to MaxPollInterval.
func (c *Client) PollJob(ctx context.Context, jobID string) (core.JobOutcome, error) {
	logger := logging.FromContext(ctx)
	interval := c.cfg.PollInterval

	for {
		var job jobJSON
		if err := c.get(ctx, "v2/storage/jobs/"+url.PathEscape(jobID), nil, &job); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return core.JobOutcome{}, ctxErr
			}
			return core.JobOutcome{}, fmt.Errorf("get job %s: %w", jobID, err)
		}

		outcome := job.outcome()
		if outcome.Status.Terminal() {
			return outcome, nil
		}
		logger.Debug("waiting for job", "job_id", jobID, "status", job.Status, "next_poll", interval.String())

		select {
		case <-ctx.Done():
			return core.JobOutcome{}, ctx.Err()
		case <-time.After(interval):
		}
		interval *= 2
		if interval > c.cfg.MaxPollInterval {
			interval = c.cfg.MaxPollInterval
		}
	}
}
