package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const insertStagingRun = `-- name: InsertStagingRun :exec
INSERT INTO staging_runs (
    id, workspace_id, branch_id, status, preserve, tables, ip_address, user_agent, started_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

type InsertStagingRunParams struct {
	ID          pgtype.UUID
	WorkspaceID string
	BranchID    pgtype.Text
	Status      string
	Preserve    bool
	Tables      []byte
	IpAddress   pgtype.Text
	UserAgent   pgtype.Text
	StartedAt   pgtype.Timestamptz
}

func (q *Queries) InsertStagingRun(ctx context.Context, arg InsertStagingRunParams) error {
	_, err := q.db.Exec(ctx, insertStagingRun,
		arg.ID,
		arg.WorkspaceID,
		arg.BranchID,
		arg.Status,
		arg.Preserve,
		arg.Tables,
		arg.IpAddress,
		arg.UserAgent,
		arg.StartedAt,
	)
	return err
}

const finishStagingRun = `-- name: FinishStagingRun :execrows
UPDATE staging_runs
SET status = $2, tables = $3, error = $4, error_code = $5, finished_at = $6
WHERE id = $1
`

type FinishStagingRunParams struct {
	ID         pgtype.UUID
	Status     string
	Tables     []byte
	Error      pgtype.Text
	ErrorCode  pgtype.Text
	FinishedAt pgtype.Timestamptz
}

func (q *Queries) FinishStagingRun(ctx context.Context, arg FinishStagingRunParams) (int64, error) {
	result, err := q.db.Exec(ctx, finishStagingRun,
		arg.ID,
		arg.Status,
		arg.Tables,
		arg.Error,
		arg.ErrorCode,
		arg.FinishedAt,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const stagingRunColumns = `id, workspace_id, branch_id, status, preserve, tables, error, error_code, ip_address, user_agent, started_at, finished_at`

const getStagingRun = `-- name: GetStagingRun :one
SELECT ` + stagingRunColumns + `
FROM staging_runs
WHERE id = $1
`

func (q *Queries) GetStagingRun(ctx context.Context, id pgtype.UUID) (StagingRun, error) {
	row := q.db.QueryRow(ctx, getStagingRun, id)
	var i StagingRun
	err := row.Scan(
		&i.ID,
		&i.WorkspaceID,
		&i.BranchID,
		&i.Status,
		&i.Preserve,
		&i.Tables,
		&i.Error,
		&i.ErrorCode,
		&i.IpAddress,
		&i.UserAgent,
		&i.StartedAt,
		&i.FinishedAt,
	)
	return i, err
}

const listStagingRuns = `-- name: ListStagingRuns :many
SELECT ` + stagingRunColumns + `
FROM staging_runs
WHERE ($1::text = '' OR workspace_id = $1)
  AND ($2::text = '' OR status = $2)
ORDER BY started_at DESC
LIMIT $3 OFFSET $4
`

type ListStagingRunsParams struct {
	WorkspaceID string
	Status      string
	Limit       int32
	Offset      int32
}

func (q *Queries) ListStagingRuns(ctx context.Context, arg ListStagingRunsParams) ([]StagingRun, error) {
	rows, err := q.db.Query(ctx, listStagingRuns,
		arg.WorkspaceID,
		arg.Status,
		arg.Limit,
		arg.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []StagingRun
	for rows.Next() {
		var i StagingRun
		if err := rows.Scan(
			&i.ID,
			&i.WorkspaceID,
			&i.BranchID,
			&i.Status,
			&i.Preserve,
			&i.Tables,
			&i.Error,
			&i.ErrorCode,
			&i.IpAddress,
			&i.UserAgent,
			&i.StartedAt,
			&i.FinishedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const purgeStagingRuns = `-- name: PurgeStagingRuns :execrows
DELETE FROM staging_runs
WHERE status <> 'running' AND started_at < $1
`

func (q *Queries) PurgeStagingRuns(ctx context.Context, olderThan pgtype.Timestamptz) (int64, error) {
	result, err := q.db.Exec(ctx, purgeStagingRuns, olderThan)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
