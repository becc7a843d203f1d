package database

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type StagingRun struct {
	ID          pgtype.UUID
	WorkspaceID string
	BranchID    pgtype.Text
	Status      string
	Preserve    bool
	Tables      []byte
	Error       pgtype.Text
	ErrorCode   pgtype.Text
	IpAddress   pgtype.Text
	UserAgent   pgtype.Text
	StartedAt   pgtype.Timestamptz
	FinishedAt  pgtype.Timestamptz
}
