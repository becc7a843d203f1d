package database

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/keboola/platform-libraries-sub003/internal/core"
)

//go:embed schema.sql
var schemaSQL string

// DefaultListLimit caps ListRuns when the filter sets no limit.
const DefaultListLimit = 50

// Migrate creates the history tables if they do not exist.
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply history schema: %w", err)
	}
	return nil
}

// HistoryStore is a core.HistoryStore backed by Postgres.
type HistoryStore struct {
	db DBTX
}

// NewHistoryStore creates a HistoryStore over db.
func NewHistoryStore(db DBTX) *HistoryStore {
	return &HistoryStore{db: db}
}

func (s *HistoryStore) StartRun(ctx context.Context, run core.RunRecord) error {
	id, err := parseRunID(run.ID)
	if err != nil {
		return err
	}
	tables, err := encodeTables(run.Tables)
	if err != nil {
		return err
	}
	return New(s.db).InsertStagingRun(ctx, InsertStagingRunParams{
		ID:          id,
		WorkspaceID: run.WorkspaceID,
		BranchID:    text(run.BranchID),
		Status:      string(run.Status),
		Preserve:    run.Preserve,
		Tables:      tables,
		IpAddress:   text(run.IPAddress),
		UserAgent:   text(run.UserAgent),
		StartedAt:   timestamptz(run.StartedAt),
	})
}

func (s *HistoryStore) FinishRun(ctx context.Context, run core.RunRecord) error {
	id, err := parseRunID(run.ID)
	if err != nil {
		return err
	}
	tables, err := encodeTables(run.Tables)
	if err != nil {
		return err
	}
	n, err := New(s.db).FinishStagingRun(ctx, FinishStagingRunParams{
		ID:         id,
		Status:     string(run.Status),
		Tables:     tables,
		Error:      text(run.Error),
		ErrorCode:  text(run.ErrorCode),
		FinishedAt: timestamptz(run.FinishedAt),
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrRunNotFound
	}
	return nil
}

func (s *HistoryStore) GetRun(ctx context.Context, id string) (*core.RunRecord, error) {
	pgID, err := parseRunID(id)
	if err != nil {
		return nil, core.ErrRunNotFound
	}
	row, err := New(s.db).GetStagingRun(ctx, pgID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	run, err := toRunRecord(row)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *HistoryStore) ListRuns(ctx context.Context, filter core.RunFilter) ([]core.RunRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := New(s.db).ListStagingRuns(ctx, ListStagingRunsParams{
		WorkspaceID: filter.WorkspaceID,
		Status:      string(filter.Status),
		Limit:       int32(limit),
		Offset:      int32(max(filter.Offset, 0)),
	})
	if err != nil {
		return nil, err
	}
	out := make([]core.RunRecord, 0, len(rows))
	for _, row := range rows {
		run, err := toRunRecord(row)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

func (s *HistoryStore) PurgeRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	return New(s.db).PurgeStagingRuns(ctx, timestamptz(olderThan))
}

func toRunRecord(row StagingRun) (core.RunRecord, error) {
	run := core.RunRecord{
		ID:          uuid.UUID(row.ID.Bytes).String(),
		WorkspaceID: row.WorkspaceID,
		BranchID:    row.BranchID.String,
		Status:      core.RunStatus(row.Status),
		Preserve:    row.Preserve,
		Error:       row.Error.String,
		ErrorCode:   row.ErrorCode.String,
		IPAddress:   row.IpAddress.String,
		UserAgent:   row.UserAgent.String,
		StartedAt:   row.StartedAt.Time,
	}
	if row.FinishedAt.Valid {
		run.FinishedAt = row.FinishedAt.Time
	}
	if len(row.Tables) > 0 {
		if err := json.Unmarshal(row.Tables, &run.Tables); err != nil {
			return core.RunRecord{}, fmt.Errorf("decode tables of run %s: %w", run.ID, err)
		}
	}
	return run, nil
}

func parseRunID(id string) (pgtype.UUID, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return pgtype.UUID{}, fmt.Errorf("invalid run id %q: %w", id, err)
	}
	return pgtype.UUID{Bytes: u, Valid: true}, nil
}

func encodeTables(tables []core.RunTable) ([]byte, error) {
	if tables == nil {
		tables = []core.RunTable{}
	}
	data, err := json.Marshal(tables)
	if err != nil {
		return nil, fmt.Errorf("encode run tables: %w", err)
	}
	return data, nil
}

func text(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func timestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}
