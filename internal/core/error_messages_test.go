package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{name: "nil error returns empty", err: nil, wantCode: ""},
		{name: "invalid source", err: &InvalidSourceFormatError{Source: "in.c-sales"}, wantCode: "CFG001"},
		{
			name:     "restricted bucket wrapped",
			err:      fmt.Errorf("validate: %w", &RestrictedBucketAccessError{BucketID: "in.c-dev", BranchID: "42"}),
			wantCode: "CFG002",
		},
		{name: "incompatible load", err: &IncompatibleLoadRequestError{Table: "in.c-a.t", Rule: "backend"}, wantCode: "CFG003"},
		{name: "invalid options", err: &InvalidExportOptionsError{Table: "in.c-a.t", Reason: "limit"}, wantCode: "CFG004"},
		{name: "no tables", err: ErrNoTables, wantCode: "CFG005"},
		{name: "no workspace", err: ErrWorkspaceRequired, wantCode: "CFG006"},
		{name: "invalid destination", err: &InvalidDestinationError{Destination: "a", Sources: []string{"in.c-x.a", "in.c-y.a"}}, wantCode: "CFG007"},
		{name: "table not found", err: fmt.Errorf("fetch: %w", ErrTableNotFound), wantCode: "STO001"},
		{name: "bucket not found pattern", err: errors.New("Bucket not found: in.c-x"), wantCode: "STO002"},
		{name: "job failed", err: &JobFailedError{JobID: "1", Kind: JobKindCopy}, wantCode: "JOB001"},
		{
			// StagingTimeoutError unwraps to DeadlineExceeded; the specific code wins.
			name:     "staging timeout",
			err:      &StagingTimeoutError{JobID: "1", Kind: JobKindClone, Timeout: time.Second},
			wantCode: "JOB002",
		},
		{name: "busy", err: ErrTooManyStagingRequests, wantCode: "SVC001"},
		{name: "run not found", err: ErrRunNotFound, wantCode: "SVC002"},
		{name: "cancelled", err: context.Canceled, wantCode: "SVC003"},
		{name: "deadline", err: fmt.Errorf("wait: %w", context.DeadlineExceeded), wantCode: "SVC004"},
		{name: "rate limit pattern", err: errors.New("storage api: rate limit exceeded"), wantCode: "SVC005"},
		{name: "unknown error", err: errors.New("something odd"), wantCode: "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError().Code = %q, want %q", got.Code, tt.wantCode)
			}
			if tt.err != nil && (got.Message == "" || got.Action == "") {
				t.Errorf("MapError() = %+v, want message and action", got)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(ErrNoTables)
	want := "No tables to stage (Code: CFG005). Add at least one table to the request"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("random"), false},
		{&JobFailedError{JobID: "9"}, true},
		{ErrTooManyStagingRequests, true},
	}
	for _, tt := range tests {
		if got := IsUserFacing(tt.err); got != tt.want {
			t.Errorf("IsUserFacing(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
