package core

// errors.go defines the error taxonomy of the staging engine.
//
// Configuration errors are detected before any remote job is submitted and
// abort the whole request. Job failures and timeouts are reported after
// submission and always name the tables they affected.

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTableNotFound is returned by storage collaborators when a table does not exist.
	ErrTableNotFound = errors.New("table not found")

	// ErrBucketNotFound is returned by storage collaborators when a bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrNoTables is returned when a staging request names no tables.
	ErrNoTables = errors.New("no tables to stage")

	// ErrWorkspaceRequired is returned when a staging request has no workspace id.
	ErrWorkspaceRequired = errors.New("workspace id is required")
)

// InvalidSourceFormatError reports a table id that is not stage.bucket.table.
type InvalidSourceFormatError struct {
	Source string
}

func (e *InvalidSourceFormatError) Error() string {
	return fmt.Sprintf("invalid source table %q: expected stage.bucket.table", e.Source)
}

// RestrictedBucketAccessError reports a production run that references a
// bucket owned by a development branch.
type RestrictedBucketAccessError struct {
	BucketID string
	BranchID string
	Tables   []string
}

func (e *RestrictedBucketAccessError) Error() string {
	return fmt.Sprintf("cannot use development bucket %q (branch %s) in a production run: tables %s",
		e.BucketID, e.BranchID, strings.Join(e.Tables, ", "))
}

// IncompatibleLoadRequestError reports a table that cannot be loaded into
// the target workspace with the requested options.
type IncompatibleLoadRequestError struct {
	Table  string
	Rule   string
	Reason string
}

func (e *IncompatibleLoadRequestError) Error() string {
	return fmt.Sprintf("table %s cannot be loaded (%s): %s", e.Table, e.Rule, e.Reason)
}

// InvalidExportOptionsError reports malformed export options on a table.
type InvalidExportOptionsError struct {
	Table  string
	Reason string
}

func (e *InvalidExportOptionsError) Error() string {
	return fmt.Sprintf("invalid options for table %s: %s", e.Table, e.Reason)
}

// InvalidDestinationError reports a workspace table name that is unusable
// or claimed by more than one source.
type InvalidDestinationError struct {
	Destination string
	Sources     []string
	Reason      string
}

func (e *InvalidDestinationError) Error() string {
	return fmt.Sprintf("invalid destination %q for tables %s: %s",
		e.Destination, strings.Join(e.Sources, ", "), e.Reason)
}

// JobFailedError reports a remote batch job that ended in failure.
type JobFailedError struct {
	JobID   string
	Kind    JobKind
	Tables  []string
	Message string
	Err     error
}

func (e *JobFailedError) Error() string {
	id := e.JobID
	if id == "" {
		id = "(not submitted)"
	}
	return fmt.Sprintf("%s job %s failed for tables %s: %s", e.Kind, id, strings.Join(e.Tables, ", "), e.Message)
}

func (e *JobFailedError) Unwrap() error {
	return e.Err
}

// StagingTimeoutError reports that waiting for a remote job exceeded the
// caller's timeout. The job may still complete server-side.
type StagingTimeoutError struct {
	JobID   string
	Kind    JobKind
	Tables  []string
	Timeout time.Duration
}

func (e *StagingTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s job %s (tables %s)",
		e.Timeout, e.Kind, e.JobID, strings.Join(e.Tables, ", "))
}

// Unwrap lets errors.Is match context.DeadlineExceeded.
func (e *StagingTimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// IsConfigurationError reports whether err was raised before any job was submitted
// because of the request itself. Such errors must not be retried.
func IsConfigurationError(err error) bool {
	var (
		invalidSource *InvalidSourceFormatError
		restricted    *RestrictedBucketAccessError
		incompatible  *IncompatibleLoadRequestError
		invalidOpts   *InvalidExportOptionsError
	)
	switch {
	case errors.As(err, &invalidSource),
		errors.As(err, &restricted),
		errors.As(err, &incompatible),
		errors.As(err, &invalidOpts),
		errors.Is(err, ErrNoTables),
		errors.Is(err, ErrWorkspaceRequired):
		return true
	}
	return false
}
