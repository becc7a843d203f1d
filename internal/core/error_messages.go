// error_messages.go maps errors to coded user messages.
//
// # Error Codes Reference
//
// Every error surfaced to API clients is mapped to a code for support
// reference. Typed errors are matched first (errors.As / errors.Is); plain
// errors from collaborators fall back to substring patterns.
//
// # Configuration Errors (CFG001-CFG099)
//
// Detected before any remote job is submitted. Never retried.
//
//	CFG001 - Invalid source: table id is not stage.bucket.table
//	CFG002 - Restricted bucket: production run reads a development-branch bucket
//	CFG003 - Incompatible load: backend/option/alias combination not supported
//	CFG004 - Invalid options: export options are inconsistent
//	CFG005 - No tables: the request names no tables
//	CFG006 - No workspace: the request names no workspace
//	CFG007 - Invalid destination: workspace table name is malformed or used twice
//
// # Storage Errors (STO001-STO099)
//
//	STO001 - Table not found
//	STO002 - Bucket not found
//
// # Job Errors (JOB001-JOB099)
//
//	JOB001 - Job failed: a clone or copy batch reported failure
//	JOB002 - Staging timeout: waiting for a job exceeded the timeout; the job may still finish
//
// # Service Errors (SVC001-SVC099)
//
//	SVC001 - Busy: too many concurrent staging requests
//	SVC002 - Run not found
//	SVC003 - Request cancelled
//	SVC004 - Request timed out
//	SVC005 - Rate limited
//
// # Default Error (ERR000)

package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var (
	msgInvalidSource = UserMessage{
		Message: "Source table id is malformed",
		Action:  "Use the stage.bucket.table form, e.g. in.c-sales.orders",
		Code:    "CFG001",
	}
	msgRestrictedBucket = UserMessage{
		Message: "A production run cannot read a development branch bucket",
		Action:  "Run the configuration on its development branch or pick a production bucket",
		Code:    "CFG002",
	}
	msgIncompatibleLoad = UserMessage{
		Message: "The table cannot be loaded into this workspace",
		Action:  "Match the workspace backend to the table and drop unsupported options",
		Code:    "CFG003",
	}
	msgInvalidOptions = UserMessage{
		Message: "Table load options are invalid",
		Action:  "Review columns, where and limit options of the table",
		Code:    "CFG004",
	}
	msgNoTables = UserMessage{
		Message: "No tables to stage",
		Action:  "Add at least one table to the request",
		Code:    "CFG005",
	}
	msgNoWorkspace = UserMessage{
		Message: "Workspace id is missing",
		Action:  "Provide the id of the workspace to load into",
		Code:    "CFG006",
	}
	msgInvalidDestination = UserMessage{
		Message: "Destination table name is invalid",
		Action:  "Give every table a distinct destination without path separators",
		Code:    "CFG007",
	}
	msgTableNotFound = UserMessage{
		Message: "Table not found",
		Action:  "Verify the table id and the branch it lives on",
		Code:    "STO001",
	}
	msgBucketNotFound = UserMessage{
		Message: "Bucket not found",
		Action:  "Verify the bucket id",
		Code:    "STO002",
	}
	msgJobFailed = UserMessage{
		Message: "Loading tables into the workspace failed",
		Action:  "Check the failed tables listed in the result and try again",
		Code:    "JOB001",
	}
	msgStagingTimeout = UserMessage{
		Message: "Timed out waiting for the workspace load to finish",
		Action:  "The load may still complete; check the job before retrying",
		Code:    "JOB002",
	}
	msgBusy = UserMessage{
		Message: "System is busy staging other requests",
		Action:  "Please wait a moment and try again",
		Code:    "SVC001",
	}
	msgRunNotFound = UserMessage{
		Message: "Staging run not found",
		Action:  "Verify the run id",
		Code:    "SVC002",
	}
	msgCancelled = UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "SVC003",
	}
	msgTimedOut = UserMessage{
		Message: "Request timed out",
		Action:  "Please try again later",
		Code:    "SVC004",
	}
	msgRateLimited = UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "SVC005",
	}
)

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns covers errors that reach MapError untyped, e.g. from the
// HTTP layer. The first matching pattern wins.
var errorPatterns = []errorPattern{
	{pattern: "table not found", msg: msgTableNotFound},
	{pattern: "bucket not found", msg: msgBucketNotFound},
	{pattern: "rate limit", msg: msgRateLimited},
	{pattern: "context canceled", msg: msgCancelled},
	{pattern: "deadline exceeded", msg: msgTimedOut},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var (
		invalidSource *InvalidSourceFormatError
		restricted    *RestrictedBucketAccessError
		incompatible  *IncompatibleLoadRequestError
		invalidOpts   *InvalidExportOptionsError
		invalidDest   *InvalidDestinationError
		jobFailed     *JobFailedError
		timeout       *StagingTimeoutError
	)
	switch {
	case errors.As(err, &invalidSource):
		return msgInvalidSource
	case errors.As(err, &restricted):
		return msgRestrictedBucket
	case errors.As(err, &incompatible):
		return msgIncompatibleLoad
	case errors.As(err, &invalidOpts):
		return msgInvalidOptions
	case errors.As(err, &invalidDest):
		return msgInvalidDestination
	case errors.Is(err, ErrNoTables):
		return msgNoTables
	case errors.Is(err, ErrWorkspaceRequired):
		return msgNoWorkspace
	case errors.As(err, &timeout):
		return msgStagingTimeout
	case errors.As(err, &jobFailed):
		return msgJobFailed
	case errors.Is(err, ErrTableNotFound):
		return msgTableNotFound
	case errors.Is(err, ErrBucketNotFound):
		return msgBucketNotFound
	case errors.Is(err, ErrTooManyStagingRequests):
		return msgBusy
	case errors.Is(err, ErrRunNotFound):
		return msgRunNotFound
	case errors.Is(err, context.Canceled):
		return msgCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimedOut
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display:
// "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific code rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
