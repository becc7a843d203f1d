package core

import (
	"fmt"
	"strings"
	"time"
)

// Backend identifies the warehouse family behind a table or a workspace.
type Backend string

const (
	BackendSnowflake Backend = "snowflake"
	BackendBigQuery  Backend = "bigquery"
	BackendRedshift  Backend = "redshift"
	BackendSynapse   Backend = "synapse"
	BackendExasol    Backend = "exasol"
	BackendTeradata  Backend = "teradata"
)

// ParseBackend normalizes a backend name. Unknown names are rejected.
func ParseBackend(name string) (Backend, error) {
	b := Backend(strings.ToLower(strings.TrimSpace(name)))
	switch b {
	case BackendSnowflake, BackendBigQuery, BackendRedshift, BackendSynapse, BackendExasol, BackendTeradata:
		return b, nil
	}
	return "", fmt.Errorf("unknown backend: %q", name)
}

// TableID is a parsed stage.bucket.table identifier.
type TableID struct {
	Stage  string // "in" or "out"
	Bucket string // bucket segment without the stage, e.g. "c-sales"
	Table  string
}

// ParseTableID splits id into its three segments.
// Anything other than exactly three non-empty dot-separated segments is an
// InvalidSourceFormatError.
func ParseTableID(id string) (TableID, error) {
	parts := strings.Split(id, ".")
	if len(parts) != 3 {
		return TableID{}, &InvalidSourceFormatError{Source: id}
	}
	for _, p := range parts {
		if p == "" {
			return TableID{}, &InvalidSourceFormatError{Source: id}
		}
	}
	return TableID{Stage: parts[0], Bucket: parts[1], Table: parts[2]}, nil
}

// BucketID returns the stage.bucket part of the identifier.
func (t TableID) BucketID() string {
	return t.Stage + "." + t.Bucket
}

func (t TableID) String() string {
	return t.Stage + "." + t.Bucket + "." + t.Table
}

// TableRef is a logical request to stage one table. Immutable once built.
type TableRef struct {
	Source         string        `json:"source" yaml:"source"`
	SourceBranchID string        `json:"sourceBranchId,omitempty" yaml:"source_branch_id,omitempty"`
	Destination    string        `json:"destination,omitempty" yaml:"destination,omitempty"`
	Options        ExportOptions `json:"options" yaml:"options"`
}

// DestinationName returns the workspace table name, defaulting to the
// source table name when no destination was given.
func (r TableRef) DestinationName() string {
	if r.Destination != "" {
		return r.Destination
	}
	if id, err := ParseTableID(r.Source); err == nil {
		return id.Table
	}
	return r.Source
}

// SourceReason explains how a physical source was chosen.
type SourceReason string

const (
	ReasonProduction SourceReason = "production"
	ReasonBranch     SourceReason = "branch"
	ReasonFallback   SourceReason = "fallback"
	ReasonEmulated   SourceReason = "emulated"
	ReasonOverride   SourceReason = "override"
)

// PhysicalSource is the table actually read after branch rewriting.
type PhysicalSource struct {
	TableID  string       `json:"tableId"`
	BranchID string       `json:"branchId,omitempty"`
	Reason   SourceReason `json:"reason"`
}

func (p PhysicalSource) key() string {
	return p.BranchID + "/" + p.TableID
}

// MetadataEntry is a single key/value metadata record on a bucket, table or column.
type MetadataEntry struct {
	Key      string `json:"key" yaml:"key"`
	Value    string `json:"value" yaml:"value"`
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`
}

// TableMetadata is a snapshot of a table as reported by the storage service.
type TableMetadata struct {
	ID                   string
	Name                 string
	Backend              Backend
	IsAlias              bool
	AliasColumnsAutoSync bool
	HasAliasFilter       bool
	// SourceProjectID is the project owning the aliased table; empty for
	// non-aliases and when the service did not report it.
	SourceProjectID string

	Columns        []string
	PrimaryKey     []string
	RowsCount      int64
	DataSizeBytes  int64
	Created        string
	LastImportDate string
	LastChangeDate string
	Attributes     []MetadataEntry
	Metadata       []MetadataEntry
	ColumnMetadata map[string][]MetadataEntry
}

// ResolvedTable pairs a logical reference with its physical source.
type ResolvedTable struct {
	Ref    TableRef
	Source PhysicalSource
}

// StagingResult is the per-table outcome of a staging request.
type StagingResult struct {
	Source      string         `json:"source"`
	Physical    PhysicalSource `json:"physical"`
	Destination string         `json:"destination"`
	Method      LoadMethod     `json:"method"`
	JobID       string         `json:"jobId,omitempty"`
	Succeeded   bool           `json:"succeeded"`
	Error       string         `json:"error,omitempty"`
	Metadata    TableMetadata  `json:"-"`
}

// StagingRequest describes one planAndExecute call.
type StagingRequest struct {
	Tables           []TableRef
	Branch           BranchContext
	WorkspaceID      string
	WorkspaceBackend Backend
	Preserve         bool
	Timeout          time.Duration
	InputState       InputTableStateList
}

// StagingReport is returned by Service.PlanAndExecute.
type StagingReport struct {
	RunID      string              `json:"runId"`
	Results    []StagingResult     `json:"results"`
	InputState InputTableStateList `json:"inputState"`
	Cloned     int                 `json:"cloned"`
	Copied     int                 `json:"copied"`
	Viewed     int                 `json:"viewed"`
	Duration   time.Duration       `json:"duration"`
}

// Failed returns the results that did not stage.
func (r *StagingReport) Failed() []StagingResult {
	var out []StagingResult
	for _, res := range r.Results {
		if !res.Succeeded {
			out = append(out, res)
		}
	}
	return out
}
