package core

import (
	"fmt"
	"strings"
)

// LoadMethod is how a table reaches a workspace.
type LoadMethod string

const (
	// MethodClone duplicates the table structurally without copying data.
	MethodClone LoadMethod = "clone"
	// MethodView creates a live view into source storage.
	MethodView LoadMethod = "view"
	// MethodCopy materializes the data through the storage service.
	MethodCopy LoadMethod = "copy"
)

// Backend capabilities. Only snowflake clones, only bigquery demands an exact
// backend match and serves views.
func supportsClone(b Backend) bool        { return b == BackendSnowflake }
func requiresStrictBackend(b Backend) bool { return b == BackendBigQuery }
func supportsView(table, target Backend) bool {
	return table == BackendBigQuery && target == BackendBigQuery
}

// ValidateLoadRequest rejects table/workspace/option combinations the
// storage service cannot serve.
func ValidateLoadRequest(meta TableMetadata, target Backend, opts ExportOptions, projectID string) error {
	if !requiresStrictBackend(target) {
		return nil
	}
	if meta.Backend != target {
		return &IncompatibleLoadRequestError{
			Table:  meta.ID,
			Rule:   "backend mismatch",
			Reason: fmt.Sprintf("workspace backend %q does not match table backend %q", target, meta.Backend),
		}
	}
	if extra := opts.ExtraOptions(); len(extra) > 0 {
		return &IncompatibleLoadRequestError{
			Table:  meta.ID,
			Rule:   "unsupported option",
			Reason: fmt.Sprintf("option(s) %s not supported when loading a %s table", strings.Join(extra, ", "), target),
		}
	}
	// An alias whose owning project is unknown counts as a same-project alias.
	if meta.IsAlias && (meta.SourceProjectID == "" || meta.SourceProjectID == projectID) {
		return &IncompatibleLoadRequestError{
			Table:  meta.ID,
			Rule:   "alias",
			Reason: fmt.Sprintf("aliases from the same project are not supported when loading %s tables", target),
		}
	}
	return nil
}

// DecideLoadMethod picks the cheapest valid method. It is pure; callers run
// ValidateLoadRequest first.
func DecideLoadMethod(meta TableMetadata, target Backend, opts ExportOptions, projectID string) LoadMethod {
	if canClone(meta, target, opts) {
		return MethodClone
	}
	if supportsView(meta.Backend, target) {
		return MethodView
	}
	return MethodCopy
}

func canClone(meta TableMetadata, target Backend, opts ExportOptions) bool {
	if meta.IsAlias && (!meta.AliasColumnsAutoSync || meta.HasAliasFilter) {
		return false
	}
	if !opts.OnlyOverwrite() {
		return false
	}
	return meta.Backend == target && supportsClone(meta.Backend)
}
