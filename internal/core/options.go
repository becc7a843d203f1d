package core

import (
	"fmt"
	"strings"
)

// Where operators accepted by the storage service.
const (
	WhereOperatorEquals    = "eq"
	WhereOperatorNotEquals = "ne"
)

// ChangedSinceAdaptive asks for rows changed since the previous successful run.
const ChangedSinceAdaptive = "adaptive"

// ExportOptions are the per-table load options requested by the caller.
// Overwrite is always present; every other field counts as an extra option.
type ExportOptions struct {
	Overwrite     bool     `json:"overwrite" yaml:"overwrite"`
	Columns       []string `json:"columns,omitempty" yaml:"columns,omitempty"`
	WhereColumn   string   `json:"whereColumn,omitempty" yaml:"where_column,omitempty"`
	WhereValues   []string `json:"whereValues,omitempty" yaml:"where_values,omitempty"`
	WhereOperator string   `json:"whereOperator,omitempty" yaml:"where_operator,omitempty"`
	ChangedSince  string   `json:"changedSince,omitempty" yaml:"changed_since,omitempty"`
	Limit         int      `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// ExtraOptions lists the names of the set options other than overwrite,
// in a stable order.
func (o ExportOptions) ExtraOptions() []string {
	var extra []string
	if len(o.Columns) > 0 {
		extra = append(extra, "columns")
	}
	if o.WhereColumn != "" {
		extra = append(extra, "where_column")
	}
	if len(o.WhereValues) > 0 {
		extra = append(extra, "where_values")
	}
	if o.WhereOperator != "" {
		extra = append(extra, "where_operator")
	}
	if o.ChangedSince != "" {
		extra = append(extra, "changed_since")
	}
	if o.Limit > 0 {
		extra = append(extra, "limit")
	}
	return extra
}

// OnlyOverwrite reports whether overwrite is the only option in effect.
func (o ExportOptions) OnlyOverwrite() bool {
	return len(o.ExtraOptions()) == 0
}

// Validate checks the options for internal consistency.
func (o ExportOptions) Validate(table string) error {
	if o.Limit < 0 {
		return &InvalidExportOptionsError{Table: table, Reason: fmt.Sprintf("limit must not be negative, got %d", o.Limit)}
	}
	switch strings.ToLower(o.WhereOperator) {
	case "", WhereOperatorEquals, WhereOperatorNotEquals:
	default:
		return &InvalidExportOptionsError{Table: table, Reason: fmt.Sprintf("where_operator must be %q or %q, got %q", WhereOperatorEquals, WhereOperatorNotEquals, o.WhereOperator)}
	}
	if len(o.WhereValues) > 0 && o.WhereColumn == "" {
		return &InvalidExportOptionsError{Table: table, Reason: "where_values requires where_column"}
	}
	if o.WhereColumn != "" && len(o.WhereValues) == 0 {
		return &InvalidExportOptionsError{Table: table, Reason: "where_column requires at least one value in where_values"}
	}
	for _, col := range o.Columns {
		if strings.TrimSpace(col) == "" {
			return &InvalidExportOptionsError{Table: table, Reason: "columns must not contain empty names"}
		}
	}
	return nil
}

// normalized returns a copy with defaults applied and slices detached from the caller.
func (o ExportOptions) normalized() ExportOptions {
	out := o
	out.WhereOperator = strings.ToLower(o.WhereOperator)
	if out.WhereColumn != "" && out.WhereOperator == "" {
		out.WhereOperator = WhereOperatorEquals
	}
	if o.Columns != nil {
		out.Columns = append([]string(nil), o.Columns...)
	}
	if o.WhereValues != nil {
		out.WhereValues = append([]string(nil), o.WhereValues...)
	}
	return out
}
