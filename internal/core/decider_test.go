package core

import (
	"errors"
	"testing"
)

func TestDecideLoadMethod(t *testing.T) {
	tests := []struct {
		name   string
		meta   TableMetadata
		target Backend
		opts   ExportOptions
		want   LoadMethod
	}{
		{
			name:   "snowflake to snowflake overwrite only clones",
			meta:   TableMetadata{Backend: BackendSnowflake},
			target: BackendSnowflake,
			opts:   ExportOptions{Overwrite: true},
			want:   MethodClone,
		},
		{
			name:   "snowflake with limit copies",
			meta:   TableMetadata{Backend: BackendSnowflake},
			target: BackendSnowflake,
			opts:   ExportOptions{Limit: 100},
			want:   MethodCopy,
		},
		{
			name:   "snowflake with columns copies",
			meta:   TableMetadata{Backend: BackendSnowflake},
			target: BackendSnowflake,
			opts:   ExportOptions{Columns: []string{"id"}},
			want:   MethodCopy,
		},
		{
			name:   "auto-synced unfiltered alias clones",
			meta:   TableMetadata{Backend: BackendSnowflake, IsAlias: true, AliasColumnsAutoSync: true},
			target: BackendSnowflake,
			want:   MethodClone,
		},
		{
			name:   "filtered alias copies",
			meta:   TableMetadata{Backend: BackendSnowflake, IsAlias: true, AliasColumnsAutoSync: true, HasAliasFilter: true},
			target: BackendSnowflake,
			want:   MethodCopy,
		},
		{
			name:   "alias without column sync copies",
			meta:   TableMetadata{Backend: BackendSnowflake, IsAlias: true},
			target: BackendSnowflake,
			want:   MethodCopy,
		},
		{
			name:   "bigquery to bigquery views",
			meta:   TableMetadata{Backend: BackendBigQuery},
			target: BackendBigQuery,
			opts:   ExportOptions{Overwrite: true},
			want:   MethodView,
		},
		{
			name:   "snowflake into redshift copies",
			meta:   TableMetadata{Backend: BackendSnowflake},
			target: BackendRedshift,
			want:   MethodCopy,
		},
		{
			name:   "bigquery into snowflake copies",
			meta:   TableMetadata{Backend: BackendBigQuery},
			target: BackendSnowflake,
			want:   MethodCopy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateLoadRequest(tt.meta, tt.target, tt.opts, "1"); err != nil {
				t.Fatalf("ValidateLoadRequest() error = %v", err)
			}
			got := DecideLoadMethod(tt.meta, tt.target, tt.opts, "1")
			if got != tt.want {
				t.Errorf("DecideLoadMethod() = %q, want %q", got, tt.want)
			}
			if again := DecideLoadMethod(tt.meta, tt.target, tt.opts, "1"); again != got {
				t.Errorf("DecideLoadMethod() not stable: %q then %q", got, again)
			}
		})
	}
}

func TestValidateLoadRequest_BigQueryStrict(t *testing.T) {
	tests := []struct {
		name     string
		meta     TableMetadata
		opts     ExportOptions
		wantRule string
	}{
		{
			name:     "backend mismatch",
			meta:     TableMetadata{ID: "in.c-a.t", Backend: BackendSnowflake},
			wantRule: "backend mismatch",
		},
		{
			name:     "extra option",
			meta:     TableMetadata{ID: "in.c-a.t", Backend: BackendBigQuery},
			opts:     ExportOptions{Overwrite: true, WhereColumn: "id", WhereValues: []string{"1"}},
			wantRule: "unsupported option",
		},
		{
			name:     "same project alias",
			meta:     TableMetadata{ID: "in.c-a.t", Backend: BackendBigQuery, IsAlias: true, SourceProjectID: "1"},
			wantRule: "alias",
		},
		{
			name:     "alias of unknown project",
			meta:     TableMetadata{ID: "in.c-a.t", Backend: BackendBigQuery, IsAlias: true},
			wantRule: "alias",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLoadRequest(tt.meta, BackendBigQuery, tt.opts, "1")
			var target *IncompatibleLoadRequestError
			if !errors.As(err, &target) {
				t.Fatalf("ValidateLoadRequest() error = %v, want IncompatibleLoadRequestError", err)
			}
			if target.Rule != tt.wantRule {
				t.Errorf("Rule = %q, want %q", target.Rule, tt.wantRule)
			}
			if target.Table != "in.c-a.t" {
				t.Errorf("Table = %q, want in.c-a.t", target.Table)
			}
		})
	}
}

func TestValidateLoadRequest_ForeignAliasAllowed(t *testing.T) {
	meta := TableMetadata{ID: "in.c-a.t", Backend: BackendBigQuery, IsAlias: true, SourceProjectID: "2"}
	if err := ValidateLoadRequest(meta, BackendBigQuery, ExportOptions{}, "1"); err != nil {
		t.Errorf("ValidateLoadRequest() error = %v, want nil", err)
	}
}

func TestExportOptions(t *testing.T) {
	opts := ExportOptions{Overwrite: true, Columns: []string{"a"}, ChangedSince: "-1 day", Limit: 5}
	got := opts.ExtraOptions()
	want := []string{"columns", "changed_since", "limit"}
	if len(got) != len(want) {
		t.Fatalf("ExtraOptions() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ExtraOptions()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if opts.OnlyOverwrite() {
		t.Error("OnlyOverwrite() = true, want false")
	}
	if !(ExportOptions{Overwrite: true}).OnlyOverwrite() {
		t.Error("OnlyOverwrite() = false for overwrite-only options")
	}

	invalid := []ExportOptions{
		{Limit: -1},
		{WhereOperator: "gt", WhereColumn: "a", WhereValues: []string{"1"}},
		{WhereValues: []string{"1"}},
		{WhereColumn: "a"},
		{Columns: []string{"a", " "}},
	}
	for _, o := range invalid {
		var target *InvalidExportOptionsError
		if err := o.Validate("in.c-a.t"); !errors.As(err, &target) {
			t.Errorf("Validate(%+v) error = %v, want InvalidExportOptionsError", o, err)
		}
	}

	n := ExportOptions{WhereColumn: "a", WhereValues: []string{"1"}}.normalized()
	if n.WhereOperator != WhereOperatorEquals {
		t.Errorf("normalized().WhereOperator = %q, want %q", n.WhereOperator, WhereOperatorEquals)
	}
}
