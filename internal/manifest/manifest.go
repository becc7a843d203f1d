// Package manifest writes table manifests for tables staged into a workspace.
//
// A manifest describes the staged table (columns, primary key, import
// dates, metadata) so downstream components can use it without asking the
// storage service again. Manifests are written only for tables that staged
// successfully.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/keboola/platform-libraries-sub003/internal/core"
)

// Format is the manifest encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FileSuffix is appended to the destination name of every manifest.
const FileSuffix = ".manifest"

// ParseFormat normalizes a format name. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown manifest format: %q", s)
}

// Entry is one metadata or attribute record.
type Entry struct {
	Key      string `json:"key" yaml:"key"`
	Value    string `json:"value" yaml:"value"`
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`
}

// Manifest is the document written next to a staged table.
type Manifest struct {
	ID             string             `json:"id" yaml:"id"`
	URI            string             `json:"uri,omitempty" yaml:"uri,omitempty"`
	Name           string             `json:"name" yaml:"name"`
	Destination    string             `json:"destination" yaml:"destination"`
	SourceBranchID string             `json:"source_branch_id,omitempty" yaml:"source_branch_id,omitempty"`
	LoadMethod     string             `json:"load_method" yaml:"load_method"`
	PrimaryKey     []string           `json:"primary_key" yaml:"primary_key"`
	Columns        []string           `json:"columns" yaml:"columns"`
	Created        string             `json:"created,omitempty" yaml:"created,omitempty"`
	LastImportDate string             `json:"last_import_date,omitempty" yaml:"last_import_date,omitempty"`
	LastChangeDate string             `json:"last_change_date,omitempty" yaml:"last_change_date,omitempty"`
	RowsCount      int64              `json:"rows_count" yaml:"rows_count"`
	DataSizeBytes  int64              `json:"data_size_bytes" yaml:"data_size_bytes"`
	IsAlias        bool               `json:"is_alias" yaml:"is_alias"`
	Attributes     []Entry            `json:"attributes" yaml:"attributes"`
	Metadata       []Entry            `json:"metadata" yaml:"metadata"`
	ColumnMetadata map[string][]Entry `json:"column_metadata" yaml:"column_metadata"`
}

// FromResult builds the manifest of a staged table. uriBase, when set, is
// joined with the physical table id to form the manifest URI.
func FromResult(res core.StagingResult, uriBase string) Manifest {
	meta := res.Metadata
	m := Manifest{
		ID:             res.Physical.TableID,
		Name:           meta.Name,
		Destination:    res.Destination,
		SourceBranchID: res.Physical.BranchID,
		LoadMethod:     string(res.Method),
		PrimaryKey:     nonNil(meta.PrimaryKey),
		Columns:        nonNil(meta.Columns),
		Created:        meta.Created,
		LastImportDate: meta.LastImportDate,
		LastChangeDate: meta.LastChangeDate,
		RowsCount:      meta.RowsCount,
		DataSizeBytes:  meta.DataSizeBytes,
		IsAlias:        meta.IsAlias,
		Attributes:     entries(meta.Attributes),
		Metadata:       entries(meta.Metadata),
		ColumnMetadata: make(map[string][]Entry, len(meta.ColumnMetadata)),
	}
	if m.ID == "" {
		m.ID = res.Source
	}
	if m.Name == "" {
		if id, err := core.ParseTableID(m.ID); err == nil {
			m.Name = id.Table
		}
	}
	if uriBase != "" {
		m.URI = strings.TrimRight(uriBase, "/") + "/v2/storage/tables/" + m.ID
	}
	for col, list := range meta.ColumnMetadata {
		m.ColumnMetadata[col] = entries(list)
	}
	return m
}

// Encode serializes m in the given format.
func Encode(m Manifest, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(m); err != nil {
			return nil, fmt.Errorf("encode yaml manifest: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encode yaml manifest: %w", err)
		}
		return buf.Bytes(), nil
	case FormatJSON, "":
		data, err := json.MarshalIndent(m, "", "    ")
		if err != nil {
			return nil, fmt.Errorf("encode json manifest: %w", err)
		}
		return append(data, '\n'), nil
	}
	return nil, fmt.Errorf("unknown manifest format: %q", format)
}

// Decode parses a manifest in the given format.
func Decode(data []byte, format Format) (Manifest, error) {
	var m Manifest
	var err error
	if format == FormatYAML {
		err = yaml.Unmarshal(data, &m)
	} else {
		err = json.Unmarshal(data, &m)
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("decode %s manifest: %w", format, err)
	}
	return m, nil
}

func entries(in []core.MetadataEntry) []Entry {
	out := make([]Entry, len(in))
	for i, e := range in {
		out[i] = Entry{Key: e.Key, Value: e.Value, Provider: e.Provider}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
