package storageapi

import (
	"context"
	"fmt"
	"net/url"

	"github.com/keboola/platform-libraries-sub003/internal/core"
)

type metadataJSON struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Provider string `json:"provider"`
}

type attributeJSON struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type tableJSON struct {
	ID                   string                    `json:"id"`
	Name                 string                    `json:"name"`
	PrimaryKey           []string                  `json:"primaryKey"`
	Columns              []string                  `json:"columns"`
	Created              string                    `json:"created"`
	LastImportDate       string                    `json:"lastImportDate"`
	LastChangeDate       string                    `json:"lastChangeDate"`
	RowsCount            int64                     `json:"rowsCount"`
	DataSizeBytes        int64                     `json:"dataSizeBytes"`
	IsAlias              bool                      `json:"isAlias"`
	AliasColumnsAutoSync bool                      `json:"aliasColumnsAutoSync"`
	AliasFilter          map[string]any            `json:"aliasFilter"`
	Attributes           []attributeJSON           `json:"attributes"`
	Metadata             []metadataJSON            `json:"metadata"`
	ColumnMetadata       map[string][]metadataJSON `json:"columnMetadata"`
	Bucket               struct {
		ID      string `json:"id"`
		Backend string `json:"backend"`
	} `json:"bucket"`
	SourceTable *struct {
		ID      string `json:"id"`
		Project struct {
			ID flexibleID `json:"id"`
		} `json:"project"`
	} `json:"sourceTable"`
}

func (t tableJSON) toCore() core.TableMetadata {
	meta := core.TableMetadata{
		ID:                   t.ID,
		Name:                 t.Name,
		Backend:              core.Backend(t.Bucket.Backend),
		IsAlias:              t.IsAlias,
		AliasColumnsAutoSync: t.AliasColumnsAutoSync,
		HasAliasFilter:       len(t.AliasFilter) > 0,
		Columns:              t.Columns,
		PrimaryKey:           t.PrimaryKey,
		RowsCount:            t.RowsCount,
		DataSizeBytes:        t.DataSizeBytes,
		Created:              t.Created,
		LastImportDate:       t.LastImportDate,
		LastChangeDate:       t.LastChangeDate,
		Metadata:             toEntries(t.Metadata),
	}
	if t.IsAlias && t.SourceTable != nil {
		meta.SourceProjectID = string(t.SourceTable.Project.ID)
	}
	for _, a := range t.Attributes {
		meta.Attributes = append(meta.Attributes, core.MetadataEntry{Key: a.Name, Value: a.Value})
	}
	if len(t.ColumnMetadata) > 0 {
		meta.ColumnMetadata = make(map[string][]core.MetadataEntry, len(t.ColumnMetadata))
		for col, list := range t.ColumnMetadata {
			meta.ColumnMetadata[col] = toEntries(list)
		}
	}
	return meta
}

func toEntries(in []metadataJSON) []core.MetadataEntry {
	if len(in) == 0 {
		return nil
	}
	out := make([]core.MetadataEntry, len(in))
	for i, m := range in {
		out[i] = core.MetadataEntry{Key: m.Key, Value: m.Value, Provider: m.Provider}
	}
	return out
}

func tablePath(tableID, branchID string) string {
	if branchID == "" {
		return "v2/storage/tables/" + url.PathEscape(tableID)
	}
	return "v2/storage/branch/" + url.PathEscape(branchID) + "/tables/" + url.PathEscape(tableID)
}

// TableExistsOnBranch reports whether tableID exists on branchID.
func (c *Client) TableExistsOnBranch(ctx context.Context, tableID, branchID string) (bool, error) {
	err := c.get(ctx, tablePath(tableID, branchID), nil, nil)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("check table %s on branch %s: %w", tableID, branchID, err)
}

// TableMetadata fetches the detail of the physical source table.
func (c *Client) TableMetadata(ctx context.Context, src core.PhysicalSource) (core.TableMetadata, error) {
	var t tableJSON
	query := url.Values{"include": {"columns,metadata,columnMetadata,attributes"}}
	if err := c.get(ctx, tablePath(src.TableID, src.BranchID), query, &t); err != nil {
		if isNotFound(err) {
			return core.TableMetadata{}, fmt.Errorf("%w: %s", core.ErrTableNotFound, src.TableID)
		}
		return core.TableMetadata{}, fmt.Errorf("get table %s: %w", src.TableID, err)
	}
	return t.toCore(), nil
}

// BucketMetadata returns the metadata entries of a bucket.
func (c *Client) BucketMetadata(ctx context.Context, bucketID string) ([]core.MetadataEntry, error) {
	var entries []metadataJSON
	if err := c.get(ctx, "v2/storage/buckets/"+url.PathEscape(bucketID)+"/metadata", nil, &entries); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", core.ErrBucketNotFound, bucketID)
		}
		return nil, fmt.Errorf("get bucket %s metadata: %w", bucketID, err)
	}
	return toEntries(entries), nil
}
