package core

import (
	"context"
	"errors"
	"fmt"
)

// Bucket metadata keys set by the storage service on buckets created or
// modified from a development branch.
const (
	MetadataKeyCreatedByBranch     = "KBC.createdBy.branch.id"
	MetadataKeyLastUpdatedByBranch = "KBC.lastUpdatedBy.branch.id"
)

// BucketInspector reads bucket metadata.
type BucketInspector interface {
	BucketMetadata(ctx context.Context, bucketID string) ([]MetadataEntry, error)
}

// BucketValidator rejects production runs that read buckets owned by a
// development branch.
type BucketValidator struct {
	inspector BucketInspector
}

// NewBucketValidator creates a BucketValidator backed by inspector.
func NewBucketValidator(inspector BucketInspector) *BucketValidator {
	return &BucketValidator{inspector: inspector}
}

// Validate checks every bucket referenced by refs once. It is a no-op on a
// development branch. Malformed table ids fail with InvalidSourceFormatError.
func (v *BucketValidator) Validate(ctx context.Context, refs []TableRef, bc BranchContext) error {
	buckets := make([]string, 0, len(refs))
	tablesByBucket := make(map[string][]string)
	for _, ref := range refs {
		id, err := ParseTableID(ref.Source)
		if err != nil {
			return err
		}
		bucketID := id.BucketID()
		if _, ok := tablesByBucket[bucketID]; !ok {
			buckets = append(buckets, bucketID)
		}
		tablesByBucket[bucketID] = append(tablesByBucket[bucketID], ref.Source)
	}

	if bc.IsDevBranch() {
		return nil
	}

	for _, bucketID := range buckets {
		entries, err := v.inspector.BucketMetadata(ctx, bucketID)
		if errors.Is(err, ErrBucketNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read metadata of bucket %s: %w", bucketID, err)
		}
		if branchID := owningBranch(entries, bc.DefaultBranchID); branchID != "" {
			return &RestrictedBucketAccessError{
				BucketID: bucketID,
				BranchID: branchID,
				Tables:   tablesByBucket[bucketID],
			}
		}
	}
	return nil
}

// owningBranch returns the development branch recorded in entries, ignoring
// the default branch.
func owningBranch(entries []MetadataEntry, defaultBranchID string) string {
	for _, e := range entries {
		if e.Key != MetadataKeyCreatedByBranch && e.Key != MetadataKeyLastUpdatedByBranch {
			continue
		}
		if e.Value != "" && e.Value != defaultBranchID {
			return e.Value
		}
	}
	return ""
}
