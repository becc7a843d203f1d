package core

// resolver.go rewrites logical source tables to the physical table a run
// should read, given the active branch.
//
// Real branch storage reads the branch copy of a table when it exists and
// falls back to the default branch otherwise. Emulated branch storage reads
// a production table whose bucket name carries the branch prefix, again only
// when it exists. A missing branch table is not an error.

import (
	"context"
	"fmt"
	"strings"

	"github.com/keboola/platform-libraries-sub003/internal/logging"
)

// bucketKindPrefix marks user buckets ("c-sales").
const bucketKindPrefix = "c-"

// BranchInspector answers whether a table exists on a given branch.
type BranchInspector interface {
	TableExistsOnBranch(ctx context.Context, tableID, branchID string) (bool, error)
}

// Resolver maps table references to physical sources. It holds no
// per-run state and is safe for concurrent use.
type Resolver struct {
	inspector BranchInspector
}

// NewResolver creates a Resolver backed by inspector.
func NewResolver(inspector BranchInspector) *Resolver {
	return &Resolver{inspector: inspector}
}

// Resolve returns the physical source for ref under bc.
func (r *Resolver) Resolve(ctx context.Context, ref TableRef, bc BranchContext) (PhysicalSource, error) {
	id, err := ParseTableID(ref.Source)
	if err != nil {
		return PhysicalSource{}, err
	}

	var src PhysicalSource
	switch {
	case ref.SourceBranchID != "":
		src = PhysicalSource{TableID: id.String(), BranchID: ref.SourceBranchID, Reason: ReasonOverride}
	case !bc.IsDevBranch():
		src = PhysicalSource{TableID: id.String(), BranchID: bc.DefaultBranchID, Reason: ReasonProduction}
	default:
		src, err = newSourceRewriter(bc.Mode, r.inspector).rewrite(ctx, id, bc)
		if err != nil {
			return PhysicalSource{}, err
		}
	}

	logging.FromContext(ctx).Info("resolved table source",
		"source", ref.Source,
		"physical_source", src.TableID,
		"branch_id", src.BranchID,
		"reason", string(src.Reason),
	)
	return src, nil
}

// ResolveAll resolves refs in order. The first failure aborts the batch.
func (r *Resolver) ResolveAll(ctx context.Context, refs []TableRef, bc BranchContext) ([]ResolvedTable, error) {
	out := make([]ResolvedTable, 0, len(refs))
	for _, ref := range refs {
		src, err := r.Resolve(ctx, ref, bc)
		if err != nil {
			return nil, err
		}
		out = append(out, ResolvedTable{Ref: ref, Source: src})
	}
	return out, nil
}

type sourceRewriter interface {
	rewrite(ctx context.Context, id TableID, bc BranchContext) (PhysicalSource, error)
}

func newSourceRewriter(mode BranchStorageMode, inspector BranchInspector) sourceRewriter {
	if mode == EmulatedBranchStorage {
		return emulatedBranchRewriter{inspector: inspector}
	}
	return realBranchRewriter{inspector: inspector}
}

type realBranchRewriter struct {
	inspector BranchInspector
}

func (w realBranchRewriter) rewrite(ctx context.Context, id TableID, bc BranchContext) (PhysicalSource, error) {
	exists, err := w.inspector.TableExistsOnBranch(ctx, id.String(), bc.BranchID)
	if err != nil {
		return PhysicalSource{}, fmt.Errorf("check table %s on branch %s: %w", id, bc.BranchID, err)
	}
	if exists {
		return PhysicalSource{TableID: id.String(), BranchID: bc.BranchID, Reason: ReasonBranch}, nil
	}
	return PhysicalSource{TableID: id.String(), BranchID: bc.DefaultBranchID, Reason: ReasonFallback}, nil
}

type emulatedBranchRewriter struct {
	inspector BranchInspector
}

func (w emulatedBranchRewriter) rewrite(ctx context.Context, id TableID, bc BranchContext) (PhysicalSource, error) {
	synthetic := EmulatedTableID(id, bc.BranchName)
	exists, err := w.inspector.TableExistsOnBranch(ctx, synthetic.String(), bc.DefaultBranchID)
	if err != nil {
		return PhysicalSource{}, fmt.Errorf("check table %s: %w", synthetic, err)
	}
	if exists {
		return PhysicalSource{TableID: synthetic.String(), BranchID: bc.DefaultBranchID, Reason: ReasonEmulated}, nil
	}
	return PhysicalSource{TableID: id.String(), BranchID: bc.DefaultBranchID, Reason: ReasonFallback}, nil
}

// EmulatedTableID inserts the sanitized branch name into the bucket segment
// of id, keeping a leading "c-": in.c-sales.orders -> in.c-dev1-sales.orders.
func EmulatedTableID(id TableID, branchName string) TableID {
	prefix := SanitizeBranchName(branchName)
	bucket := id.Bucket
	if strings.HasPrefix(bucket, bucketKindPrefix) {
		bucket = bucketKindPrefix + prefix + "-" + strings.TrimPrefix(bucket, bucketKindPrefix)
	} else {
		bucket = prefix + "-" + bucket
	}
	return TableID{Stage: id.Stage, Bucket: bucket, Table: id.Table}
}
