package core

// plan.go builds a LoadPlan: one LoadInstruction per resolved table,
// partitioned into the clone group and the copy-or-view group.
//
// Table metadata is fetched once per physical source for the duration of a
// build, concurrently up to the configured limit. Any validation failure
// aborts the build before a single remote job exists.

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/keboola/platform-libraries-sub003/internal/logging"
)

// DefaultMetadataConcurrency bounds concurrent metadata requests per build.
const DefaultMetadataConcurrency = 4

// MetadataReader fetches table metadata from the storage service.
type MetadataReader interface {
	TableMetadata(ctx context.Context, source PhysicalSource) (TableMetadata, error)
}

// LoadInstruction tells the executor how to stage one table.
type LoadInstruction struct {
	Index       int
	Source      string
	Physical    PhysicalSource
	Destination string
	Method      LoadMethod
	Options     ExportOptions
	Metadata    TableMetadata
}

// UseView reports whether the copy job should create a view.
func (i LoadInstruction) UseView() bool {
	return i.Method == MethodView
}

// LoadPlan partitions instructions into the clone and copy-or-view groups.
type LoadPlan struct {
	clone    []LoadInstruction
	copy     []LoadInstruction
	preserve bool
}

// NewLoadPlan partitions instructions by method, keeping their order.
func NewLoadPlan(instructions []LoadInstruction, preserve bool) *LoadPlan {
	p := &LoadPlan{preserve: preserve}
	for _, in := range instructions {
		if in.Method == MethodClone {
			p.clone = append(p.clone, in)
		} else {
			p.copy = append(p.copy, in)
		}
	}
	return p
}

// CloneInstructions returns the clone group.
func (p *LoadPlan) CloneInstructions() []LoadInstruction {
	return append([]LoadInstruction(nil), p.clone...)
}

// CopyInstructions returns the copy-or-view group.
func (p *LoadPlan) CopyInstructions() []LoadInstruction {
	return append([]LoadInstruction(nil), p.copy...)
}

// Instructions returns every instruction in input order.
func (p *LoadPlan) Instructions() []LoadInstruction {
	all := make([]LoadInstruction, 0, len(p.clone)+len(p.copy))
	all = append(all, p.clone...)
	all = append(all, p.copy...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Index < all[j].Index })
	return all
}

// Preserve reports whether existing workspace contents must survive the load.
func (p *LoadPlan) Preserve() bool {
	return p.preserve
}

// Len returns the number of instructions.
func (p *LoadPlan) Len() int {
	return len(p.clone) + len(p.copy)
}

// CountByMethod returns how many instructions use m.
func (p *LoadPlan) CountByMethod(m LoadMethod) int {
	n := 0
	for _, in := range p.Instructions() {
		if in.Method == m {
			n++
		}
	}
	return n
}

// PlanTarget describes the workspace a plan loads into.
type PlanTarget struct {
	Backend   Backend
	ProjectID string
}

// PlanBuilder turns resolved tables into a LoadPlan.
type PlanBuilder struct {
	reader      MetadataReader
	concurrency int
}

// NewPlanBuilder creates a PlanBuilder. concurrency <= 0 uses DefaultMetadataConcurrency.
func NewPlanBuilder(reader MetadataReader, concurrency int) *PlanBuilder {
	if concurrency <= 0 {
		concurrency = DefaultMetadataConcurrency
	}
	return &PlanBuilder{reader: reader, concurrency: concurrency}
}

// Build validates every table and decides its load method.
func (b *PlanBuilder) Build(ctx context.Context, tables []ResolvedTable, target PlanTarget, preserve bool) (*LoadPlan, error) {
	for _, t := range tables {
		if err := t.Ref.Options.Validate(t.Ref.Source); err != nil {
			return nil, err
		}
	}
	if err := validateDestinations(tables); err != nil {
		return nil, err
	}

	cache, err := b.prefetch(ctx, tables)
	if err != nil {
		return nil, err
	}

	logger := logging.FromContext(ctx)
	instructions := make([]LoadInstruction, 0, len(tables))
	for i, t := range tables {
		meta := cache.get(t.Source.key())
		opts := t.Ref.Options.normalized()

		if err := ValidateLoadRequest(meta, target.Backend, opts, target.ProjectID); err != nil {
			return nil, err
		}
		method := DecideLoadMethod(meta, target.Backend, opts, target.ProjectID)

		logger.Debug("load method decided",
			"source", t.Ref.Source,
			"physical_source", t.Source.TableID,
			"method", string(method),
		)
		instructions = append(instructions, LoadInstruction{
			Index:       i,
			Source:      t.Ref.Source,
			Physical:    t.Source,
			Destination: t.Ref.DestinationName(),
			Method:      method,
			Options:     opts,
			Metadata:    meta,
		})
	}

	return NewLoadPlan(instructions, preserve), nil
}

// validateDestinations checks that every destination is a plain table name
// and that no two sources load into the same table.
func validateDestinations(tables []ResolvedTable) error {
	claimed := make(map[string]string, len(tables))
	for _, t := range tables {
		dest := t.Ref.DestinationName()
		if reason := destinationProblem(dest); reason != "" {
			return &InvalidDestinationError{Destination: dest, Sources: []string{t.Ref.Source}, Reason: reason}
		}
		if first, ok := claimed[dest]; ok {
			return &InvalidDestinationError{
				Destination: dest,
				Sources:     []string{first, t.Ref.Source},
				Reason:      "destination is used by more than one table",
			}
		}
		claimed[dest] = t.Ref.Source
	}
	return nil
}

func destinationProblem(dest string) string {
	switch {
	case strings.TrimSpace(dest) == "":
		return "destination is empty"
	case strings.ContainsAny(dest, `/\`):
		return "destination must not contain path separators"
	case strings.Contains(dest, ".."):
		return "destination must not contain \"..\""
	case strings.ContainsRune(dest, 0):
		return "destination must not contain NUL"
	}
	return ""
}

// prefetch loads metadata for every distinct physical source.
func (b *PlanBuilder) prefetch(ctx context.Context, tables []ResolvedTable) (*metadataCache, error) {
	cache := &metadataCache{entries: make(map[string]TableMetadata, len(tables))}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	seen := make(map[string]bool, len(tables))
	for _, t := range tables {
		src := t.Source
		if seen[src.key()] {
			continue
		}
		seen[src.key()] = true

		g.Go(func() error {
			meta, err := b.reader.TableMetadata(gctx, src)
			if err != nil {
				return fmt.Errorf("fetch metadata of table %s: %w", src.TableID, err)
			}
			if meta.ID == "" {
				meta.ID = src.TableID
			}
			cache.put(src.key(), meta)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return cache, nil
}

type metadataCache struct {
	mu      sync.Mutex
	entries map[string]TableMetadata
}

func (c *metadataCache) put(key string, meta TableMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = meta
}

func (c *metadataCache) get(key string) TableMetadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key]
}
