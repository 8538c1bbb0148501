// internal/segment/engine.go
package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cultivar-crm/cultivar/internal/filter"
	"github.com/cultivar-crm/cultivar/internal/types"
)

/*
 * Segment membership engine.
 *
 * Owns per-segment donor membership for dynamic segments. Two update paths:
 *   - Recompute: full snapshot scan, batched and cancellable
 *   - ApplyDonorChange: re-evaluate one donor after a field change
 *
 * Removal semantics: removalAction remove subtracts matching donors from the
 * set; mark_inactive and mark_inactive_with_date keep them as members with
 * an inactive flag (and effective date), leaving the membership count
 * untouched.
 *
 * Single-writer discipline: each segment carries a version counter. A writer
 * captures the version when it starts and commits only if the version is
 * unchanged; otherwise its result is discarded (recompute) or recomputed
 * from fresh state (incremental). Stale results are never merged.
 *
 * Cancellation: the snapshot scan checks the context between donor batches,
 * never mid-predicate. A cancelled recompute leaves the previously stored
 * membership untouched.
 */

// recomputeBatchSize is the cancellation granularity of a full scan.
const recomputeBatchSize = 500

// incrementalRetries bounds version-conflict retries for one-donor updates.
const incrementalRetries = 3

// Store is the persistence surface the engine needs. Implemented by the
// store package (memory and sqlstore).
type Store interface {
	GetSegment(ctx context.Context, id types.SegmentID) (*types.Segment, error)
	UpdateSegmentState(ctx context.Context, id types.SegmentID, state types.SegmentState) error
	GetMembers(ctx context.Context, id types.SegmentID) (types.MemberSet, error)
	PutMembers(ctx context.Context, id types.SegmentID, members types.MemberSet) error
}

// Engine recomputes and incrementally maintains dynamic segment membership.
type Engine struct {
	store    Store
	source   types.SnapshotSource
	compiler *filter.Compiler
	logger   *slog.Logger

	mu       sync.Mutex
	versions map[types.SegmentID]uint64
}

// NewEngine creates a membership engine over the donor schema.
func NewEngine(store Store, source types.SnapshotSource, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		source:   source,
		compiler: filter.NewCompiler(filter.DonorSchema(), logger),
		logger:   logger,
		versions: make(map[types.SegmentID]uint64),
	}
}

// version returns the current write version for a segment.
func (e *Engine) version(id types.SegmentID) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.versions[id]
}

// commit bumps the segment version and persists members, but only if no
// other writer committed since the caller captured v. Returns ErrStaleWrite
// when superseded.
func (e *Engine) commit(ctx context.Context, id types.SegmentID, v uint64, members types.MemberSet) error {
	e.mu.Lock()
	if e.versions[id] != v {
		e.mu.Unlock()
		return types.ErrStaleWrite
	}
	e.versions[id] = v + 1
	e.mu.Unlock()
	return e.store.PutMembers(ctx, id, members)
}

// predicates compiles the segment's inclusion and optional removal filters.
func (e *Engine) predicates(seg *types.Segment) (incl, removal *filter.Predicate, err error) {
	incl, err = e.compiler.Compile(seg.Inclusion)
	if err != nil {
		return nil, nil, fmt.Errorf("inclusion: %w", err)
	}
	if len(seg.Removal) > 0 {
		removal, err = e.compiler.Compile(seg.Removal)
		if err != nil {
			return nil, nil, fmt.Errorf("removal: %w", err)
		}
	}
	return incl, removal, nil
}

// evaluateDonor applies inclusion and removal predicates to one donor and
// returns its membership row, if any.
func evaluateDonor(seg *types.Segment, incl, removal *filter.Predicate, rec types.DonorRecord, at time.Time) (types.Member, bool) {
	if !incl.Eval(rec, at) {
		return types.Member{}, false
	}
	m := types.Member{DonorID: rec.ID}
	if removal != nil && removal.Eval(rec, at) {
		switch seg.RemovalAction {
		case types.RemovalRemove:
			return types.Member{}, false
		case types.RemovalMarkInactive:
			m.Inactive = true
		case types.RemovalMarkInactiveDate:
			m.Inactive = true
			since := at
			if seg.InactiveAsOf != nil {
				since = *seg.InactiveAsOf
			}
			m.InactiveSince = &since
		}
	}
	return m, true
}

// Recompute rebuilds a dynamic segment's membership from a full snapshot
// scan. at is the evaluation timestamp for date-window clauses. The
// resulting set replaces the stored one atomically; a cancelled or
// superseded run leaves stored membership untouched.
func (e *Engine) Recompute(ctx context.Context, id types.SegmentID, at time.Time) (types.MemberSet, error) {
	seg, err := e.store.GetSegment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !seg.Dynamic() {
		return nil, types.ErrStaticSegment
	}
	if seg.State != types.StateActive {
		return nil, types.ErrSegmentNotActive
	}

	incl, removal, err := e.predicates(seg)
	if err != nil {
		return nil, err
	}

	fields := incl.Fields()
	if removal != nil {
		fields = append(fields, removal.Fields()...)
	}

	v := e.version(id)

	snapshot, err := e.source.FetchSnapshot(ctx, fields)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}

	members := make(types.MemberSet)
	for start := 0; start < len(snapshot); start += recomputeBatchSize {
		if err := ctx.Err(); err != nil {
			e.logger.Info("recompute cancelled", "segment", id, "scanned", start)
			return nil, err
		}
		end := min(start+recomputeBatchSize, len(snapshot))
		for _, rec := range snapshot[start:end] {
			if m, ok := evaluateDonor(seg, incl, removal, rec, at); ok {
				members[rec.ID] = m
			}
		}
	}

	if err := e.commit(ctx, id, v, members); err != nil {
		if errors.Is(err, types.ErrStaleWrite) {
			e.logger.Info("recompute superseded, result discarded", "segment", id)
			return e.store.GetMembers(ctx, id)
		}
		return nil, err
	}

	e.logger.Info("segment recomputed", "segment", id, "members", len(members), "scanned", len(snapshot))
	return members, nil
}

// ApplyDonorChange re-evaluates one donor against a dynamic segment after a
// field change and adds or removes (or re-flags) just that donor. The
// outcome for the donor is identical to a full recompute restricted to it.
func (e *Engine) ApplyDonorChange(ctx context.Context, id types.SegmentID, donorID types.DonorID, at time.Time) (types.MemberSet, error) {
	seg, err := e.store.GetSegment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !seg.Dynamic() {
		return nil, types.ErrStaticSegment
	}
	if seg.State != types.StateActive {
		return nil, types.ErrSegmentNotActive
	}

	incl, removal, err := e.predicates(seg)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		v := e.version(id)

		current, err := e.store.GetMembers(ctx, id)
		if err != nil {
			return nil, err
		}
		next := current.Clone()

		rec, err := e.source.FetchDonor(ctx, donorID)
		switch {
		case errors.Is(err, types.ErrDonorNotFound):
			// Donor left the dataset; membership must stay a subset of it.
			delete(next, donorID)
		case err != nil:
			return nil, err
		default:
			if m, ok := evaluateDonor(seg, incl, removal, rec, at); ok {
				next[donorID] = m
			} else {
				delete(next, donorID)
			}
		}

		err = e.commit(ctx, id, v, next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, types.ErrStaleWrite) {
			return nil, err
		}
		if attempt >= incrementalRetries {
			e.logger.Warn("incremental update kept losing to concurrent writers", "segment", id, "donor", donorID)
			return e.store.GetMembers(ctx, id)
		}
	}
}

// AddStaticMember adds a donor to a static segment. Static membership is
// only ever mutated through these explicit calls.
func (e *Engine) AddStaticMember(ctx context.Context, id types.SegmentID, donorID types.DonorID) error {
	return e.mutateStatic(ctx, id, func(members types.MemberSet) {
		members[donorID] = types.Member{DonorID: donorID}
	})
}

// RemoveStaticMember removes a donor from a static segment.
func (e *Engine) RemoveStaticMember(ctx context.Context, id types.SegmentID, donorID types.DonorID) error {
	return e.mutateStatic(ctx, id, func(members types.MemberSet) {
		delete(members, donorID)
	})
}

func (e *Engine) mutateStatic(ctx context.Context, id types.SegmentID, mutate func(types.MemberSet)) error {
	seg, err := e.store.GetSegment(ctx, id)
	if err != nil {
		return err
	}
	if seg.Dynamic() {
		return fmt.Errorf("%w: segment %s is dynamic", types.ErrInvalidTransition, id)
	}
	for attempt := 0; ; attempt++ {
		v := e.version(id)
		members, err := e.store.GetMembers(ctx, id)
		if err != nil {
			return err
		}
		next := members.Clone()
		mutate(next)
		err = e.commit(ctx, id, v, next)
		if err == nil || !errors.Is(err, types.ErrStaleWrite) {
			return err
		}
		if attempt >= incrementalRetries {
			return err
		}
	}
}

// Transition moves a segment through its lifecycle. Archiving clears
// membership but keeps the segment record and its execution history.
func (e *Engine) Transition(ctx context.Context, id types.SegmentID, next types.SegmentState) error {
	seg, err := e.store.GetSegment(ctx, id)
	if err != nil {
		return err
	}
	if !seg.ValidTransition(next) {
		return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, seg.State, next)
	}
	if err := e.store.UpdateSegmentState(ctx, id, next); err != nil {
		return err
	}
	if next == types.StateArchived {
		v := e.version(id)
		if err := e.commit(ctx, id, v, types.MemberSet{}); err != nil {
			return err
		}
	}
	e.logger.Info("segment state changed", "segment", id, "from", seg.State, "to", next)
	return nil
}
