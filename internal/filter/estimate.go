// internal/filter/estimate.go
package filter

import (
	"context"
	"time"

	"github.com/cultivar-crm/cultivar/internal/types"
)

// EstimateMatches counts the donors in the snapshot matching fs. It is the
// exact predicate count, not an approximation: for an inclusion-only
// segment it equals the size a full recompute would produce. Pure and
// read-only; used by the authoring preview endpoint.
func (c *Compiler) EstimateMatches(ctx context.Context, src types.SnapshotSource, fs types.FilterSet, at time.Time) (int, error) {
	pred, err := c.Compile(fs)
	if err != nil {
		return 0, err
	}

	snapshot, err := src.FetchSnapshot(ctx, pred.Fields())
	if err != nil {
		return 0, err
	}

	count := 0
	for _, rec := range snapshot {
		if pred.Eval(rec, at) {
			count++
		}
	}
	return count, nil
}
