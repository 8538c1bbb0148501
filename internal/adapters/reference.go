// internal/adapters/reference.go
package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/cultivar-crm/cultivar/internal/types"
)

// Reference is an in-process adapter used in tests and local deployments
// where no external fulfillment system is wired. It accepts every valid
// submission, assigns an external reference, and deduplicates on the
// idempotency key so a retried submission returns the original reference.
type Reference struct {
	system types.ExternalSystem
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]Ack
}

// NewReference creates a reference adapter for one external system.
func NewReference(system types.ExternalSystem, logger *slog.Logger) *Reference {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reference{
		system: system,
		logger: logger,
		seen:   make(map[string]Ack),
	}
}

// Send implements Adapter. A submission without a campaign is rejected as
// fatal: the external system cannot route it and a retry cannot fix it.
func (r *Reference) Send(ctx context.Context, cfg types.DispatchConfig, donor types.DonorID, idempotencyKey string) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, RetryableErr(err)
	}
	if cfg.System != r.system {
		return Ack{}, FatalErr(fmt.Errorf("submission for %q routed to %q adapter", cfg.System, r.system))
	}
	if cfg.Campaign == "" {
		return Ack{}, FatalErr(fmt.Errorf("%s submission has no campaign", r.system))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ack, ok := r.seen[idempotencyKey]; ok {
		return ack, nil
	}
	ack := Ack{Reference: fmt.Sprintf("%s-%s", r.system, uuid.NewString())}
	r.seen[idempotencyKey] = ack
	r.logger.Info("submission accepted",
		"system", r.system,
		"campaign", cfg.Campaign,
		"donor_id", donor,
		"reference", ack.Reference)
	return ack, nil
}

// Accepted returns how many distinct submissions the adapter has accepted.
func (r *Reference) Accepted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

// RegisterReferenceAdapters binds reference adapters for every known
// external system on the registry.
func RegisterReferenceAdapters(reg *Registry, logger *slog.Logger) {
	for _, system := range []types.ExternalSystem{types.SystemDialer, types.SystemMailhouse, types.SystemEmail} {
		reg.Register(system, NewReference(system, logger))
	}
}
