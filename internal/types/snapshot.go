package types

import "context"

// SnapshotSource is the read-only donor dataset consumed by the segment
// engine and the match estimator. Implementations live outside the engine
// (storage layer); only the contract is owned here.
//
// FetchSnapshot returns records carrying at least the requested fields.
// Implementations may return more fields than asked for; they must never
// return fewer donors than the dataset holds.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context, fields []FieldName) ([]DonorRecord, error)

	// FetchDonor returns a single donor's current record, for incremental
	// membership updates. Returns ErrDonorNotFound for unknown IDs.
	FetchDonor(ctx context.Context, id DonorID) (DonorRecord, error)
}
