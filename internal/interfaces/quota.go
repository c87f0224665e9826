package interfaces

import "context"

// QuotaService is the external quota ledger collaborator. One decrement
// per job creation, one compensating rollback per job recovered as
// interrupted. Both must be idempotent per job id - recovery must never
// double-rollback.
type QuotaService interface {
	Decrement(ctx context.Context, ownerID string) error
	Rollback(ctx context.Context, ownerID, jobID string) error
}
