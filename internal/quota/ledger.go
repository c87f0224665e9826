package quota

import (
	"context"
	"errors"
	"sync"

	"github.com/ternarybob/arbor"
)

// ErrQuotaExhausted is returned when an owner has no scan units left
var ErrQuotaExhausted = errors.New("scan quota exhausted")

// defaultAllowance is granted to owners the ledger has not seen before
const defaultAllowance = 50

// Ledger is an in-memory quota ledger. The real policy service lives
// elsewhere; this subsystem only needs the decrement/rollback pair, and
// this implementation keeps single-process deployments self-contained.
// Rollback is idempotent per job id so recovery can never refund twice.
type Ledger struct {
	mu         sync.Mutex
	balances   map[string]int
	rolledBack map[string]struct{}
	logger     arbor.ILogger
}

// NewLedger creates a new in-memory quota ledger
func NewLedger(logger arbor.ILogger) *Ledger {
	return &Ledger{
		balances:   make(map[string]int),
		rolledBack: make(map[string]struct{}),
		logger:     logger,
	}
}

// Decrement consumes one scan unit from the owner's balance
func (l *Ledger) Decrement(ctx context.Context, ownerID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance, ok := l.balances[ownerID]
	if !ok {
		balance = defaultAllowance
	}
	if balance <= 0 {
		return ErrQuotaExhausted
	}
	l.balances[ownerID] = balance - 1

	l.logger.Debug().
		Str("owner_id", ownerID).
		Int("remaining", balance-1).
		Msg("Quota unit consumed")

	return nil
}

// Rollback returns one scan unit to the owner. The job id keys the
// idempotency guard: repeated rollbacks for the same job are no-ops.
func (l *Ledger) Rollback(ctx context.Context, ownerID, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, done := l.rolledBack[jobID]; done {
		return nil
	}
	l.rolledBack[jobID] = struct{}{}

	balance, ok := l.balances[ownerID]
	if !ok {
		balance = defaultAllowance
	}
	l.balances[ownerID] = balance + 1

	l.logger.Info().
		Str("owner_id", ownerID).
		Str("job_id", jobID).
		Msg("Quota unit returned")

	return nil
}

// Balance reports the owner's remaining units
func (l *Ledger) Balance(ownerID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if balance, ok := l.balances[ownerID]; ok {
		return balance
	}
	return defaultAllowance
}
