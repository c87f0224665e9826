package quota

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/vigil/internal/common"
)

func TestLedger_DecrementAndBalance(t *testing.T) {
	ledger := NewLedger(common.GetLogger())
	ctx := context.Background()

	before := ledger.Balance("usr_1")
	require.NoError(t, ledger.Decrement(ctx, "usr_1"))
	assert.Equal(t, before-1, ledger.Balance("usr_1"))
}

func TestLedger_ExhaustedQuota(t *testing.T) {
	ledger := NewLedger(common.GetLogger())
	ctx := context.Background()

	for i := 0; i < defaultAllowance; i++ {
		require.NoError(t, ledger.Decrement(ctx, "usr_1"))
	}

	err := ledger.Decrement(ctx, "usr_1")
	assert.ErrorIs(t, err, ErrQuotaExhausted)
}

func TestLedger_RollbackIdempotentPerJob(t *testing.T) {
	ledger := NewLedger(common.GetLogger())
	ctx := context.Background()

	require.NoError(t, ledger.Decrement(ctx, "usr_1"))
	balance := ledger.Balance("usr_1")

	require.NoError(t, ledger.Rollback(ctx, "usr_1", "job_1"))
	require.NoError(t, ledger.Rollback(ctx, "usr_1", "job_1"))
	require.NoError(t, ledger.Rollback(ctx, "usr_1", "job_1"))

	assert.Equal(t, balance+1, ledger.Balance("usr_1"), "repeated rollbacks refund once")
}

func TestLedger_RollbackDistinctJobs(t *testing.T) {
	ledger := NewLedger(common.GetLogger())
	ctx := context.Background()

	require.NoError(t, ledger.Decrement(ctx, "usr_1"))
	require.NoError(t, ledger.Decrement(ctx, "usr_1"))
	balance := ledger.Balance("usr_1")

	require.NoError(t, ledger.Rollback(ctx, "usr_1", "job_1"))
	require.NoError(t, ledger.Rollback(ctx, "usr_1", "job_2"))

	assert.Equal(t, balance+2, ledger.Balance("usr_1"))
}
