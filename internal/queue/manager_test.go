package queue

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/vigil/internal/models"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()

	opts := badger.DefaultOptions(t.TempDir()).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func newTestManager(t *testing.T, visibility time.Duration, maxReceive int) *Manager {
	t.Helper()

	mgr, err := NewManager(openTestDB(t), Config{
		QueueName:         "test_scans",
		VisibilityTimeout: visibility,
		MaxReceive:        maxReceive,
	})
	require.NoError(t, err)

	return mgr
}

func TestQueue_EnqueueReceiveDelete(t *testing.T) {
	mgr := newTestManager(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, models.QueueMessage{JobID: "job_1", Target: "example.com"}))

	msg, err := mgr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job_1", msg.Body.JobID)
	assert.Equal(t, "example.com", msg.Body.Target)
	assert.Equal(t, 1, msg.ReceiveCount)

	// Claimed message is hidden for the visibility timeout
	_, err = mgr.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	require.NoError(t, mgr.Delete(ctx, msg.ID))
	_, err = mgr.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestQueue_EmptyReceive(t *testing.T) {
	mgr := newTestManager(t, time.Minute, 3)

	_, err := mgr.Receive(context.Background())
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestQueue_FIFOByVisibility(t *testing.T) {
	mgr := newTestManager(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, models.QueueMessage{JobID: "job_first"}))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, mgr.Enqueue(ctx, models.QueueMessage{JobID: "job_second"}))

	first, err := mgr.Receive(ctx)
	require.NoError(t, err)
	second, err := mgr.Receive(ctx)
	require.NoError(t, err)

	assert.Equal(t, "job_first", first.Body.JobID)
	assert.Equal(t, "job_second", second.Body.JobID)
}

func TestQueue_VisibilityTimeoutRedelivers(t *testing.T) {
	mgr := newTestManager(t, 50*time.Millisecond, 3)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, models.QueueMessage{JobID: "job_1"}))

	msg, err := mgr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, msg.ReceiveCount)

	time.Sleep(80 * time.Millisecond)

	again, err := mgr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, again.ID)
	assert.Equal(t, 2, again.ReceiveCount)
}

func TestQueue_ReleaseMakesVisibleAfterDelay(t *testing.T) {
	mgr := newTestManager(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, models.QueueMessage{JobID: "job_1"}))

	msg, err := mgr.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, mgr.Release(ctx, msg.ID, 30*time.Millisecond))

	// Not yet visible
	_, err = mgr.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	time.Sleep(50 * time.Millisecond)

	again, err := mgr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, again.ID)
	assert.Equal(t, 2, again.ReceiveCount)
}

func TestQueue_DeadLetterAfterMaxReceive(t *testing.T) {
	mgr := newTestManager(t, time.Minute, 2)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, models.QueueMessage{JobID: "job_poison"}))

	for i := 1; i <= 2; i++ {
		msg, err := mgr.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, msg.ReceiveCount)
		require.NoError(t, mgr.Release(ctx, msg.ID, 0))
	}

	// Delivery budget spent; the message is dropped, not redelivered
	_, err := mgr.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestQueue_DeleteIsIdempotent(t *testing.T) {
	mgr := newTestManager(t, time.Minute, 3)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, models.QueueMessage{JobID: "job_1"}))
	msg, err := mgr.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, mgr.Delete(ctx, msg.ID))
	require.NoError(t, mgr.Delete(ctx, msg.ID))
}
