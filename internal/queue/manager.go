package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/vigil/internal/models"
)

// ErrNoMessage is returned when no message is ready for delivery
var ErrNoMessage = models.ErrNoMessage

// storedMessage is the internal structure kept in Badger.
// Keys:
//
//	queue:{name}:msg:{id}                      -> JSON payload
//	queue:{name}:index:{visibleAt:020d}:{id}   -> empty
//
// The zero-padded nanosecond timestamp in the index key makes Badger's
// lexicographic iteration order double as visibility order.
type storedMessage struct {
	ID           string              `json:"id"`
	Body         models.QueueMessage `json:"body"`
	EnqueuedAt   time.Time           `json:"enqueued_at"`
	VisibleAt    time.Time           `json:"visible_at"`
	ReceiveCount int                 `json:"receive_count"`
}

// ReceivedMessage is a claimed message plus the bookkeeping the worker
// needs to settle it.
type ReceivedMessage struct {
	ID           string
	ReceiveCount int
	Body         models.QueueMessage
}

// Manager implements a durable queue on BadgerDB with per-message
// visibility timeouts (the job lease) and max-receive dead-lettering.
type Manager struct {
	db                *badger.DB
	queueName         string
	visibilityTimeout time.Duration
	maxReceive        int
}

// NewManager creates a new Badger-backed queue manager
func NewManager(db *badger.DB, config Config) (*Manager, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if config.QueueName == "" {
		return nil, errors.New("queue name is required")
	}
	visibility := config.VisibilityTimeout
	if visibility <= 0 {
		visibility = 35 * time.Minute
	}
	maxReceive := config.MaxReceive
	if maxReceive <= 0 {
		maxReceive = 3
	}

	return &Manager{
		db:                db,
		queueName:         config.QueueName,
		visibilityTimeout: visibility,
		maxReceive:        maxReceive,
	}, nil
}

// Enqueue adds a message to the queue, immediately visible
func (m *Manager) Enqueue(ctx context.Context, msg models.QueueMessage) error {
	stored := storedMessage{
		ID:         uuid.New().String(),
		Body:       msg,
		EnqueuedAt: time.Now(),
		VisibleAt:  time.Now(),
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	return m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(m.msgKey(stored.ID), data); err != nil {
			return err
		}
		return txn.Set(m.indexKey(stored.VisibleAt, stored.ID), []byte{})
	})
}

// Receive claims the next visible message and hides it for the
// visibility timeout. Messages that have exhausted their deliveries are
// dropped during the scan so a poison job cannot loop forever.
func (m *Manager) Receive(ctx context.Context) (*ReceivedMessage, error) {
	var claimed storedMessage

	err := m.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := m.indexPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		found := false
		var oldIndexKey []byte

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			ts, id, err := m.parseIndexKey(key)
			if err != nil {
				continue
			}
			if ts.After(now) {
				// Index keys sort by visibility time; nothing later is ready
				break
			}

			item, err := txn.Get(m.msgKey(id))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					// Orphaned index entry, clean it up
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}

			var stored storedMessage
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			}); err != nil {
				return err
			}

			if stored.ReceiveCount >= m.maxReceive {
				// Dead-letter: delivery budget exhausted
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Delete(m.msgKey(id)); err != nil {
					return err
				}
				continue
			}

			claimed = stored
			oldIndexKey = key
			found = true
			break
		}

		if !found {
			return ErrNoMessage
		}

		claimed.ReceiveCount++
		claimed.VisibleAt = time.Now().Add(m.visibilityTimeout)

		data, err := json.Marshal(claimed)
		if err != nil {
			return err
		}
		if err := txn.Set(m.msgKey(claimed.ID), data); err != nil {
			return err
		}
		if err := txn.Delete(oldIndexKey); err != nil {
			return err
		}
		return txn.Set(m.indexKey(claimed.VisibleAt, claimed.ID), []byte{})
	})

	if err != nil {
		return nil, err
	}

	return &ReceivedMessage{
		ID:           claimed.ID,
		ReceiveCount: claimed.ReceiveCount,
		Body:         claimed.Body,
	}, nil
}

// Delete settles a message permanently (success or fatal rejection)
func (m *Manager) Delete(ctx context.Context, messageID string) error {
	return m.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(m.msgKey(messageID))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil // Already settled
			}
			return err
		}

		var stored storedMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		}); err != nil {
			return err
		}

		if err := txn.Delete(m.indexKey(stored.VisibleAt, messageID)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Delete(m.msgKey(messageID))
	})
}

// Release makes a claimed message visible again after the given delay.
// The worker uses this for retryable failures so the redelivery backoff
// is not pinned to the full visibility timeout.
func (m *Manager) Release(ctx context.Context, messageID string, delay time.Duration) error {
	return m.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(m.msgKey(messageID))
		if err != nil {
			return err
		}

		var stored storedMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		}); err != nil {
			return err
		}

		oldIndexKey := m.indexKey(stored.VisibleAt, messageID)
		stored.VisibleAt = time.Now().Add(delay)

		data, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		if err := txn.Set(m.msgKey(messageID), data); err != nil {
			return err
		}
		if err := txn.Delete(oldIndexKey); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(m.indexKey(stored.VisibleAt, messageID), []byte{})
	})
}

// Close closes the queue manager (no-op, the DB is managed externally)
func (m *Manager) Close() error {
	return nil
}

func (m *Manager) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", m.queueName, id))
}

func (m *Manager) indexPrefix() []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", m.queueName))
}

func (m *Manager) indexKey(visibleAt time.Time, id string) []byte {
	// Zero pad to 20 digits so string sorting matches numeric sorting
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", m.queueName, visibleAt.UnixNano(), id))
}

func (m *Manager) parseIndexKey(key []byte) (time.Time, string, error) {
	prefix := m.indexPrefix()
	if len(key) <= len(prefix) {
		return time.Time{}, "", fmt.Errorf("invalid index key length")
	}

	suffix := string(key[len(prefix):])
	if len(suffix) < 22 { // 20-digit timestamp, colon, at least one id byte
		return time.Time{}, "", fmt.Errorf("invalid index key suffix")
	}

	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return time.Time{}, "", err
	}

	return time.Unix(0, ts), suffix[21:], nil
}
