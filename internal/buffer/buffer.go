// Package buffer is the durable edge queue for records pending uplink.
// It holds two buckets, the FIFO queue and the dead-letter queue, in a
// single embedded database file that survives process restarts.
package buffer

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// ErrStorage marks durable storage failures. Callers must treat the
// record as unpersisted when they see it; dropping it silently loses
// the event.
var ErrStorage = errors.New("buffer storage failure")

var (
	bucketQueue = []byte("queue")
	bucketDLQ   = []byte("dlq")
)

// Entry is the persisted envelope around one record.
type Entry struct {
	UER       json.RawMessage `json:"uer"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store wraps the embedded database. All mutating operations run in a
// single write transaction, so concurrent producers and the flush
// consumer serialize on the database's exclusive lock.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// Open creates or opens the buffer database at path and ensures both
// buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStorage, path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketQueue, bucketDLQ} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create buckets: %w", ErrStorage, err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database. The supervisor calls this last,
// after every producer and the flush worker have stopped.
func (s *Store) Close() error {
	return s.db.Close()
}

// Enqueue appends one record to the queue. It returns only after the
// record is durably persisted.
func (s *Store) Enqueue(uerJSON []byte) error {
	env, err := json.Marshal(Entry{UER: uerJSON, CreatedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("%w: encode entry: %w", ErrStorage, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueue)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(itob(id), env)
	})
	if err != nil {
		return fmt.Errorf("%w: enqueue: %w", ErrStorage, err)
	}
	return nil
}

// DequeueBatch atomically removes and returns up to n of the oldest
// records, in insertion order. Either the whole prefix is removed and
// returned or, on error, nothing is.
func (s *Store) DequeueBatch(n int) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	var out [][]byte
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueue)
		c := b.Cursor()
		var keys [][]byte
		for k, v := c.First(); k != nil && len(keys) < n; k, v = c.Next() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode entry %d: %w", btoi(k), err)
			}
			out = append(out, append([]byte(nil), e.UER...))
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dequeue batch: %w", ErrStorage, err)
	}
	return out, nil
}

// DeadLetter appends a permanently failed record to the dead-letter
// queue together with the failure reason.
func (s *Store) DeadLetter(uerJSON []byte, reason string) error {
	env, err := json.Marshal(Entry{UER: uerJSON, Reason: reason, CreatedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("%w: encode entry: %w", ErrStorage, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDLQ)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(itob(id), env)
	})
	if err != nil {
		return fmt.Errorf("%w: dead letter: %w", ErrStorage, err)
	}
	return nil
}

// Size returns the number of records waiting in the queue.
func (s *Store) Size() (int, error) {
	return s.bucketCount(bucketQueue)
}

// DLQSize returns the number of records in the dead-letter queue.
func (s *Store) DLQSize() (int, error) {
	return s.bucketCount(bucketDLQ)
}

// PeekDLQ returns up to n dead-letter entries, oldest first, without
// removing them.
func (s *Store) PeekDLQ(n int) ([]Entry, error) {
	var out []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDLQ).Cursor()
		for k, v := c.First(); k != nil && len(out) < n; k, v = c.Next() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode entry %d: %w", btoi(k), err)
			}
			e.UER = append(json.RawMessage(nil), e.UER...)
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: peek dlq: %w", ErrStorage, err)
	}
	return out, nil
}

// ClearDLQ drops every dead-letter entry.
func (s *Store) ClearDLQ() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketDLQ); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketDLQ)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: clear dlq: %w", ErrStorage, err)
	}
	return nil
}

func (s *Store) bucketCount(bucket []byte) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucket).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: count %s: %w", ErrStorage, bucket, err)
	}
	return n, nil
}

// itob encodes a sequence number big-endian so byte order matches
// numeric order and cursor iteration walks the queue FIFO.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
