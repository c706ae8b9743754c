package audit

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketEntries = []byte("audit_entries")
	bucketMeta    = []byte("audit_meta")
	keyLastSeq    = []byte("last_seq")
)

// BoltSink appends entries to a bbolt file kept apart from the order store.
// Keys are big-endian (timestamp, seq) so cursor order is write order.
type BoltSink struct {
	db *bolt.DB
}

// OpenBolt opens or creates the audit file at path.
func OpenBolt(path string) (*BoltSink, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open audit bolt db: %w", err)
	}
	return &BoltSink{db: db}, nil
}

func (s *BoltSink) Init(_ context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketEntries); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
}

func (s *BoltSink) Close() error {
	return s.db.Close()
}

func entryKey(e Entry) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k[:8], uint64(e.Timestamp.UnixNano()))
	binary.BigEndian.PutUint64(k[8:], e.Seq)
	return k
}

func (s *BoltSink) Append(_ context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		if b == nil {
			return fmt.Errorf("bucket %s missing; Init not called", bucketEntries)
		}
		k := entryKey(e)
		if b.Get(k) != nil {
			return fmt.Errorf("audit key (%d, %d) already written", e.Timestamp.UnixNano(), e.Seq)
		}
		if err := b.Put(k, data); err != nil {
			return err
		}
		seq := make([]byte, 8)
		binary.BigEndian.PutUint64(seq, e.Seq)
		return tx.Bucket(bucketMeta).Put(keyLastSeq, seq)
	})
}

func (s *BoltSink) LastSeq(_ context.Context) (uint64, error) {
	var seq uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketMeta).Get(keyLastSeq); len(v) == 8 {
			seq = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	return seq, err
}

func (s *BoltSink) Recent(_ context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	out := make([]Entry, 0, limit)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode audit entry: %w", err)
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (s *BoltSink) BySubject(_ context.Context, subject string) ([]Entry, error) {
	var out []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode audit entry: %w", err)
			}
			if e.Subject == subject {
				out = append(out, e)
			}
			return nil
		})
	})
	return out, err
}
