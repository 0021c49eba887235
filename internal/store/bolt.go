package store

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// BoltStore is a Store backed by an embedded bbolt database. Each
// collection is a bucket; values are JSON documents keyed by identifier.
// Read-modify-write upserts run inside a single bbolt transaction, so
// concurrent runs cannot lose each other's label writes.
type BoltStore struct {
	db        *bolt.DB
	source    []byte
	processed []byte
}

var _ Store = (*BoltStore)(nil)

// OpenBolt opens (or creates) the bbolt database at path and ensures both
// collection buckets exist.
func OpenBolt(path string, cols Collections) (*BoltStore, error) {
	cols = cols.withDefaults()
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt store %q: %w", path, err)
	}

	s := &BoltStore{db: db, source: []byte(cols.Source), processed: []byte(cols.Processed)}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{s.source, s.processed} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create bbolt buckets: %w", err)
	}
	return s, nil
}

func (s *BoltStore) Raw(_ context.Context, id string) (RawRecord, bool, error) {
	var rec RawRecord
	ok, err := s.get(s.source, id, &rec)
	return rec, ok, err
}

func (s *BoltStore) PutRaw(_ context.Context, rec RawRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(s.source), rec.ID, rec)
	})
}

func (s *BoltStore) Processed(_ context.Context, id string) (ProcessedRecord, bool, error) {
	var rec ProcessedRecord
	ok, err := s.get(s.processed, id, &rec)
	return rec, ok, err
}

func (s *BoltStore) ProcessedMany(_ context.Context, ids []string) (map[string]ProcessedRecord, error) {
	out := make(map[string]ProcessedRecord, len(ids))
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.processed)
		for _, id := range ids {
			v := b.Get([]byte(id))
			if v == nil {
				continue
			}
			var rec ProcessedRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode %s: %w", id, err)
			}
			out[id] = rec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) UpsertDescription(_ context.Context, id, cleanMessage, description string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.processed)
		var rec ProcessedRecord
		if v := b.Get([]byte(id)); v != nil {
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode %s: %w", id, err)
			}
		}
		rec.ID = id
		rec.CleanMessage = cleanMessage
		rec.Description = description
		rec.UpdatedAt = now()
		return putJSON(b, id, rec)
	})
}

func (s *BoltStore) SetClassification(_ context.Context, id, emotion, category string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.processed)
		v := b.Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		var rec ProcessedRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("decode %s: %w", id, err)
		}
		rec.Emotion = emotion
		rec.Category = category
		rec.UpdatedAt = now()
		return putJSON(b, id, rec)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) get(bucket []byte, id string, dst any) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get([]byte(id))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, dst)
	})
	if err != nil {
		return false, fmt.Errorf("read %s/%s: %w", bucket, id, err)
	}
	return found, nil
}

func putJSON(b *bolt.Bucket, id string, v any) error {
	if id == "" {
		return fmt.Errorf("empty identifier")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(id), data)
}
