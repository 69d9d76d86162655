// Package pebblestore keeps queue records in an embedded pebble database.
//
// A pebble directory is owned by one process, so the store's mutex is enough to
// make the conditional reserve atomic for every consumer sharing the Store.
package pebblestore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/lessq/lessq/internal/job"
)

const (
	jobPrefix    = "job:"
	buriedPrefix = "buried:"
	jobSeqKey    = "seq:job"
	buriedSeqKey = "seq:buried"
)

// Store provides KV storage using Pebble
type Store struct {
	db *pebble.DB
	mu sync.Mutex
}

// New opens or creates a store at path
func New(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}

	return &Store{
		db: db,
	}, nil
}

// Close closes the store
func (s *Store) Close() error {
	return s.db.Close()
}

// Table returns the poll engine's view of the store
func (s *Store) Table() *Table {
	return &Table{s: s}
}

// Archive returns the buried side table of the store
func (s *Store) Archive() *Archive {
	return &Archive{s: s}
}

// get retrieves a value by key, nil if missing
func (s *Store) get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	defer closer.Close()

	// Copy value since it's only valid until closer is called
	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// scan iterates over keys with a prefix in key order
func (s *Store) scan(prefix []byte, callback func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value := make([]byte, len(iter.Value()))
		copy(value, iter.Value())

		if err := callback(iter.Key(), value); err != nil {
			return err
		}
	}

	return iter.Error()
}

// insert assigns the next id from seqKey and writes rec under prefix
func (s *Store) insert(prefix, seqKey string, rec *job.Record) (int64, error) {
	raw, err := s.get([]byte(seqKey))
	if err != nil {
		return 0, err
	}
	var seq uint64
	if len(raw) == 8 {
		seq = binary.BigEndian.Uint64(raw)
	}
	seq++

	stored := *rec
	stored.ID = int64(seq)
	value, err := encodeRecord(&stored)
	if err != nil {
		return 0, err
	}

	next := make([]byte, 8)
	binary.BigEndian.PutUint64(next, seq)

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set([]byte(seqKey), next, nil); err != nil {
		return 0, err
	}
	if err := batch.Set(recordKey(prefix, stored.ID), value, nil); err != nil {
		return 0, err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, err
	}
	return stored.ID, nil
}

func (s *Store) load(prefix string, id int64) (*job.Record, error) {
	value, err := s.get(recordKey(prefix, id))
	if err != nil || value == nil {
		return nil, err
	}
	return decodeRecord(value)
}

func (s *Store) save(prefix string, rec *job.Record) error {
	value, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return s.db.Set(recordKey(prefix, rec.ID), value, pebble.Sync)
}

func (s *Store) remove(prefix string, id int64) error {
	return s.db.Delete(recordKey(prefix, id), pebble.Sync)
}

func (s *Store) all(prefix string) ([]*job.Record, error) {
	var records []*job.Record
	err := s.scan([]byte(prefix), func(_, value []byte) error {
		rec, err := decodeRecord(value)
		if err != nil {
			return err
		}
		records = append(records, rec)
		return nil
	})
	return records, err
}

// recordKey zero-pads ids so key order is id order
func recordKey(prefix string, id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefix, id))
}

// prefixUpperBound returns the upper bound for a prefix scan
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end
		}
	}
	return nil
}

// recordMetadata is the stored JSON form of a record; times are unix milliseconds
type recordMetadata struct {
	ID            int64  `json:"id"`
	State         string `json:"state"`
	Name          string `json:"name"`
	Data          []byte `json:"data"`
	Attempt       uint32 `json:"attempt"`
	Priority      uint8  `json:"priority"`
	Until         *int64 `json:"until,omitempty"`
	ReservedAt    *int64 `json:"reserved_at,omitempty"`
	ReservedUntil *int64 `json:"reserved_until,omitempty"`
}

func encodeRecord(rec *job.Record) ([]byte, error) {
	return json.Marshal(recordMetadata{
		ID:            rec.ID,
		State:         string(rec.State),
		Name:          string(rec.Name),
		Data:          rec.Data,
		Attempt:       rec.Attempt,
		Priority:      uint8(rec.Priority),
		Until:         toMillis(rec.Until),
		ReservedAt:    toMillis(rec.ReservedAt),
		ReservedUntil: toMillis(rec.ReservedUntil),
	})
}

func decodeRecord(value []byte) (*job.Record, error) {
	var meta recordMetadata
	if err := json.Unmarshal(value, &meta); err != nil {
		return nil, fmt.Errorf("corrupt record: %w", err)
	}
	return &job.Record{
		ID:            meta.ID,
		State:         job.State(meta.State),
		Name:          job.Name(meta.Name),
		Data:          meta.Data,
		Attempt:       meta.Attempt,
		Priority:      job.Priority(meta.Priority),
		Until:         fromMillis(meta.Until),
		ReservedAt:    fromMillis(meta.ReservedAt),
		ReservedUntil: fromMillis(meta.ReservedUntil),
	}, nil
}

func toMillis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func fromMillis(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms)
	return &t
}

func page(records []*job.Record, offset, limit int) []*job.Record {
	if offset >= len(records) {
		return nil
	}
	end := offset + limit
	if end > len(records) {
		end = len(records)
	}
	return records[offset:end]
}
