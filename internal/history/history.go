package history

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/justin4957/latency-anomaly-detector/pkg/models"
	"github.com/vmihailenco/msgpack/v5"
)

var anomalyPrefix = []byte("anomaly/")

// Store keeps raised anomalies in BadgerDB, expiring them after the
// retention period
type Store struct {
	db        *badger.DB
	retention time.Duration
	seq       atomic.Uint32
}

// Open opens or creates the history database in dir. A zero retention keeps
// entries forever.
func Open(dir string, retention time.Duration) (*Store, error) {
	return open(badger.DefaultOptions(dir), retention)
}

// OpenInMemory creates a history that lives only as long as the process
func OpenInMemory(retention time.Duration) (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), retention)
}

func open(opts badger.Options, retention time.Duration) (*Store, error) {
	opts.Logger = nil // Disable BadgerDB logging
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &Store{db: db, retention: retention}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) key(ts time.Time) []byte {
	key := make([]byte, 0, len(anomalyPrefix)+12)
	key = append(key, anomalyPrefix...)
	key = binary.BigEndian.AppendUint64(key, uint64(ts.UnixNano()))
	key = binary.BigEndian.AppendUint32(key, s.seq.Add(1))
	return key
}

// Append stores anomaly under its timestamp
func (s *Store) Append(anomaly models.Anomaly) error {
	if anomaly.Timestamp.IsZero() {
		anomaly.Timestamp = time.Now()
	}
	payload, err := msgpack.Marshal(&anomaly)
	if err != nil {
		return fmt.Errorf("failed to encode anomaly: %w", err)
	}

	entry := badger.NewEntry(s.key(anomaly.Timestamp), payload)
	if s.retention > 0 {
		entry = entry.WithTTL(s.retention)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry)
	})
}

// HandleAnomaly records every alert raised by the monitor
func (s *Store) HandleAnomaly(_ context.Context, anomaly *models.Anomaly) error {
	return s.Append(*anomaly)
}

// Recent returns up to limit anomalies, newest first
func (s *Store) Recent(limit int) ([]models.Anomaly, error) {
	return s.scan(limit, time.Time{})
}

// Since returns anomalies raised at or after from, newest first
func (s *Store) Since(from time.Time, limit int) ([]models.Anomaly, error) {
	return s.scan(limit, from)
}

func (s *Store) scan(limit int, from time.Time) ([]models.Anomaly, error) {
	var out []models.Anomaly
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = anomalyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seekKey := append(append([]byte{}, anomalyPrefix...), 0xff)
		for it.Seek(seekKey); it.ValidForPrefix(anomalyPrefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				return nil
			}
			var anomaly models.Anomaly
			err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &anomaly)
			})
			if err != nil {
				return fmt.Errorf("failed to decode anomaly: %w", err)
			}
			if !from.IsZero() && anomaly.Timestamp.Before(from) {
				return nil
			}
			out = append(out, anomaly)
		}
		return nil
	})
	return out, err
}
