// Package peerstore implements the directory of registered peers. Every
// operation sweeps expired records first, and every mutation is persisted to
// a JSON snapshot before the operation returns. Sweeping, mutating and
// persisting happen under one lock, so callers never observe (or persist) a
// half-applied operation.
package peerstore

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// A Store is the directory of registered peers. It is safe for concurrent
// use.
type Store struct {
	opts Options

	// mu guards records and the snapshot file. Methods with the Locked
	// suffix must only be called while it is held.
	mu      *sync.Mutex
	records map[Key]Record
}

// New returns a Store loaded from the snapshot at the configured path. A
// missing snapshot yields an empty Store. A snapshot that cannot be parsed
// also yields an empty Store; the failure is logged and otherwise ignored so
// that a corrupted file never stops the server from starting.
func New(opts Options) *Store {
	store := &Store{
		opts:    opts,
		mu:      new(sync.Mutex),
		records: map[Key]Record{},
	}
	if opts.Path == "" {
		return store
	}

	records, err := load(opts.Path, opts.Logger)
	if err != nil {
		opts.Logger.Warn("loading peers", zap.String("path", opts.Path), zap.Error(err))
		return store
	}
	store.records = records
	opts.Logger.Info("loaded peers", zap.String("path", opts.Path), zap.Int("records", len(records)))
	return store
}

// Upsert a Record. Any Record with the same Key is replaced. If the snapshot
// cannot be written, the change is rolled back and an error is returned.
func (store *Store) Upsert(record Record) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.sweepLocked()

	key := record.Key()
	prev, existed := store.records[key]
	store.records[key] = record

	if err := store.saveLocked(); err != nil {
		if existed {
			store.records[key] = prev
		} else {
			delete(store.records, key)
		}
		return fmt.Errorf("persisting peers: %w", err)
	}
	return nil
}

// Remove all Records registered from the given IP in the given namespace that
// also match the Filter. It returns the number of Records removed; removing
// nothing is not an error. If the snapshot cannot be written, the removed
// Records are restored and an error is returned.
func (store *Store) Remove(ip, namespace string, filter Filter) (int, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.sweepLocked()

	removed := []Record{}
	for key, record := range store.records {
		if record.IP != ip || record.Namespace != namespace || !filter.match(record) {
			continue
		}
		removed = append(removed, record)
		delete(store.records, key)
	}
	if len(removed) == 0 {
		return 0, nil
	}

	if err := store.saveLocked(); err != nil {
		for _, record := range removed {
			store.records[record.Key()] = record
		}
		return 0, fmt.Errorf("persisting peers: %w", err)
	}
	return len(removed), nil
}

// List the live Records in a namespace, or in all namespaces if the namespace
// is empty. Records are sorted by namespace, name, IP and port.
func (store *Store) List(namespace string) []Record {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.sweepLocked()

	records := make([]Record, 0, len(store.records))
	for _, record := range store.records {
		if namespace != "" && record.Namespace != namespace {
			continue
		}
		records = append(records, record)
	}
	sortRecords(records)
	return records
}

// Len returns the number of live Records.
func (store *Store) Len() int {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.sweepLocked()
	return len(store.records)
}

// Path returns the path of the snapshot, or the empty string if the Store is
// not persisted.
func (store *Store) Path() string {
	return store.opts.Path
}

// sweepLocked drops expired records from memory. The snapshot is not
// rewritten; expired records that remain on disk are dropped again when the
// snapshot is next loaded or written.
func (store *Store) sweepLocked() {
	now := store.opts.Clock.Now()
	for key, record := range store.records {
		if !record.IsLive(now) {
			delete(store.records, key)
		}
	}
}

func (store *Store) saveLocked() error {
	if store.opts.Path == "" {
		return nil
	}
	records := make([]Record, 0, len(store.records))
	for _, record := range store.records {
		records = append(records, record)
	}
	sortRecords(records)
	return save(store.opts.Path, records)
}

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.IP != b.IP {
			return a.IP < b.IP
		}
		return a.Port < b.Port
	})
}
