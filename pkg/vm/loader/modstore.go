package loader

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/ember/internal/types"
)

var (
	// ErrRecordNotFound is returned when a stored module doesn't exist.
	ErrRecordNotFound = errors.New("module record not found")

	// ErrStoreClosed is returned when operating on a closed module store.
	ErrStoreClosed = errors.New("module store closed")

	// ErrBadFormat is returned when the store was written by an
	// incompatible record format.
	ErrBadFormat = errors.New("incompatible module store format")
)

// Bucket names for BoltDB.
var (
	// bucketModules stores module records keyed by module id string.
	bucketModules = []byte("modules")

	// bucketMeta stores module store metadata.
	bucketMeta = []byte("metadata")
)

// Metadata keys.
var (
	keyFormat = []byte("format")
)

// recordFormat is bumped whenever the gob shape of Record changes.
const recordFormat = "1"

// ModStoreConfig holds module store configuration options.
type ModStoreConfig struct {
	// Path is the file path for the module database.
	Path string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool
}

// DefaultModStoreConfig returns the default module store configuration.
func DefaultModStoreConfig(path string) ModStoreConfig {
	return ModStoreConfig{
		Path:     path,
		NoSync:   false,
		ReadOnly: false,
	}
}

// ModStore persists module records in BoltDB. Records gob-encode; the loader
// relinks them on load, so the store never holds pointers.
type ModStore struct {
	db     *bolt.DB
	config ModStoreConfig

	mu     sync.RWMutex
	closed bool
}

// OpenModStore creates or opens a module store at the configured path.
func OpenModStore(config ModStoreConfig) (*ModStore, error) {
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	opts := &bolt.Options{
		Timeout:  5 * time.Second,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	}

	db, err := bolt.Open(config.Path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &ModStore{
		db:     db,
		config: config,
	}

	// Initialize buckets (skip in read-only mode).
	if !config.ReadOnly {
		if err := store.initBuckets(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init buckets: %w", err)
		}
	}

	if err := store.checkFormat(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initBuckets creates all required buckets and stamps the record format.
func (s *ModStore) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketModules,
			bucketMeta,
		}
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		meta := tx.Bucket(bucketMeta)
		if meta.Get(keyFormat) == nil {
			return meta.Put(keyFormat, []byte(recordFormat))
		}
		return nil
	})
}

// checkFormat rejects stores written by an incompatible record shape.
func (s *ModStore) checkFormat() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			return nil // Empty read-only database.
		}
		v := meta.Get(keyFormat)
		if v == nil {
			return nil
		}
		if string(v) != recordFormat {
			return fmt.Errorf("%w: have %s, want %s", ErrBadFormat, v, recordFormat)
		}
		return nil
	})
}

// Put stores a module record, replacing any previous record for the id.
func (s *ModStore) Put(rec *Record) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketModules)
		return b.Put([]byte(rec.ID.String()), buf.Bytes())
	})
}

// Get retrieves a module record by id.
func (s *ModStore) Get(id types.ModuleID) (*Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var rec Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketModules)
		if b == nil {
			return ErrRecordNotFound
		}
		data := b.Get([]byte(id.String()))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
		}
		return gob.NewDecoder(bytes.NewReader(data)).Decode(&rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Has reports whether a record exists for the id.
func (s *ModStore) Has(id types.ModuleID) bool {
	if err := s.checkOpen(); err != nil {
		return false
	}

	found := false
	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketModules)
		if b != nil && b.Get([]byte(id.String())) != nil {
			found = true
		}
		return nil
	})
	return found
}

// Delete removes a module record. Deleting a missing record is not an error.
func (s *ModStore) Delete(id types.ModuleID) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketModules)
		return b.Delete([]byte(id.String()))
	})
}

// List returns the ids of every stored module.
func (s *ModStore) List() ([]types.ModuleID, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var ids []types.ModuleID
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketModules)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			id, err := types.ParseModuleID(string(k))
			if err != nil {
				return fmt.Errorf("corrupt module key %q: %w", k, err)
			}
			ids = append(ids, id)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Count returns the number of stored records.
func (s *ModStore) Count() (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketModules); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n, err
}

// Sync flushes the database to disk.
func (s *ModStore) Sync() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.Sync()
}

// Close closes the underlying database.
func (s *ModStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *ModStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}
