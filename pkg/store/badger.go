package store

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/fortiblox/ember/internal/types"
)

// Key prefixes for BadgerDB storage.
// Using prefixes allows efficient iteration over specific data types.
var (
	// prefixResource is the prefix for resource data.
	// Key format: prefixResource + address (32 bytes) + blake3(type tag) (32 bytes)
	prefixResource = []byte{0x01}

	// prefixMeta is the prefix for metadata.
	prefixMeta = []byte{0x02}

	// metaResourceCount is the key for the stored resource count.
	metaResourceCount = append(prefixMeta, []byte("count")...)
)

// BadgerConfig contains configuration for the Badger backend.
type BadgerConfig struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites ensures writes are synced to disk.
	// Setting to false improves performance but risks data loss on crash.
	SyncWrites bool

	// NumCompactors is the number of compaction workers.
	NumCompactors int

	// ValueLogFileSize is the size of each value log file.
	ValueLogFileSize int64

	// Logger is an optional logger. Set to nil to disable logging.
	Logger badger.Logger
}

// DefaultBadgerConfig returns default configuration.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:             path,
		InMemory:         false,
		SyncWrites:       false,
		NumCompactors:    4,
		ValueLogFileSize: 256 << 20, // 256MB
		Logger:           nil,
	}
}

// BadgerBackend stores resources in BadgerDB.
//
// Layout:
//   - Keys are a prefix byte, the owning address, and the blake3 hash of the
//     type tag, so every key is a fixed 65 bytes regardless of how deeply
//     instantiated the stored type is.
//   - Values are zstd-compressed. The uncompressed form carries the type tag
//     before the payload so iteration can reconstruct the full GlobalKey.
type BadgerBackend struct {
	db *badger.DB

	enc *zstd.Encoder
	dec *zstd.Decoder

	// count is cached in memory and persisted on Sync and Close.
	count atomic.Uint64

	mu     sync.Mutex
	closed atomic.Bool
}

// NewBadgerBackend opens a Badger-backed resource store.
func NewBadgerBackend(cfg BadgerConfig) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumCompactors(cfg.NumCompactors).
		WithValueLogFileSize(cfg.ValueLogFileSize).
		WithLogger(cfg.Logger)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	b := &BadgerBackend{db: db, enc: enc, dec: dec}
	if err := b.loadCount(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	return b, nil
}

func (b *BadgerBackend) loadCount() error {
	return b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaResourceCount)
		if err == badger.ErrKeyNotFound {
			b.count.Store(0)
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) >= 8 {
				b.count.Store(binary.LittleEndian.Uint64(val))
			}
			return nil
		})
	})
}

// resourceKey returns the BadgerDB key for a resource slot.
func resourceKey(key GlobalKey) []byte {
	tagHash := blake3.Sum256([]byte(key.Tag))
	out := make([]byte, 1+types.AddressSize+len(tagHash))
	out[0] = prefixResource[0]
	copy(out[1:], key.Address[:])
	copy(out[1+types.AddressSize:], tagHash[:])
	return out
}

// packValue prepends the type tag so iteration can recover it, then
// compresses the whole record.
func (b *BadgerBackend) packValue(key GlobalKey, data []byte) []byte {
	raw := make([]byte, 4+len(key.Tag)+len(data))
	binary.LittleEndian.PutUint32(raw, uint32(len(key.Tag)))
	copy(raw[4:], key.Tag)
	copy(raw[4+len(key.Tag):], data)
	return b.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2))
}

func (b *BadgerBackend) unpackValue(compressed []byte) (tag string, data []byte, err error) {
	raw, err := b.dec.DecodeAll(compressed, nil)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if len(raw) < 4 {
		return "", nil, ErrCorrupted
	}
	tagLen := int(binary.LittleEndian.Uint32(raw))
	if len(raw) < 4+tagLen {
		return "", nil, ErrCorrupted
	}
	return string(raw[4 : 4+tagLen]), raw[4+tagLen:], nil
}

// GetResource retrieves the bytes stored at a key.
func (b *BadgerBackend) GetResource(key GlobalKey) ([]byte, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(resourceKey(key))
		if err == badger.ErrKeyNotFound {
			return ErrResourceNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			_, payload, err := b.unpackValue(val)
			if err != nil {
				return err
			}
			data = payload
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// SetResource stores bytes at a key.
func (b *BadgerBackend) SetResource(key GlobalKey, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	exists, err := b.hasLocked(key)
	if err != nil {
		return err
	}

	packed := b.packValue(key, data)
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(resourceKey(key), packed)
	})
	if err != nil {
		return err
	}

	if !exists {
		b.count.Add(1)
	}
	return nil
}

// DeleteResource removes a key.
func (b *BadgerBackend) DeleteResource(key GlobalKey) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	exists, err := b.hasLocked(key)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(resourceKey(key))
	})
	if err != nil {
		return err
	}

	b.count.Add(^uint64(0)) // Decrement
	return nil
}

// HasResource checks whether a key holds a resource.
func (b *BadgerBackend) HasResource(key GlobalKey) (bool, error) {
	if b.closed.Load() {
		return false, ErrClosed
	}
	return b.hasLocked(key)
}

func (b *BadgerBackend) hasLocked(key GlobalKey) (bool, error) {
	var exists bool
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(resourceKey(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// ResourceCount returns the number of stored resources.
func (b *BadgerBackend) ResourceCount() (uint64, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}
	return b.count.Load(), nil
}

// IterateResources walks every stored resource in key order.
func (b *BadgerBackend) IterateResources(fn func(key GlobalKey, data []byte) error) error {
	if b.closed.Load() {
		return ErrClosed
	}

	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixResource
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			raw := item.Key()
			if len(raw) != 1+types.AddressSize+32 {
				continue
			}
			var addr types.Address
			copy(addr[:], raw[1:1+types.AddressSize])

			err := item.Value(func(val []byte) error {
				tag, payload, err := b.unpackValue(val)
				if err != nil {
					return err
				}
				return fn(GlobalKey{Address: addr, Tag: tag}, payload)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Sync persists the cached metadata and flushes Badger to disk.
func (b *BadgerBackend) Sync() error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.syncLocked()
}

func (b *BadgerBackend) syncLocked() error {
	return b.db.Update(func(txn *badger.Txn) error {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, b.count.Load())
		return txn.Set(metaResourceCount, buf)
	})
}

// RunGC runs garbage collection on the value log.
// This should be called periodically to reclaim space.
func (b *BadgerBackend) RunGC() error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.db.RunValueLogGC(0.5)
}

// Close persists metadata and closes the database.
func (b *BadgerBackend) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Persist metadata before closing
	if err := b.syncLocked(); err != nil {
		// A stale count only skews ResourceCount; don't block close
		_ = err
	}

	b.dec.Close()
	b.enc.Close()
	return b.db.Close()
}

var _ Backend = (*BadgerBackend)(nil)
