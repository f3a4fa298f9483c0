// Package badger is the persistent storage delegate, keeping the filesystem
// tree in an embedded BadgerDB database so metadata and file content survive
// restarts.
//
// One node record per object, one child-mapping key per directory entry, and
// one content blob per regular file (see keys.go for the schema). All
// multi-key operations run inside a single BadgerDB transaction, so a crash
// never leaves a half-linked node behind. Descriptor open state and
// byte-range locks are process state and deliberately not persisted.
package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/cairnfs/cairnfs/pkg/fsal"
)

// Config configures a store.
type Config struct {
	// Dir is the directory where BadgerDB keeps its files
	Dir string `mapstructure:"dir" validate:"required"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default 32)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`

	// TotalBytes is the capacity reported by statfs (default 64 GiB);
	// writes past it fail with no-space
	TotalBytes uint64 `mapstructure:"total_bytes"`

	// TotalFiles is the inode capacity reported by statfs (default 1 << 20)
	TotalFiles uint64 `mapstructure:"total_files"`

	// DisableSetTime withholds the set-time capability
	DisableSetTime bool `mapstructure:"disable_set_time"`

	// DisableReopen withholds the atomic reopen capability
	DisableReopen bool `mapstructure:"disable_reopen"`

	// LinkChecks advertises delegate-side link permission checking
	LinkChecks bool `mapstructure:"link_checks"`
}

// Store is a BadgerDB-backed filesystem tree.
type Store struct {
	db   *badger.DB
	seq  *badger.Sequence
	opts Config

	// Descriptor and lock state live in memory only; a restart closes
	// every file and drops every lock, which is what restarting means.
	mu        sync.Mutex
	openState map[uint64]fsal.OpenFlags
	locks     map[uint64][]lockRec

	usedBytes uint64
}

// lockRec is one byte-range lock held on a node.
type lockRec struct {
	owner  uint64
	kind   fsal.LockKind
	offset uint64
	length uint64
}

// Open opens (or creates) the database and ensures the root directory
// exists.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.TotalBytes == 0 {
		cfg.TotalBytes = 64 << 30
	}
	if cfg.TotalFiles == 0 {
		cfg.TotalFiles = 1 << 20
	}
	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := cfg.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}

	// Metadata records are small; compression overhead is not worth it
	opts := badger.DefaultOptions(cfg.Dir).
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None).
		WithBlockCacheSize(blockCacheMB << 20).
		WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Dir, err)
	}

	seq, err := db.GetSequence([]byte("seq:node"), 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open node id sequence: %w", err)
	}

	s := &Store{
		db:        db,
		seq:       seq,
		opts:      cfg,
		openState: make(map[uint64]fsal.OpenFlags),
		locks:     make(map[uint64][]lockRec),
	}

	if err := s.ensureRoot(); err != nil {
		_ = seq.Release()
		_ = db.Close()
		return nil, err
	}
	if err := s.scanUsage(); err != nil {
		_ = seq.Release()
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// ensureRoot creates the root directory record on first open.
func (s *Store) ensureRoot() error {
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(keyNode(rootID))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("failed to check root node: %w", err)
		}

		now := time.Now()
		root := &nodeRecord{
			ID:       rootID,
			Type:     fsal.TypeDirectory,
			Mode:     0o755,
			NLinks:   2,
			Atime:    now,
			Mtime:    now,
			Ctime:    now,
			Creation: now,
			Change:   1,
		}
		data, err := encodeNode(root)
		if err != nil {
			return err
		}
		if err := txn.Set(keyNode(rootID), data); err != nil {
			return fmt.Errorf("failed to create root node: %w", err)
		}

		// Reserve ids up to and including the root's
		for {
			id, err := s.seq.Next()
			if err != nil {
				return fmt.Errorf("failed to advance id sequence: %w", err)
			}
			if id >= rootID {
				return nil
			}
		}
	})
}

// scanUsage totals the content blobs so statfs reports usage from the start.
func (s *Store) scanUsage() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefixContent)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			s.usedBytes += uint64(it.Item().ValueSize())
		}
		return nil
	})
}

// Close releases the id sequence and closes the database.
func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		return fmt.Errorf("failed to release id sequence: %w", err)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}

// Root returns a handle on the root directory with one reference.
func (s *Store) Root() *Handle {
	return s.newHandle(rootID, fsal.TypeDirectory)
}

func (s *Store) nextID() (uint64, error) {
	id, err := s.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate node id: %w", err)
	}
	return id, nil
}

// getNode loads a node record inside a transaction. A missing record maps
// to stale: the handle outlived the object.
func getNode(txn *badger.Txn, id uint64) (*nodeRecord, fsal.Status) {
	item, err := txn.Get(keyNode(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fsal.Stat(fsal.ErrStale)
	}
	if err != nil {
		return nil, fsal.Stat(fsal.ErrIO)
	}

	var rec *nodeRecord
	err = item.Value(func(val []byte) error {
		var derr error
		rec, derr = decodeNode(val)
		return derr
	})
	if err != nil {
		return nil, fsal.Stat(fsal.ErrServerFault)
	}
	return rec, fsal.OK()
}

func putNode(txn *badger.Txn, rec *nodeRecord) fsal.Status {
	data, err := encodeNode(rec)
	if err != nil {
		return fsal.Stat(fsal.ErrServerFault)
	}
	if err := txn.Set(keyNode(rec.ID), data); err != nil {
		return fsal.Stat(fsal.ErrIO)
	}
	return fsal.OK()
}

// ioStatus maps a transaction error onto the delegate status domain,
// preferring a status already produced inside the transaction.
func ioStatus(err error, st fsal.Status) fsal.Status {
	if st.IsError() {
		return st
	}
	if err == nil {
		return fsal.OK()
	}
	if errors.Is(err, badger.ErrConflict) {
		return fsal.Stat(fsal.ErrDelay)
	}
	return fsal.Stat(fsal.ErrIO)
}
