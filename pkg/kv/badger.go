package kv

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"

	kverrors "github.com/orneryd/kvgraph/pkg/errors"
)

// Internal keys live under a NUL prefix no graph key can produce.
const (
	badgerInternalPrefix = "\x00"
	badgerRevisionKey    = badgerInternalPrefix + "kvgraph.revision"

	revisionBandwidth = 1000
	revisionHeader    = 8
)

// BadgerOptions configures the BadgerDB store.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	// Slower but more durable.
	SyncWrites bool

	// Logger receives BadgerDB internal logging. Nil keeps badger quiet.
	Logger *slog.Logger
}

// BadgerStore is a persistent Store on BadgerDB.
//
// Each value is stored as an 8-byte big-endian revision followed by the
// payload. Revisions come from a badger Sequence so they stay monotonic
// across restarts. Conditional writes run inside one badger transaction; a
// transaction conflict means another writer got there first and is reported
// as ErrKeyExists or ErrRevisionMismatch.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence

	mu     sync.RWMutex
	closed bool
}

// OpenBadger opens (or creates) a BadgerDB store.
//
// Example:
//
//	store, err := kv.OpenBadger(kv.BadgerOptions{DataDir: "./data/graph"})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
func OpenBadger(opts BadgerOptions) (*BadgerStore, error) {
	if opts.DataDir == "" && !opts.InMemory {
		return nil, kverrors.New(kverrors.CodeConfigValidateInvalidValue, "badger data dir is required",
			kverrors.Field("field", "store.badger.data_dir"))
	}

	badgerOpts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(badgerLogger{opts.Logger.With("component", "badger")})
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, kverrors.Wrap(err, kverrors.CodeStoreBackendFailure, "open badger",
			kverrors.Field("data_dir", opts.DataDir))
	}

	seq, err := db.GetSequence([]byte(badgerRevisionKey), revisionBandwidth)
	if err != nil {
		db.Close()
		return nil, kverrors.Wrap(err, kverrors.CodeStoreBackendFailure, "open revision sequence")
	}

	return &BadgerStore{db: db, seq: seq}, nil
}

// OpenBadgerInMemory opens an in-memory BadgerDB store for tests.
func OpenBadgerInMemory() (*BadgerStore, error) {
	return OpenBadger(BadgerOptions{InMemory: true})
}

func (b *BadgerStore) ensureOpen() error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return errClosed()
	}
	return nil
}

func (b *BadgerStore) withView(fn func(txn *badger.Txn) error) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	return b.db.View(fn)
}

func (b *BadgerStore) withUpdate(fn func(txn *badger.Txn) error) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	return b.db.Update(fn)
}

// Get returns the entry stored under key.
func (b *BadgerStore) Get(ctx context.Context, key string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entry *Entry
	err := b.withView(func(txn *badger.Txn) error {
		rev, value, err := readRecord(txn, key)
		if err != nil {
			return err
		}
		entry = &Entry{Key: key, Value: value, Revision: rev}
		return nil
	})
	if err != nil {
		return nil, b.translate(err, "get", key)
	}
	return entry, nil
}

// Put stores value under key unconditionally.
func (b *BadgerStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	rev, err := b.nextRevision()
	if err != nil {
		return 0, err
	}
	err = b.withUpdate(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), encodeRecord(rev, value))
	})
	if err != nil {
		return 0, b.translate(err, "put", key)
	}
	return rev, nil
}

// Create stores value only if key is absent.
func (b *BadgerStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	rev, err := b.nextRevision()
	if err != nil {
		return 0, err
	}
	err = b.withUpdate(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		switch {
		case err == nil:
			return errExists(key)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.Set([]byte(key), encodeRecord(rev, value))
	})
	if errors.Is(err, badger.ErrConflict) {
		return 0, errExists(key)
	}
	if err != nil {
		return 0, b.translate(err, "create", key)
	}
	return rev, nil
}

// Update stores value if the current revision equals rev (rev 0 = always).
func (b *BadgerStore) Update(ctx context.Context, key string, value []byte, rev uint64) (uint64, error) {
	if rev == 0 {
		return b.Put(ctx, key, value)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	next, err := b.nextRevision()
	if err != nil {
		return 0, err
	}
	err = b.withUpdate(func(txn *badger.Txn) error {
		current, _, err := readRecord(txn, key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errMismatch(key, rev)
		}
		if err != nil {
			return err
		}
		if current != rev {
			return errMismatch(key, rev)
		}
		return txn.Set([]byte(key), encodeRecord(next, value))
	})
	if errors.Is(err, badger.ErrConflict) {
		return 0, errMismatch(key, rev)
	}
	if err != nil {
		return 0, b.translate(err, "update", key)
	}
	return next, nil
}

// Delete removes key.
func (b *BadgerStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.withUpdate(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return b.translate(err, "delete", key)
	}
	return nil
}

// Keys yields keys matching pattern in key order.
//
// Iteration seeks to the pattern's literal prefix and filters the rest, so
// "node.<id>.>" touches only that vertex's keys.
func (b *BadgerStore) Keys(ctx context.Context, pattern string) iter.Seq2[string, error] {
	p, err := ParsePattern(pattern)
	if err != nil {
		return failedKeys(err)
	}
	return func(yield func(string, error) bool) {
		stopped := false
		err := b.withView(func(txn *badger.Txn) error {
			it := txn.NewIterator(badgerIterOptsKeyOnly([]byte(p.LiteralPrefix())))
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}
				key := string(it.Item().KeyCopy(nil))
				if strings.HasPrefix(key, badgerInternalPrefix) || !p.Match(key) {
					continue
				}
				if !yield(key, nil) {
					stopped = true
					return nil
				}
			}
			return nil
		})
		if err != nil && !stopped {
			yield("", b.translate(err, "keys", pattern))
		}
	}
}

// Close releases the revision sequence and closes the database.
func (b *BadgerStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	if err := b.seq.Release(); err != nil {
		errs = append(errs, err)
	}
	if err := b.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return kverrors.Wrap(errors.Join(errs...), kverrors.CodeStoreBackendFailure, "close badger")
	}
	return nil
}

func (b *BadgerStore) nextRevision() (uint64, error) {
	if err := b.ensureOpen(); err != nil {
		return 0, err
	}
	n, err := b.seq.Next()
	if err != nil {
		return 0, kverrors.Wrap(err, kverrors.CodeStoreBackendFailure, "next revision")
	}
	// Sequences start at zero; zero is reserved for "unconditional".
	return n + 1, nil
}

func (b *BadgerStore) translate(err error, op, key string) error {
	switch {
	case err == nil:
		return nil
	case kverrors.CodeOf(err) != "":
		return err
	case errors.Is(err, badger.ErrKeyNotFound):
		return errNotFound(key)
	case errors.Is(err, badger.ErrDBClosed):
		return errClosed()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return errBackend(err, op, key)
	}
}

func readRecord(txn *badger.Txn, key string) (uint64, []byte, error) {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return 0, nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return 0, nil, err
	}
	return decodeRecord(key, raw)
}

func encodeRecord(rev uint64, value []byte) []byte {
	out := make([]byte, revisionHeader+len(value))
	binary.BigEndian.PutUint64(out, rev)
	copy(out[revisionHeader:], value)
	return out
}

func decodeRecord(key string, raw []byte) (uint64, []byte, error) {
	if len(raw) < revisionHeader {
		return 0, nil, kverrors.New(kverrors.CodeStoreValueInvalid, "record shorter than revision header",
			kverrors.FieldKey(key), kverrors.Field("length", len(raw)))
	}
	return binary.BigEndian.Uint64(raw), raw[revisionHeader:], nil
}

func badgerIterOptsKeyOnly(prefix []byte) badger.IteratorOptions {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	return opts
}

// badgerLogger routes badger's printf-style logging into slog.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
