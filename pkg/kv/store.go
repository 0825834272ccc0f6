// Package kv defines the minimal key-value contract the graph layer runs on
// and ships the backends that satisfy it.
//
// Keys are dot-delimited token paths ("node.<id>.label"). Values are opaque
// bytes; the graph layer stores JSON. Every write returns a monotonically
// increasing revision that conditional writes compare against.
//
// Backends:
//   - MemoryStore: in-process, insertion ordered, used by tests and the CLI
//   - BadgerStore: embedded persistent store on BadgerDB
//   - RedisStore: shared store on Redis hashes
//   - NATSStore: shared store on a NATS JetStream key-value bucket
//
// All of them pass the same conformance suite (see store_suite_test.go).
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"iter"

	kverrors "github.com/orneryd/kvgraph/pkg/errors"
)

// Sentinel errors. Backends return them wrapped with a code and the
// offending key, so both errors.Is and kverrors.CodeOf work on every return.
var (
	ErrKeyNotFound      = errors.New("key not found")
	ErrKeyExists        = errors.New("key already exists")
	ErrRevisionMismatch = errors.New("revision mismatch")
	ErrInvalidPattern   = errors.New("invalid key pattern")
	ErrClosed           = errors.New("store is closed")
)

func errNotFound(key string) error {
	return kverrors.Wrap(ErrKeyNotFound, kverrors.CodeStoreKeyNotFound, "get", kverrors.FieldKey(key))
}

func errExists(key string) error {
	return kverrors.Wrap(ErrKeyExists, kverrors.CodeStoreKeyConflict, "create", kverrors.FieldKey(key))
}

func errMismatch(key string, want uint64) error {
	return kverrors.Wrap(ErrRevisionMismatch, kverrors.CodeStoreRevisionConflict, "update",
		kverrors.FieldKey(key), kverrors.Field("revision", want))
}

func errClosed() error {
	return kverrors.Wrap(ErrClosed, kverrors.CodeStoreClosed, "store is closed")
}

func errBackend(err error, op, key string) error {
	return kverrors.Wrap(err, kverrors.CodeStoreBackendFailure, op, kverrors.FieldKey(key))
}

// Store is the key-value contract.
//
// Get returns ErrKeyNotFound for absent or deleted keys. Put is an
// unconditional upsert. Create fails with ErrKeyExists when the key is live.
// Update with rev 0 behaves like Put; with a non-zero rev it fails with
// ErrRevisionMismatch unless the key's current revision equals rev. Delete of
// a missing key is not an error. Keys enumerates lazily; an invalid pattern
// is reported as the first yielded error.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	Update(ctx context.Context, key string, value []byte, rev uint64) (uint64, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, pattern string) iter.Seq2[string, error]
	Close() error
}

// Entry is a stored value with its revision.
type Entry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// String returns the value as text.
func (e *Entry) String() string {
	if e == nil {
		return ""
	}
	return string(e.Value)
}

// JSON decodes the value into v.
func (e *Entry) JSON(v any) error {
	if e == nil || len(e.Value) == 0 {
		return kverrors.New(kverrors.CodeStoreValueInvalid, "entry has no value")
	}
	if err := json.Unmarshal(e.Value, v); err != nil {
		return kverrors.Wrap(err, kverrors.CodeStoreValueInvalid, "decode entry value", kverrors.FieldKey(e.Key))
	}
	return nil
}

// Collect drains a key sequence into a slice.
func Collect(seq iter.Seq2[string, error]) ([]string, error) {
	var keys []string
	for key, err := range seq {
		if err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// First returns the first key yielded by seq, or "" and false.
func First(seq iter.Seq2[string, error]) (string, bool, error) {
	for key, err := range seq {
		if err != nil {
			return "", false, err
		}
		return key, true, nil
	}
	return "", false, nil
}

func failedKeys(err error) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield("", err)
	}
}
