// Package chunkset stores an append-mostly list of strings across fixed-size
// chunks in a kv.Store.
//
// A set rooted at B uses:
//
//	B.meta   {"tail": <last chunk index>, "count": <entries>}
//	B.c.<n>  {"values": [...]}
//
// Appends write the chunk first and the meta second. Reads only trust chunks
// 0..tail, so a chunk written past tail by an append that never reached its
// meta write stays invisible until the set grows into it. A missing meta
// reads as tail 0. Every write is revision checked and retried on conflict,
// so concurrent appenders never drop each other's entries.
//
// Entries are a multiset: the same value may be appended twice and Remove
// takes out one occurrence.
package chunkset

import (
	"context"
	"encoding/json"
	"errors"
	"slices"

	kverrors "github.com/orneryd/kvgraph/pkg/errors"
	"github.com/orneryd/kvgraph/pkg/keyspace"
	"github.com/orneryd/kvgraph/pkg/kv"
)

const (
	// DefaultChunkSize is the number of values per chunk.
	DefaultChunkSize = 128

	defaultMaxAttempts = 16
)

type meta struct {
	Tail  int `json:"tail"`
	Count int `json:"count"`
}

type chunk struct {
	Values []string `json:"values"`
}

// Set is one chunked set. It holds no state besides its keys; any number of
// Set values (in any number of processes) may address the same keys.
type Set struct {
	store       kv.Store
	keys        keyspace.ChunkedSet
	chunkSize   int
	maxAttempts int
}

// Option configures a Set.
type Option func(*Set)

// WithChunkSize sets the number of values per chunk. Values below 1 keep the
// default.
func WithChunkSize(n int) Option {
	return func(s *Set) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithMaxAttempts bounds the compare-and-swap retries per write.
func WithMaxAttempts(n int) Option {
	return func(s *Set) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// New returns the set addressed by keys.
func New(store kv.Store, keys keyspace.ChunkedSet, opts ...Option) *Set {
	s := &Set{
		store:       store,
		keys:        keys,
		chunkSize:   DefaultChunkSize,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append adds value to the end of the set.
func (s *Set) Append(ctx context.Context, value string) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		m, _, err := s.readMeta(ctx)
		if err != nil {
			return err
		}

		// Find the first chunk at or past tail with room. Chunks past tail are
		// either orphans or a concurrent rollover not yet recorded in meta;
		// appending to them keeps both cases lossless.
		idx := m.Tail
		var (
			c     chunk
			rev   uint64
			found bool
		)
		for {
			c, rev, found, err = s.readChunk(ctx, idx)
			if err != nil {
				return err
			}
			if !found || len(c.Values) < s.chunkSize {
				break
			}
			idx++
		}

		c.Values = append(c.Values, value)
		if err := s.writeChunk(ctx, idx, c, rev, found); err != nil {
			if isConflict(err) {
				continue
			}
			return err
		}
		return s.bumpMeta(ctx, idx, 1)
	}
	return s.conflict("append")
}

// ReadAll returns every visible value in append order.
func (s *Set) ReadAll(ctx context.Context) ([]string, error) {
	m, _, err := s.readMeta(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for i := 0; i <= m.Tail; i++ {
		c, _, found, err := s.readChunk(ctx, i)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, c.Values...)
		}
	}
	return out, nil
}

// Contains reports whether value is present.
func (s *Set) Contains(ctx context.Context, value string) (bool, error) {
	values, err := s.ReadAll(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(values, value), nil
}

// Len returns the entry count recorded in meta.
func (s *Set) Len(ctx context.Context) (int, error) {
	m, _, err := s.readMeta(ctx)
	return m.Count, err
}

// Remove deletes the first occurrence of value. It reports whether an
// occurrence was found.
func (s *Set) Remove(ctx context.Context, value string) (bool, error) {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		m, _, err := s.readMeta(ctx)
		if err != nil {
			return false, err
		}

		// Chunks past tail are scanned too, up to the first missing one, so
		// orphans left by a lost meta bump can still be cleaned. Their
		// entries were never counted.
		retry := false
		for i := 0; !retry; i++ {
			c, rev, found, err := s.readChunk(ctx, i)
			if err != nil {
				return false, err
			}
			if !found && i > m.Tail {
				break
			}
			pos := slices.Index(c.Values, value)
			if !found || pos < 0 {
				continue
			}
			c.Values = slices.Delete(c.Values, pos, pos+1)
			if err := s.writeChunk(ctx, i, c, rev, true); err != nil {
				if isConflict(err) {
					retry = true
					continue
				}
				return false, err
			}
			if i > m.Tail {
				return true, nil
			}
			if err := s.bumpMeta(ctx, 0, -1); err != nil {
				return true, err
			}
			return true, nil
		}
		if !retry {
			return false, nil
		}
	}
	return false, s.conflict("remove")
}

// Clear deletes the meta and every chunk of the set.
func (s *Set) Clear(ctx context.Context) error {
	if err := s.store.Delete(ctx, s.keys.Meta()); err != nil {
		return err
	}
	keys, err := kv.Collect(s.store.Keys(ctx, s.keys.Chunks()))
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// bumpMeta raises tail to at least idx and adds delta to count.
func (s *Set) bumpMeta(ctx context.Context, idx, delta int) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		m, rev, err := s.readMeta(ctx)
		if err != nil {
			return err
		}
		if idx > m.Tail {
			m.Tail = idx
		}
		m.Count += delta
		if m.Count < 0 {
			m.Count = 0
		}

		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		if rev == 0 {
			_, err = s.store.Create(ctx, s.keys.Meta(), data)
		} else {
			_, err = s.store.Update(ctx, s.keys.Meta(), data, rev)
		}
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return err
		}
	}
	return s.conflict("meta")
}

func (s *Set) readMeta(ctx context.Context) (meta, uint64, error) {
	var m meta
	e, err := s.store.Get(ctx, s.keys.Meta())
	if errors.Is(err, kv.ErrKeyNotFound) {
		return m, 0, nil
	}
	if err != nil {
		return m, 0, err
	}
	if err := json.Unmarshal(e.Value, &m); err != nil {
		return m, 0, s.decodeError(err, s.keys.Meta())
	}
	if m.Tail < 0 {
		m.Tail = 0
	}
	return m, e.Revision, nil
}

func (s *Set) readChunk(ctx context.Context, n int) (chunk, uint64, bool, error) {
	var c chunk
	key := s.keys.Chunk(n)
	e, err := s.store.Get(ctx, key)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return c, 0, false, nil
	}
	if err != nil {
		return c, 0, false, err
	}
	if err := json.Unmarshal(e.Value, &c); err != nil {
		return c, 0, false, s.decodeError(err, key)
	}
	return c, e.Revision, true, nil
}

func (s *Set) writeChunk(ctx context.Context, n int, c chunk, rev uint64, exists bool) error {
	if c.Values == nil {
		c.Values = []string{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if exists {
		_, err = s.store.Update(ctx, s.keys.Chunk(n), data, rev)
	} else {
		_, err = s.store.Create(ctx, s.keys.Chunk(n), data)
	}
	return err
}

func (s *Set) conflict(op string) error {
	return kverrors.New(kverrors.CodeChunksetAppendConflict, "too many concurrent writers",
		kverrors.Field("set", s.keys.Base()),
		kverrors.FieldOperation(op),
		kverrors.Field("attempts", s.maxAttempts))
}

func (s *Set) decodeError(err error, key string) error {
	return kverrors.Wrap(err, kverrors.CodeChunksetDecodeInvalid, "decode chunked set", kverrors.FieldKey(key))
}

func isConflict(err error) bool {
	return errors.Is(err, kv.ErrKeyExists) || errors.Is(err, kv.ErrRevisionMismatch)
}
