package kv

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kverrors "github.com/orneryd/kvgraph/pkg/errors"
)

// runStoreSuite checks the Store contract against any backend. open must
// return an empty store; it is called once per subtest.
func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing key", func(t *testing.T) {
		s := open(t)
		_, err := s.Get(ctx, "node.missing")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrKeyNotFound))
		assert.Equal(t, kverrors.CodeStoreKeyNotFound, kverrors.CodeOf(err))
	})

	t.Run("put then get", func(t *testing.T) {
		s := open(t)
		rev1, err := s.Put(ctx, "node.a", []byte(`"a"`))
		require.NoError(t, err)
		assert.NotZero(t, rev1)

		e, err := s.Get(ctx, "node.a")
		require.NoError(t, err)
		assert.Equal(t, `"a"`, e.String())
		assert.Equal(t, rev1, e.Revision)

		var decoded string
		require.NoError(t, e.JSON(&decoded))
		assert.Equal(t, "a", decoded)

		rev2, err := s.Put(ctx, "node.a", []byte(`"b"`))
		require.NoError(t, err)
		assert.Greater(t, rev2, rev1)
	})

	t.Run("empty values round trip", func(t *testing.T) {
		s := open(t)
		_, err := s.Put(ctx, "edges.e1", []byte{})
		require.NoError(t, err)
		e, err := s.Get(ctx, "edges.e1")
		require.NoError(t, err)
		assert.Empty(t, e.Value)
	})

	t.Run("create refuses live keys", func(t *testing.T) {
		s := open(t)
		_, err := s.Create(ctx, "node.a", []byte("1"))
		require.NoError(t, err)

		_, err = s.Create(ctx, "node.a", []byte("2"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrKeyExists))
		assert.True(t, kverrors.IsConflict(err))

		e, err := s.Get(ctx, "node.a")
		require.NoError(t, err)
		assert.Equal(t, "1", e.String())
	})

	t.Run("create after delete", func(t *testing.T) {
		s := open(t)
		_, err := s.Create(ctx, "node.a", []byte("1"))
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, "node.a"))
		_, err = s.Create(ctx, "node.a", []byte("2"))
		require.NoError(t, err)

		e, err := s.Get(ctx, "node.a")
		require.NoError(t, err)
		assert.Equal(t, "2", e.String())
	})

	t.Run("update compares revisions", func(t *testing.T) {
		s := open(t)
		rev, err := s.Create(ctx, "adj.outV.a.meta", []byte("1"))
		require.NoError(t, err)

		next, err := s.Update(ctx, "adj.outV.a.meta", []byte("2"), rev)
		require.NoError(t, err)
		assert.Greater(t, next, rev)

		_, err = s.Update(ctx, "adj.outV.a.meta", []byte("3"), rev)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrRevisionMismatch))

		e, err := s.Get(ctx, "adj.outV.a.meta")
		require.NoError(t, err)
		assert.Equal(t, "2", e.String())
		assert.Equal(t, next, e.Revision)
	})

	t.Run("update with zero revision upserts", func(t *testing.T) {
		s := open(t)
		_, err := s.Update(ctx, "node.a.property.name", []byte(`"x"`), 0)
		require.NoError(t, err)
		e, err := s.Get(ctx, "node.a.property.name")
		require.NoError(t, err)
		assert.Equal(t, `"x"`, e.String())
	})

	t.Run("update of missing key with revision fails", func(t *testing.T) {
		s := open(t)
		_, err := s.Update(ctx, "node.none", []byte("1"), 42)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrRevisionMismatch))
	})

	t.Run("delete", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Delete(ctx, "node.never"))

		_, err := s.Put(ctx, "node.a", []byte("1"))
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, "node.a"))

		_, err = s.Get(ctx, "node.a")
		assert.True(t, errors.Is(err, ErrKeyNotFound))
	})

	t.Run("keys by pattern", func(t *testing.T) {
		s := open(t)
		for _, k := range []string{
			"node.a", "node.a.label", "node.a.label.person",
			"node.b", "node.b.label", "edge.e1", "edges.e1",
		} {
			_, err := s.Put(ctx, k, []byte{})
			require.NoError(t, err)
		}
		_, err := s.Put(ctx, "node.gone", []byte{})
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, "node.gone"))

		cases := []struct {
			pattern string
			want    []string
		}{
			{"node.*", []string{"node.a", "node.b"}},
			{"node.a.>", []string{"node.a.label", "node.a.label.person"}},
			{"node.*.label", []string{"node.a.label", "node.b.label"}},
			{"node.*.label.person", []string{"node.a.label.person"}},
			{"node.a", []string{"node.a"}},
			{"edges.*", []string{"edges.e1"}},
			{"nothing.*", nil},
			{">", []string{
				"node.a", "node.a.label", "node.a.label.person",
				"node.b", "node.b.label", "edge.e1", "edges.e1",
			}},
		}
		for _, tc := range cases {
			t.Run(tc.pattern, func(t *testing.T) {
				got, err := Collect(s.Keys(ctx, tc.pattern))
				require.NoError(t, err)
				assert.ElementsMatch(t, tc.want, got)
			})
		}
	})

	t.Run("keys rejects invalid patterns", func(t *testing.T) {
		s := open(t)
		for _, pattern := range []string{"", "node.>.label", "node..a", "node.a*"} {
			_, err := Collect(s.Keys(ctx, pattern))
			require.Error(t, err, pattern)
			assert.True(t, errors.Is(err, ErrInvalidPattern), pattern)
		}
	})

	t.Run("keys stops when the consumer stops", func(t *testing.T) {
		s := open(t)
		for _, k := range []string{"node.a", "node.b", "node.c"} {
			_, err := s.Put(ctx, k, []byte{})
			require.NoError(t, err)
		}
		key, ok, err := First(s.Keys(ctx, "node.*"))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Contains(t, []string{"node.a", "node.b", "node.c"}, key)
	})

	t.Run("writes while iterating", func(t *testing.T) {
		s := open(t)
		for _, k := range []string{"adj.outV.a.c.0", "adj.outV.a.c.1", "adj.outV.a.meta"} {
			_, err := s.Put(ctx, k, []byte{})
			require.NoError(t, err)
		}
		keys, err := Collect(s.Keys(ctx, "adj.outV.a.>"))
		require.NoError(t, err)
		for _, k := range keys {
			require.NoError(t, s.Delete(ctx, k))
		}
		remaining, err := Collect(s.Keys(ctx, "adj.>"))
		require.NoError(t, err)
		assert.Empty(t, remaining)
	})
}
