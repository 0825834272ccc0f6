package traversal

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/orneryd/kvgraph/pkg/kv"
)

// newTestEngine returns an engine over a fresh memory store with
// predictable ids (v1, v2, ... for every id allocated).
func newTestEngine(t *testing.T, opts ...Option) (*Engine, *kv.MemoryStore) {
	t.Helper()
	store := kv.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	return newTestEngineOn(store, opts...), store
}

func newTestEngineOn(store kv.Store, opts ...Option) *Engine {
	var n atomic.Int64
	base := []Option{
		WithLogger(slog.New(slog.DiscardHandler)),
		WithTracer(tracenoop.NewTracerProvider().Tracer("test")),
		WithMeter(metricnoop.NewMeterProvider().Meter("test")),
		WithIDGenerator(func() string { return fmt.Sprintf("v%d", n.Add(1)) }),
	}
	return New(store, append(base, opts...)...)
}

func addV(t *testing.T, e *Engine, label string) string {
	t.Helper()
	got, err := e.G().AddV(label).ToList(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	return got[0].(string)
}

func addE(t *testing.T, e *Engine, label, from, to string) string {
	t.Helper()
	got, err := e.G().AddE(label, from, to).ToList(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	return got[0].(string)
}

func run(t *testing.T, tr *Traversal) []any {
	t.Helper()
	got, err := tr.ToList(context.Background())
	require.NoError(t, err)
	return got
}

func ids(s ...string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func put(t *testing.T, store kv.Store, key, value string) {
	t.Helper()
	_, err := store.Put(context.Background(), key, []byte(value))
	require.NoError(t, err)
}

func keysMatching(t *testing.T, store kv.Store, pattern string) []string {
	t.Helper()
	keys, err := kv.Collect(store.Keys(context.Background(), pattern))
	require.NoError(t, err)
	return keys
}

// countingStore records how often the engine reaches the store.
type countingStore struct {
	kv.Store
	gets  atomic.Int64
	puts  atomic.Int64
	scans atomic.Int64
}

func (c *countingStore) Get(ctx context.Context, key string) (*kv.Entry, error) {
	c.gets.Add(1)
	return c.Store.Get(ctx, key)
}

func (c *countingStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	c.puts.Add(1)
	return c.Store.Put(ctx, key, value)
}

func (c *countingStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	c.puts.Add(1)
	return c.Store.Create(ctx, key, value)
}

func (c *countingStore) Keys(ctx context.Context, pattern string) iter.Seq2[string, error] {
	c.scans.Add(1)
	return c.Store.Keys(ctx, pattern)
}

func (c *countingStore) calls() int64 {
	return c.gets.Load() + c.puts.Load() + c.scans.Load()
}
