// Package traversal implements the property-graph traversal engine that runs
// over a kv.Store.
//
// A Traversal records operations; the Engine optimizes the chain, resolves
// each operation against the step table for the current result type, binds
// the steps (validating arguments before any I/O) and runs them as one lazy
// pull pipeline.
//
// Example:
//
//	engine := traversal.New(kv.NewMemoryStore())
//	alice, _, _ := engine.G().AddV("person").First(ctx)
//	bob, _, _ := engine.G().AddV("person").First(ctx)
//	engine.G().AddE("knows", alice.(string), bob.(string)).ToList(ctx)
//
//	names, err := engine.G().V(alice.(string)).Out("knows").ToList(ctx)
package traversal

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/orneryd/kvgraph/pkg/chunkset"
	kverrors "github.com/orneryd/kvgraph/pkg/errors"
	"github.com/orneryd/kvgraph/pkg/kv"
)

const instrumentationName = "github.com/orneryd/kvgraph/pkg/traversal"

// Engine runs traversals against one store. It is safe for concurrent use;
// each run has its own pipeline.
type Engine struct {
	store  kv.Store
	log    *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter

	runs    metric.Int64Counter
	results metric.Int64Counter

	chunkSize      int
	legacyWrites   bool
	legacyFallback bool
	newID          func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Runs log at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithTracer sets the tracer used for per-run spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithMeter sets the meter used for run and result counters.
func WithMeter(m metric.Meter) Option {
	return func(e *Engine) {
		if m != nil {
			e.meter = m
		}
	}
}

// WithChunkSize sets the chunk size of adjacency sets.
func WithChunkSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithLegacyIndexWrites also maintains the direct pointer keys and JSON-array
// indices older readers scan.
func WithLegacyIndexWrites(on bool) Option {
	return func(e *Engine) { e.legacyWrites = on }
}

// WithLegacyScanFallback controls whether an empty adjacency set falls back
// to scanning legacy pointer keys. On by default.
func WithLegacyScanFallback(on bool) Option {
	return func(e *Engine) { e.legacyFallback = on }
}

// WithIDGenerator replaces the UUIDv7 id generator.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// New creates an engine over store. A nil store is accepted; every run then
// fails with a traversal.store.missing error.
func New(store kv.Store, opts ...Option) *Engine {
	e := &Engine{
		store:          store,
		log:            slog.Default(),
		tracer:         otel.GetTracerProvider().Tracer(instrumentationName),
		meter:          otel.GetMeterProvider().Meter(instrumentationName),
		chunkSize:      chunkset.DefaultChunkSize,
		legacyFallback: true,
		newID:          newUUID,
	}
	for _, opt := range opts {
		opt(e)
	}

	var err error
	if e.runs, err = e.meter.Int64Counter("kvgraph.traversal.runs",
		metric.WithDescription("Traversals executed")); err != nil {
		e.runs = metricnoop.Int64Counter{}
	}
	if e.results, err = e.meter.Int64Counter("kvgraph.traversal.results",
		metric.WithDescription("Items yielded by traversals")); err != nil {
		e.results = metricnoop.Int64Counter{}
	}
	return e
}

func newUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// G returns a new, empty traversal bound to e.
func (e *Engine) G() *Traversal { return newTraversal(e) }

// Store returns the underlying store.
func (e *Engine) Store() kv.Store { return e.store }

// RunOption configures one run.
type RunOption func(*runOptions)

type runOptions struct {
	traversers bool
}

// WithTraversers yields *Traverser items instead of bare values when the
// pipeline tracks paths.
func WithTraversers() RunOption {
	return func(o *runOptions) { o.traversers = true }
}

// Run executes t and collects its results.
func (e *Engine) Run(ctx context.Context, t *Traversal, opts ...RunOption) ([]any, error) {
	out := []any{}
	for item, err := range e.Iterate(ctx, t, opts...) {
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// Iterate executes t lazily. Validation errors surface as the first item,
// before any store access. Breaking out of the loop stops the pipeline.
func (e *Engine) Iterate(ctx context.Context, t *Traversal, opts ...RunOption) Stream {
	if t == nil || t.engine != e {
		return failed(kverrors.New(kverrors.CodeTraversalOperationInvalid,
			"run requires a traversal created by this engine's G()"))
	}
	if t.err != nil {
		return failed(t.err)
	}
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}
	ops := Optimize(t.ops)

	return func(yield func(any, error) bool) {
		queryID := uuid.NewString()
		hash := chainHash(ops)
		ctx, span := e.tracer.Start(ctx, "kvgraph.traversal.run", trace.WithAttributes(
			attribute.String("query.id", queryID),
			attribute.String("query.hash", hash),
			attribute.Int("query.steps", len(ops)),
		))
		defer span.End()

		log := e.log.With("query_id", queryID, "hash", hash)
		log.Debug("traversal run", "chain", explain(ops))
		e.runs.Add(ctx, 1)

		fail := func(err error) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Debug("traversal failed", "error", err, "code", string(kverrors.CodeOf(err)))
			yield(nil, err)
		}

		stream, err := e.pipeline(ctx, log, ops, t.start, nil, false, ro.traversers)
		if err != nil {
			fail(err)
			return
		}

		n := 0
		defer func() {
			e.results.Add(ctx, int64(n))
			span.SetAttributes(attribute.Int("query.results", n))
		}()
		for item, err := range stream {
			if err != nil {
				fail(err)
				return
			}
			n++
			if !yield(item, nil) {
				return
			}
		}
	}
}

func chainHash(ops []Op) string {
	sum := sha1.Sum([]byte(explain(ops)))
	return hex.EncodeToString(sum[:])
}
