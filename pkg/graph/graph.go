// Package graph opens a configured key-value store and binds a traversal
// engine to it.
//
// Example:
//
//	cfg, err := config.LoadFromFile(config.FindConfigFile())
//	if err != nil {
//		return err
//	}
//	g, err := graph.Open(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer g.Close()
//
//	alice, _, _ := g.G().AddV("person").First(ctx)
package graph

import (
	"context"
	"log/slog"
	"sync"

	"github.com/orneryd/kvgraph/pkg/config"
	kverrors "github.com/orneryd/kvgraph/pkg/errors"
	"github.com/orneryd/kvgraph/pkg/keyspace"
	"github.com/orneryd/kvgraph/pkg/kv"
	"github.com/orneryd/kvgraph/pkg/traversal"
)

// Graph owns a store and the engine running over it.
type Graph struct {
	mu     sync.Mutex
	closed bool

	store  kv.Store
	owned  bool
	engine *traversal.Engine
	log    *slog.Logger
}

type options struct {
	logger *slog.Logger
	store  kv.Store
	engine []traversal.Option
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger used by the store and the engine.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStore skips backend selection and uses s. The caller keeps ownership:
// Close does not close s.
func WithStore(s kv.Store) Option {
	return func(o *options) { o.store = s }
}

// WithEngineOptions passes extra options to the traversal engine. They are
// applied after the ones derived from the config.
func WithEngineOptions(opts ...traversal.Option) Option {
	return func(o *options) { o.engine = append(o.engine, opts...) }
}

// Open validates cfg, opens its store and returns a ready Graph.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Graph, error) {
	if cfg == nil {
		cfg = config.LoadDefaults()
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, owned := o.store, false
	if store == nil {
		var err error
		if store, err = OpenStore(ctx, cfg.Store, o.logger); err != nil {
			return nil, err
		}
		owned = true
	}

	engineOpts := append([]traversal.Option{
		traversal.WithLogger(o.logger),
		traversal.WithChunkSize(cfg.Graph.ChunkSize),
		traversal.WithLegacyIndexWrites(cfg.Graph.LegacyIndexWrites),
		traversal.WithLegacyScanFallback(cfg.Graph.LegacyScanFallback),
	}, o.engine...)

	o.logger.Debug("graph opened", "config", cfg.String())
	return &Graph{
		store:  store,
		owned:  owned,
		engine: traversal.New(store, engineOpts...),
		log:    o.logger,
	}, nil
}

// OpenStore opens the backend named by cfg.Backend.
func OpenStore(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (kv.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return kv.NewMemoryStore(), nil
	case config.BackendBadger:
		return kv.OpenBadger(kv.BadgerOptions{
			DataDir:    cfg.Badger.DataDir,
			InMemory:   cfg.Badger.InMemory,
			SyncWrites: cfg.Badger.SyncWrites,
			Logger:     log,
		})
	case config.BackendRedis:
		return kv.OpenRedis(ctx, kv.RedisOptions{
			URL:       cfg.Redis.URL,
			KeyPrefix: cfg.Redis.KeyPrefix,
			Database:  cfg.Redis.Database,
		})
	case config.BackendNATS:
		return kv.OpenNATS(ctx, kv.NATSOptions{
			URL:    cfg.NATS.URL,
			Bucket: cfg.NATS.Bucket,
		})
	}
	return nil, kverrors.New(kverrors.CodeStoreBackendUnsupported, "unsupported store backend: "+cfg.Backend,
		kverrors.Field("backend", cfg.Backend))
}

// G starts a new traversal.
func (g *Graph) G() *traversal.Traversal { return g.engine.G() }

// Engine returns the traversal engine.
func (g *Graph) Engine() *traversal.Engine { return g.engine }

// Store returns the underlying key-value store.
func (g *Graph) Store() kv.Store { return g.store }

// Stats is a point-in-time summary of the graph.
type Stats struct {
	Vertices int `json:"vertices"`
	Edges    int `json:"edges"`
	Keys     int `json:"keys"`
}

// Stats counts vertices, edges and stored keys.
func (g *Graph) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	var err error
	if s.Vertices, err = g.count(ctx, g.G().V()); err != nil {
		return s, err
	}
	if s.Edges, err = g.count(ctx, g.G().E()); err != nil {
		return s, err
	}
	for _, err := range g.store.Keys(ctx, keyspace.Everything) {
		if err != nil {
			return s, err
		}
		s.Keys++
	}
	return s, nil
}

func (g *Graph) count(ctx context.Context, t *traversal.Traversal) (int, error) {
	v, _, err := t.Count().First(ctx)
	if err != nil {
		return 0, err
	}
	n, _ := v.(int)
	return n, nil
}

// Migrate rebuilds the chunked adjacency sets, the edge index and the
// property registries. See traversal.Engine.MigrateLegacyAdjacency.
func (g *Graph) Migrate(ctx context.Context) (traversal.MigrationReport, error) {
	return g.engine.MigrateLegacyAdjacency(ctx)
}

// Drop deletes every vertex and edge.
func (g *Graph) Drop(ctx context.Context) error {
	_, err := g.G().Drop().ToList(ctx)
	return err
}

// Close releases the store if Open created it. It is safe to call twice.
func (g *Graph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	if !g.owned {
		return nil
	}
	return g.store.Close()
}
