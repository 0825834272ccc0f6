package traversal

import (
	"context"

	"golang.org/x/sync/errgroup"

	kverrors "github.com/orneryd/kvgraph/pkg/errors"
	"github.com/orneryd/kvgraph/pkg/keyspace"
	"github.com/orneryd/kvgraph/pkg/kv"
)

// MigrationReport summarizes a MigrateLegacyAdjacency run.
type MigrationReport struct {
	Vertices     int `json:"vertices"`
	Edges        int `json:"edges"`
	Properties   int `json:"properties"`
	StaleIndexes int `json:"stale_index_entries"`
	SkippedEdges int `json:"skipped_edges"`
}

// MigrateLegacyAdjacency rebuilds every derived structure from the primary
// records: the chunked adjacency sets and the global edge index from the
// edge records, and the property-key registries from the property keys.
// Running it twice yields the same state. It must not run concurrently
// with writers.
func (e *Engine) MigrateLegacyAdjacency(ctx context.Context) (MigrationReport, error) {
	var report MigrationReport
	if e.store == nil {
		return report, kverrors.New(kverrors.CodeTraversalStoreMissing, "engine has no store")
	}
	env := &Env{Store: e.store, Logger: e.log.With("op", "migrate"), Input: ResultGraph, engine: e}

	if _, err := deleteMatching(ctx, e.store, keyspace.AllAdjacencyKeys); err != nil {
		return report, kverrors.With(err, kverrors.FieldOperation("migrate"))
	}

	edgeKeys, err := kv.Collect(e.store.Keys(ctx, keyspace.AllEdges))
	if err != nil {
		return report, err
	}
	live := make(map[string]bool, len(edgeKeys))
	for _, key := range edgeKeys {
		eid := keyspace.Token(key, 1)
		rec, ok, err := env.readEdge(ctx, eid)
		if err != nil {
			return report, err
		}
		if !ok {
			report.SkippedEdges++
			env.Logger.Warn("edge record without endpoints", "edge", eid)
			continue
		}
		if err := env.rebuildEdge(ctx, rec); err != nil {
			return report, kverrors.With(err, kverrors.FieldOperation("migrate"), kverrors.Field("edge", eid))
		}
		live[eid] = true
		report.Edges++
	}

	indexKeys, err := kv.Collect(e.store.Keys(ctx, keyspace.AllEdgeIndex))
	if err != nil {
		return report, err
	}
	for _, key := range indexKeys {
		if !live[keyspace.Token(key, 1)] {
			if err := e.store.Delete(ctx, key); err != nil {
				return report, err
			}
			report.StaleIndexes++
		}
	}

	vertexKeys, err := kv.Collect(e.store.Keys(ctx, keyspace.AllVertices))
	if err != nil {
		return report, err
	}
	for _, key := range vertexKeys {
		n, err := env.rebuildRegistry(ctx, ResultVertex, keyspace.Token(key, 1))
		if err != nil {
			return report, err
		}
		report.Vertices++
		report.Properties += n
	}
	for eid := range live {
		n, err := env.rebuildRegistry(ctx, ResultEdge, eid)
		if err != nil {
			return report, err
		}
		report.Properties += n
	}

	env.Logger.Info("migration finished",
		"vertices", report.Vertices,
		"edges", report.Edges,
		"properties", report.Properties,
		"stale_index_entries", report.StaleIndexes,
		"skipped_edges", report.SkippedEdges,
	)
	return report, nil
}

func (env *Env) readEdge(ctx context.Context, eid string) (edgeRecord, bool, error) {
	rec := edgeRecord{id: eid}
	var err error
	if rec.label, _, err = env.readString(ctx, keyspace.EdgeLabel(eid)); err != nil {
		return rec, false, err
	}
	if rec.from, _, err = env.readString(ctx, keyspace.EdgeIncoming(eid)); err != nil {
		return rec, false, err
	}
	if rec.to, _, err = env.readString(ctx, keyspace.EdgeOutgoing(eid)); err != nil {
		return rec, false, err
	}
	return rec, rec.from != "" && rec.to != "", nil
}

// rebuildEdge appends e to its chunked sets and restores its index entry.
// Legacy keys are left as they are.
func (env *Env) rebuildEdge(ctx context.Context, e edgeRecord) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, label := range e.labels() {
		for _, ent := range e.entries() {
			g.Go(func() error {
				return env.set(keyspace.Adjacency(ent.kind, ent.vertex, label)).Append(gctx, ent.target)
			})
		}
	}
	g.Go(func() error {
		_, err := env.Store.Put(gctx, keyspace.EdgeIndex(e.id), jsonTrue)
		return err
	})
	return g.Wait()
}

// rebuildRegistry resets the property-key registry of one element from its
// property keys.
func (env *Env) rebuildRegistry(ctx context.Context, rt ResultType, id string) (int, error) {
	set := env.set(propertyKeys(rt, id))
	if err := set.Clear(ctx); err != nil {
		return 0, err
	}
	names, err := kv.Collect(env.Store.Keys(ctx, propertiesPattern(rt, id)))
	if err != nil {
		return 0, err
	}
	for _, key := range names {
		if err := set.Append(ctx, keyspace.LastToken(key)); err != nil {
			return 0, err
		}
	}
	return len(names), nil
}
