package traversal

import (
	"context"

	"github.com/orneryd/kvgraph/pkg/keyspace"
)

// dropElementStep deletes each vertex or edge with its cascade. Deletes are
// best-effort; only failures to discover what to delete abort the run.
func dropElementStep(rt ResultType) *Step {
	return &Step{
		Name:   "drop",
		Result: ResultValue,
		Factory: func(ctx context.Context, env *Env, parent any, _ []any) Stream {
			return func(yield func(any, error) bool) {
				id, ok := idOf(parent)
				if !ok {
					return
				}
				var err error
				if rt == ResultEdge {
					err = env.dropEdge(ctx, id)
				} else {
					err = env.dropVertex(ctx, id)
				}
				if err == nil {
					err = ctx.Err()
				}
				if err != nil {
					yield(nil, err)
				}
			}
		},
	}
}

func (env *Env) dropVertex(ctx context.Context, vid string) error {
	edges, err := env.incidentEdges(ctx, vid)
	if err != nil {
		return err
	}
	for _, eid := range edges {
		if err := env.dropEdge(ctx, eid); err != nil {
			return err
		}
	}

	env.forget(ctx, keyspace.Vertex(vid))
	env.forgetMatching(ctx, keyspace.VertexDescendants(vid))
	for _, kind := range keyspace.Kinds {
		env.forgetMatching(ctx, keyspace.AdjacencyDescendants(kind, vid))
	}
	env.Logger.Debug("vertex dropped", "id", vid, "edges", len(edges))
	return nil
}

func (env *Env) dropEdge(ctx context.Context, eid string) error {
	e, complete, err := env.readEdge(ctx, eid)
	if err != nil {
		return err
	}

	env.forget(ctx, keyspace.Edge(eid))
	env.forgetMatching(ctx, keyspace.EdgeDescendants(eid))
	if complete {
		env.unindexEdge(ctx, e)
	} else {
		env.forget(ctx, keyspace.EdgeIndex(eid))
	}
	env.Logger.Debug("edge dropped", "id", eid, "label", e.label)
	return nil
}

func (env *Env) forget(ctx context.Context, key string) {
	if err := env.Store.Delete(ctx, key); err != nil {
		env.Logger.Debug("delete failed", "key", key, "error", err)
	}
}

func (env *Env) forgetMatching(ctx context.Context, pattern string) {
	if _, err := deleteMatching(ctx, env.Store, pattern); err != nil {
		env.Logger.Debug("delete failed", "pattern", pattern, "error", err)
	}
}
