package traversal

import (
	"context"

	"golang.org/x/sync/errgroup"

	kverrors "github.com/orneryd/kvgraph/pkg/errors"
	"github.com/orneryd/kvgraph/pkg/keyspace"
)

func vStep() *Step {
	return &Step{
		Name:   "V",
		Result: ResultVertex,
		Validate: func(args []any) error {
			_, err := idArgs("V", args)
			return err
		},
		Factory: func(ctx context.Context, env *Env, _ any, args []any) Stream {
			ids, _ := idArgs("V", args)
			if len(ids) > 0 {
				return env.live(ctx, ids, keyspace.Vertex)
			}
			return env.scanIDs(ctx, keyspace.AllVertices, 1, nil)
		},
	}
}

func eStep() *Step {
	return &Step{
		Name:   "E",
		Result: ResultEdge,
		Validate: func(args []any) error {
			_, err := idArgs("E", args)
			return err
		},
		Factory: func(ctx context.Context, env *Env, _ any, args []any) Stream {
			ids, _ := idArgs("E", args)
			if len(ids) > 0 {
				return env.live(ctx, ids, keyspace.Edge)
			}
			return env.allEdges(ctx)
		},
	}
}

// live yields the ids whose record exists, in the given order.
func (env *Env) live(ctx context.Context, ids []string, record func(string) string) Stream {
	return func(yield func(any, error) bool) {
		for _, id := range ids {
			ok, err := env.exists(ctx, record(id))
			if err != nil {
				yield(nil, err)
				return
			}
			if ok && !yield(id, nil) {
				return
			}
		}
	}
}

// scanIDs yields token tok of every key matching pattern. When record is
// set, ids whose record is gone are skipped.
func (env *Env) scanIDs(ctx context.Context, pattern string, tok int, record func(string) string) Stream {
	return func(yield func(any, error) bool) {
		for key, err := range env.Store.Keys(ctx, pattern) {
			if err != nil {
				yield(nil, err)
				return
			}
			id := keyspace.Token(key, tok)
			if record != nil {
				ok, err := env.exists(ctx, record(id))
				if err != nil {
					yield(nil, err)
					return
				}
				if !ok {
					continue
				}
			}
			if !yield(id, nil) {
				return
			}
		}
	}
}

// allEdges enumerates the global edge index. Graphs written before the
// index existed are enumerated from the edge records instead.
func (env *Env) allEdges(ctx context.Context) Stream {
	return func(yield func(any, error) bool) {
		n := 0
		for id, err := range env.scanIDs(ctx, keyspace.AllEdgeIndex, 1, keyspace.Edge) {
			if err != nil {
				yield(nil, err)
				return
			}
			n++
			if !yield(id, nil) {
				return
			}
		}
		if n > 0 || !env.engine.legacyFallback {
			return
		}
		for id, err := range env.scanIDs(ctx, keyspace.AllEdges, 1, nil) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(id, nil) {
				return
			}
		}
	}
}

func vHasLabelStep() *Step {
	return &Step{
		Name:   "_vHasLabel",
		Result: ResultVertex,
		Validate: func(args []any) error {
			if label, ok := stringArg(args, 0); !ok || len(args) != 1 || !keyspace.ValidToken(label) {
				return invalidArg(kverrors.CodeVertexLabelInvalid, "_vHasLabel", args, "_vHasLabel: expected one valid label")
			}
			return nil
		},
		Factory: func(ctx context.Context, env *Env, _ any, args []any) Stream {
			label, _ := stringArg(args, 0)
			return env.scanIDs(ctx, keyspace.VerticesWithLabel(label), 1, keyspace.Vertex)
		},
	}
}

// label validation shared by addV and addE
func checkLabel(op string, args []any, required, invalid kverrors.Code) error {
	if len(args) == 0 || args[0] == nil {
		return invalidArg(required, op, args, "%s: label is required", op)
	}
	label, ok := args[0].(string)
	if !ok || label == "" {
		return invalidArg(required, op, args, "%s: label must be a non-empty string", op)
	}
	if !keyspace.ValidToken(label) {
		return invalidArg(invalid, op, args, "%s: label %q cannot be used as a key token", op, label)
	}
	return nil
}

func addVStep() *Step {
	return &Step{
		Name:   "addV",
		Result: ResultVertex,
		Validate: func(args []any) error {
			if len(args) > 1 {
				return invalidArg(kverrors.CodeVertexLabelInvalid, "addV", args, "addV: expected a single label")
			}
			return checkLabel("addV", args, kverrors.CodeVertexLabelRequired, kverrors.CodeVertexLabelInvalid)
		},
		Factory: func(ctx context.Context, env *Env, _ any, args []any) Stream {
			return func(yield func(any, error) bool) {
				label := args[0].(string)
				id := env.engine.newID()

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error { return createJSON(gctx, env.Store, keyspace.Vertex(id), id) })
				g.Go(func() error { return putJSON(gctx, env.Store, keyspace.VertexLabel(id), label) })
				g.Go(func() error {
					_, err := env.Store.Put(gctx, keyspace.VertexLabelMarker(id, label), jsonTrue)
					return err
				})
				if err := g.Wait(); err != nil {
					yield(nil, kverrors.With(err, kverrors.FieldOperation("addV"), kverrors.Field("id", id)))
					return
				}
				env.Logger.Debug("vertex added", "id", id, "label", label)
				yield(id, nil)
			}
		},
	}
}

func addEStep() *Step {
	return &Step{
		Name:   "addE",
		Result: ResultEdge,
		Validate: func(args []any) error {
			if err := checkLabel("addE", args, kverrors.CodeEdgeLabelRequired, kverrors.CodeEdgeLabelInvalid); err != nil {
				return err
			}
			if from, ok := stringArg(args, 1); !ok || !keyspace.ValidToken(from) {
				return invalidArg(kverrors.CodeEdgeIncomingRequired, "addE", args, "addE: source vertex id is required")
			}
			if to, ok := stringArg(args, 2); !ok || !keyspace.ValidToken(to) {
				return invalidArg(kverrors.CodeEdgeOutgoingRequired, "addE", args, "addE: target vertex id is required")
			}
			if len(args) > 3 {
				return invalidArg(kverrors.CodeTraversalOperationInvalid, "addE", args, "addE: expected label, from, to")
			}
			return nil
		},
		Factory: func(ctx context.Context, env *Env, _ any, args []any) Stream {
			return func(yield func(any, error) bool) {
				id, err := env.addEdge(ctx, args[0].(string), args[1].(string), args[2].(string))
				if err != nil {
					yield(nil, err)
					return
				}
				yield(id, nil)
			}
		},
	}
}

func (env *Env) addEdge(ctx context.Context, label, from, to string) (string, error) {
	var fromOK, toOK bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		fromOK, err = env.exists(gctx, keyspace.Vertex(from))
		return err
	})
	g.Go(func() (err error) {
		toOK, err = env.exists(gctx, keyspace.Vertex(to))
		return err
	})
	if err := g.Wait(); err != nil {
		return "", err
	}
	if !fromOK {
		return "", kverrors.New(kverrors.CodeEdgeIncomingNotFound, "addE: source vertex does not exist",
			kverrors.FieldOperation("addE"), kverrors.Field("from", from))
	}
	if !toOK {
		return "", kverrors.New(kverrors.CodeEdgeOutgoingNotFound, "addE: target vertex does not exist",
			kverrors.FieldOperation("addE"), kverrors.Field("to", to))
	}

	e := edgeRecord{id: env.engine.newID(), label: label, from: from, to: to}
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error { return createJSON(gctx, env.Store, keyspace.Edge(e.id), e.id) })
	g.Go(func() error { return putJSON(gctx, env.Store, keyspace.EdgeLabel(e.id), label) })
	g.Go(func() error { return putJSON(gctx, env.Store, keyspace.EdgeIncoming(e.id), from) })
	g.Go(func() error { return putJSON(gctx, env.Store, keyspace.EdgeOutgoing(e.id), to) })
	if err := g.Wait(); err != nil {
		return "", kverrors.With(err, kverrors.FieldOperation("addE"), kverrors.Field("id", e.id))
	}
	if err := env.indexEdge(ctx, e); err != nil {
		return "", kverrors.With(err, kverrors.FieldOperation("addE"), kverrors.Field("id", e.id))
	}
	env.Logger.Debug("edge added", "id", e.id, "label", label, "from", from, "to", to)
	return e.id, nil
}

// dropGraphStep is drop() called first: it deletes every graph key.
func dropGraphStep() *Step {
	return &Step{
		Name:   "drop",
		Result: ResultValue,
		Factory: func(ctx context.Context, env *Env, _ any, _ []any) Stream {
			return func(yield func(any, error) bool) {
				roots := []string{
					keyspace.AllVertexKeys,
					keyspace.AllEdgeKeys,
					keyspace.AllEdgeIndexKeys,
					keyspace.AllAdjacencyKeys,
				}
				counts := make([]int, len(roots))
				g, gctx := errgroup.WithContext(ctx)
				for i, pattern := range roots {
					g.Go(func() (err error) {
						counts[i], err = deleteMatching(gctx, env.Store, pattern)
						return err
					})
				}
				if err := g.Wait(); err != nil {
					yield(nil, kverrors.With(err, kverrors.FieldOperation("drop")))
					return
				}
				env.Logger.Debug("graph dropped", "vertex_keys", counts[0], "edge_keys", counts[1],
					"index_keys", counts[2], "adjacency_keys", counts[3])
			}
		},
	}
}
