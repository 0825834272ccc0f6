package traversal

import (
	"context"

	kverrors "github.com/orneryd/kvgraph/pkg/errors"
	"github.com/orneryd/kvgraph/pkg/keyspace"
)

var (
	outDirs  = []keyspace.Direction{keyspace.Out}
	inDirs   = []keyspace.Direction{keyspace.In}
	bothDirs = []keyspace.Direction{keyspace.Out, keyspace.In}
)

// adjacentStep expands vertices to their neighbors (result vertex) or to
// their incident edges (result edge). Ids are de-duplicated across every
// parent of one run and re-checked against their primary record, so stale
// index entries are never yielded.
func adjacentStep(name string, result ResultType, dirs []keyspace.Direction) *Step {
	kind := keyspace.NeighborKind
	record := keyspace.Vertex
	if result == ResultEdge {
		kind = keyspace.EdgeKind
		record = keyspace.Edge
	}
	return &Step{
		Name:   name,
		Result: result,
		Wrap: func(env *Env, args []any) (Transform, error) {
			labels, err := labelArgs(name, args)
			if err != nil {
				return nil, err
			}
			return func(ctx context.Context, src Stream) Stream {
				return func(yield func(any, error) bool) {
					seen := make(map[string]struct{})
					for item, err := range src {
						if err != nil {
							yield(nil, err)
							return
						}
						vid, ok := idOf(item)
						if !ok {
							continue
						}
						for _, d := range dirs {
							ids, err := env.adjacent(ctx, kind(d), vid, labels)
							if err != nil {
								yield(nil, err)
								return
							}
							for _, id := range ids {
								if _, dup := seen[id]; dup {
									continue
								}
								live, err := env.exists(ctx, record(id))
								if err != nil {
									yield(nil, err)
									return
								}
								if !live {
									continue
								}
								seen[id] = struct{}{}
								if !yield(id, nil) {
									return
								}
							}
						}
					}
				}
			}, nil
		},
	}
}

type endpoint int

const (
	endpointSource endpoint = iota
	endpointTarget
	endpointBoth
)

func (e endpoint) keys(edgeID string) []string {
	switch e {
	case endpointSource:
		return []string{keyspace.EdgeIncoming(edgeID)}
	case endpointTarget:
		return []string{keyspace.EdgeOutgoing(edgeID)}
	default:
		return []string{keyspace.EdgeIncoming(edgeID), keyspace.EdgeOutgoing(edgeID)}
	}
}

// endpointStep resolves an edge's fixed endpoints by direct lookup.
func endpointStep(name string, which endpoint) *Step {
	return &Step{
		Name:   name,
		Result: ResultVertex,
		Factory: func(ctx context.Context, env *Env, parent any, _ []any) Stream {
			return func(yield func(any, error) bool) {
				eid, ok := idOf(parent)
				if !ok {
					return
				}
				for _, key := range which.keys(eid) {
					vid, ok, err := env.readString(ctx, key)
					if err != nil {
						yield(nil, err)
						return
					}
					if ok && !yield(vid, nil) {
						return
					}
				}
			}
		},
	}
}

func otherVStep() *Step {
	return &Step{
		Name:   "otherV",
		Result: ResultVertex,
		Validate: func(args []any) error {
			if pivot, ok := stringArg(args, 0); !ok || pivot == "" || len(args) != 1 {
				return invalidArg(kverrors.CodeEdgeOtherVPivotInvalid, "otherV", args, "otherV: expected one pivot vertex id")
			}
			return nil
		},
		Factory: func(ctx context.Context, env *Env, parent any, args []any) Stream {
			return func(yield func(any, error) bool) {
				eid, ok := idOf(parent)
				if !ok {
					return
				}
				pivot := args[0].(string)
				from, hasFrom, err := env.readString(ctx, keyspace.EdgeIncoming(eid))
				if err != nil {
					yield(nil, err)
					return
				}
				if hasFrom && from != pivot {
					yield(from, nil)
					return
				}
				to, hasTo, err := env.readString(ctx, keyspace.EdgeOutgoing(eid))
				if err != nil {
					yield(nil, err)
					return
				}
				if hasTo {
					yield(to, nil)
				}
			}
		},
	}
}
