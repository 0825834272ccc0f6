package traversal

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/orneryd/kvgraph/pkg/chunkset"
	kverrors "github.com/orneryd/kvgraph/pkg/errors"
	"github.com/orneryd/kvgraph/pkg/keyspace"
	"github.com/orneryd/kvgraph/pkg/kv"
)

const legacyIndexAttempts = 16

var jsonTrue = []byte("true")

func isNotFound(err error) bool {
	return errors.Is(err, kv.ErrKeyNotFound) || kverrors.HasCode(err, kverrors.CodeStoreKeyNotFound)
}

func isWriteConflict(err error) bool {
	return errors.Is(err, kv.ErrKeyExists) || errors.Is(err, kv.ErrRevisionMismatch) || kverrors.IsConflict(err)
}

func (e *Engine) chunkedSet(keys keyspace.ChunkedSet) *chunkset.Set {
	return chunkset.New(e.store, keys, chunkset.WithChunkSize(e.chunkSize))
}

func (env *Env) set(keys keyspace.ChunkedSet) *chunkset.Set {
	return env.engine.chunkedSet(keys)
}

// exists reports whether key is live. Store failures other than not-found
// are returned.
func (env *Env) exists(ctx context.Context, key string) (bool, error) {
	_, err := env.Store.Get(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// readJSON decodes the value at key. Values that are not JSON come back as
// their raw text.
func (env *Env) readJSON(ctx context.Context, key string) (any, bool, error) {
	entry, err := env.Store.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var v any
	if err := json.Unmarshal(entry.Value, &v); err != nil {
		return entry.String(), true, nil
	}
	return v, true, nil
}

// readString reads a string value such as a label or an endpoint id. Legacy
// writers stored some of these raw, so a value that decodes to anything but
// a JSON string is taken as its raw text. JSON null reads as missing.
func (env *Env) readString(ctx context.Context, key string) (string, bool, error) {
	entry, err := env.Store.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	var v any
	if err := json.Unmarshal(entry.Value, &v); err != nil {
		return entry.String(), true, nil
	}
	switch v := v.(type) {
	case string:
		return v, true, nil
	case nil:
		return "", false, nil
	default:
		return strings.TrimSpace(entry.String()), true, nil
	}
}

func putJSON(ctx context.Context, store kv.Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return kverrors.Wrap(err, kverrors.CodePropertyValueInvalid, "encode value", kverrors.FieldKey(key))
	}
	_, err = store.Put(ctx, key, data)
	return err
}

func createJSON(ctx context.Context, store kv.Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return kverrors.Wrap(err, kverrors.CodePropertyValueInvalid, "encode value", kverrors.FieldKey(key))
	}
	_, err = store.Create(ctx, key, data)
	return err
}

// deleteMatching deletes every key matching pattern.
func deleteMatching(ctx context.Context, store kv.Store, pattern string) (int, error) {
	// Collect first; deleting while a backend iterates is not portable.
	keys, err := kv.Collect(store.Keys(ctx, pattern))
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		if err := store.Delete(ctx, key); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// Adjacency reads

// adjacent returns the ids in one relation of vid, restricted to labels
// when given. An empty chunked set falls back to the legacy pointer scan.
func (env *Env) adjacent(ctx context.Context, kind keyspace.Kind, vid string, labels []string) ([]string, error) {
	if len(labels) == 0 {
		labels = []string{""}
	}
	var out []string
	for _, label := range labels {
		ids, err := env.set(keyspace.Adjacency(kind, vid, label)).ReadAll(ctx)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 && env.engine.legacyFallback {
			if ids, err = env.legacyAdjacent(ctx, kind, vid, label); err != nil {
				return nil, err
			}
		}
		out = append(out, ids...)
	}
	return out, nil
}

func (env *Env) legacyAdjacent(ctx context.Context, kind keyspace.Kind, vid, label string) ([]string, error) {
	var ids []string
	for key, err := range env.Store.Keys(ctx, keyspace.LegacyPointers(kind, vid, label)) {
		if err != nil {
			return nil, err
		}
		if id := keyspace.LastToken(key); id != keyspace.IndexToken {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// incidentEdges collects every edge touching vid from the chunked sets, the
// legacy JSON indices and a pointer scan, de-duplicated.
func (env *Env) incidentEdges(ctx context.Context, vid string) ([]string, error) {
	seen := map[string]bool{}
	var ids []string
	add := func(id string) {
		if id != "" && id != keyspace.IndexToken && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, kind := range []keyspace.Kind{keyspace.OutEdges, keyspace.InEdges} {
		chunked, err := env.set(keyspace.Adjacency(kind, vid, "")).ReadAll(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range chunked {
			add(id)
		}

		indexed, err := env.legacyIndex(ctx, keyspace.LegacyIndex(kind, vid, ""))
		if err != nil {
			return nil, err
		}
		for _, id := range indexed {
			add(id)
		}

		if len(chunked) == 0 && len(indexed) == 0 {
			for key, err := range env.Store.Keys(ctx, keyspace.LegacyPointersAnyLabel(kind, vid)) {
				if err != nil {
					return nil, err
				}
				add(keyspace.LastToken(key))
			}
		}
	}
	return ids, nil
}

// Index maintenance

type edgeRecord struct {
	id, label, from, to string
}

// indexEdge writes every secondary entry for e: chunked sets, the edge
// index and, when the engine keeps them, legacy pointers and JSON indices.
func (env *Env) indexEdge(ctx context.Context, e edgeRecord) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return env.rebuildEdge(ctx, e) })

	if env.engine.legacyWrites {
		for _, label := range e.labels() {
			for _, ent := range e.entries() {
				g.Go(func() error {
					_, err := env.Store.Put(ctx, keyspace.LegacyPointer(ent.kind, ent.vertex, label, ent.target), jsonTrue)
					return err
				})
				if ent.kind == keyspace.OutEdges || ent.kind == keyspace.InEdges {
					g.Go(func() error {
						return env.legacyIndexAppend(ctx, keyspace.LegacyIndex(ent.kind, ent.vertex, label), ent.target)
					})
				}
			}
		}
	}
	return g.Wait()
}

type adjacencyEntry struct {
	kind   keyspace.Kind
	vertex string
	target string
}

// labels are the set variants an edge is indexed under: unlabeled, then
// its own label.
func (e edgeRecord) labels() []string {
	if e.label == "" {
		return []string{""}
	}
	return []string{"", e.label}
}

// entries lists the four relations an edge contributes to.
func (e edgeRecord) entries() []adjacencyEntry {
	return []adjacencyEntry{
		{keyspace.OutVertices, e.from, e.to},
		{keyspace.InVertices, e.to, e.from},
		{keyspace.OutEdges, e.from, e.id},
		{keyspace.InEdges, e.to, e.id},
	}
}

// unindexEdge removes e's secondary entries. Failures are logged and
// skipped.
func (env *Env) unindexEdge(ctx context.Context, e edgeRecord) {
	for _, label := range e.labels() {
		for _, ent := range e.entries() {
			set := env.set(keyspace.Adjacency(ent.kind, ent.vertex, label))
			if _, err := set.Remove(ctx, ent.target); err != nil {
				env.Logger.Debug("adjacency cleanup failed", "edge", e.id, "kind", string(ent.kind), "error", err)
			}

			pointer := keyspace.LegacyPointer(ent.kind, ent.vertex, label, ent.target)
			if ent.kind == keyspace.OutVertices || ent.kind == keyspace.InVertices {
				// Another edge may still connect the same pair.
				still, err := set.Contains(ctx, ent.target)
				if err != nil || still {
					continue
				}
			} else if err := env.legacyIndexRemove(ctx, keyspace.LegacyIndex(ent.kind, ent.vertex, label), ent.target); err != nil {
				env.Logger.Debug("legacy index cleanup failed", "edge", e.id, "error", err)
			}
			if err := env.Store.Delete(ctx, pointer); err != nil {
				env.Logger.Debug("legacy pointer cleanup failed", "key", pointer, "error", err)
			}
		}
	}
	if err := env.Store.Delete(ctx, keyspace.EdgeIndex(e.id)); err != nil {
		env.Logger.Debug("edge index cleanup failed", "edge", e.id, "error", err)
	}
}

// Legacy JSON-array indices

func (env *Env) legacyIndex(ctx context.Context, key string) ([]string, error) {
	entry, err := env.Store.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(entry.Value, &ids); err != nil {
		env.Logger.Debug("ignoring unreadable legacy index", "key", key, "error", err)
		return nil, nil
	}
	return ids, nil
}

func (env *Env) legacyIndexAppend(ctx context.Context, key, id string) error {
	return env.updateLegacyIndex(ctx, key, func(ids []string) []string { return append(ids, id) })
}

func (env *Env) legacyIndexRemove(ctx context.Context, key, id string) error {
	return env.updateLegacyIndex(ctx, key, func(ids []string) []string {
		return slices.DeleteFunc(ids, func(s string) bool { return s == id })
	})
}

// updateLegacyIndex applies fn under a revision check. An empty result
// deletes the key.
func (env *Env) updateLegacyIndex(ctx context.Context, key string, fn func([]string) []string) error {
	for range legacyIndexAttempts {
		var (
			ids []string
			rev uint64
		)
		entry, err := env.Store.Get(ctx, key)
		switch {
		case err == nil:
			rev = entry.Revision
			if jerr := json.Unmarshal(entry.Value, &ids); jerr != nil {
				ids = nil
			}
		case !isNotFound(err):
			return err
		}

		next := fn(ids)
		if len(next) == 0 {
			if rev == 0 {
				return nil
			}
			return env.Store.Delete(ctx, key)
		}
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		if rev == 0 {
			_, err = env.Store.Create(ctx, key, data)
		} else {
			_, err = env.Store.Update(ctx, key, data, rev)
		}
		if err == nil {
			return nil
		}
		if !isWriteConflict(err) {
			return err
		}
	}
	return kverrors.New(kverrors.CodeStoreRevisionConflict, "legacy index update kept conflicting", kverrors.FieldKey(key))
}

// Property registry

func propertyKeys(rt ResultType, id string) keyspace.ChunkedSet {
	if rt == ResultEdge {
		return keyspace.EdgePropertyKeys(id)
	}
	return keyspace.VertexPropertyKeys(id)
}

func propertyKey(rt ResultType, id, key string) string {
	if rt == ResultEdge {
		return keyspace.EdgeProperty(id, key)
	}
	return keyspace.VertexProperty(id, key)
}

func propertiesPattern(rt ResultType, id string) string {
	if rt == ResultEdge {
		return keyspace.EdgeProperties(id)
	}
	return keyspace.VertexProperties(id)
}

func recordKey(rt ResultType, id string) string {
	if rt == ResultEdge {
		return keyspace.Edge(id)
	}
	return keyspace.Vertex(id)
}

func labelKey(rt ResultType, id string) string {
	if rt == ResultEdge {
		return keyspace.EdgeLabel(id)
	}
	return keyspace.VertexLabel(id)
}

// registerProperty records key in the element's registry. Best-effort.
func (env *Env) registerProperty(ctx context.Context, rt ResultType, id, key string) {
	set := env.set(propertyKeys(rt, id))
	known, err := set.Contains(ctx, key)
	if err == nil && !known {
		err = set.Append(ctx, key)
	}
	if err != nil {
		env.Logger.Debug("property registry update failed", "id", id, "key", key, "error", err)
	}
}

// propertyNames lists the element's property names from the registry, or
// from a key scan when the registry is empty.
func (env *Env) propertyNames(ctx context.Context, rt ResultType, id string) ([]string, error) {
	names, err := env.set(propertyKeys(rt, id)).ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) > 0 {
		return names, nil
	}
	for key, err := range env.Store.Keys(ctx, propertiesPattern(rt, id)) {
		if err != nil {
			return nil, err
		}
		names = append(names, keyspace.LastToken(key))
	}
	return names, nil
}
