package traversal

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"

	kverrors "github.com/orneryd/kvgraph/pkg/errors"
)

// Traversal records a chain of operations.
//
// Every method appends to the same handle and returns it, so
//
//	t := g.G().V()
//	t.Out("knows")
//	t.ToList(ctx)
//
// runs V().out("knows"). Each call is checked against the operations allowed
// after the current stage; the first invalid call is remembered and reported
// when the traversal runs. Nothing touches the store until ToList, Iterate
// or First.
//
// A Traversal is not safe for concurrent use.
type Traversal struct {
	engine *Engine
	ops    []Op
	start  ResultType
	result ResultType
	err    error
}

func newTraversal(e *Engine) *Traversal {
	return &Traversal{engine: e, start: ResultGraph, result: ResultGraph}
}

// subTraversal starts a chain after a stage of type rt. Predicates receive
// one per item; it runs seeded with that item.
func subTraversal(e *Engine, rt ResultType) *Traversal {
	return &Traversal{engine: e, start: rt, result: rt}
}

// Call appends the operation name with args.
func (t *Traversal) Call(name string, args ...any) *Traversal {
	t.ops = append(t.ops, Op{Name: name, Args: args})
	if t.err != nil {
		return t
	}
	step, ok := Lookup(t.result, name)
	if !ok {
		t.err = invalidOperation(name, t.result, len(t.ops)-1)
		return t
	}
	t.result = step.Result
	return t
}

func invalidOperation(name string, rt ResultType, index int) error {
	return kverrors.New(kverrors.CodeTraversalOperationInvalid,
		fmt.Sprintf("operation %q is not available after a %s stage", name, rt),
		kverrors.FieldOperation(name),
		kverrors.Field("result_type", string(rt)),
		kverrors.Field("index", index),
		kverrors.Field("available", Operations(rt)),
	)
}

// Ops returns a copy of the recorded chain.
func (t *Traversal) Ops() []Op { return slices.Clone(t.ops) }

// Result returns the result type of the last recorded stage.
func (t *Traversal) Result() ResultType { return t.result }

// Err returns the first chain-building error, if any.
func (t *Traversal) Err() error { return t.err }

// Explain renders the recorded chain, e.g. `V() -> has("label", "person")`.
func (t *Traversal) Explain() string {
	return explain(t.ops)
}

func explain(ops []Op) string {
	parts := make([]string, len(ops))
	for i, op := range ops {
		args := make([]string, len(op.Args))
		for j, a := range op.Args {
			args[j] = renderArg(a)
		}
		parts[i] = op.Name + "(" + strings.Join(args, ", ") + ")"
	}
	return strings.Join(parts, " -> ")
}

func renderArg(a any) string {
	if a != nil && reflect.TypeOf(a).Kind() == reflect.Func {
		return "<func>"
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Sprintf("%v", a)
	}
	return string(data)
}

// ToList runs the traversal and collects every result.
func (t *Traversal) ToList(ctx context.Context) ([]any, error) {
	if t.engine == nil {
		return nil, detached()
	}
	return t.engine.Run(ctx, t)
}

// Iterate runs the traversal lazily.
func (t *Traversal) Iterate(ctx context.Context) Stream {
	if t.engine == nil {
		return failed(detached())
	}
	return t.engine.Iterate(ctx, t)
}

// First returns the first result. ok is false for an empty result.
func (t *Traversal) First(ctx context.Context) (v any, ok bool, err error) {
	for item, err := range t.Iterate(ctx) {
		if err != nil {
			return nil, false, err
		}
		return item, true, nil
	}
	return nil, false, nil
}

func detached() error {
	return kverrors.New(kverrors.CodeTraversalOperationInvalid, "traversal is not bound to an engine")
}

// Sources

// V starts from the given vertex ids, or every vertex when none are given.
func (t *Traversal) V(ids ...string) *Traversal { return t.Call("V", stringsToArgs(ids)...) }

// E starts from the given edge ids, or every edge when none are given.
func (t *Traversal) E(ids ...string) *Traversal { return t.Call("E", stringsToArgs(ids)...) }

// AddV creates a vertex and yields its id.
func (t *Traversal) AddV(label string) *Traversal { return t.Call("addV", label) }

// AddE creates an edge from -> to and yields its id.
func (t *Traversal) AddE(label, from, to string) *Traversal {
	return t.Call("addE", label, from, to)
}

// Navigation

// Out moves to the vertices reached by outgoing edges. With labels, only
// edges carrying one of them are followed, in the order the labels are
// given. Each neighbor is yielded once per step, however many parents
// reach it.
func (t *Traversal) Out(labels ...string) *Traversal { return t.Call("out", stringsToArgs(labels)...) }

// In moves to the vertices with edges pointing at the current ones.
func (t *Traversal) In(labels ...string) *Traversal { return t.Call("in", stringsToArgs(labels)...) }

// Both is Out followed by In.
func (t *Traversal) Both(labels ...string) *Traversal { return t.Call("both", stringsToArgs(labels)...) }

// OutE yields outgoing edge ids.
func (t *Traversal) OutE(labels ...string) *Traversal { return t.Call("outE", stringsToArgs(labels)...) }

// InE yields incoming edge ids.
func (t *Traversal) InE(labels ...string) *Traversal { return t.Call("inE", stringsToArgs(labels)...) }

// BothE yields outgoing, then incoming edge ids.
func (t *Traversal) BothE(labels ...string) *Traversal { return t.Call("bothE", stringsToArgs(labels)...) }

// OutV yields the source vertex of each edge. Unlike Out, duplicates are
// kept: two edges from one vertex yield it twice.
func (t *Traversal) OutV() *Traversal { return t.Call("outV") }

// InV yields the target vertex of each edge.
func (t *Traversal) InV() *Traversal { return t.Call("inV") }

// BothV yields source then target.
func (t *Traversal) BothV() *Traversal { return t.Call("bothV") }

// OtherV yields the endpoint of each edge that is not pivot.
func (t *Traversal) OtherV(pivot string) *Traversal { return t.Call("otherV", pivot) }

// Filters

// Has keeps elements whose key equals value, or that have key at all when
// value is omitted. key may be "id" or "label".
func (t *Traversal) Has(key string, value ...any) *Traversal {
	return t.Call("has", append([]any{key}, value...)...)
}

// Filter keeps items for which p has results. See Where for predicate forms.
func (t *Traversal) Filter(p any) *Traversal { return t.Call("filter", p) }

// Where keeps items for which p has results. p is a value predicate
// (func(any, *Helpers) any, func(any) bool, ...) or a traversal predicate
// (func(*Traversal, *Helpers) any, func(*Traversal) *Traversal, ...). A
// traversal predicate that returns the handle it was given, or nil, has the
// recorded sub-chain run from the current item.
func (t *Traversal) Where(p any) *Traversal { return t.Call("where", p) }

// And keeps items for which every predicate has results. Evaluation stops
// at the first predicate that fails.
func (t *Traversal) And(ps ...any) *Traversal { return t.Call("and", ps...) }

// Or keeps items for which any predicate has results.
func (t *Traversal) Or(ps ...any) *Traversal { return t.Call("or", ps...) }

// Not keeps items for which p has no results.
func (t *Traversal) Not(p any) *Traversal { return t.Call("not", p) }

// Limit stops after n items.
func (t *Traversal) Limit(n int) *Traversal { return t.Call("limit", n) }

// Tail keeps the last n items (default 1).
func (t *Traversal) Tail(n ...int) *Traversal {
	args := make([]any, len(n))
	for i, v := range n {
		args[i] = v
	}
	return t.Call("tail", args...)
}

// Paths and labels

// As names the current item so later steps can Select it.
func (t *Traversal) As(labels ...string) *Traversal { return t.Call("as", stringsToArgs(labels)...) }

// Select yields the item bound to one label, or a map of label to item
// when several are given. An unbound label is an error.
func (t *Traversal) Select(labels ...string) *Traversal {
	return t.Call("select", stringsToArgs(labels)...)
}

// Path yields the history of each item as a slice, oldest first.
func (t *Traversal) Path() *Traversal { return t.Call("path") }

// Elements

// Property sets key to value on every element and passes the element on.
func (t *Traversal) Property(key string, value any) *Traversal {
	return t.Call("property", key, value)
}

// ID yields element ids.
func (t *Traversal) ID() *Traversal { return t.Call("id") }

// Label yields each element's label.
func (t *Traversal) Label() *Traversal { return t.Call("label") }

// Properties yields property names, or one {key: value} map per element
// when keys are given.
func (t *Traversal) Properties(keys ...string) *Traversal {
	return t.Call("properties", stringsToArgs(keys)...)
}

// ValueMap yields one map of property values per element.
func (t *Traversal) ValueMap(keys ...string) *Traversal {
	return t.Call("valueMap", stringsToArgs(keys)...)
}

// Count collapses the stream into its length.
func (t *Traversal) Count() *Traversal { return t.Call("count") }

// Drop deletes the current elements, or the whole graph when called first.
func (t *Traversal) Drop() *Traversal { return t.Call("drop") }

func stringsToArgs(s []string) []any {
	if len(s) == 0 {
		return nil
	}
	args := make([]any, len(s))
	for i, v := range s {
		args[i] = v
	}
	return args
}
