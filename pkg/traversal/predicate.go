package traversal

import (
	"context"
	"iter"
	"math"
	"reflect"

	kverrors "github.com/orneryd/kvgraph/pkg/errors"
)

// ValuePredicate judges an item by its value. The result is interpreted by
// "has results" rules: false, nil, "", 0, NaN, empty slices and empty
// sequences reject; an error aborts the run; anything else accepts.
type ValuePredicate func(v any, h *Helpers) any

// TraversalPredicate receives a fresh sub-traversal positioned at the item.
// Returning that same handle (or nil) runs the recorded sub-chain from the
// item and accepts when it yields anything. Any other value is judged
// directly, as for ValuePredicate; a different *Traversal is run on its
// own.
type TraversalPredicate func(t *Traversal, h *Helpers) any

type predicate struct {
	value     ValuePredicate
	traversal TraversalPredicate
}

// asPredicate accepts the predicate forms above plus their common
// shorthands.
func asPredicate(p any) (predicate, bool) {
	switch f := p.(type) {
	case ValuePredicate:
		return predicate{value: f}, f != nil
	case func(any, *Helpers) any:
		return predicate{value: f}, f != nil
	case func(any, *Helpers) bool:
		if f == nil {
			return predicate{}, false
		}
		return predicate{value: func(v any, h *Helpers) any { return f(v, h) }}, true
	case func(any) bool:
		if f == nil {
			return predicate{}, false
		}
		return predicate{value: func(v any, _ *Helpers) any { return f(v) }}, true
	case func(any) any:
		if f == nil {
			return predicate{}, false
		}
		return predicate{value: func(v any, _ *Helpers) any { return f(v) }}, true

	case TraversalPredicate:
		return predicate{traversal: f}, f != nil
	case func(*Traversal, *Helpers) any:
		return predicate{traversal: f}, f != nil
	case func(*Traversal, *Helpers) *Traversal:
		if f == nil {
			return predicate{}, false
		}
		return predicate{traversal: func(t *Traversal, h *Helpers) any { return handle(f(t, h)) }}, true
	case func(*Traversal) *Traversal:
		if f == nil {
			return predicate{}, false
		}
		return predicate{traversal: func(t *Traversal, _ *Helpers) any { return handle(f(t)) }}, true
	case func(*Traversal) any:
		if f == nil {
			return predicate{}, false
		}
		return predicate{traversal: func(t *Traversal, _ *Helpers) any { return f(t) }}, true
	}
	return predicate{}, false
}

// handle keeps a nil *Traversal from becoming a non-nil interface.
func handle(t *Traversal) any {
	if t == nil {
		return nil
	}
	return t
}

// bindPredicates validates the predicate arguments of filter/where/and/or/not.
func bindPredicates(env *Env, code kverrors.Code, op string, args []any, minCount, maxCount int) ([]predicate, error) {
	if len(args) < minCount || (maxCount > 0 && len(args) > maxCount) {
		return nil, invalidArg(code, op, args, "%s: expected %s predicate", op, arity(minCount, maxCount))
	}
	preds := make([]predicate, 0, len(args))
	for i, a := range args {
		p, ok := asPredicate(a)
		if !ok {
			return nil, invalidArg(code, op, args, "%s: argument %d is not a predicate function", op, i)
		}
		if p.traversal != nil && env.Input != ResultVertex && env.Input != ResultEdge {
			return nil, invalidArg(code, op, args, "%s: traversal predicates need a vertex or edge stage, got %s", op, env.Input)
		}
		preds = append(preds, p)
	}
	return preds, nil
}

func arity(minCount, maxCount int) string {
	switch {
	case minCount == maxCount:
		return "exactly one"
	default:
		return "at least one"
	}
}

// matches evaluates p against one pipeline item.
func (env *Env) matches(ctx context.Context, p predicate, item any) (bool, error) {
	h := helpersFor(item)
	if p.value != nil {
		return env.judge(ctx, p.value(h.Value, h))
	}
	sub := subTraversal(env.engine, env.Input)
	r := p.traversal(sub, h)
	if r == nil {
		return env.nested(ctx, sub, item)
	}
	if t, ok := r.(*Traversal); ok {
		if t == sub {
			return env.nested(ctx, sub, item)
		}
		return env.detachedRun(ctx, t)
	}
	return env.judge(ctx, r)
}

func (env *Env) judge(ctx context.Context, r any) (bool, error) {
	if t, ok := r.(*Traversal); ok {
		return env.detachedRun(ctx, t)
	}
	return hasResults(r)
}

// hasResults reports whether v counts as a match.
func hasResults(v any) (bool, error) {
	switch x := v.(type) {
	case nil:
		return false, nil
	case bool:
		return x, nil
	case error:
		return false, x
	case string:
		return x != "", nil
	case iter.Seq[any]:
		for range x {
			return true, nil
		}
		return false, nil
	case iter.Seq2[any, error]:
		for _, err := range x {
			if err != nil {
				return false, err
			}
			return true, nil
		}
		return false, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0, nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		return f != 0 && !math.IsNaN(f), nil
	case reflect.Slice, reflect.Array:
		return rv.Len() > 0, nil
	case reflect.Map, reflect.Pointer, reflect.Func, reflect.Chan, reflect.Interface:
		return !rv.IsNil(), nil
	}
	return true, nil
}
