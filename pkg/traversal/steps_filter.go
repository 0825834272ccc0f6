package traversal

import (
	"context"

	kverrors "github.com/orneryd/kvgraph/pkg/errors"
	"github.com/orneryd/kvgraph/pkg/keyspace"
)

// keepIf re-emits the items for which keep reports true.
func keepIf(keep func(ctx context.Context, item any) (bool, error)) Transform {
	return func(ctx context.Context, src Stream) Stream {
		return func(yield func(any, error) bool) {
			for item, err := range src {
				if err == nil {
					err = ctx.Err()
				}
				if err != nil {
					yield(nil, err)
					return
				}
				ok, err := keep(ctx, item)
				if err != nil {
					yield(nil, err)
					return
				}
				if ok && !yield(item, nil) {
					return
				}
			}
		}
	}
}

func hasStep(rt ResultType) *Step {
	return &Step{
		Name:        "has",
		Result:      rt,
		Passthrough: true,
		Wrap: func(env *Env, args []any) (Transform, error) {
			key, ok := stringArg(args, 0)
			if !ok || key == "" || (key != "id" && key != "label" && !keyspace.ValidToken(key)) {
				return nil, invalidArg(kverrors.CodeHasKeyInvalid, "has", args, "has: key must be id, label or a property name")
			}
			if len(args) > 2 {
				return nil, invalidArg(kverrors.CodeHasValueInvalid, "has", args, "has: expected a key and at most one value")
			}
			compare := len(args) == 2
			var want any
			if compare {
				v, err := normalize(args[1])
				if err != nil || !scalar(v) || v == nil {
					return nil, invalidArg(kverrors.CodeHasValueInvalid, "has", args, "has: value must be a string, number or boolean")
				}
				want = v
			}

			return keepIf(func(ctx context.Context, item any) (bool, error) {
				id, ok := idOf(item)
				if !ok {
					return false, nil
				}
				var (
					got   any
					found bool
					err   error
				)
				switch key {
				case "id":
					got, found = id, true
				case "label":
					got, found, err = env.readJSON(ctx, labelKey(rt, id))
				default:
					got, found, err = env.readJSON(ctx, propertyKey(rt, id, key))
				}
				if err != nil || !found {
					return false, err
				}
				if !compare {
					return true, nil
				}
				return scalar(got) && got == want, nil
			}), nil
		},
	}
}

func predicateStep(rt ResultType, name string, code kverrors.Code, minCount, maxCount int,
	keep func(ctx context.Context, env *Env, preds []predicate, item any) (bool, error)) *Step {
	return &Step{
		Name:        name,
		Result:      rt,
		Passthrough: true,
		Wrap: func(env *Env, args []any) (Transform, error) {
			preds, err := bindPredicates(env, code, name, args, minCount, maxCount)
			if err != nil {
				return nil, err
			}
			return keepIf(func(ctx context.Context, item any) (bool, error) {
				return keep(ctx, env, preds, item)
			}), nil
		},
	}
}

func matchFirst(ctx context.Context, env *Env, preds []predicate, item any) (bool, error) {
	return env.matches(ctx, preds[0], item)
}

func filterStep(rt ResultType) *Step {
	return predicateStep(rt, "filter", kverrors.CodeFilterPredicateInvalid, 1, 1, matchFirst)
}

// whereStep is filter with traverser tracking, so predicates can compare
// against labeled values.
func whereStep(rt ResultType) *Step {
	s := predicateStep(rt, "where", kverrors.CodeWherePredicateInvalid, 1, 1, matchFirst)
	s.UsesTraverser = true
	return s
}

func andStep(rt ResultType) *Step {
	return predicateStep(rt, "and", kverrors.CodeAndPredicateInvalid, 1, 0,
		func(ctx context.Context, env *Env, preds []predicate, item any) (bool, error) {
			for _, p := range preds {
				ok, err := env.matches(ctx, p, item)
				if err != nil || !ok {
					return false, err
				}
			}
			return true, nil
		})
}

func orStep(rt ResultType) *Step {
	return predicateStep(rt, "or", kverrors.CodeOrPredicateInvalid, 1, 0,
		func(ctx context.Context, env *Env, preds []predicate, item any) (bool, error) {
			for _, p := range preds {
				ok, err := env.matches(ctx, p, item)
				if err != nil || ok {
					return ok, err
				}
			}
			return false, nil
		})
}

func notStep(rt ResultType) *Step {
	return predicateStep(rt, "not", kverrors.CodeNotPredicateInvalid, 1, 1,
		func(ctx context.Context, env *Env, preds []predicate, item any) (bool, error) {
			ok, err := env.matches(ctx, preds[0], item)
			return !ok && err == nil, err
		})
}

func limitStep(rt ResultType) *Step {
	return &Step{
		Name:        "limit",
		Result:      rt,
		Passthrough: true,
		Wrap: func(env *Env, args []any) (Transform, error) {
			if len(args) != 1 {
				return nil, invalidArg(kverrors.CodeLimitCountInvalid, "limit", args, "limit: expected one count")
			}
			n, ok := countArg(args[0])
			if !ok {
				return nil, invalidArg(kverrors.CodeLimitCountInvalid, "limit", args, "limit: count must be a non-negative integer")
			}
			return func(_ context.Context, src Stream) Stream {
				return func(yield func(any, error) bool) {
					if n == 0 {
						return
					}
					seen := 0
					for item, err := range src {
						if !yield(item, err) || err != nil {
							return
						}
						if seen++; seen >= n {
							return
						}
					}
				}
			}, nil
		},
	}
}

func tailStep(rt ResultType) *Step {
	return &Step{
		Name:        "tail",
		Result:      rt,
		Passthrough: true,
		Wrap: func(env *Env, args []any) (Transform, error) {
			n := 1
			switch len(args) {
			case 0:
			case 1:
				var ok bool
				if n, ok = countArg(args[0]); !ok {
					return nil, invalidArg(kverrors.CodeTailCountInvalid, "tail", args, "tail: count must be a non-negative integer")
				}
			default:
				return nil, invalidArg(kverrors.CodeTailCountInvalid, "tail", args, "tail: expected at most one count")
			}
			return func(_ context.Context, src Stream) Stream {
				return func(yield func(any, error) bool) {
					// ring holds at most min(n, total) items.
					var ring []any
					total := 0
					for item, err := range src {
						if err != nil {
							yield(nil, err)
							return
						}
						switch {
						case n == 0:
						case len(ring) < n:
							ring = append(ring, item)
						default:
							ring[total%n] = item
						}
						total++
					}
					kept := min(total, n)
					for i := total - kept; i < total; i++ {
						if !yield(ring[i%n], nil) {
							return
						}
					}
				}
			}, nil
		},
	}
}
