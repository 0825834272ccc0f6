package traversal

import (
	"context"
	"maps"
	"slices"

	kverrors "github.com/orneryd/kvgraph/pkg/errors"
)

// asStep binds the current value to each label. Value and path are left
// alone.
func asStep(rt ResultType) *Step {
	return &Step{
		Name:          "as",
		Result:        rt,
		UsesTraverser: true,
		KeepPath:      true,
		Wrap: func(env *Env, args []any) (Transform, error) {
			labels, err := nameArgs(kverrors.CodeAsLabelInvalid, "as", args)
			if err != nil {
				return nil, err
			}
			return func(_ context.Context, src Stream) Stream {
				return func(yield func(any, error) bool) {
					for item, err := range src {
						if err != nil {
							yield(nil, err)
							return
						}
						if len(labels) == 0 {
							if !yield(item, nil) {
								return
							}
							continue
						}
						t := asTraverser(item)
						bound := maps.Clone(t.Labels)
						if bound == nil {
							bound = make(map[string]any, len(labels))
						}
						for _, l := range labels {
							bound[l] = t.Value
						}
						if !yield(&Traverser{Value: t.Value, Path: t.Path, Labels: bound}, nil) {
							return
						}
					}
				}
			}, nil
		},
	}
}

// selectStep replaces the value with one bound value, or a map of them
// when several labels are requested.
func selectStep() *Step {
	return &Step{
		Name:          "select",
		Result:        ResultValue,
		UsesTraverser: true,
		Wrap: func(env *Env, args []any) (Transform, error) {
			labels, err := nameArgs(kverrors.CodeSelectLabelInvalid, "select", args)
			if err != nil {
				return nil, err
			}
			if len(labels) == 0 {
				return nil, invalidArg(kverrors.CodeSelectLabelInvalid, "select", args, "select: at least one label is required")
			}
			return func(_ context.Context, src Stream) Stream {
				return func(yield func(any, error) bool) {
					for item, err := range src {
						if err != nil {
							yield(nil, err)
							return
						}
						t := asTraverser(item)
						values := make(map[string]any, len(labels))
						for _, l := range labels {
							v, ok := t.Labels[l]
							if !ok {
								yield(nil, kverrors.New(kverrors.CodeSelectLabelNotFound,
									"select: label "+l+" was never bound",
									kverrors.FieldOperation("select"),
									kverrors.Field("label", l),
									kverrors.Field("bound", slices.Sorted(maps.Keys(t.Labels))),
								))
								return
							}
							values[l] = v
						}
						var out any = values
						if len(labels) == 1 {
							out = values[labels[0]]
						}
						if !yield(t.extend(out, true), nil) {
							return
						}
					}
				}
			}, nil
		},
	}
}

// pathStep emits each traverser's history. Tracking stops after it.
func pathStep() *Step {
	return &Step{
		Name:          "path",
		Result:        ResultValue,
		UsesTraverser: true,
		Wrap: func(env *Env, args []any) (Transform, error) {
			if len(args) > 0 {
				return nil, invalidArg(kverrors.CodeTraversalOperationInvalid, "path", args, "path: takes no arguments")
			}
			return func(_ context.Context, src Stream) Stream {
				return func(yield func(any, error) bool) {
					for item, err := range src {
						if err != nil {
							yield(nil, err)
							return
						}
						if !yield(pathOf(item), nil) {
							return
						}
					}
				}
			}, nil
		},
	}
}

func pathOf(item any) []any {
	t, ok := item.(*Traverser)
	switch {
	case ok && len(t.Path) > 0:
		return slices.Clone(t.Path)
	case ok && t.Value != nil:
		return []any{t.Value}
	case !ok && item != nil:
		return []any{item}
	}
	return []any{}
}

func countStep() *Step {
	return &Step{
		Name:   "count",
		Result: ResultValue,
		Wrap: func(env *Env, args []any) (Transform, error) {
			if len(args) > 0 {
				return nil, invalidArg(kverrors.CodeTraversalOperationInvalid, "count", args, "count: takes no arguments")
			}
			return func(_ context.Context, src Stream) Stream {
				return func(yield func(any, error) bool) {
					n := 0
					for _, err := range src {
						if err != nil {
							yield(nil, err)
							return
						}
						n++
					}
					yield(n, nil)
				}
			}, nil
		},
	}
}
