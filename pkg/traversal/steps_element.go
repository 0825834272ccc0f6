package traversal

import (
	"context"
	"encoding/json"

	kverrors "github.com/orneryd/kvgraph/pkg/errors"
	"github.com/orneryd/kvgraph/pkg/keyspace"
)

func propertyStep(rt ResultType) *Step {
	return &Step{
		Name:        "property",
		Result:      rt,
		Passthrough: true,
		Wrap: func(env *Env, args []any) (Transform, error) {
			key, ok := stringArg(args, 0)
			switch {
			case !ok || !keyspace.ValidToken(key):
				return nil, invalidArg(kverrors.CodePropertyKeyInvalid, "property", args, "property: key must be a non-empty name without '.', '*' or '>'")
			case key == "id" || key == "label":
				return nil, invalidArg(kverrors.CodePropertyKeyReserved, "property", args, "property: %q is reserved", key)
			case len(args) != 2 || args[1] == nil:
				return nil, invalidArg(kverrors.CodePropertyValueInvalid, "property", args, "property: a non-nil value is required")
			}
			data, err := json.Marshal(args[1])
			if err != nil {
				return nil, kverrors.Wrap(err, kverrors.CodePropertyValueInvalid, "property: value is not JSON encodable",
					kverrors.FieldOperation("property"))
			}

			return func(ctx context.Context, src Stream) Stream {
				return func(yield func(any, error) bool) {
					for item, err := range src {
						if err != nil {
							yield(nil, err)
							return
						}
						id, ok := idOf(item)
						if !ok {
							continue
						}
						if _, err := env.Store.Put(ctx, propertyKey(rt, id, key), data); err != nil {
							yield(nil, kverrors.With(err, kverrors.FieldOperation("property"), kverrors.Field("id", id)))
							return
						}
						env.registerProperty(ctx, rt, id, key)
						if !yield(item, nil) {
							return
						}
					}
				}
			}, nil
		},
	}
}

func idStep() *Step {
	return &Step{
		Name:   "id",
		Result: ResultValue,
		Factory: func(_ context.Context, _ *Env, parent any, _ []any) Stream {
			if id, ok := idOf(parent); ok {
				return single(id)
			}
			return empty()
		},
	}
}

func labelStep(rt ResultType) *Step {
	return &Step{
		Name:   "label",
		Result: ResultValue,
		Factory: func(ctx context.Context, env *Env, parent any, _ []any) Stream {
			return func(yield func(any, error) bool) {
				id, ok := idOf(parent)
				if !ok {
					return
				}
				label, ok, err := env.readString(ctx, labelKey(rt, id))
				if err != nil {
					yield(nil, err)
					return
				}
				if ok {
					yield(label, nil)
				}
			}
		},
	}
}

// propertiesStep yields each property name, or one map of the requested
// keys per element.
func propertiesStep(rt ResultType) *Step {
	return &Step{
		Name:   "properties",
		Result: ResultValue,
		Validate: func(args []any) error {
			_, err := nameArgs(kverrors.CodePropertyKeyInvalid, "properties", args)
			return err
		},
		Factory: func(ctx context.Context, env *Env, parent any, args []any) Stream {
			return func(yield func(any, error) bool) {
				id, ok := idOf(parent)
				if !ok {
					return
				}
				keys, _ := nameArgs(kverrors.CodePropertyKeyInvalid, "properties", args)
				if len(keys) == 0 {
					names, err := env.propertyNames(ctx, rt, id)
					if err != nil {
						yield(nil, err)
						return
					}
					for _, name := range names {
						if !yield(name, nil) {
							return
						}
					}
					return
				}
				values, err := env.elementValues(ctx, rt, id, keys)
				if err != nil {
					yield(nil, err)
					return
				}
				yield(values, nil)
			}
		},
	}
}

// valueMapStep yields one map per element: every registered property, or
// only the requested keys. Absent keys are omitted.
func valueMapStep(rt ResultType) *Step {
	return &Step{
		Name:   "valueMap",
		Result: ResultValue,
		Validate: func(args []any) error {
			_, err := nameArgs(kverrors.CodePropertyKeyInvalid, "valueMap", args)
			return err
		},
		Factory: func(ctx context.Context, env *Env, parent any, args []any) Stream {
			return func(yield func(any, error) bool) {
				id, ok := idOf(parent)
				if !ok {
					return
				}
				keys, _ := nameArgs(kverrors.CodePropertyKeyInvalid, "valueMap", args)
				if len(keys) == 0 {
					var err error
					if keys, err = env.propertyNames(ctx, rt, id); err != nil {
						yield(nil, err)
						return
					}
				}
				values, err := env.elementValues(ctx, rt, id, keys)
				if err != nil {
					yield(nil, err)
					return
				}
				yield(values, nil)
			}
		},
	}
}

// elementValues reads keys of one element. "id" and "label" resolve to the
// element's id and label.
func (env *Env) elementValues(ctx context.Context, rt ResultType, id string, keys []string) (map[string]any, error) {
	values := make(map[string]any, len(keys))
	for _, k := range keys {
		if _, done := values[k]; done {
			continue
		}
		var (
			v     any
			found bool
			err   error
		)
		switch {
		case k == "id":
			v, found = id, true
		case k == "label":
			v, found, err = env.readJSON(ctx, labelKey(rt, id))
		case keyspace.ValidToken(k):
			v, found, err = env.readJSON(ctx, propertyKey(rt, id, k))
		}
		if err != nil {
			return nil, err
		}
		if found {
			values[k] = v
		}
	}
	return values, nil
}
