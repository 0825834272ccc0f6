package traversal

import (
	"context"
	"log/slog"

	kverrors "github.com/orneryd/kvgraph/pkg/errors"
	"github.com/orneryd/kvgraph/pkg/kv"
)

// Env is what a bound step sees of the engine.
type Env struct {
	Store  kv.Store
	Logger *slog.Logger

	// Input is the result type of the stage feeding this step.
	Input ResultType

	engine *Engine
}

type stage struct {
	step      *Step
	op        Op
	env       *Env
	transform Transform
}

// bind resolves and validates every op. No store access happens here.
func (e *Engine) bind(log *slog.Logger, ops []Op, start ResultType) ([]stage, error) {
	rt := start
	stages := make([]stage, 0, len(ops))
	for i, op := range ops {
		step, ok := Lookup(rt, op.Name)
		if !ok {
			return nil, invalidOperation(op.Name, rt, i)
		}
		st := stage{
			step: step,
			op:   op,
			env: &Env{
				Store:  e.store,
				Logger: log.With("step", op.Name, "index", i),
				Input:  rt,
				engine: e,
			},
		}
		var err error
		switch {
		case step.Wrap != nil:
			st.transform, err = step.Wrap(st.env, op.Args)
		case step.Validate != nil:
			err = step.Validate(op.Args)
		}
		if err != nil {
			return nil, kverrors.With(err,
				kverrors.FieldOperation(op.Name),
				kverrors.Field("index", i),
			)
		}
		stages = append(stages, st)
		rt = step.Result
	}
	return stages, nil
}

// pipeline binds ops and chains the stages over the seed. The returned
// stream has not touched the store yet.
func (e *Engine) pipeline(ctx context.Context, log *slog.Logger, ops []Op, start ResultType, seed any, hasSeed, raw bool) (Stream, error) {
	if e.store == nil {
		return nil, kverrors.New(kverrors.CodeTraversalStoreMissing, "engine has no store")
	}
	stages, err := e.bind(log, ops, start)
	if err != nil {
		return nil, err
	}

	tracking := false
	for _, st := range stages {
		if st.step.UsesTraverser {
			tracking = true
			break
		}
	}

	src := single(seedItem(seed, hasSeed, tracking))
	for _, st := range stages {
		src = st.attach(ctx, src, tracking)
		if st.step.Name == "path" {
			tracking = false
		}
	}
	if raw {
		return src, nil
	}
	return unwrap(src), nil
}

func seedItem(seed any, hasSeed, tracking bool) any {
	if !tracking {
		return valueOf(seed)
	}
	if t, ok := seed.(*Traverser); ok {
		return &Traverser{Value: t.Value, Path: t.Path, Labels: t.Labels}
	}
	if hasSeed {
		return &Traverser{Value: seed, Path: []any{seed}}
	}
	return &Traverser{}
}

func (st stage) attach(ctx context.Context, src Stream, tracking bool) Stream {
	s := st.step
	appendPath := !s.KeepPath
	if s.Factory != nil {
		return expand(ctx, st.env, s.Factory, st.op.Args, src, tracking, appendPath)
	}
	if !tracking || s.UsesTraverser || s.Passthrough {
		return st.transform(ctx, src)
	}
	return adapt(ctx, st.transform, src, appendPath)
}

// expand runs a Factory once per upstream item.
func expand(ctx context.Context, env *Env, f Factory, args []any, src Stream, tracking, appendPath bool) Stream {
	return func(yield func(any, error) bool) {
		for item, err := range src {
			if err == nil {
				err = ctx.Err()
			}
			if err != nil {
				yield(nil, err)
				return
			}
			var parent *Traverser
			if tracking {
				parent = asTraverser(item)
			}
			for out, err := range f(ctx, env, valueOf(item), args) {
				if err != nil {
					yield(nil, err)
					return
				}
				if tracking {
					out = parent.extend(out, appendPath)
				}
				if !yield(out, nil) {
					return
				}
			}
		}
	}
}

// adapt feeds bare values to a transform that does not understand
// traversers and attributes each output to the traverser pulled last.
func adapt(ctx context.Context, tr Transform, src Stream, appendPath bool) Stream {
	return func(yield func(any, error) bool) {
		var current *Traverser
		bare := func(y func(any, error) bool) {
			for item, err := range src {
				if err != nil {
					y(nil, err)
					return
				}
				current = asTraverser(item)
				if !y(current.Value, nil) {
					return
				}
			}
		}
		for out, err := range tr(ctx, bare) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(current.extend(out, appendPath), nil) {
				return
			}
		}
	}
}

func unwrap(src Stream) Stream {
	return func(yield func(any, error) bool) {
		for item, err := range src {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(valueOf(item), nil) {
				return
			}
		}
	}
}

// nested runs sub seeded with item and reports whether it yielded anything.
// Bind errors and context errors are returned; any other failure while
// running counts as no result.
func (env *Env) nested(ctx context.Context, sub *Traversal, item any) (bool, error) {
	if sub.err != nil {
		return false, sub.err
	}
	stream, err := env.engine.pipeline(ctx, env.Logger, Optimize(sub.ops), sub.start, item, true, true)
	if err != nil {
		return false, err
	}
	return env.anyResult(ctx, stream)
}

// detachedRun runs an unrelated traversal returned by a predicate.
func (env *Env) detachedRun(ctx context.Context, t *Traversal) (bool, error) {
	if t.err != nil {
		return false, t.err
	}
	if t.engine == nil {
		return false, detached()
	}
	stream, err := t.engine.pipeline(ctx, env.Logger, Optimize(t.ops), t.start, nil, false, true)
	if err != nil {
		return false, err
	}
	return env.anyResult(ctx, stream)
}

func (env *Env) anyResult(ctx context.Context, stream Stream) (bool, error) {
	for _, err := range stream {
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			env.Logger.Debug("predicate sub-traversal failed", "error", err)
			return false, nil
		}
		return true, nil
	}
	return false, ctx.Err()
}
