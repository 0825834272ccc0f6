package traversal

import (
	"iter"
	"slices"
)

// ResultType is the kind of item a pipeline stage produces. It selects which
// operations may follow.
type ResultType string

const (
	ResultGraph  ResultType = "graph"
	ResultVertex ResultType = "vertex"
	ResultEdge   ResultType = "edge"
	ResultValue  ResultType = "value"
)

// Op is one recorded call on a Traversal.
type Op struct {
	Name string
	Args []any
}

// Stream is a lazy sequence of pipeline items. An item is a bare value
// (usually an id string) or a *Traverser when the pipeline tracks paths.
type Stream = iter.Seq2[any, error]

// Traverser is a pipeline item carrying its history.
//
// Path holds every value the item passed through (label and filter steps
// excluded); Labels holds the values bound by As. Both are shared between a
// traverser and its children and must be treated as read-only.
type Traverser struct {
	Value  any
	Path   []any
	Labels map[string]any
}

// extend returns a child traverser for v. A nil receiver starts a new path.
func (t *Traverser) extend(v any, appendPath bool) *Traverser {
	if t == nil {
		t = &Traverser{}
	}
	child := &Traverser{Value: v, Path: t.Path, Labels: t.Labels}
	if appendPath {
		child.Path = append(slices.Clip(t.Path), v)
	}
	return child
}

// asTraverser returns item as a traverser, wrapping bare values.
func asTraverser(item any) *Traverser {
	if t, ok := item.(*Traverser); ok {
		return t
	}
	return &Traverser{Value: item}
}

// valueOf strips the traverser wrapper, if any.
func valueOf(item any) any {
	if t, ok := item.(*Traverser); ok {
		return t.Value
	}
	return item
}

// idOf returns the element id carried by item.
func idOf(item any) (string, bool) {
	id, ok := valueOf(item).(string)
	return id, ok && id != ""
}

// Helpers exposes the current item's history to predicates.
type Helpers struct {
	Value  any
	Path   []any
	Labels map[string]any
}

func helpersFor(item any) *Helpers {
	if t, ok := item.(*Traverser); ok {
		return &Helpers{Value: t.Value, Path: t.Path, Labels: t.Labels}
	}
	return &Helpers{Value: item}
}

// HasLabel reports whether name was bound by an earlier As.
func (h *Helpers) HasLabel(name string) bool {
	_, ok := h.Labels[name]
	return ok
}

// Select returns the value bound to name.
func (h *Helpers) Select(name string) (any, bool) {
	v, ok := h.Labels[name]
	return v, ok
}

func single(v any) Stream {
	return func(yield func(any, error) bool) {
		yield(v, nil)
	}
}

func failed(err error) Stream {
	return func(yield func(any, error) bool) {
		yield(nil, err)
	}
}

func empty() Stream {
	return func(yield func(any, error) bool) {}
}
