package traversal

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kverrors "github.com/orneryd/kvgraph/pkg/errors"
)

func TestHas(t *testing.T) {
	e, _ := newTestEngine(t)
	g := buildSocial(t, e)
	run(t, e.G().V(g.alice).Property("age", 30).Property("name", "alice").Property("admin", true))
	run(t, e.G().V(g.bob).Property("age", 25))
	run(t, e.G().E(g.knowsAB).Property("since", 2019))

	tests := []struct {
		name string
		tr   *Traversal
		want []any
	}{
		{"int matches number", e.G().V().Has("age", 30), ids(g.alice)},
		{"float matches number", e.G().V().Has("age", 30.0), ids(g.alice)},
		{"string does not match number", e.G().V().Has("age", "30"), ids()},
		{"bool", e.G().V().Has("admin", true), ids(g.alice)},
		{"existence", e.G().V().Has("age"), ids(g.alice, g.bob)},
		{"missing key", e.G().V().Has("height"), ids()},
		{"id", e.G().V().Has("id", g.carol), ids(g.carol)},
		{"label", e.G().V(g.alice, g.bob).Has("label", "person"), ids(g.alice, g.bob)},
		{"label mismatch", e.G().V(g.alice).Has("label", "robot"), ids()},
		{"edge property", e.G().E().Has("since", 2019), ids(g.knowsAB)},
		{"edge label", e.G().E().Has("label", "likes"), ids(g.likesBC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, run(t, tt.tr))
		})
	}
}

func TestHas_Validation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name string
		tr   *Traversal
		code kverrors.Code
	}{
		{"empty key", e.G().V().Has(""), kverrors.CodeHasKeyInvalid},
		{"dotted key", e.G().V().Has("a.b", 1), kverrors.CodeHasKeyInvalid},
		{"no key", e.G().V().Call("has"), kverrors.CodeHasKeyInvalid},
		{"slice value", e.G().V().Has("tags", []string{"x"}), kverrors.CodeHasValueInvalid},
		{"map value", e.G().V().Has("meta", map[string]any{"a": 1}), kverrors.CodeHasValueInvalid},
		{"nil value", e.G().V().Has("name", nil), kverrors.CodeHasValueInvalid},
		{"too many", e.G().V().Has("name", "a", "b"), kverrors.CodeHasValueInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.tr.ToList(ctx)
			assert.Equal(t, tt.code, kverrors.CodeOf(err))
		})
	}
}

func TestHas_NonScalarStoredValue(t *testing.T) {
	e, _ := newTestEngine(t)
	a := addV(t, e, "person")
	run(t, e.G().V(a).Property("tags", []string{"x", "y"}))

	assert.Equal(t, ids(a), run(t, e.G().V().Has("tags")))
	assert.Empty(t, run(t, e.G().V().Has("tags", "x")))
}

func TestFilter(t *testing.T) {
	e, _ := newTestEngine(t)
	g := buildSocial(t, e)

	// Value predicates.
	got := run(t, e.G().V().Filter(func(v any) bool { return v == g.bob }))
	assert.Equal(t, ids(g.bob), got)

	got = run(t, e.G().V().ID().Filter(func(v any, h *Helpers) any { return v != g.bob }))
	assert.Equal(t, ids(g.alice, g.carol, g.dave), got)

	// Traversal predicates: keep vertices with an outgoing knows edge.
	got = run(t, e.G().V().Filter(func(t *Traversal) *Traversal { return t.Out("knows") }))
	assert.Equal(t, ids(g.alice, g.dave), got)

	// Recording on the handle and returning nil runs the recording.
	got = run(t, e.G().V().Filter(func(t *Traversal, _ *Helpers) any {
		t.Out("likes")
		return nil
	}))
	assert.Equal(t, ids(g.bob), got)

	// Any other return value is judged directly.
	got = run(t, e.G().V().Filter(func(t *Traversal, h *Helpers) any { return h.Value == g.carol }))
	assert.Equal(t, ids(g.carol), got)

	// An unrelated traversal runs on its own.
	got = run(t, e.G().V().Filter(func(*Traversal) *Traversal { return e.G().V("ghost") }))
	assert.Empty(t, got)
	got = run(t, e.G().V().Filter(func(*Traversal) *Traversal { return e.G().V(g.alice) }))
	assert.Len(t, got, 4)

	// Edge stages get edge sub-traversals.
	got = run(t, e.G().E().Filter(func(t *Traversal) *Traversal { return t.InV().Has("id", g.carol) }))
	assert.Equal(t, ids(g.knowsAC, g.likesBC), got)
}

func TestFilter_Validation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name string
		tr   *Traversal
		code kverrors.Code
	}{
		{"not a func", e.G().V().Filter("x"), kverrors.CodeFilterPredicateInvalid},
		{"nil", e.G().V().Filter(nil), kverrors.CodeFilterPredicateInvalid},
		{"two preds", e.G().V().Call("filter", func(any) bool { return true }, func(any) bool { return true }), kverrors.CodeFilterPredicateInvalid},
		{"wrong signature", e.G().V().Filter(func(int) bool { return true }), kverrors.CodeFilterPredicateInvalid},
		{"traversal on values", e.G().V().ID().Filter(func(t *Traversal) *Traversal { return t }), kverrors.CodeFilterPredicateInvalid},
		{"empty and", e.G().V().And(), kverrors.CodeAndPredicateInvalid},
		{"empty or", e.G().V().Or(), kverrors.CodeOrPredicateInvalid},
		{"bad not", e.G().V().Not(3), kverrors.CodeNotPredicateInvalid},
		{"bad where", e.G().V().Where(nil), kverrors.CodeWherePredicateInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.tr.ToList(ctx)
			assert.Equal(t, tt.code, kverrors.CodeOf(err))
		})
	}
}

func TestFilter_PredicateErrors(t *testing.T) {
	e, _ := newTestEngine(t)
	addV(t, e, "person")
	ctx := context.Background()

	boom := errors.New("boom")
	_, err := e.G().V().Filter(func(any) any { return boom }).ToList(ctx)
	assert.ErrorIs(t, err, boom)

	// An invalid sub-chain is a caller error and is reported.
	_, err = e.G().V().Filter(func(t *Traversal) *Traversal { return t.OutV() }).ToList(ctx)
	assert.True(t, kverrors.HasCode(err, kverrors.CodeTraversalOperationInvalid))

	// A sub-traversal that fails while running counts as no result.
	got, err := e.G().V().Filter(func(t *Traversal) *Traversal { return t.Select("missing") }).ToList(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBooleanCombinators(t *testing.T) {
	e, _ := newTestEngine(t)
	g := buildSocial(t, e)

	knows := func(t *Traversal) *Traversal { return t.Out("knows") }
	likes := func(t *Traversal) *Traversal { return t.Out("likes") }
	known := func(t *Traversal) *Traversal { return t.In("knows") }

	assert.Equal(t, ids(g.alice), run(t, e.G().V().And(knows, known)))
	assert.Equal(t, ids(g.alice, g.bob, g.dave), run(t, e.G().V().Or(knows, likes)))
	assert.Equal(t, ids(g.bob, g.carol), run(t, e.G().V().Not(knows)))
	assert.Equal(t, ids(g.carol), run(t, e.G().V().Not(func(t *Traversal) *Traversal { return t.Out() })))
	assert.Equal(t, ids(g.alice, g.dave), run(t, e.G().V().And(knows)))
}

func TestBooleanCombinators_ShortCircuit(t *testing.T) {
	e, _ := newTestEngine(t)
	addV(t, e, "person")

	calls := 0
	counted := func(result bool) func(any) bool {
		return func(any) bool {
			calls++
			return result
		}
	}

	run(t, e.G().V().And(counted(false), counted(true)))
	assert.Equal(t, 1, calls)

	calls = 0
	run(t, e.G().V().Or(counted(true), counted(false)))
	assert.Equal(t, 1, calls)

	calls = 0
	run(t, e.G().V().Or(counted(false), counted(false)))
	assert.Equal(t, 2, calls)
}

func TestWhere_ExcludesSelfLoops(t *testing.T) {
	e, _ := newTestEngine(t)
	a := addV(t, e, "person")
	b := addV(t, e, "person")
	addE(t, e, "knows", a, a)
	addE(t, e, "knows", a, b)

	notOrigin := func(v any, h *Helpers) bool {
		origin, _ := h.Select("o")
		return v != origin
	}

	assert.Equal(t, ids(a, b), run(t, e.G().V(a).As("o").Out("knows")))
	assert.Equal(t, ids(b), run(t, e.G().V(a).As("o").Out("knows").Where(notOrigin)))
}

func TestWhere_DoesNotExtendPath(t *testing.T) {
	e, _ := newTestEngine(t)
	a := addV(t, e, "person")
	b := addV(t, e, "person")
	addE(t, e, "knows", a, b)

	got := run(t, e.G().V(a).Out().Where(func(t *Traversal) *Traversal { return t.In() }).Path())
	assert.Equal(t, []any{[]any{a, b}}, got)
}

func TestWhere_SubTraversalSeesLabels(t *testing.T) {
	e, _ := newTestEngine(t)
	a := addV(t, e, "person")
	b := addV(t, e, "person")
	c := addV(t, e, "person")
	addE(t, e, "knows", a, b)
	addE(t, e, "knows", a, c)
	addE(t, e, "knows", b, a)

	// Neighbors of a that point back at a.
	backToOrigin := func(t *Traversal, h *Helpers) any {
		origin, _ := h.Select("o")
		return t.Out().Filter(func(v any) bool { return v == origin })
	}
	assert.Equal(t, ids(b), run(t, e.G().V(a).As("o").Out().Where(backToOrigin)))
}

func TestLimit(t *testing.T) {
	e, _ := newTestEngine(t)
	a := addV(t, e, "person")
	b := addV(t, e, "person")
	addV(t, e, "person")

	assert.Equal(t, ids(a, b), run(t, e.G().V().Limit(2)))
	assert.Equal(t, ids(a), run(t, e.G().V().Limit(2).Limit(1)))
	assert.Len(t, run(t, e.G().V().Limit(10)), 3)
	assert.Empty(t, run(t, e.G().V().Limit(0)))
	assert.Equal(t, []any{2}, run(t, e.G().V().Limit(2).Count()))
	assert.Equal(t, ids(a), run(t, e.G().V().Call("limit", float64(1))))

	_, err := e.G().V().Call("limit").ToList(context.Background())
	assert.True(t, kverrors.HasCode(err, kverrors.CodeLimitCountInvalid))
	_, err = e.G().V().Call("limit", 1.5).ToList(context.Background())
	assert.True(t, kverrors.HasCode(err, kverrors.CodeLimitCountInvalid))
}

func TestTail(t *testing.T) {
	e, _ := newTestEngine(t)
	a := addV(t, e, "person")
	b := addV(t, e, "person")
	c := addV(t, e, "person")

	assert.Equal(t, ids(c), run(t, e.G().V().Tail()))
	assert.Equal(t, ids(b, c), run(t, e.G().V().Tail(2)))
	assert.Equal(t, ids(a, b, c), run(t, e.G().V().Tail(5)))
	assert.Empty(t, run(t, e.G().V().Tail(0)))
	assert.Equal(t, ids(b), run(t, e.G().V().Limit(2).Tail(1)))
	assert.Equal(t, []any{[]any{c}}, run(t, e.G().V().Tail(1).Path()))

	// Counts far larger than the input keep everything.
	assert.Equal(t, ids(a, b, c), run(t, e.G().V().Tail(1<<62)))
	assert.Equal(t, ids(a, b, c), run(t, e.G().V().Limit(1<<62)))

	_, err := e.G().V().Tail(-1).ToList(context.Background())
	assert.True(t, kverrors.HasCode(err, kverrors.CodeTailCountInvalid))
	_, err = e.G().V().Tail(1, 2).ToList(context.Background())
	assert.True(t, kverrors.HasCode(err, kverrors.CodeTailCountInvalid))
}
