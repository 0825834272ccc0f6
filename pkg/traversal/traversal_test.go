package traversal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kverrors "github.com/orneryd/kvgraph/pkg/errors"
	"github.com/orneryd/kvgraph/pkg/kv"
)

func TestTraversal_CallRecordsOnSameHandle(t *testing.T) {
	e, _ := newTestEngine(t)

	tr := e.G()
	same := tr.V().Out("knows").Has("name", "bob")
	assert.Same(t, tr, same)
	assert.Equal(t, []Op{
		{Name: "V"},
		{Name: "out", Args: []any{"knows"}},
		{Name: "has", Args: []any{"name", "bob"}},
	}, tr.Ops())
	assert.Equal(t, ResultVertex, tr.Result())
	assert.NoError(t, tr.Err())
}

func TestTraversal_HandleIsMutableInPlace(t *testing.T) {
	e, _ := newTestEngine(t)
	a := addV(t, e, "person")
	b := addV(t, e, "person")
	addE(t, e, "knows", a, b)

	tr := e.G().V(a)
	tr.Out("knows")
	assert.Equal(t, ids(b), run(t, tr))
}

func TestTraversal_OpsReturnsCopy(t *testing.T) {
	e, _ := newTestEngine(t)
	tr := e.G().V()
	ops := tr.Ops()
	ops[0].Name = "E"
	assert.Equal(t, "V", tr.Ops()[0].Name)
}

func TestTraversal_Explain(t *testing.T) {
	e, _ := newTestEngine(t)

	got := e.G().V().Has("label", "person").Out("knows").Limit(2).Explain()
	assert.Equal(t, `V() -> has("label", "person") -> out("knows") -> limit(2)`, got)

	got = e.G().V().Filter(func(any) bool { return true }).Explain()
	assert.Equal(t, `V() -> filter(<func>)`, got)

	assert.Equal(t, "", e.G().Explain())
}

func TestTraversal_UnknownOperation(t *testing.T) {
	e, store := newTestEngine(t)

	tr := e.G().Out("knows").V()
	require.Error(t, tr.Err())
	assert.True(t, kverrors.HasCode(tr.Err(), kverrors.CodeTraversalOperationInvalid))

	fields := kverrors.FieldsOf(tr.Err())
	assert.Equal(t, "out", fields["operation"])
	assert.Equal(t, "graph", fields["result_type"])
	assert.Equal(t, 0, fields["index"])
	assert.Contains(t, fields["available"], "V")

	// The chain is still recorded; the first error wins.
	assert.Len(t, tr.Ops(), 2)

	_, err := tr.ToList(context.Background())
	assert.True(t, kverrors.HasCode(err, kverrors.CodeTraversalOperationInvalid))
	assert.Zero(t, store.Len())
}

func TestTraversal_OperationsDependOnStage(t *testing.T) {
	e, _ := newTestEngine(t)

	assert.NoError(t, e.G().E().OutV().Err())
	assert.Error(t, e.G().V().OutV().Err())
	assert.Error(t, e.G().V().ID().Out().Err())
	assert.NoError(t, e.G().V().ID().Limit(1).Count().Err())

	assert.Contains(t, Operations(ResultEdge), "otherV")
	assert.NotContains(t, Operations(ResultVertex), "otherV")
	assert.Contains(t, Operations(ResultGraph), "addE")
}

func TestTraversal_First(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, ok, err := e.G().V().First(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	a := addV(t, e, "person")
	addV(t, e, "person")
	got, ok, err := e.G().V().First(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, a, got)
}

func TestTraversal_Detached(t *testing.T) {
	var tr Traversal
	_, err := tr.V().ToList(context.Background())
	assert.True(t, kverrors.HasCode(err, kverrors.CodeTraversalOperationInvalid))
}

func TestEngine_RejectsForeignTraversal(t *testing.T) {
	e1, _ := newTestEngine(t)
	e2, _ := newTestEngine(t)

	_, err := e2.Run(context.Background(), e1.G().V())
	assert.True(t, kverrors.HasCode(err, kverrors.CodeTraversalOperationInvalid))

	_, err = e2.Run(context.Background(), nil)
	assert.True(t, kverrors.HasCode(err, kverrors.CodeTraversalOperationInvalid))
}

func TestEngine_MissingStore(t *testing.T) {
	e := New(nil)
	_, err := e.G().V().ToList(context.Background())
	assert.True(t, kverrors.HasCode(err, kverrors.CodeTraversalStoreMissing))
}

func TestEngine_ValidationBeforeIO(t *testing.T) {
	store := &countingStore{Store: kv.NewMemoryStore()}
	e := newTestEngineOn(store)

	tr := e.G().AddV("")
	_, err := tr.ToList(context.Background())
	assert.True(t, kverrors.HasCode(err, kverrors.CodeVertexLabelRequired))

	_, err = e.G().V().Limit(-1).ToList(context.Background())
	assert.True(t, kverrors.HasCode(err, kverrors.CodeLimitCountInvalid))

	assert.Zero(t, store.calls())
}

func TestEngine_BuildingDoesNotTouchStore(t *testing.T) {
	store := &countingStore{Store: kv.NewMemoryStore()}
	e := newTestEngineOn(store)

	tr := e.G().AddV("person").Property("name", "alice")
	assert.Zero(t, store.calls())

	run(t, tr)
	assert.NotZero(t, store.calls())
}

func TestEngine_Laziness(t *testing.T) {
	mem := kv.NewMemoryStore()
	seed := newTestEngineOn(mem)
	a := addV(t, seed, "person")
	b := addV(t, seed, "person")
	c := addV(t, seed, "person")

	store := &countingStore{Store: mem}
	e := newTestEngineOn(store)

	got := run(t, e.G().V(a, b, c).Limit(1))
	assert.Equal(t, ids(a), got)
	assert.EqualValues(t, 1, store.gets.Load())

	store.gets.Store(0)
	assert.Empty(t, run(t, e.G().V(a, b, c).Limit(0)))
	assert.Zero(t, store.gets.Load())

	store.gets.Store(0)
	for item, err := range e.G().V(a, b, c).Iterate(context.Background()) {
		require.NoError(t, err)
		assert.Equal(t, a, item)
		break
	}
	assert.EqualValues(t, 1, store.gets.Load())
}

func TestEngine_WithTraversers(t *testing.T) {
	e, _ := newTestEngine(t)
	a := addV(t, e, "person")

	got, err := e.Run(context.Background(), e.G().V(a).As("x"), WithTraversers())
	require.NoError(t, err)
	require.Len(t, got, 1)

	tr, ok := got[0].(*Traverser)
	require.True(t, ok)
	assert.Equal(t, a, tr.Value)
	assert.Equal(t, []any{a}, tr.Path)
	assert.Equal(t, map[string]any{"x": a}, tr.Labels)

	// Without tracking steps items stay bare.
	got, err = e.Run(context.Background(), e.G().V(a), WithTraversers())
	require.NoError(t, err)
	assert.Equal(t, ids(a), got)
}

func TestEngine_CancelledContext(t *testing.T) {
	e, _ := newTestEngine(t)
	a := addV(t, e, "person")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.G().V(a).ToList(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_IndependentRuns(t *testing.T) {
	e, _ := newTestEngine(t)
	a := addV(t, e, "person")
	b := addV(t, e, "person")
	addE(t, e, "knows", a, b)

	tr := e.G().V(a).Out()
	assert.Equal(t, ids(b), run(t, tr))
	// Running again starts a new pipeline with fresh de-duplication.
	assert.Equal(t, ids(b), run(t, tr))
}
