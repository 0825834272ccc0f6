package traversal

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orneryd/kvgraph/pkg/keyspace"
)

func TestDropVertex_Cascades(t *testing.T) {
	e, store := newTestEngine(t)
	a := addV(t, e, "person")
	b := addV(t, e, "person")
	c := addV(t, e, "person")
	ab := addE(t, e, "knows", a, b)
	bc := addE(t, e, "knows", b, c)
	ca := addE(t, e, "knows", c, a)
	run(t, e.G().V(b).Property("name", "bob"))
	run(t, e.G().E(ab).Property("since", 2020))

	assert.Equal(t, []any{}, run(t, e.G().V(b).Drop()))

	assert.Equal(t, ids(a, c), run(t, e.G().V()))
	assert.Equal(t, ids(ca), run(t, e.G().E()))
	assert.Empty(t, run(t, e.G().V(a).Out()))
	assert.Empty(t, run(t, e.G().V(c).In()))
	assert.Equal(t, ids(a), run(t, e.G().V(c).Out()))
	assert.Equal(t, ids(c), run(t, e.G().V(a).In()))
	assert.Empty(t, run(t, e.G().E(ab, bc)))

	assert.Empty(t, keysMatching(t, store, keyspace.VertexDescendants(b)))
	assert.Empty(t, keysMatching(t, store, keyspace.EdgeDescendants(ab)))
	assert.Empty(t, keysMatching(t, store, keyspace.EdgeDescendants(bc)))
	for _, kind := range keyspace.Kinds {
		assert.Empty(t, keysMatching(t, store, keyspace.AdjacencyDescendants(kind, b)), kind)
	}
	assert.Empty(t, run(t, e.G().V().Has("label", "person").Has("id", b)))
}

func TestDropEdge(t *testing.T) {
	e, store := newTestEngine(t)
	a := addV(t, e, "person")
	b := addV(t, e, "person")
	e1 := addE(t, e, "knows", a, b)
	run(t, e.G().E(e1).Property("since", 2020))

	run(t, e.G().E(e1).Drop())

	assert.Equal(t, ids(a, b), run(t, e.G().V()))
	assert.Empty(t, run(t, e.G().E()))
	assert.Empty(t, run(t, e.G().V(a).Out()))
	assert.Empty(t, run(t, e.G().V(a).OutE()))
	assert.Empty(t, run(t, e.G().V(b).In("knows")))
	assert.Empty(t, keysMatching(t, store, keyspace.EdgeDescendants(e1)))
	assert.Empty(t, keysMatching(t, store, keyspace.AllEdgeIndex))
}

func TestDropEdge_ParallelEdges(t *testing.T) {
	e, _ := newTestEngine(t)
	a := addV(t, e, "person")
	b := addV(t, e, "person")
	first := addE(t, e, "knows", a, b)
	second := addE(t, e, "knows", a, b)

	run(t, e.G().E(first).Drop())
	assert.Equal(t, ids(b), run(t, e.G().V(a).Out()))
	assert.Equal(t, ids(b), run(t, e.G().V(a).Out("knows")))
	assert.Equal(t, ids(second), run(t, e.G().V(a).OutE()))

	run(t, e.G().E(second).Drop())
	assert.Empty(t, run(t, e.G().V(a).Out()))
	assert.Empty(t, run(t, e.G().V(b).In()))
}

func TestDrop_AllEdges(t *testing.T) {
	e, _ := newTestEngine(t)
	g := buildSocial(t, e)

	run(t, e.G().E().Drop())
	assert.Empty(t, run(t, e.G().E()))
	assert.Equal(t, ids(g.alice, g.bob, g.carol, g.dave), run(t, e.G().V()))
	assert.Empty(t, run(t, e.G().V().Both()))
}

func TestDrop_MissingElements(t *testing.T) {
	e, _ := newTestEngine(t)
	a := addV(t, e, "person")

	assert.Empty(t, run(t, e.G().V("ghost").Drop()))
	assert.Empty(t, run(t, e.G().E("ghost").Drop()))
	assert.Equal(t, ids(a), run(t, e.G().V()))
}

func TestDrop_LegacyWrites(t *testing.T) {
	e, store := newTestEngine(t, WithLegacyIndexWrites(true))
	a := addV(t, e, "person")
	b := addV(t, e, "person")
	addE(t, e, "knows", a, b)

	run(t, e.G().V(b).Drop())

	for _, kind := range keyspace.Kinds {
		assert.Empty(t, keysMatching(t, store, keyspace.LegacyPointersAnyLabel(kind, a)), kind)
	}
	_, err := store.Get(t.Context(), keyspace.LegacyIndex(keyspace.OutEdges, a, ""))
	assert.True(t, isNotFound(err))
	assert.Empty(t, run(t, e.G().V(a).Both()))
}

func TestDrop_LegacyOnlyGraph(t *testing.T) {
	e, store := newTestEngine(t)
	legacyGraph(t, e)

	run(t, e.G().V("a").Drop())

	assert.Equal(t, ids("b"), run(t, e.G().V()))
	assert.Empty(t, run(t, e.G().E()))
	assert.Empty(t, run(t, e.G().V("b").In()))
	assert.Empty(t, run(t, e.G().V("b").InE()))
	assert.ElementsMatch(t, []string{"node.b.label", "node.b.label.person"}, keysMatching(t, store, keyspace.VertexDescendants("b")))
}
