package traversal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptimize(t *testing.T) {
	tests := []struct {
		name string
		in   []Op
		want []Op
	}{
		{
			name: "label scan",
			in:   []Op{{Name: "V"}, {Name: "has", Args: []any{"label", "person"}}, {Name: "out"}},
			want: []Op{{Name: "_vHasLabel", Args: []any{"person"}}, {Name: "out"}},
		},
		{
			name: "label scan with nil ids",
			in:   []Op{{Name: "V", Args: []any{nil}}, {Name: "has", Args: []any{"label", "person"}}},
			want: []Op{{Name: "_vHasLabel", Args: []any{"person"}}},
		},
		{
			name: "V with ids is kept",
			in:   []Op{{Name: "V", Args: []any{"a"}}, {Name: "has", Args: []any{"label", "person"}}},
			want: []Op{{Name: "V", Args: []any{"a"}}, {Name: "has", Args: []any{"label", "person"}}},
		},
		{
			name: "label that is not a token is kept",
			in:   []Op{{Name: "V"}, {Name: "has", Args: []any{"label", "a.b"}}},
			want: []Op{{Name: "V"}, {Name: "has", Args: []any{"label", "a.b"}}},
		},
		{
			name: "property has is kept",
			in:   []Op{{Name: "V"}, {Name: "has", Args: []any{"name", "bob"}}},
			want: []Op{{Name: "V"}, {Name: "has", Args: []any{"name", "bob"}}},
		},
		{
			name: "label existence is kept",
			in:   []Op{{Name: "V"}, {Name: "has", Args: []any{"label"}}},
			want: []Op{{Name: "V"}, {Name: "has", Args: []any{"label"}}},
		},
		{
			name: "limits fold to the smallest",
			in:   []Op{{Name: "V"}, {Name: "limit", Args: []any{5}}, {Name: "limit", Args: []any{2}}, {Name: "limit", Args: []any{3}}},
			want: []Op{{Name: "V"}, {Name: "limit", Args: []any{2}}},
		},
		{
			name: "tails fold",
			in:   []Op{{Name: "V"}, {Name: "tail", Args: []any{1}}, {Name: "tail", Args: []any{3}}},
			want: []Op{{Name: "V"}, {Name: "tail", Args: []any{1}}},
		},
		{
			name: "limit then tail is kept",
			in:   []Op{{Name: "V"}, {Name: "limit", Args: []any{2}}, {Name: "tail", Args: []any{1}}},
			want: []Op{{Name: "V"}, {Name: "limit", Args: []any{2}}, {Name: "tail", Args: []any{1}}},
		},
		{
			name: "invalid counts are left for validation",
			in:   []Op{{Name: "V"}, {Name: "limit", Args: []any{"x"}}, {Name: "limit", Args: []any{1}}},
			want: []Op{{Name: "V"}, {Name: "limit", Args: []any{"x"}}, {Name: "limit", Args: []any{1}}},
		},
		{
			name: "empty as is dropped",
			in:   []Op{{Name: "V"}, {Name: "as"}, {Name: "out"}, {Name: "as", Args: []any{"x"}}},
			want: []Op{{Name: "V"}, {Name: "out"}, {Name: "as", Args: []any{"x"}}},
		},
		{
			name: "empty chain",
			in:   nil,
			want: []Op{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Optimize(tt.in))
		})
	}
}

func TestOptimize_DoesNotModifyInput(t *testing.T) {
	in := []Op{{Name: "V"}, {Name: "has", Args: []any{"label", "person"}}, {Name: "limit", Args: []any{4}}, {Name: "limit", Args: []any{2}}}
	snapshot := []Op{{Name: "V"}, {Name: "has", Args: []any{"label", "person"}}, {Name: "limit", Args: []any{4}}, {Name: "limit", Args: []any{2}}}

	out := Optimize(in)
	assert.Equal(t, snapshot, in)
	assert.Equal(t, []Op{{Name: "_vHasLabel", Args: []any{"person"}}, {Name: "limit", Args: []any{2}}}, out)
}

func TestOptimize_LabelScanMatchesUnoptimized(t *testing.T) {
	e, _ := newTestEngine(t)
	a := addV(t, e, "person")
	b := addV(t, e, "software")
	c := addV(t, e, "person")

	optimized := run(t, e.G().V().Has("label", "person"))
	// Listing ids keeps the plain has() filter.
	plain := run(t, e.G().V(a, b, c).Has("label", "person"))

	assert.ElementsMatch(t, ids(a, c), optimized)
	assert.ElementsMatch(t, plain, optimized)
	assert.Empty(t, run(t, e.G().V().Has("label", "robot")))
}
