package traversal

import (
	"github.com/orneryd/kvgraph/pkg/keyspace"
)

// Optimize rewrites a chain into an equivalent, cheaper one. The input is
// not modified.
//
// Rewrites:
//   - a leading V() followed by has("label", L) becomes _vHasLabel(L), a
//     scan over label markers instead of every vertex
//   - consecutive limit(a).limit(b) become limit(min(a, b)); same for tail
//   - as() with no labels is dropped
func Optimize(ops []Op) []Op {
	out := make([]Op, 0, len(ops))
	for i := 0; i < len(ops); i++ {
		op := ops[i]

		if i == 0 && op.Name == "V" && noIDs(op.Args) && i+1 < len(ops) {
			if label, ok := labelFilter(ops[i+1]); ok {
				out = append(out, Op{Name: "_vHasLabel", Args: []any{label}})
				i++
				continue
			}
		}

		if op.Name == "as" && len(op.Args) == 0 {
			continue
		}

		if op.Name == "limit" || op.Name == "tail" {
			if n, ok := foldableCount(op); ok && len(out) > 0 {
				prev := out[len(out)-1]
				if m, ok := foldableCount(prev); ok && prev.Name == op.Name {
					out[len(out)-1] = Op{Name: op.Name, Args: []any{min(n, m)}}
					continue
				}
			}
		}

		out = append(out, op)
	}
	return out
}

func noIDs(args []any) bool {
	return len(args) == 0 || (len(args) == 1 && args[0] == nil)
}

func labelFilter(op Op) (string, bool) {
	if op.Name != "has" || len(op.Args) != 2 {
		return "", false
	}
	if key, ok := op.Args[0].(string); !ok || key != "label" {
		return "", false
	}
	label, ok := op.Args[1].(string)
	if !ok || !keyspace.ValidToken(label) {
		return "", false
	}
	return label, true
}

// foldableCount returns the explicit, valid count of a limit or tail op.
// tail() without an argument is left alone.
func foldableCount(op Op) (int, bool) {
	if len(op.Args) != 1 {
		return 0, false
	}
	return countArg(op.Args[0])
}
