package traversal

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	kverrors "github.com/orneryd/kvgraph/pkg/errors"
	"github.com/orneryd/kvgraph/pkg/keyspace"
)

// invalidArg builds the validation error for one step argument.
func invalidArg(code kverrors.Code, op string, args []any, format string, a ...any) error {
	return kverrors.New(code, fmt.Sprintf(format, a...),
		kverrors.FieldOperation(op),
		kverrors.FieldArgs(args),
	)
}

// stringArg returns args[i] as a string. ok is false when it is missing or
// not a string.
func stringArg(args []any, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].(string)
	return s, ok
}

// idArgs returns the ids given to V/E. A single nil argument means none.
func idArgs(op string, args []any) ([]string, error) {
	if len(args) == 1 && args[0] == nil {
		return nil, nil
	}
	code := kverrors.CodeVertexIDInvalid
	if op == "E" {
		code = kverrors.CodeEdgeIDInvalid
	}
	ids := make([]string, 0, len(args))
	for i, a := range args {
		id, ok := a.(string)
		if !ok || !keyspace.ValidToken(id) {
			return nil, invalidArg(code, op, args, "%s: argument %d is not a valid id", op, i)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// labelArgs returns the optional edge-label filter of a navigation step.
func labelArgs(op string, args []any) ([]string, error) {
	labels := make([]string, 0, len(args))
	for i, a := range args {
		l, ok := a.(string)
		if !ok || !keyspace.ValidToken(l) {
			return nil, invalidArg(kverrors.CodeEdgeLabelInvalid, op, args, "%s: label %d is not a valid label", op, i)
		}
		labels = append(labels, l)
	}
	return labels, nil
}

// nameArgs returns the string arguments of as/select/properties/valueMap.
func nameArgs(code kverrors.Code, op string, args []any) ([]string, error) {
	names := make([]string, 0, len(args))
	for i, a := range args {
		s, ok := a.(string)
		if !ok || s == "" {
			return nil, invalidArg(code, op, args, "%s: argument %d must be a non-empty string", op, i)
		}
		names = append(names, s)
	}
	return names, nil
}

// countArg accepts any integer kind, or an integral float64 as produced by
// JSON decoding. Negative counts are invalid.
func countArg(v any) (int, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := rv.Int()
		return int(n), n >= 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n := rv.Uint()
		return int(n), n <= math.MaxInt
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
			return 0, false
		}
		return int(f), true
	}
	return 0, false
}

// normalize round-trips v through JSON so that values compare the way they
// read back from the store (numbers become float64, structs become maps).
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// scalar reports whether a normalized value can be compared by has().
func scalar(v any) bool {
	switch v.(type) {
	case nil, bool, float64, string:
		return true
	}
	return false
}
