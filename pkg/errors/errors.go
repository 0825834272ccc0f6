// Package errors provides the coded error taxonomy shared by every kvgraph
// package.
//
// Each error carries a machine-readable Code of the form
// "area.object.reason" plus structured fields (operation name, offending
// arguments, keys). Errors are built on github.com/samber/oops, so the
// standard library errors.Is / errors.As keep working through the wrapping:
//
//	_, err := store.Get(ctx, "node.x")
//	if errors.Is(err, kv.ErrKeyNotFound) { ... }
//	if kverrors.IsNotFound(err) { ... }
//	kverrors.CodeOf(err) // "store.key.not_found"
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeTraversalOperationInvalid Code = "traversal.operation.invalid"
	CodeTraversalStoreMissing     Code = "traversal.store.missing"

	CodeVertexLabelRequired Code = "vertex.label.required"
	CodeVertexLabelInvalid  Code = "vertex.label.invalid"
	CodeVertexIDInvalid     Code = "vertex.id.invalid"

	CodeEdgeLabelRequired      Code = "edge.label.required"
	CodeEdgeLabelInvalid       Code = "edge.label.invalid"
	CodeEdgeIncomingRequired   Code = "edge.incoming.required"
	CodeEdgeOutgoingRequired   Code = "edge.outgoing.required"
	CodeEdgeIncomingNotFound   Code = "edge.incoming.not_found"
	CodeEdgeOutgoingNotFound   Code = "edge.outgoing.not_found"
	CodeEdgeIDInvalid          Code = "edge.id.invalid"
	CodeEdgeOtherVPivotInvalid Code = "edge.otherv.pivot.invalid"

	CodePropertyKeyInvalid   Code = "property.key.invalid"
	CodePropertyKeyReserved  Code = "property.key.reserved"
	CodePropertyValueInvalid Code = "property.value.invalid"

	CodeHasKeyInvalid   Code = "has.key.invalid"
	CodeHasValueInvalid Code = "has.value.invalid"

	CodeFilterPredicateInvalid Code = "filter.predicate.invalid"
	CodeAndPredicateInvalid    Code = "and.predicate.invalid"
	CodeOrPredicateInvalid     Code = "or.predicate.invalid"
	CodeNotPredicateInvalid    Code = "not.predicate.invalid"
	CodeWherePredicateInvalid  Code = "where.predicate.invalid"

	CodeLimitCountInvalid Code = "limit.count.invalid"
	CodeTailCountInvalid  Code = "tail.count.invalid"

	CodeAsLabelInvalid      Code = "as.label.invalid"
	CodeSelectLabelInvalid  Code = "select.label.invalid"
	CodeSelectLabelNotFound Code = "select.label.not_found"

	CodeStoreKeyNotFound        Code = "store.key.not_found"
	CodeStoreKeyConflict        Code = "store.key.conflict"
	CodeStoreRevisionConflict   Code = "store.revision.conflict"
	CodeStorePatternInvalid     Code = "store.pattern.invalid"
	CodeStoreClosed             Code = "store.closed"
	CodeStoreBackendFailure     Code = "store.backend.failure"
	CodeStoreBackendUnsupported Code = "store.backend.unsupported"
	CodeStoreValueInvalid       Code = "store.value.invalid"

	CodeChunksetAppendConflict Code = "chunkset.append.conflict"
	CodeChunksetDecodeInvalid  Code = "chunkset.decode.invalid"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeCLIInputInvalid Code = "cli.input.invalid"
	CodeInternalFailure Code = "internal.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldOperation(name string) Attr {
	return Field("operation", name)
}

func FieldKey(key string) Attr {
	return Field("key", key)
}

func FieldArgs(args []any) Attr {
	return Field("args", args)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain, keeping its code.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	switch code := oopsErr.Code().(type) {
	case Code:
		return code
	case string:
		return Code(code)
	case nil:
		return ""
	default:
		return Code(fmt.Sprintf("%v", code))
	}
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsConflict(err error) bool {
	return reason(CodeOf(err)) == "conflict"
}

// IsInvalidInput reports whether err is a caller-side validation failure.
func IsInvalidInput(err error) bool {
	switch reason(CodeOf(err)) {
	case "invalid", "invalid_input", "invalid_value", "invalid_format", "required", "reserved":
		return true
	}
	return false
}

// Join combines errs, keeping the first non-empty code found among them.
func Join(errs ...error) error {
	joined := stderrors.Join(errs...)
	if joined == nil {
		return nil
	}
	code := CodeInternalFailure
	for _, err := range errs {
		if c := CodeOf(err); c != "" {
			code = c
			break
		}
	}
	return oops.Code(code).Wrap(joined)
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
