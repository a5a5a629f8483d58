package query

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes compile-time query rejections.
type ErrorCode string

const (
	// ErrCodeMalformedFind indicates an empty or shape-inconsistent
	// find-spec.
	ErrCodeMalformedFind ErrorCode = "MALFORMED_FIND"

	// ErrCodeUnknownAttribute indicates a pattern naming an attribute the
	// registry does not know.
	ErrCodeUnknownAttribute ErrorCode = "UNKNOWN_ATTRIBUTE"

	// ErrCodeVariableTypeConflict indicates a variable inferred to two
	// incompatible value types.
	ErrCodeVariableTypeConflict ErrorCode = "VARIABLE_TYPE_CONFLICT"

	// ErrCodeAggregateMisuse indicates an invalid aggregate construction.
	ErrCodeAggregateMisuse ErrorCode = "AGGREGATE_MISUSE"

	// ErrCodeUnboundVariable indicates a find, order or predicate variable
	// that no pattern clause binds.
	ErrCodeUnboundVariable ErrorCode = "UNBOUND_VARIABLE"

	// ErrCodeMalformedClause indicates an illegal term for its position.
	ErrCodeMalformedClause ErrorCode = "MALFORMED_CLAUSE"
)

// Error is a compile-time query error. Queries fail here before any storage
// I/O; a malformed query never reaches the executor.
type Error struct {
	Code    ErrorCode
	Message string

	// Var identifies the offending variable where applicable.
	Var Variable
}

func (e *Error) Error() string {
	if e.Var != "" {
		return fmt.Sprintf("query: %s: %s (variable %s)", e.Code, e.Message, e.Var)
	}
	return fmt.Sprintf("query: %s: %s", e.Code, e.Message)
}

func errorf(code ErrorCode, v Variable, format string, args ...any) *Error {
	return &Error{Code: code, Var: v, Message: fmt.Sprintf(format, args...)}
}

// IsQueryError reports whether err is a compile-time query error with the
// given code. Uses errors.As to handle wrapped errors.
func IsQueryError(err error, code ErrorCode) bool {
	var qe *Error
	return errors.As(err, &qe) && qe.Code == code
}
