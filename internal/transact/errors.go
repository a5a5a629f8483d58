package transact

import (
	"errors"
	"fmt"

	"github.com/roach88/datalite/internal/datom"
)

// ValidationErrorCode categorizes constraint violations during transact.
type ValidationErrorCode string

const (
	// ErrCodeTypeMismatch indicates a value whose variant differs from the
	// attribute's declared value type.
	ErrCodeTypeMismatch ValidationErrorCode = "TYPE_MISMATCH"

	// ErrCodeConflictingCardinalityOne indicates two different values
	// asserted for one (entity, cardinality-one attribute), either within
	// the batch or against current state without an accompanying retract.
	ErrCodeConflictingCardinalityOne ValidationErrorCode = "CONFLICTING_CARDINALITY_ONE"

	// ErrCodeUniqueConflict indicates a unique attribute's value asserted
	// for an entity while a different entity already holds it.
	ErrCodeUniqueConflict ValidationErrorCode = "UNIQUE_CONFLICT"
)

// ValidationError reports the most specific constraint violated by a batch.
// The whole batch is rolled back; no datoms persist.
type ValidationError struct {
	Code      ValidationErrorCode
	Entity    datom.EntityID
	Attribute datom.Keyword
	Value     datom.Value

	// Existing identifies the colliding entity for UNIQUE_CONFLICT.
	Existing datom.EntityID
}

func (e *ValidationError) Error() string {
	switch e.Code {
	case ErrCodeUniqueConflict:
		return fmt.Sprintf("%s: value %s for unique attribute %s already held by entity %d",
			e.Code, datom.Format(e.Value), e.Attribute, e.Existing)
	case ErrCodeConflictingCardinalityOne:
		return fmt.Sprintf("%s: conflicting values for cardinality-one attribute %s on entity %d",
			e.Code, e.Attribute, e.Entity)
	default:
		return fmt.Sprintf("%s: value %s does not match declared type of attribute %s",
			e.Code, datom.Format(e.Value), e.Attribute)
	}
}

// TempIDError reports a resolution failure.
type TempIDError struct {
	Ref LookupRef
}

func (e *TempIDError) Error() string {
	return fmt.Sprintf("UNRESOLVED_LOOKUP_REF: no entity holds %s for unique attribute %s",
		datom.Format(e.Ref.V), e.Ref.A)
}

// IsUniqueConflict reports whether err is a uniqueness violation.
// Uses errors.As to handle wrapped errors.
func IsUniqueConflict(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Code == ErrCodeUniqueConflict
}

// IsCardinalityConflict reports whether err is a cardinality-one violation.
func IsCardinalityConflict(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Code == ErrCodeConflictingCardinalityOne
}

// IsTypeMismatch reports whether err is a declared-type violation.
func IsTypeMismatch(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Code == ErrCodeTypeMismatch
}

// IsUnresolvedLookupRef reports whether err is a lookup-ref resolution
// failure.
func IsUnresolvedLookupRef(err error) bool {
	var te *TempIDError
	return errors.As(err, &te)
}
