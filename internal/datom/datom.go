package datom

import "fmt"

// Datom is one immutable fact: entity e held value v for attribute a as of
// transaction tx. Added=false records a logical retraction of a previously
// asserted fact.
type Datom struct {
	E     EntityID
	A     EntityID
	V     Value
	Tx    TxID
	Added bool
}

func (d Datom) String() string {
	op := "+"
	if !d.Added {
		op = "-"
	}
	return fmt.Sprintf("[%s %d %d %s %d]", op, d.E, d.A, Format(d.V), d.Tx)
}

// Less orders datoms by (e, a, value type, value, added) for deterministic
// report output. Tx is constant within a report.
func Less(a, b Datom) bool {
	if a.E != b.E {
		return a.E < b.E
	}
	if a.A != b.A {
		return a.A < b.A
	}
	if c := Compare(a.V, b.V); c != 0 {
		return c < 0
	}
	// Retractions sort before assertions of the same fact.
	return !a.Added && b.Added
}

// DataIntegrityError reports a stored value that failed to decode as its
// attribute's declared type. It indicates log corruption or a write path
// bypassing the transactor; it is never recoverable by coercion.
type DataIntegrityError struct {
	Type  ValueType
	Raw   any
	Cause error
}

func (e *DataIntegrityError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("stored value %v does not decode as %s: %v", e.Raw, e.Type, e.Cause)
	}
	return fmt.Sprintf("stored value %v (%T) does not decode as %s", e.Raw, e.Raw, e.Type)
}

func (e *DataIntegrityError) Unwrap() error { return e.Cause }
