package transact

import (
	"fmt"

	"github.com/roach88/datalite/internal/datom"
)

// EntityRef names the entity position of an operation.
//
// This is a sealed interface - only ID, TempID and LookupRef implement it.
// The marker method pattern enables exhaustive type switches in resolution.
type EntityRef interface {
	entityRef()
}

// ID refers to an existing entity by its permanent id.
type ID datom.EntityID

// TempID is a batch-local placeholder, conventionally negative. Every
// occurrence of the same TempID within one batch resolves to the same fresh
// permanent id; the mapping is returned in the report.
type TempID int64

// LookupRef identifies an existing entity by a unique attribute and value.
type LookupRef struct {
	A datom.Keyword
	V datom.Value
}

func (ID) entityRef()        {}
func (TempID) entityRef()    {}
func (LookupRef) entityRef() {}

func formatRef(r EntityRef) string {
	switch ref := r.(type) {
	case ID:
		return fmt.Sprintf("%d", int64(ref))
	case TempID:
		return fmt.Sprintf("tempid(%d)", int64(ref))
	case LookupRef:
		return fmt.Sprintf("[%s %s]", ref.A, datom.Format(ref.V))
	default:
		return fmt.Sprintf("%v", r)
	}
}

// Op is one operation in a transaction batch.
//
// Sealed: only Assert and Retract implement it.
type Op interface {
	op() (e EntityRef, a datom.Keyword, v datom.Value, added bool)
}

// Assert states that entity E holds value V for attribute A.
type Assert struct {
	E EntityRef
	A datom.Keyword
	V datom.Value
}

// Retract states that entity E no longer holds value V for attribute A.
// Retracting a fact that is not currently asserted is a no-op: nothing is
// written and the report simply contains no datom for it.
type Retract struct {
	E EntityRef
	A datom.Keyword
	V datom.Value
}

func (o Assert) op() (EntityRef, datom.Keyword, datom.Value, bool)  { return o.E, o.A, o.V, true }
func (o Retract) op() (EntityRef, datom.Keyword, datom.Value, bool) { return o.E, o.A, o.V, false }
