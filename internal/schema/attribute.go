package schema

import (
	"fmt"

	"github.com/roach88/datalite/internal/datom"
)

// Cardinality declares how many concurrent values an attribute holds per
// entity.
type Cardinality int

const (
	CardinalityOne Cardinality = iota + 1
	CardinalityMany
)

func (c Cardinality) String() string {
	switch c {
	case CardinalityOne:
		return "one"
	case CardinalityMany:
		return "many"
	}
	return fmt.Sprintf("Cardinality(%d)", int(c))
}

// Unique declares the uniqueness constraint on an attribute's values.
//
// UniqueValue rejects a second entity asserting an already-held value.
// UniqueIdentity additionally makes the attribute usable in lookup refs and
// enables tempid upsert onto the existing entity.
type Unique int

const (
	UniqueNone Unique = iota
	UniqueValue
	UniqueIdentity
)

func (u Unique) String() string {
	switch u {
	case UniqueNone:
		return "none"
	case UniqueValue:
		return "value"
	case UniqueIdentity:
		return "identity"
	}
	return fmt.Sprintf("Unique(%d)", int(u))
}

// Attribute is one schema-governed dimension of facts.
type Attribute struct {
	ID          datom.EntityID
	Ident       datom.Keyword
	Type        datom.ValueType
	Cardinality Cardinality
	Unique      Unique
	Indexed     bool
	Doc         string
}

// SchemaError reports an invalid or unknown attribute definition.
type SchemaError struct {
	Ident   datom.Keyword
	Message string
}

func (e *SchemaError) Error() string {
	if e.Ident != "" {
		return fmt.Sprintf("schema: %s: %s", e.Ident, e.Message)
	}
	return "schema: " + e.Message
}

func schemaErrorf(ident datom.Keyword, format string, args ...any) *SchemaError {
	return &SchemaError{Ident: ident, Message: fmt.Sprintf(format, args...)}
}

// ValidateDefinition checks an attribute definition for internal
// consistency. Called when a registry is built and before any schema
// transaction commits.
func ValidateDefinition(a Attribute) error {
	if a.Ident == "" {
		return schemaErrorf("", "attribute %d has no db/ident", a.ID)
	}
	if _, err := datom.ParseKeyword(string(a.Ident)); err != nil {
		return schemaErrorf(a.Ident, "invalid ident: %v", err)
	}
	if a.Type < datom.TypeRef || a.Type > datom.TypeBytes {
		return schemaErrorf(a.Ident, "unknown value type")
	}
	if a.Cardinality != CardinalityOne && a.Cardinality != CardinalityMany {
		return schemaErrorf(a.Ident, "cardinality must be one or many")
	}
	if a.Unique != UniqueNone && a.Cardinality != CardinalityOne {
		return schemaErrorf(a.Ident, "unique attributes must be cardinality one")
	}
	if a.Unique != UniqueNone && a.Type == datom.TypeBytes {
		return schemaErrorf(a.Ident, "bytes values cannot be unique")
	}
	return nil
}
