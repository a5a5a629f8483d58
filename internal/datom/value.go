package datom

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// EntityID identifies an entity. Positive ids are permanent and allocated by
// the store; negative ids never appear in committed datoms (tempids are
// resolved before materialization).
type EntityID int64

// TxID identifies a transaction. TxIDs are allocated by the store and are
// strictly monotonically increasing per store.
type TxID int64

// ValueType enumerates the declared value types an attribute may carry.
type ValueType int

const (
	TypeRef ValueType = iota + 1
	TypeString
	TypeKeyword
	TypeBool
	TypeLong
	TypeDouble
	TypeInstant
	TypeUUID
	TypeBytes
)

var valueTypeNames = map[ValueType]string{
	TypeRef:     "ref",
	TypeString:  "string",
	TypeKeyword: "keyword",
	TypeBool:    "boolean",
	TypeLong:    "long",
	TypeDouble:  "double",
	TypeInstant: "instant",
	TypeUUID:    "uuid",
	TypeBytes:   "bytes",
}

func (t ValueType) String() string {
	if name, ok := valueTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ValueType(%d)", int(t))
}

// ParseValueType converts the schema-document spelling of a value type.
func ParseValueType(s string) (ValueType, error) {
	for t, name := range valueTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown value type %q", s)
}

// Value is a sealed interface over the nine storable value variants.
//
// Only the types in this package implement it. The marker method pattern
// prevents external implementations and enables exhaustive type switches in
// the transactor, the query compiler, and the projector.
type Value interface {
	valueNode() // Marker method - seals interface to this package

	// Type returns the declared value type this variant corresponds to.
	Type() ValueType
}

// Ref is a reference to another entity.
type Ref EntityID

// String is a Unicode string, NFC normalized via NewString.
type String string

// KeywordValue is a symbolic keyword stored as a value (not an attribute
// identity, though the underlying representation is shared).
type KeywordValue Keyword

// Bool is a boolean value.
type Bool bool

// Long is a 64-bit signed integer value.
type Long int64

// Double is a 64-bit float value.
type Double float64

// Instant is a point in time, millisecond precision, UTC.
type Instant time.Time

// UUID is an RFC 4122 UUID value.
type UUID uuid.UUID

// Bytes is an opaque byte-blob value.
type Bytes []byte

func (Ref) valueNode()          {}
func (String) valueNode()       {}
func (KeywordValue) valueNode() {}
func (Bool) valueNode()         {}
func (Long) valueNode()         {}
func (Double) valueNode()       {}
func (Instant) valueNode()      {}
func (UUID) valueNode()         {}
func (Bytes) valueNode()        {}

func (Ref) Type() ValueType          { return TypeRef }
func (String) Type() ValueType       { return TypeString }
func (KeywordValue) Type() ValueType { return TypeKeyword }
func (Bool) Type() ValueType         { return TypeBool }
func (Long) Type() ValueType         { return TypeLong }
func (Double) Type() ValueType       { return TypeDouble }
func (Instant) Type() ValueType      { return TypeInstant }
func (UUID) Type() ValueType         { return TypeUUID }
func (Bytes) Type() ValueType        { return TypeBytes }

// NewString creates a String value with NFC normalization applied.
// All strings MUST enter the store through this constructor so that
// uniqueness comparisons are canonical.
func NewString(s string) String {
	return String(norm.NFC.String(s))
}

// NewInstant creates an Instant truncated to millisecond precision in UTC.
func NewInstant(t time.Time) Instant {
	return Instant(t.UTC().Truncate(time.Millisecond))
}

// Time returns the instant as a time.Time in UTC.
func (v Instant) Time() time.Time { return time.Time(v).UTC() }

// SQLParam returns the storage encoding of a value for use as a SQL
// parameter. The storage column is dynamically typed; the vtype column
// disambiguates on read.
//
// Encodings:
//   - ref        → int64 entity id
//   - string     → TEXT (NFC normalized)
//   - keyword    → TEXT
//   - boolean    → int64 0/1
//   - long       → int64
//   - double     → float64
//   - instant    → int64 epoch milliseconds
//   - uuid       → TEXT canonical lowercase form
//   - bytes      → BLOB
func SQLParam(v Value) any {
	switch val := v.(type) {
	case Ref:
		return int64(val)
	case String:
		return string(val)
	case KeywordValue:
		return string(val)
	case Bool:
		if val {
			return int64(1)
		}
		return int64(0)
	case Long:
		return int64(val)
	case Double:
		return float64(val)
	case Instant:
		return time.Time(val).UnixMilli()
	case UUID:
		return uuid.UUID(val).String()
	case Bytes:
		return []byte(val)
	default:
		panic(fmt.Sprintf("unreachable: sealed Value variant %T", v))
	}
}

// DecodeValue reconstructs a Value from a scanned storage column.
// The raw argument is whatever database/sql produced for the value column
// (int64, float64, string or []byte depending on the stored affinity).
//
// A stored representation that does not fit the declared type is a
// DataIntegrityError: the log is corrupt or was written by incompatible
// code. It is never silently coerced.
func DecodeValue(t ValueType, raw any) (Value, error) {
	switch t {
	case TypeRef:
		n, ok := rawInt(raw)
		if !ok {
			return nil, integrityf(t, raw)
		}
		return Ref(n), nil
	case TypeString:
		s, ok := rawString(raw)
		if !ok {
			return nil, integrityf(t, raw)
		}
		return String(s), nil
	case TypeKeyword:
		s, ok := rawString(raw)
		if !ok {
			return nil, integrityf(t, raw)
		}
		kw, err := ParseKeyword(s)
		if err != nil {
			return nil, &DataIntegrityError{Type: t, Raw: raw, Cause: err}
		}
		return KeywordValue(kw), nil
	case TypeBool:
		n, ok := rawInt(raw)
		if !ok || (n != 0 && n != 1) {
			return nil, integrityf(t, raw)
		}
		return Bool(n == 1), nil
	case TypeLong:
		n, ok := rawInt(raw)
		if !ok {
			return nil, integrityf(t, raw)
		}
		return Long(n), nil
	case TypeDouble:
		switch f := raw.(type) {
		case float64:
			return Double(f), nil
		case int64:
			// SQLite stores a whole double with integer affinity.
			return Double(float64(f)), nil
		}
		return nil, integrityf(t, raw)
	case TypeInstant:
		n, ok := rawInt(raw)
		if !ok {
			return nil, integrityf(t, raw)
		}
		return Instant(time.UnixMilli(n).UTC()), nil
	case TypeUUID:
		s, ok := rawString(raw)
		if !ok {
			return nil, integrityf(t, raw)
		}
		u, err := uuid.Parse(s)
		if err != nil {
			return nil, &DataIntegrityError{Type: t, Raw: raw, Cause: err}
		}
		return UUID(u), nil
	case TypeBytes:
		b, ok := raw.([]byte)
		if !ok {
			return nil, integrityf(t, raw)
		}
		return Bytes(bytes.Clone(b)), nil
	default:
		return nil, integrityf(t, raw)
	}
}

func rawInt(raw any) (int64, bool) {
	n, ok := raw.(int64)
	return n, ok
}

func rawString(raw any) (string, bool) {
	switch s := raw.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	return "", false
}

func integrityf(t ValueType, raw any) *DataIntegrityError {
	return &DataIntegrityError{Type: t, Raw: raw}
}

// Equal reports whether two values are the same variant with the same
// content.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Type() != b.Type() {
		return false
	}
	if ab, ok := a.(Bytes); ok {
		return bytes.Equal(ab, b.(Bytes))
	}
	if ai, ok := a.(Instant); ok {
		return time.Time(ai).Equal(time.Time(b.(Instant)))
	}
	return a == b
}

// Compare orders two values: first by type tag, then by content.
// Used only for deterministic report ordering, not for semantics.
func Compare(a, b Value) int {
	if c := int(a.Type()) - int(b.Type()); c != 0 {
		return c
	}
	switch av := a.(type) {
	case Ref:
		return cmpInt64(int64(av), int64(b.(Ref)))
	case String:
		return cmpString(string(av), string(b.(String)))
	case KeywordValue:
		return cmpString(string(av), string(b.(KeywordValue)))
	case Bool:
		return cmpInt64(boolInt(bool(av)), boolInt(bool(b.(Bool))))
	case Long:
		return cmpInt64(int64(av), int64(b.(Long)))
	case Double:
		bf := float64(b.(Double))
		switch {
		case float64(av) < bf:
			return -1
		case float64(av) > bf:
			return 1
		}
		return 0
	case Instant:
		return cmpInt64(time.Time(av).UnixMilli(), time.Time(b.(Instant)).UnixMilli())
	case UUID:
		return cmpString(uuid.UUID(av).String(), uuid.UUID(b.(UUID)).String())
	case Bytes:
		return bytes.Compare(av, b.(Bytes))
	}
	return 0
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Format renders a value for error messages and reports.
func Format(v Value) string {
	switch val := v.(type) {
	case Ref:
		return fmt.Sprintf("#ref %d", int64(val))
	case String:
		return fmt.Sprintf("%q", string(val))
	case KeywordValue:
		return ":" + string(val)
	case Bool:
		return fmt.Sprintf("%t", bool(val))
	case Long:
		return fmt.Sprintf("%d", int64(val))
	case Double:
		return fmt.Sprintf("%g", float64(val))
	case Instant:
		return time.Time(val).UTC().Format(time.RFC3339Nano)
	case UUID:
		return uuid.UUID(val).String()
	case Bytes:
		return fmt.Sprintf("#bytes(%d)", len(val))
	default:
		return fmt.Sprintf("%v", v)
	}
}
