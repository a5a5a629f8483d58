package schema

import "github.com/roach88/datalite/internal/datom"

// System attribute entity ids. Fixed for every store; user entities are
// allocated from FirstUserEntityID upward so the two ranges never collide.
const (
	IdentID       datom.EntityID = 1 // db/ident
	ValueTypeID   datom.EntityID = 2 // db/valueType
	CardinalityID datom.EntityID = 3 // db/cardinality
	UniqueID      datom.EntityID = 4 // db/unique
	IndexID       datom.EntityID = 5 // db/index
	DocID         datom.EntityID = 6 // db/doc
	TxInstantID   datom.EntityID = 7 // db/txInstant

	// FirstUserEntityID is the first id the allocator hands out.
	FirstUserEntityID datom.EntityID = 0x100

	// FirstTxID is the first transaction id. Transaction ids occupy their
	// own partition above every allocatable entity id, so the transaction
	// entity carrying db/txInstant never collides with a regular entity.
	FirstTxID datom.TxID = 1 << 40
)

// System idents.
var (
	IdentKw       = datom.MustKeyword("db/ident")
	ValueTypeKw   = datom.MustKeyword("db/valueType")
	CardinalityKw = datom.MustKeyword("db/cardinality")
	UniqueKw      = datom.MustKeyword("db/unique")
	IndexKw       = datom.MustKeyword("db/index")
	DocKw         = datom.MustKeyword("db/doc")
	TxInstantKw   = datom.MustKeyword("db/txInstant")
)

// Keyword spellings for schema component values.
var (
	cardinalityKws = map[datom.Keyword]Cardinality{
		datom.MustKeyword("db.cardinality/one"):  CardinalityOne,
		datom.MustKeyword("db.cardinality/many"): CardinalityMany,
	}
	uniqueKws = map[datom.Keyword]Unique{
		datom.MustKeyword("db.unique/value"):    UniqueValue,
		datom.MustKeyword("db.unique/identity"): UniqueIdentity,
	}
	valueTypeKws = map[datom.Keyword]datom.ValueType{
		datom.MustKeyword("db.type/ref"):     datom.TypeRef,
		datom.MustKeyword("db.type/string"):  datom.TypeString,
		datom.MustKeyword("db.type/keyword"): datom.TypeKeyword,
		datom.MustKeyword("db.type/boolean"): datom.TypeBool,
		datom.MustKeyword("db.type/long"):    datom.TypeLong,
		datom.MustKeyword("db.type/double"):  datom.TypeDouble,
		datom.MustKeyword("db.type/instant"): datom.TypeInstant,
		datom.MustKeyword("db.type/uuid"):    datom.TypeUUID,
		datom.MustKeyword("db.type/bytes"):   datom.TypeBytes,
	}
)

// CardinalityKeyword returns the stored keyword spelling for a cardinality.
func CardinalityKeyword(c Cardinality) datom.Keyword {
	for kw, v := range cardinalityKws {
		if v == c {
			return kw
		}
	}
	return ""
}

// UniqueKeyword returns the stored keyword spelling for a uniqueness mode.
// Returns "" for UniqueNone, which is represented by absence.
func UniqueKeyword(u Unique) datom.Keyword {
	for kw, v := range uniqueKws {
		if v == u {
			return kw
		}
	}
	return ""
}

// ValueTypeKeyword returns the stored keyword spelling for a value type.
func ValueTypeKeyword(t datom.ValueType) datom.Keyword {
	for kw, v := range valueTypeKws {
		if v == t {
			return kw
		}
	}
	return ""
}

// ParseCardinalityKeyword resolves a stored cardinality keyword.
func ParseCardinalityKeyword(kw datom.Keyword) (Cardinality, bool) {
	c, ok := cardinalityKws[kw]
	return c, ok
}

// ParseUniqueKeyword resolves a stored uniqueness keyword.
func ParseUniqueKeyword(kw datom.Keyword) (Unique, bool) {
	u, ok := uniqueKws[kw]
	return u, ok
}

// ParseValueTypeKeyword resolves a stored value-type keyword.
func ParseValueTypeKeyword(kw datom.Keyword) (datom.ValueType, bool) {
	t, ok := valueTypeKws[kw]
	return t, ok
}

// BootstrapAttributes returns the system attribute definitions present in
// every store. Order is fixed; the root package turns these into the first
// transaction of a fresh store.
func BootstrapAttributes() []Attribute {
	return []Attribute{
		{ID: IdentID, Ident: IdentKw, Type: datom.TypeKeyword, Cardinality: CardinalityOne, Unique: UniqueIdentity, Indexed: true,
			Doc: "The unique ident of an attribute entity."},
		{ID: ValueTypeID, Ident: ValueTypeKw, Type: datom.TypeKeyword, Cardinality: CardinalityOne,
			Doc: "The declared value type of an attribute."},
		{ID: CardinalityID, Ident: CardinalityKw, Type: datom.TypeKeyword, Cardinality: CardinalityOne,
			Doc: "Whether an attribute holds one or many values per entity."},
		{ID: UniqueID, Ident: UniqueKw, Type: datom.TypeKeyword, Cardinality: CardinalityOne,
			Doc: "Uniqueness constraint: db.unique/value or db.unique/identity."},
		{ID: IndexID, Ident: IndexKw, Type: datom.TypeBool, Cardinality: CardinalityOne,
			Doc: "Whether the attribute's values are indexed."},
		{ID: DocID, Ident: DocKw, Type: datom.TypeString, Cardinality: CardinalityOne,
			Doc: "Documentation string for an attribute."},
		{ID: TxInstantID, Ident: TxInstantKw, Type: datom.TypeInstant, Cardinality: CardinalityOne, Indexed: true,
			Doc: "Wall-clock time at which a transaction committed."},
	}
}

// Bootstrap returns a registry holding only the system attributes.
// Used to validate the very first transaction of a fresh store.
func Bootstrap() *Registry {
	r := NewRegistry()
	for _, a := range BootstrapAttributes() {
		r.add(a)
	}
	return r
}
