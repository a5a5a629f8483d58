package schema

import (
	"sort"

	"github.com/roach88/datalite/internal/datom"
)

// Registry holds the attribute definitions currently in force.
//
// A Registry is immutable once built. The root database replaces its
// registry snapshot after any transaction that touches schema attributes,
// by folding the updated log. Readers of a snapshot never observe a
// half-applied schema change.
type Registry struct {
	byIdent map[datom.Keyword]Attribute
	byID    map[datom.EntityID]Attribute
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byIdent: make(map[datom.Keyword]Attribute),
		byID:    make(map[datom.EntityID]Attribute),
	}
}

func (r *Registry) add(a Attribute) {
	r.byIdent[a.Ident] = a
	r.byID[a.ID] = a
}

// ByIdent looks up an attribute by its ident.
func (r *Registry) ByIdent(kw datom.Keyword) (Attribute, bool) {
	a, ok := r.byIdent[kw]
	return a, ok
}

// ByID looks up an attribute by its entity id.
func (r *Registry) ByID(id datom.EntityID) (Attribute, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// Attributes returns all attributes ordered by entity id.
func (r *Registry) Attributes() []Attribute {
	out := make([]Attribute, 0, len(r.byID))
	for _, a := range r.byID {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered attributes.
func (r *Registry) Len() int { return len(r.byID) }

// IsSchemaAttribute reports whether an attribute id participates in
// attribute definitions. A transaction asserting any of these is a schema
// transaction and triggers a registry rebuild.
func IsSchemaAttribute(id datom.EntityID) bool {
	switch id {
	case IdentID, ValueTypeID, CardinalityID, UniqueID, IndexID, DocID:
		return true
	}
	return false
}

// Build folds the current-state datoms of attribute entities into a
// registry. The input is every currently-asserted datom whose attribute is
// one of the schema attributes, in any order; Build is a pure function of
// that set.
//
// Every entity that carries a db/ident plus a db/valueType is treated as an
// attribute definition and must validate; an ident without a value type is
// assumed to be a named non-attribute entity and is skipped.
func Build(datoms []datom.Datom) (*Registry, error) {
	type partial struct {
		attr     Attribute
		hasIdent bool
		hasType  bool
	}
	partials := make(map[datom.EntityID]*partial)
	get := func(e datom.EntityID) *partial {
		p, ok := partials[e]
		if !ok {
			p = &partial{attr: Attribute{ID: e, Cardinality: CardinalityOne}}
			partials[e] = p
		}
		return p
	}

	for _, d := range datoms {
		if !d.Added {
			continue
		}
		switch d.A {
		case IdentID:
			kw, ok := d.V.(datom.KeywordValue)
			if !ok {
				return nil, schemaErrorf("", "entity %d: db/ident is not a keyword", d.E)
			}
			p := get(d.E)
			p.attr.Ident = datom.Keyword(kw)
			p.hasIdent = true
		case ValueTypeID:
			kw, ok := d.V.(datom.KeywordValue)
			if !ok {
				return nil, schemaErrorf("", "entity %d: db/valueType is not a keyword", d.E)
			}
			t, ok := ParseValueTypeKeyword(datom.Keyword(kw))
			if !ok {
				return nil, schemaErrorf("", "entity %d: unknown value type %s", d.E, kw)
			}
			p := get(d.E)
			p.attr.Type = t
			p.hasType = true
		case CardinalityID:
			kw, ok := d.V.(datom.KeywordValue)
			if !ok {
				return nil, schemaErrorf("", "entity %d: db/cardinality is not a keyword", d.E)
			}
			c, ok := ParseCardinalityKeyword(datom.Keyword(kw))
			if !ok {
				return nil, schemaErrorf("", "entity %d: unknown cardinality %s", d.E, kw)
			}
			get(d.E).attr.Cardinality = c
		case UniqueID:
			kw, ok := d.V.(datom.KeywordValue)
			if !ok {
				return nil, schemaErrorf("", "entity %d: db/unique is not a keyword", d.E)
			}
			u, ok := ParseUniqueKeyword(datom.Keyword(kw))
			if !ok {
				return nil, schemaErrorf("", "entity %d: unknown uniqueness %s", d.E, kw)
			}
			get(d.E).attr.Unique = u
		case IndexID:
			b, ok := d.V.(datom.Bool)
			if !ok {
				return nil, schemaErrorf("", "entity %d: db/index is not a boolean", d.E)
			}
			get(d.E).attr.Indexed = bool(b)
		case DocID:
			s, ok := d.V.(datom.String)
			if !ok {
				return nil, schemaErrorf("", "entity %d: db/doc is not a string", d.E)
			}
			get(d.E).attr.Doc = string(s)
		}
	}

	r := NewRegistry()
	for e, p := range partials {
		if !p.hasIdent && !p.hasType {
			continue
		}
		if p.hasIdent && !p.hasType {
			// Named entity, not an attribute definition.
			continue
		}
		if !p.hasIdent {
			return nil, schemaErrorf("", "entity %d: attribute definition has no db/ident", e)
		}
		if err := ValidateDefinition(p.attr); err != nil {
			return nil, err
		}
		if existing, dup := r.byIdent[p.attr.Ident]; dup {
			return nil, schemaErrorf(p.attr.Ident, "ident already bound to entity %d", existing.ID)
		}
		r.add(p.attr)
	}
	return r, nil
}
