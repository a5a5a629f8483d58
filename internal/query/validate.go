package query

import (
	"github.com/roach88/datalite/internal/datom"
	"github.com/roach88/datalite/internal/schema"
)

// VarType is the inferred type of a query variable.
//
// Three states: entity-id (the variable ranges over entities or attributes),
// a known declared value type, or dynamic (value position of a pattern whose
// attribute is itself variable or wildcard - the stored type tag
// disambiguates at projection time).
type VarType struct {
	Entity bool
	Known  bool
	Type   datom.ValueType
}

// Dynamic reports whether nothing is known about the variable's type.
func (t VarType) Dynamic() bool { return !t.Entity && !t.Known }

// Analysis is the outcome of validation: every bound variable with its
// inferred type. The compiler and the projector both consume it.
type Analysis struct {
	Types map[Variable]VarType
}

// Validate checks a query against a registry snapshot and infers variable
// types. It performs no storage access; a query rejected here has touched
// nothing.
func Validate(q Query, reg *schema.Registry) (*Analysis, error) {
	if err := validateFind(q.Find); err != nil {
		return nil, err
	}
	if len(q.Where) == 0 {
		return nil, errorf(ErrCodeMalformedFind, "", "query has no where-clauses")
	}

	an := &Analysis{Types: make(map[Variable]VarType)}

	for _, c := range q.Where {
		p, ok := c.(Pattern)
		if !ok {
			continue
		}
		if err := an.addPattern(p, reg); err != nil {
			return nil, err
		}
	}

	// Negations type-check in the same environment, but their private
	// variables stay invisible to the rest of the query.
	outer := make(map[Variable]bool, len(an.Types))
	for v := range an.Types {
		outer[v] = true
	}
	innerOnly := make(map[Variable]bool)
	for _, c := range q.Where {
		n, ok := c.(Not)
		if !ok {
			continue
		}
		if len(n.Clauses) == 0 {
			return nil, errorf(ErrCodeMalformedClause, "", "negation has no clauses")
		}
		shares := false
		for _, nc := range n.Clauses {
			p, ok := nc.(Pattern)
			if !ok {
				return nil, errorf(ErrCodeMalformedClause, "", "negation holds %T, only patterns may appear inside", nc)
			}
			if err := an.addPattern(p, reg); err != nil {
				return nil, err
			}
			for _, v := range patternVars(p) {
				if outer[v] {
					shares = true
				} else {
					innerOnly[v] = true
				}
			}
		}
		if !shares {
			return nil, errorf(ErrCodeUnboundVariable, "", "negation shares no variable with the positive clauses")
		}
	}

	// Predicates apply to variables some pattern binds.
	for _, c := range q.Where {
		pred, ok := c.(Pred)
		if !ok {
			continue
		}
		if _, bound := an.Types[pred.Var]; !bound || innerOnly[pred.Var] {
			return nil, errorf(ErrCodeUnboundVariable, pred.Var, "predicate variable is not bound by any positive pattern")
		}
		if pred.Value == nil {
			return nil, errorf(ErrCodeMalformedClause, pred.Var, "predicate has no constant")
		}
	}

	for _, elem := range q.Find.Elems {
		v := findElemVar(elem)
		if _, bound := an.Types[v]; !bound || innerOnly[v] {
			return nil, errorf(ErrCodeUnboundVariable, v, "find variable is not bound by any positive pattern")
		}
	}
	if err := validateAggregates(q.Find, an); err != nil {
		return nil, err
	}

	for _, o := range q.Order {
		if !findHasVar(q.Find, o.Var) {
			return nil, errorf(ErrCodeUnboundVariable, o.Var, "order variable is not part of the find-spec")
		}
	}
	if q.Limit < 0 {
		return nil, errorf(ErrCodeMalformedFind, "", "negative limit")
	}

	return an, nil
}

func validateFind(f Find) error {
	if len(f.Elems) == 0 {
		return errorf(ErrCodeMalformedFind, "", "find-spec is empty")
	}
	switch f.Shape {
	case ShapeScalar, ShapeColl:
		if len(f.Elems) != 1 {
			return errorf(ErrCodeMalformedFind, "", "%s find-spec requires exactly one element, got %d", f.Shape, len(f.Elems))
		}
	case ShapeTuple, ShapeRel:
	default:
		return errorf(ErrCodeMalformedFind, "", "unknown result shape")
	}
	return nil
}

func validateAggregates(f Find, an *Analysis) error {
	plain := make(map[Variable]bool)
	agged := make(map[Variable]bool)

	for _, elem := range f.Elems {
		switch e := elem.(type) {
		case FindVar:
			plain[e.Var] = true
		case FindAgg:
			agged[e.Var] = true
			switch e.Fn {
			case AggCount:
			case AggSum:
				t := an.Types[e.Var]
				if t.Entity || (t.Known && t.Type != datom.TypeLong && t.Type != datom.TypeDouble) {
					return errorf(ErrCodeAggregateMisuse, e.Var, "sum requires a numeric variable")
				}
			case AggMin, AggMax:
				if t := an.Types[e.Var]; t.Known && t.Type == datom.TypeBytes {
					return errorf(ErrCodeAggregateMisuse, e.Var, "%s is not defined over bytes values", e.Fn)
				}
			case AggDistinct:
				if f.Shape != ShapeColl {
					return errorf(ErrCodeAggregateMisuse, e.Var, "distinct requires a coll find-spec")
				}
			default:
				return errorf(ErrCodeAggregateMisuse, e.Var, "unknown aggregate %q", e.Fn)
			}
		}
	}

	// A variable may not be both grouped on and aggregated over.
	for v := range agged {
		if plain[v] {
			return errorf(ErrCodeAggregateMisuse, v, "variable is both aggregated and non-aggregated")
		}
	}
	return nil
}

func findElemVar(e FindElem) Variable {
	switch el := e.(type) {
	case FindVar:
		return el.Var
	case FindAgg:
		return el.Var
	}
	return ""
}

func patternVars(p Pattern) []Variable {
	var vs []Variable
	for _, t := range []Term{p.E, p.A, p.V} {
		if v, ok := t.(Var); ok {
			vs = append(vs, Variable(v))
		}
	}
	return vs
}

func findHasVar(f Find, v Variable) bool {
	for _, elem := range f.Elems {
		if findElemVar(elem) == v {
			return true
		}
	}
	return false
}

// addPattern checks one pattern's terms against their positions, resolves
// its attribute, and folds the implied variable types into the analysis.
func (an *Analysis) addPattern(p Pattern, reg *schema.Registry) error {
	// Entity position: variable, wildcard or entity literal.
	switch e := p.E.(type) {
	case Var:
		if err := an.merge(Variable(e), VarType{Entity: true}); err != nil {
			return err
		}
	case Blank, EID:
	default:
		return errorf(ErrCodeMalformedClause, "", "entity position holds %T", p.E)
	}

	// Attribute position: variable, wildcard or attribute ident.
	var attr schema.Attribute
	attrKnown := false
	switch a := p.A.(type) {
	case Var:
		if err := an.merge(Variable(a), VarType{Entity: true}); err != nil {
			return err
		}
	case Blank:
	case AttrIdent:
		found, ok := reg.ByIdent(datom.Keyword(a))
		if !ok {
			return errorf(ErrCodeUnknownAttribute, "", "unknown attribute %s", a)
		}
		attr = found
		attrKnown = true
	default:
		return errorf(ErrCodeMalformedClause, "", "attribute position holds %T", p.A)
	}

	// Value position: variable, wildcard or value literal.
	switch v := p.V.(type) {
	case Var:
		vt := VarType{}
		if attrKnown {
			if attr.Type == datom.TypeRef {
				vt = VarType{Entity: true}
			} else {
				vt = VarType{Known: true, Type: attr.Type}
			}
		}
		if err := an.merge(Variable(v), vt); err != nil {
			return err
		}
	case Blank:
	case Lit:
		if v.V == nil {
			return errorf(ErrCodeMalformedClause, "", "value literal is nil")
		}
		if attrKnown && v.V.Type() != attr.Type {
			return errorf(ErrCodeMalformedClause, "",
				"literal %s does not match %s type of attribute %s", datom.Format(v.V), attr.Type, attr.Ident)
		}
	default:
		return errorf(ErrCodeMalformedClause, "", "value position holds %T", p.V)
	}

	return nil
}

// merge folds a new inference into a variable's type. Dynamic yields to any
// information; entity and a declared non-ref type conflict; two different
// declared types conflict.
func (an *Analysis) merge(v Variable, vt VarType) error {
	cur, seen := an.Types[v]
	if !seen || cur.Dynamic() {
		an.Types[v] = vt
		return nil
	}
	if vt.Dynamic() {
		return nil
	}
	if cur.Entity && vt.Entity {
		return nil
	}
	if cur.Entity != vt.Entity {
		return errorf(ErrCodeVariableTypeConflict, v,
			"variable is both an entity id and a %s value", nonEntityType(cur, vt))
	}
	if cur.Type != vt.Type {
		return errorf(ErrCodeVariableTypeConflict, v,
			"variable inferred as both %s and %s", cur.Type, vt.Type)
	}
	return nil
}

func nonEntityType(a, b VarType) datom.ValueType {
	if a.Entity {
		return b.Type
	}
	return a.Type
}
