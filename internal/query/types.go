package query

import (
	"github.com/roach88/datalite/internal/datom"
)

// Variable is a query variable, conventionally written "?name".
type Variable string

// Shape declares the result structure a find-spec requests.
type Shape int

const (
	// ShapeScalar returns the single value of a single-element find-spec
	// for the first result row.
	ShapeScalar Shape = iota + 1
	// ShapeTuple returns the first result row as one tuple.
	ShapeTuple
	// ShapeColl returns a flat collection of a single element across all
	// rows.
	ShapeColl
	// ShapeRel returns the full relation: one tuple per row.
	ShapeRel
)

func (s Shape) String() string {
	switch s {
	case ShapeScalar:
		return "scalar"
	case ShapeTuple:
		return "tuple"
	case ShapeColl:
		return "coll"
	case ShapeRel:
		return "rel"
	}
	return "unknown"
}

// AggFn enumerates the supported aggregates.
type AggFn string

const (
	AggCount    AggFn = "count"
	AggSum      AggFn = "sum"
	AggMin      AggFn = "min"
	AggMax      AggFn = "max"
	AggDistinct AggFn = "distinct"
)

// FindElem is one element of a find-spec.
//
// Sealed: only FindVar and FindAgg implement it.
type FindElem interface {
	findElem()
}

// FindVar requests a variable's value.
type FindVar struct {
	Var Variable
}

// FindAgg requests an aggregate over a variable.
type FindAgg struct {
	Fn  AggFn
	Var Variable
}

func (FindVar) findElem() {}
func (FindAgg) findElem() {}

// Find is the find-spec: the requested shape and elements.
type Find struct {
	Shape Shape
	Elems []FindElem
}

// Term is one position of a pattern clause.
//
// Sealed: Var (bound variable), Blank (wildcard), EID (entity literal),
// AttrIdent (attribute literal) and Lit (value literal) implement it. Which
// constants are legal depends on the position: EID in entity position,
// AttrIdent in attribute position, Lit in value position.
type Term interface {
	term()
}

// Var binds a position to a variable.
type Var Variable

// Blank matches anything and binds nothing.
type Blank struct{}

// EID is an entity-id literal (entity position, or value position of a
// ref-typed attribute via Lit{Ref}).
type EID datom.EntityID

// AttrIdent is an attribute literal named by ident.
type AttrIdent datom.Keyword

// Lit is a value literal.
type Lit struct {
	V datom.Value
}

func (Var) term()       {}
func (Blank) term()     {}
func (EID) term()       {}
func (AttrIdent) term() {}
func (Lit) term()       {}

// Clause is one where-clause.
//
// Sealed: Pattern, Pred and Not implement it.
type Clause interface {
	clause()
}

// Pattern constrains [e a v] triples against the current state of the log.
type Pattern struct {
	E Term
	A Term
	V Term
}

// PredOp enumerates predicate comparison operators.
type PredOp string

const (
	OpEq PredOp = "="
	OpNe PredOp = "!="
	OpLt PredOp = "<"
	OpLe PredOp = "<="
	OpGt PredOp = ">"
	OpGe PredOp = ">="
)

// Pred narrows a bound variable by comparison with a constant. Predicates
// the storage engine can express are pushed into the plan; the rest are
// applied to the raw stream.
type Pred struct {
	Op    PredOp
	Var   Variable
	Value datom.Value
}

// Not excludes rows for which all of its patterns hold. Variables shared
// with the outer clauses unify against each candidate row; variables that
// appear only inside the negation range freely within it and are invisible
// outside. At least one variable must be shared, and only pattern clauses
// may appear inside.
type Not struct {
	Clauses []Clause
}

func (Pattern) clause() {}
func (Pred) clause()    {}
func (Not) clause()     {}

// OrderSpec orders results by a find variable.
type OrderSpec struct {
	Var  Variable
	Desc bool
}

// Query is a complete declarative query.
type Query struct {
	Find  Find
	Where []Clause
	Order []OrderSpec

	// Limit caps the number of result rows; 0 means no limit.
	Limit int
}
