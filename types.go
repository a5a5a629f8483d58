package datalite

import (
	"time"

	"github.com/roach88/datalite/internal/datom"
	"github.com/roach88/datalite/internal/project"
	"github.com/roach88/datalite/internal/query"
	"github.com/roach88/datalite/internal/schema"
	"github.com/roach88/datalite/internal/store"
	"github.com/roach88/datalite/internal/transact"
)

// Core fact model.
type (
	EntityID = datom.EntityID
	TxID     = datom.TxID
	Keyword  = datom.Keyword
	Datom    = datom.Datom

	Value        = datom.Value
	Ref          = datom.Ref
	String       = datom.String
	KeywordValue = datom.KeywordValue
	Bool         = datom.Bool
	Long         = datom.Long
	Double       = datom.Double
	Instant      = datom.Instant
	UUID         = datom.UUID
	Bytes        = datom.Bytes
)

// NewString creates an NFC-normalized string value.
func NewString(s string) String { return datom.NewString(s) }

// NewInstant creates a millisecond-precision UTC instant value.
func NewInstant(t time.Time) Instant { return datom.NewInstant(t) }

// ParseKeyword validates and normalizes a "ns/name" keyword.
func ParseKeyword(s string) (Keyword, error) { return datom.ParseKeyword(s) }

// MustKeyword is ParseKeyword that panics on invalid input.
func MustKeyword(s string) Keyword { return datom.MustKeyword(s) }

// Transaction pipeline.
type (
	Op        = transact.Op
	Assert    = transact.Assert
	Retract   = transact.Retract
	EntityRef = transact.EntityRef
	ID        = transact.ID
	TempID    = transact.TempID
	LookupRef = transact.LookupRef
	TxReport  = transact.Report

	// Tx is one exported log transaction.
	Tx = store.Tx
)

// Schema.
type (
	Attribute = schema.Attribute
	Registry  = schema.Registry
)

// Query structure.
type (
	Query     = query.Query
	Find      = query.Find
	FindElem  = query.FindElem
	FindVar   = query.FindVar
	FindAgg   = query.FindAgg
	Clause    = query.Clause
	Pattern   = query.Pattern
	Pred      = query.Pred
	Not       = query.Not
	Term      = query.Term
	Var       = query.Var
	Blank     = query.Blank
	EID       = query.EID
	AttrIdent = query.AttrIdent
	Lit       = query.Lit
	Variable  = query.Variable
	OrderSpec = query.OrderSpec
)

// Find shapes.
const (
	ShapeScalar = query.ShapeScalar
	ShapeTuple  = query.ShapeTuple
	ShapeColl   = query.ShapeColl
	ShapeRel    = query.ShapeRel
)

// Aggregates.
const (
	AggCount    = query.AggCount
	AggSum      = query.AggSum
	AggMin      = query.AggMin
	AggMax      = query.AggMax
	AggDistinct = query.AggDistinct
)

// Predicate operators.
const (
	OpEq = query.OpEq
	OpNe = query.OpNe
	OpLt = query.OpLt
	OpLe = query.OpLe
	OpGt = query.OpGt
	OpGe = query.OpGe
)

// Results.
type (
	Result = project.Result
	Scalar = project.Scalar
	Tuple  = project.Tuple
	Coll   = project.Coll
	Rel    = project.Rel
)
