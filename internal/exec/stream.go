// Package exec runs compiled plans and exposes the results as a lazy,
// synchronous pull stream.
//
// A Stream holds the underlying storage cursor open only while it is being
// consumed: Close releases it immediately, so a caller that stops early
// never executes the remainder of the plan. Streams are not restartable;
// recompile and re-run to start over.
package exec

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/datalite/internal/datom"
	"github.com/roach88/datalite/internal/query"
	"github.com/roach88/datalite/internal/querysql"
	"github.com/roach88/datalite/internal/store"
)

// RawCell is one position of a raw result tuple: either an opaque entity id
// or a tagged stored value not yet coerced to its declared type.
type RawCell struct {
	Entity bool
	ID     datom.EntityID

	VType datom.ValueType
	Raw   any
}

// Value decodes the cell using its stored type tag. Entity cells decode as
// refs. Used by post-filters and by the projector's dynamic columns.
func (c RawCell) Value() (datom.Value, error) {
	if c.Entity {
		return datom.Ref(c.ID), nil
	}
	return datom.DecodeValue(c.VType, c.Raw)
}

// Stream is a lazy sequence of raw tuples.
type Stream struct {
	rows   *sql.Rows
	plan   *querysql.Plan
	cur    []RawCell
	err    error
	closed bool
}

// Run starts executing a plan. The returned stream owns a storage cursor
// until Close or exhaustion.
func Run(ctx context.Context, st *store.Store, plan *querysql.Plan) (*Stream, error) {
	rows, err := st.Query(ctx, plan.SQL, plan.Params...)
	if err != nil {
		return nil, err
	}
	return &Stream{rows: rows, plan: plan}, nil
}

// Next advances to the next tuple that survives post-filtering. It returns
// false at exhaustion or on error; check Err afterwards.
func (s *Stream) Next() bool {
	if s.closed || s.err != nil {
		return false
	}
	for s.rows.Next() {
		tuple, err := s.scanTuple()
		if err != nil {
			s.err = err
			s.Close()
			return false
		}
		keep, err := s.postFilter(tuple)
		if err != nil {
			s.err = err
			s.Close()
			return false
		}
		if keep {
			s.cur = tuple
			return true
		}
	}
	if err := s.rows.Err(); err != nil {
		s.err = &store.StorageError{Op: "stream", Cause: err}
	}
	s.Close()
	return false
}

// Tuple returns the current tuple. Valid until the next call to Next.
func (s *Stream) Tuple() []RawCell { return s.cur }

// Err returns the first error the stream hit, if any.
func (s *Stream) Err() error { return s.err }

// Close releases the underlying cursor immediately. Safe to call more than
// once and after exhaustion.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.rows.Close(); err != nil {
		return &store.StorageError{Op: "stream close", Cause: err}
	}
	return nil
}

func (s *Stream) scanTuple() ([]RawCell, error) {
	targets := make([]any, 0, len(s.plan.Cols)*2)
	ids := make([]int64, len(s.plan.Cols))
	vtypes := make([]int64, len(s.plan.Cols))
	raws := make([]any, len(s.plan.Cols))

	for i, col := range s.plan.Cols {
		if col.Type.Entity {
			targets = append(targets, &ids[i])
		} else {
			targets = append(targets, &vtypes[i], &raws[i])
		}
	}
	if err := s.rows.Scan(targets...); err != nil {
		return nil, &store.StorageError{Op: "stream scan", Cause: err}
	}

	tuple := make([]RawCell, len(s.plan.Cols))
	for i, col := range s.plan.Cols {
		if col.Type.Entity {
			tuple[i] = RawCell{Entity: true, ID: datom.EntityID(ids[i])}
		} else {
			tuple[i] = RawCell{VType: datom.ValueType(vtypes[i]), Raw: raws[i]}
		}
	}
	return tuple, nil
}

func (s *Stream) postFilter(tuple []RawCell) (bool, error) {
	for _, f := range s.plan.Post {
		if f.Col < 0 || f.Col >= len(tuple) {
			return false, fmt.Errorf("exec: post-filter column %d out of range", f.Col)
		}
		v, err := tuple[f.Col].Value()
		if err != nil {
			return false, err
		}
		if !evalPred(f.Op, v, f.Value) {
			return false, nil
		}
	}
	return true, nil
}

// evalPred compares a decoded stream value against a predicate constant.
// Long and double compare numerically under every operator, so the numeric
// orderings and equality agree; any other cross-type comparison is false
// under equality and the orderings, true under inequality.
func evalPred(op query.PredOp, v, c datom.Value) bool {
	switch op {
	case query.OpEq:
		return valuesEqual(v, c)
	case query.OpNe:
		return !valuesEqual(v, c)
	}

	var cv int
	switch {
	case v.Type() == c.Type():
		cv = datom.Compare(v, c)
	case isNumeric(v) && isNumeric(c):
		av, bv := asFloat(v), asFloat(c)
		switch {
		case av < bv:
			cv = -1
		case av > bv:
			cv = 1
		}
	default:
		return false
	}

	switch op {
	case query.OpLt:
		return cv < 0
	case query.OpLe:
		return cv <= 0
	case query.OpGt:
		return cv > 0
	case query.OpGe:
		return cv >= 0
	}
	return false
}

func valuesEqual(v, c datom.Value) bool {
	if datom.Equal(v, c) {
		return true
	}
	if v.Type() != c.Type() && isNumeric(v) && isNumeric(c) {
		return asFloat(v) == asFloat(c)
	}
	return false
}

func isNumeric(v datom.Value) bool {
	t := v.Type()
	return t == datom.TypeLong || t == datom.TypeDouble
}

func asFloat(v datom.Value) float64 {
	switch n := v.(type) {
	case datom.Long:
		return float64(n)
	case datom.Double:
		return float64(n)
	}
	return 0
}
