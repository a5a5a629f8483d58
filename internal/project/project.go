// Package project coerces raw result tuples into the caller's requested
// shape.
//
// Each output column is coerced to the value type its attribute declares;
// entity-id columns pass through as refs. A stored value that fails its
// declared type is a DataIntegrityError, never a silent coercion.
// Aggregation (count, sum, min, max, distinct) happens here, after
// post-filtering, grouping on the non-aggregated find variables.
package project

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/datalite/internal/datom"
	"github.com/roach88/datalite/internal/exec"
	"github.com/roach88/datalite/internal/query"
	"github.com/roach88/datalite/internal/querysql"
)

// Result is the structured outcome of a query.
//
// Sealed: Scalar, Tuple, Coll and Rel implement it, one per find shape.
type Result interface {
	result()
}

// Scalar is a single value; Found is false when the query matched nothing.
type Scalar struct {
	V     datom.Value
	Found bool
}

// Tuple is the first matching row; Found is false when the query matched
// nothing.
type Tuple struct {
	Vs    []datom.Value
	Found bool
}

// Coll is a flat collection of one element across all rows.
type Coll struct {
	Vs []datom.Value
}

// Rel is the full relation.
type Rel struct {
	Rows [][]datom.Value
}

func (Scalar) result() {}
func (Tuple) result()  {}
func (Coll) result()   {}
func (Rel) result()    {}

// ShapeMismatchError reports a raw tuple whose arity differs from the plan.
// Defensive: cannot occur when compiler and executor agree.
type ShapeMismatchError struct {
	Want int
	Got  int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("project: tuple arity %d does not match plan arity %d", e.Got, e.Want)
}

// Project consumes a stream and produces the shape the find-spec requests.
// The stream is always closed on return, including early returns: a scalar
// or tuple query without aggregates stops after the first row.
func Project(stream *exec.Stream, q query.Query, plan *querysql.Plan) (Result, error) {
	defer stream.Close()

	hasAggregates := false
	for _, el := range q.Find.Elems {
		if _, ok := el.(query.FindAgg); ok {
			hasAggregates = true
		}
	}

	colIdx := make([]int, len(q.Find.Elems))
	for i, el := range q.Find.Elems {
		var v query.Variable
		switch e := el.(type) {
		case query.FindVar:
			v = e.Var
		case query.FindAgg:
			v = e.Var
		}
		idx := columnIndex(plan.Cols, v)
		if idx < 0 {
			return nil, &ShapeMismatchError{Want: len(plan.Cols), Got: -1}
		}
		colIdx[i] = idx
	}

	rows, err := collect(stream, q, plan, colIdx, hasAggregates)
	if err != nil {
		return nil, err
	}

	if !plan.OrderApplied {
		orderRows(rows, q)
	}
	if !plan.LimitApplied && q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}

	switch q.Find.Shape {
	case query.ShapeScalar:
		if len(rows) == 0 {
			return Scalar{}, nil
		}
		return Scalar{V: rows[0][0], Found: true}, nil
	case query.ShapeTuple:
		if len(rows) == 0 {
			return Tuple{}, nil
		}
		return Tuple{Vs: rows[0], Found: true}, nil
	case query.ShapeColl:
		// distinct's collected set is the coll itself.
		if agg, ok := q.Find.Elems[0].(query.FindAgg); ok && agg.Fn == query.AggDistinct {
			if len(rows) == 0 {
				return Coll{Vs: []datom.Value{}}, nil
			}
			return Coll{Vs: rows[0]}, nil
		}
		vs := make([]datom.Value, 0, len(rows))
		for _, r := range rows {
			vs = append(vs, r[0])
		}
		return Coll{Vs: vs}, nil
	default:
		return Rel{Rows: rows}, nil
	}
}

func columnIndex(cols []querysql.Column, v query.Variable) int {
	for i, c := range cols {
		if c.Var == v {
			return i
		}
	}
	return -1
}

// coerce turns one raw cell into the typed value its column declares.
func coerce(cell exec.RawCell, col querysql.Column) (datom.Value, error) {
	if col.Type.Entity {
		if !cell.Entity {
			return nil, &datom.DataIntegrityError{Type: datom.TypeRef, Raw: cell.Raw}
		}
		return datom.Ref(cell.ID), nil
	}
	if col.Type.Known && cell.VType != col.Type.Type {
		return nil, &datom.DataIntegrityError{Type: col.Type.Type, Raw: cell.Raw,
			Cause: fmt.Errorf("stored type tag is %s", cell.VType)}
	}
	return cell.Value()
}

// collect drains as much of the stream as the query requires and returns
// fully coerced output rows, aggregated when the find-spec asks for it.
func collect(stream *exec.Stream, q query.Query, plan *querysql.Plan, colIdx []int, hasAggregates bool) ([][]datom.Value, error) {
	// Without aggregates a scalar or tuple consumer needs one surviving
	// row; stopping early releases the storage cursor right away.
	firstOnly := !hasAggregates &&
		(q.Find.Shape == query.ShapeScalar || q.Find.Shape == query.ShapeTuple) &&
		plan.OrderApplied && len(plan.Post) == 0

	if !hasAggregates {
		var rows [][]datom.Value
		for stream.Next() {
			tuple := stream.Tuple()
			if len(tuple) != len(plan.Cols) {
				return nil, &ShapeMismatchError{Want: len(plan.Cols), Got: len(tuple)}
			}
			row := make([]datom.Value, len(colIdx))
			for i, idx := range colIdx {
				v, err := coerce(tuple[idx], plan.Cols[idx])
				if err != nil {
					return nil, err
				}
				row[i] = v
			}
			rows = append(rows, row)
			if firstOnly {
				break
			}
		}
		if err := stream.Err(); err != nil {
			return nil, err
		}
		return rows, nil
	}

	return aggregate(stream, q, plan, colIdx)
}

// group accumulates one grouping key's aggregates.
type group struct {
	plain  []datom.Value
	accums []*accum
}

type accum struct {
	count int64

	sumLong   int64
	sumFloat  float64
	sawDouble bool

	extremum datom.Value
	extEnt   datom.EntityID

	distinct     []datom.Value
	distinctSeen map[string]bool
}

func aggregate(stream *exec.Stream, q query.Query, plan *querysql.Plan, colIdx []int) ([][]datom.Value, error) {
	groups := make(map[string]*group)
	var order []string

	// Leftmost entity column of the full tuple supplies the min/max
	// tie-break id.
	entCol := -1
	for i, c := range plan.Cols {
		if c.Type.Entity {
			entCol = i
			break
		}
	}

	var plainElems, aggElems []int
	for i, el := range q.Find.Elems {
		if _, ok := el.(query.FindAgg); ok {
			aggElems = append(aggElems, i)
		} else {
			plainElems = append(plainElems, i)
		}
	}

	for stream.Next() {
		tuple := stream.Tuple()
		if len(tuple) != len(plan.Cols) {
			return nil, &ShapeMismatchError{Want: len(plan.Cols), Got: len(tuple)}
		}

		row := make([]datom.Value, len(colIdx))
		for i, idx := range colIdx {
			v, err := coerce(tuple[idx], plan.Cols[idx])
			if err != nil {
				return nil, err
			}
			row[i] = v
		}

		var rowEnt datom.EntityID = -1
		if entCol >= 0 && tuple[entCol].Entity {
			rowEnt = tuple[entCol].ID
		}

		key := groupKey(row, plainElems)
		g, ok := groups[key]
		if !ok {
			g = &group{accums: make([]*accum, len(q.Find.Elems))}
			for _, i := range plainElems {
				g.plain = append(g.plain, row[i])
			}
			for _, i := range aggElems {
				g.accums[i] = &accum{extEnt: -1, distinctSeen: make(map[string]bool)}
			}
			groups[key] = g
			order = append(order, key)
		}

		for _, i := range aggElems {
			fn := q.Find.Elems[i].(query.FindAgg).Fn
			g.accums[i].fold(fn, row[i], rowEnt)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}

	rows := make([][]datom.Value, 0, len(order))
	for _, key := range order {
		g := groups[key]
		row := make([]datom.Value, 0, len(q.Find.Elems))
		plainAt := 0
		for i, el := range q.Find.Elems {
			if agg, ok := el.(query.FindAgg); ok {
				vs := g.accums[i].finish(agg.Fn)
				if agg.Fn == query.AggDistinct {
					// A distinct coll group is its whole row.
					row = append(row, vs...)
				} else {
					row = append(row, vs[0])
				}
			} else {
				row = append(row, g.plain[plainAt])
				plainAt++
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func groupKey(row []datom.Value, plainElems []int) string {
	if len(plainElems) == 0 {
		return ""
	}
	parts := make([]string, len(plainElems))
	for i, idx := range plainElems {
		v := row[idx]
		parts[i] = fmt.Sprintf("%d|%v", v.Type(), datom.SQLParam(v))
	}
	return strings.Join(parts, "\x00")
}

// fold absorbs one row's value into the accumulator.
//
// min/max tie-break: when a candidate compares equal to the current
// extremum, the value from the row with the smallest entity id wins; rows
// without an entity column keep the earliest value in plan order.
func (a *accum) fold(fn query.AggFn, v datom.Value, ent datom.EntityID) {
	a.count++
	switch fn {
	case query.AggSum:
		switch n := v.(type) {
		case datom.Long:
			a.sumLong += int64(n)
			a.sumFloat += float64(n)
		case datom.Double:
			a.sawDouble = true
			a.sumFloat += float64(n)
		}
	case query.AggMin, query.AggMax:
		if a.extremum == nil {
			a.extremum = v
			a.extEnt = ent
			return
		}
		c := datom.Compare(v, a.extremum)
		if fn == query.AggMax {
			c = -c
		}
		replace := c < 0
		if c == 0 && ent >= 0 && (a.extEnt < 0 || ent < a.extEnt) {
			replace = true
		}
		if replace {
			a.extremum = v
			a.extEnt = ent
		}
	case query.AggDistinct:
		key := fmt.Sprintf("%d|%v", v.Type(), datom.SQLParam(v))
		if !a.distinctSeen[key] {
			a.distinctSeen[key] = true
			a.distinct = append(a.distinct, v)
		}
	}
}

func (a *accum) finish(fn query.AggFn) []datom.Value {
	switch fn {
	case query.AggCount:
		return []datom.Value{datom.Long(a.count)}
	case query.AggSum:
		if a.sawDouble {
			return []datom.Value{datom.Double(a.sumFloat)}
		}
		return []datom.Value{datom.Long(a.sumLong)}
	case query.AggMin, query.AggMax:
		if a.extremum == nil {
			return []datom.Value{nil}
		}
		return []datom.Value{a.extremum}
	case query.AggDistinct:
		vs := a.distinct
		sort.SliceStable(vs, func(i, j int) bool { return datom.Compare(vs[i], vs[j]) < 0 })
		return vs
	}
	return []datom.Value{nil}
}

// orderRows applies the caller's ordering when it was not folded into SQL
// (aggregate queries order their groups here).
func orderRows(rows [][]datom.Value, q query.Query) {
	if len(q.Order) == 0 {
		return
	}
	pos := make([]int, 0, len(q.Order))
	desc := make([]bool, 0, len(q.Order))
	for _, o := range q.Order {
		for i, el := range q.Find.Elems {
			var v query.Variable
			switch e := el.(type) {
			case query.FindVar:
				v = e.Var
			case query.FindAgg:
				v = e.Var
			}
			if v == o.Var {
				pos = append(pos, i)
				desc = append(desc, o.Desc)
				break
			}
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for k, p := range pos {
			c := datom.Compare(rows[i][p], rows[j][p])
			if desc[k] {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
}
