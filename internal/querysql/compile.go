// Package querysql compiles validated queries into parameterized SQL plans
// over the datom indexes.
//
// Every pattern clause becomes one scan of the current_datoms view; shared
// variables become equi-join conditions; literals and pushable predicates
// become WHERE conditions; negations become correlated NOT EXISTS
// subqueries. Values are always parameterized, never interpolated, and
// every plan carries a complete ORDER BY so the same log always yields the
// same row sequence.
package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/datalite/internal/datom"
	"github.com/roach88/datalite/internal/query"
	"github.com/roach88/datalite/internal/schema"
)

// Column describes one output column of a plan.
//
// Entity-typed columns select a single integer id; value-typed and dynamic
// columns select a (vtype, v) pair so the raw stream can always be decoded
// without consulting the schema.
type Column struct {
	Var  query.Variable
	Type query.VarType
}

// PostFilter is a predicate the storage engine could not express; the
// executor applies it to the raw stream.
type PostFilter struct {
	Col   int
	Op    query.PredOp
	Value datom.Value
}

// Plan is an executable compilation of one query.
type Plan struct {
	SQL    string
	Params []any
	Cols   []Column
	Post   []PostFilter

	// OrderApplied and LimitApplied report whether the caller's order and
	// limit are already folded into the SQL; otherwise the projector
	// enforces them after aggregation and post-filtering.
	OrderApplied bool
	LimitApplied bool
}

// Compiler turns validated queries into plans against a registry snapshot.
type Compiler struct {
	reg *schema.Registry
}

// NewCompiler creates a Compiler.
func NewCompiler(reg *schema.Registry) *Compiler {
	return &Compiler{reg: reg}
}

// binding records where a variable first became available.
type binding struct {
	entity    bool
	entityCol string // e.g. "d0.e" when entity
	vtypeCol  string // e.g. "d1.vtype" when value
	valueCol  string // e.g. "d1.v" when value
}

// Compile produces a plan for a query that already passed query.Validate.
// The analysis argument is the validation outcome for the same query.
func (c *Compiler) Compile(q query.Query, an *query.Analysis) (*Plan, error) {
	var patterns []query.Pattern
	var preds []query.Pred
	var nots []query.Not
	for _, cl := range q.Where {
		switch clause := cl.(type) {
		case query.Pattern:
			patterns = append(patterns, clause)
		case query.Pred:
			preds = append(preds, clause)
		case query.Not:
			nots = append(nots, clause)
		default:
			return nil, fmt.Errorf("querysql: unsupported clause type %T", cl)
		}
	}
	if len(patterns) == 0 {
		return nil, &query.Error{Code: query.ErrCodeMalformedFind, Message: "query has no pattern clauses"}
	}

	ordered := orderPatterns(patterns)

	bindings := make(map[query.Variable]binding)
	var conds []string
	var params []any

	for i, p := range ordered {
		alias := fmt.Sprintf("d%d", i)
		pc, pp, err := c.compilePattern(alias, p, bindings)
		if err != nil {
			return nil, err
		}
		conds = append(conds, pc...)
		params = append(params, pp...)
	}

	notAlias := 0
	for _, n := range nots {
		cond, pp, err := c.compileNot(&notAlias, n, bindings)
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
		params = append(params, pp...)
	}

	cols := outputColumns(q, an)

	post := []PostFilter{}
	for _, pred := range preds {
		cond, pp, pushed := compilePredicate(pred, bindings, an)
		if pushed {
			conds = append(conds, cond)
			params = append(params, pp...)
			continue
		}
		idx := columnIndex(cols, pred.Var)
		if idx < 0 {
			// Predicate variable outside the output set: select it as an
			// extra column so the executor can filter on it.
			cols = append(cols, Column{Var: pred.Var, Type: an.Types[pred.Var]})
			idx = len(cols) - 1
		}
		post = append(post, PostFilter{Col: idx, Op: pred.Op, Value: pred.Value})
	}

	selectList, err := compileSelect(cols, bindings)
	if err != nil {
		return nil, err
	}

	fromList := make([]string, len(ordered))
	for i := range ordered {
		fromList[i] = fmt.Sprintf("current_datoms d%d", i)
	}

	hasAggregates := false
	for _, el := range q.Find.Elems {
		if _, ok := el.(query.FindAgg); ok {
			hasAggregates = true
		}
	}

	orderApplied := len(q.Order) == 0 || !hasAggregates
	orderBy, err := compileOrderBy(q, cols, bindings, orderApplied && len(q.Order) > 0)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(selectList)
	b.WriteString("\nFROM ")
	b.WriteString(strings.Join(fromList, ", "))
	if len(conds) > 0 {
		b.WriteString("\nWHERE ")
		b.WriteString(strings.Join(conds, "\n  AND "))
	}
	b.WriteString("\nORDER BY ")
	b.WriteString(orderBy)

	limitApplied := false
	if q.Limit > 0 && !hasAggregates && len(post) == 0 {
		b.WriteString(fmt.Sprintf("\nLIMIT %d", q.Limit))
		limitApplied = true
	}

	return &Plan{
		SQL:          b.String(),
		Params:       params,
		Cols:         cols,
		Post:         post,
		OrderApplied: orderApplied,
		LimitApplied: limitApplied || q.Limit == 0,
	}, nil
}

// orderPatterns chooses the join order: clauses with more bound positions
// first (literals, then variables bound by already-chosen clauses), ties
// broken by original clause index so plans are reproducible.
func orderPatterns(patterns []query.Pattern) []query.Pattern {
	remaining := make([]int, len(patterns))
	for i := range patterns {
		remaining[i] = i
	}
	bound := make(map[query.Variable]bool)

	score := func(p query.Pattern) int {
		n := 0
		for _, t := range []query.Term{p.E, p.A, p.V} {
			switch term := t.(type) {
			case query.EID, query.AttrIdent, query.Lit:
				n++
			case query.Var:
				if bound[query.Variable(term)] {
					n++
				}
			}
		}
		return n
	}

	out := make([]query.Pattern, 0, len(patterns))
	for len(remaining) > 0 {
		bestPos := 0
		bestScore := -1
		for pos, idx := range remaining {
			if s := score(patterns[idx]); s > bestScore {
				bestScore = s
				bestPos = pos
			}
		}
		chosen := patterns[remaining[bestPos]]
		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
		out = append(out, chosen)
		for _, t := range []query.Term{chosen.E, chosen.A, chosen.V} {
			if v, ok := t.(query.Var); ok {
				bound[query.Variable(v)] = true
			}
		}
	}
	return out
}

// compilePattern emits the conditions of one pattern scan and registers
// first-site bindings for its variables.
func (c *Compiler) compilePattern(alias string, p query.Pattern, bindings map[query.Variable]binding) ([]string, []any, error) {
	var conds []string
	var params []any

	// Entity position.
	switch e := p.E.(type) {
	case query.EID:
		conds = append(conds, alias+".e = ?")
		params = append(params, int64(e))
	case query.Var:
		v := query.Variable(e)
		if prev, ok := bindings[v]; ok {
			cond, pp := joinToEntityColumn(alias+".e", prev)
			conds = append(conds, cond...)
			params = append(params, pp...)
		} else {
			bindings[v] = binding{entity: true, entityCol: alias + ".e"}
		}
	case query.Blank:
	}

	// Attribute position.
	var attr schema.Attribute
	attrKnown := false
	switch a := p.A.(type) {
	case query.AttrIdent:
		found, ok := c.reg.ByIdent(datom.Keyword(a))
		if !ok {
			return nil, nil, &query.Error{Code: query.ErrCodeUnknownAttribute, Message: fmt.Sprintf("unknown attribute %s", a)}
		}
		attr = found
		attrKnown = true
		conds = append(conds, alias+".a = ?")
		params = append(params, int64(attr.ID))
	case query.Var:
		v := query.Variable(a)
		if prev, ok := bindings[v]; ok {
			cond, pp := joinToEntityColumn(alias+".a", prev)
			conds = append(conds, cond...)
			params = append(params, pp...)
		} else {
			bindings[v] = binding{entity: true, entityCol: alias + ".a"}
		}
	case query.Blank:
	}

	// Value position.
	switch val := p.V.(type) {
	case query.Lit:
		conds = append(conds, alias+".vtype = ?", alias+".v = ?")
		params = append(params, int64(val.V.Type()), datom.SQLParam(val.V))
	case query.Var:
		v := query.Variable(val)
		if prev, ok := bindings[v]; ok {
			if prev.entity {
				// Entity id flowing into a value position: the stored
				// value must be a ref.
				conds = append(conds,
					alias+".vtype = ?",
					alias+".v = "+prev.entityCol)
				params = append(params, int64(datom.TypeRef))
			} else {
				conds = append(conds,
					alias+".vtype = "+prev.vtypeCol,
					alias+".v = "+prev.valueCol)
			}
		} else {
			if attrKnown && attr.Type == datom.TypeRef {
				bindings[v] = binding{entity: true, entityCol: alias + ".v"}
				conds = append(conds, alias+".vtype = ?")
				params = append(params, int64(datom.TypeRef))
			} else {
				bindings[v] = binding{vtypeCol: alias + ".vtype", valueCol: alias + ".v"}
			}
		}
	case query.Blank:
	}

	return conds, params, nil
}

// compileNot renders one negation as an anti-join: a correlated NOT EXISTS
// subquery over its patterns. Inner scans compile against a copy of the
// outer bindings, so shared variables correlate with the outer columns and
// variables private to the negation bind only inside it.
func (c *Compiler) compileNot(alias *int, n query.Not, outer map[query.Variable]binding) (string, []any, error) {
	inner := make(map[query.Variable]binding, len(outer))
	for v, b := range outer {
		inner[v] = b
	}

	var scans []string
	var conds []string
	var params []any
	for _, cl := range n.Clauses {
		p, ok := cl.(query.Pattern)
		if !ok {
			return "", nil, fmt.Errorf("querysql: unsupported clause type %T inside negation", cl)
		}
		a := fmt.Sprintf("n%d", *alias)
		*alias++
		scans = append(scans, "current_datoms "+a)
		pc, pp, err := c.compilePattern(a, p, inner)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, pc...)
		params = append(params, pp...)
	}

	var b strings.Builder
	b.WriteString("NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(strings.Join(scans, ", "))
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(")")
	return b.String(), params, nil
}

// joinToEntityColumn equates an integer id column with a variable's first
// binding site.
func joinToEntityColumn(col string, prev binding) ([]string, []any) {
	if prev.entity {
		return []string{col + " = " + prev.entityCol}, nil
	}
	// Value-site binding joined into an id position: only ref values apply.
	return []string{
		prev.vtypeCol + " = ?",
		col + " = " + prev.valueCol,
	}, []any{int64(datom.TypeRef)}
}

// compilePredicate pushes a predicate into SQL when the binding and
// constant allow; otherwise it reports pushed=false and the predicate stays
// on the raw stream.
func compilePredicate(pred query.Pred, bindings map[query.Variable]binding, an *query.Analysis) (string, []any, bool) {
	b, ok := bindings[pred.Var]
	if !ok {
		return "", nil, false
	}
	op := sqlOp(pred.Op)

	if b.entity {
		ref, isRef := pred.Value.(datom.Ref)
		if !isRef {
			return "", nil, false
		}
		return fmt.Sprintf("%s %s ?", b.entityCol, op), []any{int64(ref)}, true
	}

	t := an.Types[pred.Var]
	if !t.Known || t.Type != pred.Value.Type() {
		// Dynamic variables and cross-type comparisons are deferred to
		// post-filtering.
		return "", nil, false
	}
	cond := fmt.Sprintf("(%s = ? AND %s %s ?)", b.vtypeCol, b.valueCol, op)
	return cond, []any{int64(pred.Value.Type()), datom.SQLParam(pred.Value)}, true
}

func sqlOp(op query.PredOp) string {
	if op == query.OpNe {
		return "<>"
	}
	return string(op)
}

// outputColumns lists the selected variables: find-spec elements first (in
// find order, deduplicated), then order variables not already present.
func outputColumns(q query.Query, an *query.Analysis) []Column {
	var cols []Column
	add := func(v query.Variable) {
		if columnIndex(cols, v) < 0 {
			cols = append(cols, Column{Var: v, Type: an.Types[v]})
		}
	}
	for _, el := range q.Find.Elems {
		switch e := el.(type) {
		case query.FindVar:
			add(e.Var)
		case query.FindAgg:
			add(e.Var)
		}
	}
	for _, o := range q.Order {
		add(o.Var)
	}
	return cols
}

func columnIndex(cols []Column, v query.Variable) int {
	for i, c := range cols {
		if c.Var == v {
			return i
		}
	}
	return -1
}

func compileSelect(cols []Column, bindings map[query.Variable]binding) (string, error) {
	parts := make([]string, 0, len(cols)*2)
	for _, col := range cols {
		b, ok := bindings[col.Var]
		if !ok {
			return "", &query.Error{Code: query.ErrCodeUnboundVariable, Var: col.Var,
				Message: "variable is not bound by any pattern"}
		}
		if b.entity {
			parts = append(parts, b.entityCol)
		} else {
			parts = append(parts, b.vtypeCol, b.valueCol)
		}
	}
	return strings.Join(parts, ", "), nil
}

// compileOrderBy renders the mandatory deterministic ordering: the caller's
// explicit order first when it applies in SQL, then every selected column
// ascending as tiebreaker.
func compileOrderBy(q query.Query, cols []Column, bindings map[query.Variable]binding, includeUserOrder bool) (string, error) {
	var keys []string
	seen := make(map[string]bool)
	appendKey := func(col, dir string) {
		if !seen[col] {
			seen[col] = true
			keys = append(keys, col+dir)
		}
	}
	columnsOf := func(v query.Variable) []string {
		b := bindings[v]
		if b.entity {
			return []string{b.entityCol}
		}
		return []string{b.vtypeCol, b.valueCol}
	}

	if includeUserOrder {
		for _, o := range q.Order {
			if _, ok := bindings[o.Var]; !ok {
				return "", &query.Error{Code: query.ErrCodeUnboundVariable, Var: o.Var,
					Message: "order variable is not bound by any pattern"}
			}
			dir := " ASC"
			if o.Desc {
				dir = " DESC"
			}
			for _, k := range columnsOf(o.Var) {
				appendKey(k, dir)
			}
		}
	}
	for _, col := range cols {
		for _, k := range columnsOf(col.Var) {
			appendKey(k, " ASC")
		}
	}
	return strings.Join(keys, ", "), nil
}
