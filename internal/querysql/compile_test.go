package querysql

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/datalite/internal/datom"
	"github.com/roach88/datalite/internal/query"
	"github.com/roach88/datalite/internal/schema"
)

// testRegistry folds a small person schema: name (string), age (long),
// friend (ref, many).
func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	kwv := func(s string) datom.KeywordValue { return datom.KeywordValue(datom.MustKeyword(s)) }
	def := func(e datom.EntityID, ident, vtype, card string) []datom.Datom {
		return []datom.Datom{
			{E: e, A: schema.IdentID, V: kwv(ident), Added: true},
			{E: e, A: schema.ValueTypeID, V: kwv(vtype), Added: true},
			{E: e, A: schema.CardinalityID, V: kwv(card), Added: true},
		}
	}
	var ds []datom.Datom
	ds = append(ds, def(256, "person/name", "db.type/string", "db.cardinality/one")...)
	ds = append(ds, def(257, "person/age", "db.type/long", "db.cardinality/one")...)
	ds = append(ds, def(258, "person/friend", "db.type/ref", "db.cardinality/many")...)
	reg, err := schema.Build(ds)
	require.NoError(t, err)
	return reg
}

func compile(t *testing.T, reg *schema.Registry, q query.Query) *Plan {
	t.Helper()
	an, err := query.Validate(q, reg)
	require.NoError(t, err)
	plan, err := NewCompiler(reg).Compile(q, an)
	require.NoError(t, err)
	return plan
}

// renderPlan is the golden snapshot format: the SQL text followed by the
// plan metadata, one line each.
func renderPlan(p *Plan) []byte {
	var b strings.Builder
	b.WriteString(p.SQL)
	b.WriteString("\n--\n")
	fmt.Fprintf(&b, "params: %v\n", p.Params)
	for _, c := range p.Cols {
		fmt.Fprintf(&b, "col: %s %s\n", c.Var, varTypeName(c.Type))
	}
	for _, f := range p.Post {
		fmt.Fprintf(&b, "post: col=%d %s %s\n", f.Col, f.Op, datom.Format(f.Value))
	}
	fmt.Fprintf(&b, "order_applied: %t\n", p.OrderApplied)
	fmt.Fprintf(&b, "limit_applied: %t\n", p.LimitApplied)
	return []byte(b.String())
}

func varTypeName(t query.VarType) string {
	switch {
	case t.Entity:
		return "entity"
	case t.Known:
		return t.Type.String()
	}
	return "dynamic"
}

func assertGolden(t *testing.T, name string, plan *Plan) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, renderPlan(plan))
}

func TestCompile_SingleAttributeScan(t *testing.T) {
	reg := testRegistry(t)
	plan := compile(t, reg, query.Query{
		Find: query.Find{Shape: query.ShapeRel, Elems: []query.FindElem{
			query.FindVar{Var: "e"}, query.FindVar{Var: "name"},
		}},
		Where: []query.Clause{
			query.Pattern{E: query.Var("e"), A: query.AttrIdent("person/name"), V: query.Var("name")},
		},
	})
	assertGolden(t, "scan_single_attribute", plan)
}

func TestCompile_JoinOnSharedEntity(t *testing.T) {
	reg := testRegistry(t)
	plan := compile(t, reg, query.Query{
		Find: query.Find{Shape: query.ShapeRel, Elems: []query.FindElem{
			query.FindVar{Var: "name"},
		}},
		Where: []query.Clause{
			query.Pattern{E: query.Var("e"), A: query.AttrIdent("person/name"), V: query.Var("name")},
			query.Pattern{E: query.Var("e"), A: query.AttrIdent("person/age"), V: query.Lit{V: datom.Long(30)}},
		},
	})
	assertGolden(t, "join_on_shared_entity", plan)
}

func TestCompile_PredicatePushdown(t *testing.T) {
	reg := testRegistry(t)
	plan := compile(t, reg, query.Query{
		Find: query.Find{Shape: query.ShapeRel, Elems: []query.FindElem{
			query.FindVar{Var: "e"}, query.FindVar{Var: "age"},
		}},
		Where: []query.Clause{
			query.Pattern{E: query.Var("e"), A: query.AttrIdent("person/age"), V: query.Var("age")},
			query.Pred{Var: "age", Op: query.OpGt, Value: datom.Long(21)},
		},
		Order: []query.OrderSpec{{Var: "age", Desc: true}},
		Limit: 10,
	})
	require.Empty(t, plan.Post, "same-type predicate is pushed into SQL")
	assertGolden(t, "predicate_pushdown", plan)
}

func TestCompile_RefTraversal(t *testing.T) {
	reg := testRegistry(t)
	plan := compile(t, reg, query.Query{
		Find: query.Find{Shape: query.ShapeRel, Elems: []query.FindElem{
			query.FindVar{Var: "fname"},
		}},
		Where: []query.Clause{
			query.Pattern{E: query.Var("e"), A: query.AttrIdent("person/name"), V: query.Lit{V: datom.NewString("alice")}},
			query.Pattern{E: query.Var("e"), A: query.AttrIdent("person/friend"), V: query.Var("f")},
			query.Pattern{E: query.Var("f"), A: query.AttrIdent("person/name"), V: query.Var("fname")},
		},
	})
	assertGolden(t, "ref_traversal", plan)
}

func TestCompile_NegationAntiJoin(t *testing.T) {
	reg := testRegistry(t)
	plan := compile(t, reg, query.Query{
		Find: query.Find{Shape: query.ShapeColl, Elems: []query.FindElem{
			query.FindVar{Var: "name"},
		}},
		Where: []query.Clause{
			query.Pattern{E: query.Var("e"), A: query.AttrIdent("person/name"), V: query.Var("name")},
			query.Not{Clauses: []query.Clause{
				query.Pattern{E: query.Var("e"), A: query.AttrIdent("person/friend"), V: query.Blank{}},
			}},
		},
	})
	assertGolden(t, "negation_anti_join", plan)
}

// Variables private to a negation bind inside its subquery; shared ones
// correlate with the outer scan.
func TestCompile_NegationInnerVariableScopes(t *testing.T) {
	reg := testRegistry(t)
	plan := compile(t, reg, query.Query{
		Find: query.Find{Shape: query.ShapeColl, Elems: []query.FindElem{
			query.FindVar{Var: "name"},
		}},
		Where: []query.Clause{
			query.Pattern{E: query.Var("e"), A: query.AttrIdent("person/name"), V: query.Var("name")},
			query.Not{Clauses: []query.Clause{
				query.Pattern{E: query.Var("e"), A: query.AttrIdent("person/friend"), V: query.Var("f")},
				query.Pattern{E: query.Var("f"), A: query.AttrIdent("person/age"), V: query.Lit{V: datom.Long(30)}},
			}},
		},
	})
	assert.Contains(t, plan.SQL, "current_datoms n0, current_datoms n1")
	assert.Contains(t, plan.SQL, "n0.e = d0.e")
	assert.Contains(t, plan.SQL, "n1.e = n0.v")
	assert.Equal(t, []any{int64(256), int64(258), int64(datom.TypeRef), int64(257), int64(datom.TypeLong), int64(30)}, plan.Params)
}

func TestCompile_Deterministic(t *testing.T) {
	reg := testRegistry(t)
	q := query.Query{
		Find: query.Find{Shape: query.ShapeRel, Elems: []query.FindElem{
			query.FindVar{Var: "e"},
		}},
		Where: []query.Clause{
			query.Pattern{E: query.Var("e"), A: query.AttrIdent("person/name"), V: query.Var("n")},
			query.Pattern{E: query.Var("e"), A: query.AttrIdent("person/age"), V: query.Var("a")},
		},
	}
	a := compile(t, reg, q)
	b := compile(t, reg, q)
	assert.Equal(t, a, b)
}

// Two patterns with equal boundness keep their written order.
func TestCompile_TieBreakPreservesClauseOrder(t *testing.T) {
	reg := testRegistry(t)
	plan := compile(t, reg, query.Query{
		Find: query.Find{Shape: query.ShapeRel, Elems: []query.FindElem{
			query.FindVar{Var: "n"},
		}},
		Where: []query.Clause{
			query.Pattern{E: query.Var("e"), A: query.AttrIdent("person/name"), V: query.Var("n")},
			query.Pattern{E: query.Var("e"), A: query.AttrIdent("person/age"), V: query.Var("a")},
		},
	})
	// d0 must be the name pattern: its attribute id appears first.
	assert.Equal(t, []any{int64(256), int64(257)}, plan.Params)
}

func TestCompile_DynamicPredicateFallsBackToPostFilter(t *testing.T) {
	reg := testRegistry(t)
	plan := compile(t, reg, query.Query{
		Find: query.Find{Shape: query.ShapeRel, Elems: []query.FindElem{
			query.FindVar{Var: "e"},
		}},
		Where: []query.Clause{
			query.Pattern{E: query.Var("e"), A: query.Var("a"), V: query.Var("v")},
			query.Pred{Var: "v", Op: query.OpGt, Value: datom.Long(5)},
		},
	})
	require.Len(t, plan.Post, 1)
	// The predicate variable was not in the find-spec; it rides along as an
	// extra output column.
	require.Len(t, plan.Cols, 2)
	assert.Equal(t, query.Variable("v"), plan.Cols[1].Var)
	assert.Equal(t, 1, plan.Post[0].Col)
}

func TestCompile_LimitNotPushedWithPostFilters(t *testing.T) {
	reg := testRegistry(t)
	plan := compile(t, reg, query.Query{
		Find: query.Find{Shape: query.ShapeRel, Elems: []query.FindElem{
			query.FindVar{Var: "e"},
		}},
		Where: []query.Clause{
			query.Pattern{E: query.Var("e"), A: query.Var("a"), V: query.Var("v")},
			query.Pred{Var: "v", Op: query.OpGt, Value: datom.Long(5)},
		},
		Limit: 3,
	})
	assert.False(t, plan.LimitApplied)
	assert.NotContains(t, plan.SQL, "LIMIT")
}

func TestCompile_AggregateDefersOrderAndLimit(t *testing.T) {
	reg := testRegistry(t)
	plan := compile(t, reg, query.Query{
		Find: query.Find{Shape: query.ShapeRel, Elems: []query.FindElem{
			query.FindVar{Var: "name"}, query.FindAgg{Fn: query.AggCount, Var: "e"},
		}},
		Where: []query.Clause{
			query.Pattern{E: query.Var("e"), A: query.AttrIdent("person/name"), V: query.Var("name")},
		},
		Order: []query.OrderSpec{{Var: "name"}},
		Limit: 5,
	})
	assert.False(t, plan.OrderApplied)
	assert.False(t, plan.LimitApplied)
	assert.NotContains(t, plan.SQL, "LIMIT")
}

func TestCompile_ParameterizedValuesOnly(t *testing.T) {
	reg := testRegistry(t)
	plan := compile(t, reg, query.Query{
		Find: query.Find{Shape: query.ShapeRel, Elems: []query.FindElem{
			query.FindVar{Var: "e"},
		}},
		Where: []query.Clause{
			query.Pattern{E: query.Var("e"), A: query.AttrIdent("person/name"), V: query.Lit{V: datom.NewString("alice'; DROP TABLE datoms; --")}},
		},
	})
	assert.NotContains(t, plan.SQL, "DROP TABLE")
	assert.Contains(t, plan.Params, "alice'; DROP TABLE datoms; --")
}
