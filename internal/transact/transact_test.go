package transact

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/datalite/internal/datom"
	"github.com/roach88/datalite/internal/schema"
	"github.com/roach88/datalite/internal/store"
	"github.com/roach88/datalite/internal/testutil"
)

// setupTransactor opens a fresh store, installs the system attributes
// through the pipeline and returns the working registry.
func setupTransactor(t *testing.T) (*store.Store, *Transactor, *schema.Registry) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	tr := New(s)
	tr.SetClock(testutil.NewClock().Now)

	var ops []Op
	for _, a := range schema.BootstrapAttributes() {
		ops = append(ops,
			Assert{E: ID(a.ID), A: schema.IdentKw, V: datom.KeywordValue(a.Ident)},
			Assert{E: ID(a.ID), A: schema.ValueTypeKw, V: datom.KeywordValue(schema.ValueTypeKeyword(a.Type))},
			Assert{E: ID(a.ID), A: schema.CardinalityKw, V: datom.KeywordValue(schema.CardinalityKeyword(a.Cardinality))},
		)
		if a.Unique != schema.UniqueNone {
			ops = append(ops, Assert{E: ID(a.ID), A: schema.UniqueKw, V: datom.KeywordValue(schema.UniqueKeyword(a.Unique))})
		}
	}
	_, err = tr.Transact(context.Background(), schema.Bootstrap(), ops)
	require.NoError(t, err)

	return s, tr, rebuildRegistry(t, s)
}

func rebuildRegistry(t *testing.T, s *store.Store) *schema.Registry {
	t.Helper()
	var ds []datom.Datom
	for _, a := range []datom.EntityID{schema.IdentID, schema.ValueTypeID, schema.CardinalityID, schema.UniqueID, schema.IndexID, schema.DocID} {
		scanned, err := s.ScanAttribute(context.Background(), a)
		require.NoError(t, err)
		ds = append(ds, scanned...)
	}
	reg, err := schema.Build(ds)
	require.NoError(t, err)
	return reg
}

// defineAttributes installs user attribute definitions and returns the
// updated registry.
func defineAttributes(t *testing.T, s *store.Store, tr *Transactor, reg *schema.Registry, defs []schema.Attribute) *schema.Registry {
	t.Helper()
	var ops []Op
	for i, def := range defs {
		tid := TempID(-(int64(i) + 1))
		ops = append(ops,
			Assert{E: tid, A: schema.IdentKw, V: datom.KeywordValue(def.Ident)},
			Assert{E: tid, A: schema.ValueTypeKw, V: datom.KeywordValue(schema.ValueTypeKeyword(def.Type))},
			Assert{E: tid, A: schema.CardinalityKw, V: datom.KeywordValue(schema.CardinalityKeyword(def.Cardinality))},
		)
		if def.Unique != schema.UniqueNone {
			ops = append(ops, Assert{E: tid, A: schema.UniqueKw, V: datom.KeywordValue(schema.UniqueKeyword(def.Unique))})
		}
	}
	_, err := tr.Transact(context.Background(), reg, ops)
	require.NoError(t, err)
	return rebuildRegistry(t, s)
}

func personSchema(t *testing.T, s *store.Store, tr *Transactor, reg *schema.Registry) *schema.Registry {
	t.Helper()
	return defineAttributes(t, s, tr, reg, []schema.Attribute{
		{Ident: datom.MustKeyword("person/name"), Type: datom.TypeString, Cardinality: schema.CardinalityOne},
		{Ident: datom.MustKeyword("person/email"), Type: datom.TypeString, Cardinality: schema.CardinalityOne, Unique: schema.UniqueIdentity},
		{Ident: datom.MustKeyword("person/age"), Type: datom.TypeLong, Cardinality: schema.CardinalityOne},
		{Ident: datom.MustKeyword("person/friend"), Type: datom.TypeRef, Cardinality: schema.CardinalityMany},
		{Ident: datom.MustKeyword("person/aliases"), Type: datom.TypeString, Cardinality: schema.CardinalityMany},
	})
}

func TestTransact_EmptyBatchRejected(t *testing.T) {
	_, tr, reg := setupTransactor(t)
	_, err := tr.Transact(context.Background(), reg, nil)
	assert.Error(t, err)
}

func TestTransact_UnknownAttribute(t *testing.T) {
	_, tr, reg := setupTransactor(t)
	_, err := tr.Transact(context.Background(), reg, []Op{
		Assert{E: TempID(-1), A: datom.MustKeyword("no/such"), V: datom.Long(1)},
	})
	var se *schema.SchemaError
	require.ErrorAs(t, err, &se)
}

func TestTransact_TempIDResolution(t *testing.T) {
	s, tr, reg := setupTransactor(t)
	reg = personSchema(t, s, tr, reg)

	// Two new entities referencing each other through tempids.
	report, err := tr.Transact(context.Background(), reg, []Op{
		Assert{E: TempID(-1), A: datom.MustKeyword("person/name"), V: datom.NewString("alice")},
		Assert{E: TempID(-2), A: datom.MustKeyword("person/name"), V: datom.NewString("bob")},
		Assert{E: TempID(-1), A: datom.MustKeyword("person/friend"), V: datom.Ref(-2)},
	})
	require.NoError(t, err)

	require.Len(t, report.TempIDs, 2)
	alice := report.TempIDs[TempID(-1)]
	bob := report.TempIDs[TempID(-2)]
	assert.NotEqual(t, alice, bob)
	assert.Equal(t, alice+1, bob, "first-occurrence order, contiguous range")

	friendAttr, _ := reg.ByIdent(datom.MustKeyword("person/friend"))
	var friendDatom *datom.Datom
	for i := range report.Datoms {
		if report.Datoms[i].A == friendAttr.ID {
			friendDatom = &report.Datoms[i]
		}
	}
	require.NotNil(t, friendDatom)
	assert.Equal(t, alice, friendDatom.E)
	assert.True(t, datom.Equal(datom.Ref(bob), friendDatom.V), "ref-position tempid resolves to the same entity")
}

func TestTransact_ReportIncludesTxInstant(t *testing.T) {
	s, tr, reg := setupTransactor(t)
	reg = personSchema(t, s, tr, reg)

	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tr.SetClock(testutil.NewClockAt(at).Now)

	report, err := tr.Transact(context.Background(), reg, []Op{
		Assert{E: TempID(-1), A: datom.MustKeyword("person/name"), V: datom.NewString("alice")},
	})
	require.NoError(t, err)

	var instant *datom.Datom
	for i := range report.Datoms {
		if report.Datoms[i].A == schema.TxInstantID {
			instant = &report.Datoms[i]
		}
	}
	require.NotNil(t, instant)
	assert.Equal(t, datom.EntityID(report.TxID), instant.E)
	assert.True(t, datom.Equal(datom.NewInstant(at), instant.V))
}

func TestTransact_MonotonicTxIDs(t *testing.T) {
	s, tr, reg := setupTransactor(t)
	reg = personSchema(t, s, tr, reg)

	var last datom.TxID
	for i := 0; i < 3; i++ {
		report, err := tr.Transact(context.Background(), reg, []Op{
			Assert{E: TempID(-1), A: datom.MustKeyword("person/aliases"), V: datom.NewString(string(rune('a' + i)))},
		})
		require.NoError(t, err)
		assert.Greater(t, report.TxID, last)
		last = report.TxID
	}
}

func TestTransact_TypeMismatch(t *testing.T) {
	s, tr, reg := setupTransactor(t)
	reg = personSchema(t, s, tr, reg)

	_, err := tr.Transact(context.Background(), reg, []Op{
		Assert{E: TempID(-1), A: datom.MustKeyword("person/age"), V: datom.NewString("thirty")},
	})
	require.True(t, IsTypeMismatch(err), "got %v", err)
}

func TestTransact_CardinalityOneConflictInBatch(t *testing.T) {
	s, tr, reg := setupTransactor(t)
	reg = personSchema(t, s, tr, reg)

	_, err := tr.Transact(context.Background(), reg, []Op{
		Assert{E: TempID(-1), A: datom.MustKeyword("person/age"), V: datom.Long(30)},
		Assert{E: TempID(-1), A: datom.MustKeyword("person/age"), V: datom.Long(31)},
	})
	require.True(t, IsCardinalityConflict(err), "got %v", err)
}

func TestTransact_CardinalityOneConflictWithCurrentState(t *testing.T) {
	s, tr, reg := setupTransactor(t)
	reg = personSchema(t, s, tr, reg)
	ctx := context.Background()

	report, err := tr.Transact(ctx, reg, []Op{
		Assert{E: TempID(-1), A: datom.MustKeyword("person/age"), V: datom.Long(30)},
	})
	require.NoError(t, err)
	e := report.TempIDs[TempID(-1)]

	// A different value without retracting the current one is rejected.
	_, err = tr.Transact(ctx, reg, []Op{
		Assert{E: ID(e), A: datom.MustKeyword("person/age"), V: datom.Long(31)},
	})
	require.True(t, IsCardinalityConflict(err), "got %v", err)

	// Retract-and-assert in one batch replaces the value.
	report, err = tr.Transact(ctx, reg, []Op{
		Retract{E: ID(e), A: datom.MustKeyword("person/age"), V: datom.Long(30)},
		Assert{E: ID(e), A: datom.MustKeyword("person/age"), V: datom.Long(31)},
	})
	require.NoError(t, err)
	assert.Len(t, report.Datoms, 3, "retract, assert, txInstant")
}

func TestTransact_CardinalityManyAccumulates(t *testing.T) {
	s, tr, reg := setupTransactor(t)
	reg = personSchema(t, s, tr, reg)
	ctx := context.Background()

	report, err := tr.Transact(ctx, reg, []Op{
		Assert{E: TempID(-1), A: datom.MustKeyword("person/aliases"), V: datom.NewString("al")},
		Assert{E: TempID(-1), A: datom.MustKeyword("person/aliases"), V: datom.NewString("ali")},
	})
	require.NoError(t, err)

	aliases, _ := reg.ByIdent(datom.MustKeyword("person/aliases"))
	ds, err := s.ScanEntity(ctx, report.TempIDs[TempID(-1)])
	require.NoError(t, err)
	count := 0
	for _, d := range ds {
		if d.A == aliases.ID {
			count++
		}
	}
	assert.Equal(t, 2, count)
}

func TestTransact_UniqueConflict(t *testing.T) {
	s, tr, reg := setupTransactor(t)
	reg = personSchema(t, s, tr, reg)
	ctx := context.Background()
	email := datom.MustKeyword("person/email")

	report, err := tr.Transact(ctx, reg, []Op{
		Assert{E: TempID(-1), A: email, V: datom.NewString("a@example.com")},
	})
	require.NoError(t, err)
	holder := report.TempIDs[TempID(-1)]

	// A second entity claiming the value is rejected, naming the holder.
	_, err = tr.Transact(ctx, reg, []Op{
		Assert{E: TempID(-1), A: email, V: datom.NewString("a@example.com")},
	})
	require.True(t, IsUniqueConflict(err), "got %v", err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, holder, ve.Existing)

	// In-batch collision between two new entities.
	_, err = tr.Transact(ctx, reg, []Op{
		Assert{E: TempID(-1), A: email, V: datom.NewString("b@example.com")},
		Assert{E: TempID(-2), A: email, V: datom.NewString("b@example.com")},
	})
	require.True(t, IsUniqueConflict(err), "got %v", err)

	// The holder releasing the value in the same batch is legal.
	_, err = tr.Transact(ctx, reg, []Op{
		Retract{E: ID(holder), A: email, V: datom.NewString("a@example.com")},
		Assert{E: TempID(-1), A: email, V: datom.NewString("a@example.com")},
	})
	require.NoError(t, err)
}

func TestTransact_LookupRef(t *testing.T) {
	s, tr, reg := setupTransactor(t)
	reg = personSchema(t, s, tr, reg)
	ctx := context.Background()
	email := datom.MustKeyword("person/email")
	name := datom.MustKeyword("person/name")

	report, err := tr.Transact(ctx, reg, []Op{
		Assert{E: TempID(-1), A: email, V: datom.NewString("a@example.com")},
	})
	require.NoError(t, err)
	e := report.TempIDs[TempID(-1)]

	// Resolves against current state.
	report, err = tr.Transact(ctx, reg, []Op{
		Assert{E: LookupRef{A: email, V: datom.NewString("a@example.com")}, A: name, V: datom.NewString("alice")},
	})
	require.NoError(t, err)
	nameAttr, _ := reg.ByIdent(name)
	require.Len(t, report.Datoms, 2)
	for _, d := range report.Datoms {
		if d.A == nameAttr.ID {
			assert.Equal(t, e, d.E)
		}
	}

	// No holder anywhere: resolution failure, nothing committed.
	_, err = tr.Transact(ctx, reg, []Op{
		Assert{E: LookupRef{A: email, V: datom.NewString("nobody@example.com")}, A: name, V: datom.NewString("x")},
	})
	require.True(t, IsUnresolvedLookupRef(err), "got %v", err)

	// Non-unique attributes cannot anchor a lookup ref.
	_, err = tr.Transact(ctx, reg, []Op{
		Assert{E: LookupRef{A: name, V: datom.NewString("alice")}, A: name, V: datom.NewString("y")},
	})
	var se *schema.SchemaError
	require.ErrorAs(t, err, &se)
}

func TestTransact_LookupRefResolvesAgainstBatch(t *testing.T) {
	s, tr, reg := setupTransactor(t)
	reg = personSchema(t, s, tr, reg)
	email := datom.MustKeyword("person/email")
	name := datom.MustKeyword("person/name")

	report, err := tr.Transact(context.Background(), reg, []Op{
		Assert{E: TempID(-1), A: email, V: datom.NewString("new@example.com")},
		Assert{E: LookupRef{A: email, V: datom.NewString("new@example.com")}, A: name, V: datom.NewString("nina")},
	})
	require.NoError(t, err)

	e := report.TempIDs[TempID(-1)]
	nameAttr, _ := reg.ByIdent(name)
	found := false
	for _, d := range report.Datoms {
		if d.A == nameAttr.ID {
			found = true
			assert.Equal(t, e, d.E, "lookup ref upserts onto the entity created in the same batch")
		}
	}
	assert.True(t, found)
}

// Retracting a fact that was never asserted writes nothing. The transaction
// still commits and carries its txInstant datom.
func TestTransact_RetractNeverAssertedIsNoOp(t *testing.T) {
	s, tr, reg := setupTransactor(t)
	reg = personSchema(t, s, tr, reg)
	ctx := context.Background()

	report, err := tr.Transact(ctx, reg, []Op{
		Assert{E: TempID(-1), A: datom.MustKeyword("person/name"), V: datom.NewString("alice")},
	})
	require.NoError(t, err)
	e := report.TempIDs[TempID(-1)]

	report, err = tr.Transact(ctx, reg, []Op{
		Retract{E: ID(e), A: datom.MustKeyword("person/age"), V: datom.Long(99)},
	})
	require.NoError(t, err)
	require.Len(t, report.Datoms, 1)
	assert.Equal(t, schema.TxInstantID, report.Datoms[0].A)
}

// A batch is an ordered sequence: ops over the same fact fold in order, so
// retracting a held value and re-asserting it in the same batch nets to
// nothing and the value survives.
func TestTransact_RetractThenAssertSameValueKeepsIt(t *testing.T) {
	s, tr, reg := setupTransactor(t)
	reg = personSchema(t, s, tr, reg)
	ctx := context.Background()
	name := datom.MustKeyword("person/name")
	nameAttr, _ := reg.ByIdent(name)

	report, err := tr.Transact(ctx, reg, []Op{
		Assert{E: TempID(-1), A: name, V: datom.NewString("alice")},
	})
	require.NoError(t, err)
	e := report.TempIDs[TempID(-1)]

	report, err = tr.Transact(ctx, reg, []Op{
		Retract{E: ID(e), A: name, V: datom.NewString("alice")},
		Assert{E: ID(e), A: name, V: datom.NewString("alice")},
	})
	require.NoError(t, err)
	require.Len(t, report.Datoms, 1, "pair cancels, only txInstant written")

	held, err := s.ScanAttributeValue(ctx, nameAttr.ID, datom.NewString("alice"))
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, e, held[0].E)
}

// The symmetric fold: asserting a value not currently held and retracting
// it later in the same batch writes nothing.
func TestTransact_AssertThenRetractSameValueNetsToNothing(t *testing.T) {
	s, tr, reg := setupTransactor(t)
	reg = personSchema(t, s, tr, reg)
	ctx := context.Background()
	name := datom.MustKeyword("person/name")
	nameAttr, _ := reg.ByIdent(name)

	report, err := tr.Transact(ctx, reg, []Op{
		Assert{E: TempID(-1), A: name, V: datom.NewString("alice")},
		Retract{E: TempID(-1), A: name, V: datom.NewString("alice")},
	})
	require.NoError(t, err)
	require.Len(t, report.Datoms, 1, "only txInstant")

	held, err := s.ScanAttributeValue(ctx, nameAttr.ID, datom.NewString("alice"))
	require.NoError(t, err)
	assert.Empty(t, held)
}

func TestTransact_DuplicateAssertIsNoOp(t *testing.T) {
	s, tr, reg := setupTransactor(t)
	reg = personSchema(t, s, tr, reg)
	ctx := context.Background()

	report, err := tr.Transact(ctx, reg, []Op{
		Assert{E: TempID(-1), A: datom.MustKeyword("person/name"), V: datom.NewString("alice")},
	})
	require.NoError(t, err)
	e := report.TempIDs[TempID(-1)]

	report, err = tr.Transact(ctx, reg, []Op{
		Assert{E: ID(e), A: datom.MustKeyword("person/name"), V: datom.NewString("alice")},
	})
	require.NoError(t, err)
	require.Len(t, report.Datoms, 1, "only txInstant")
}

/// NFC equivalence: two spellings of the same string are one fact.
func TestTransact_NormalizedStringsCollide(t *testing.T) {
	s, tr, reg := setupTransactor(t)
	reg = personSchema(t, s, tr, reg)
	ctx := context.Background()
	email := datom.MustKeyword("person/email")

	_, err := tr.Transact(ctx, reg, []Op{
		Assert{E: TempID(-1), A: email, V: datom.NewString("café@example.com")},
	})
	require.NoError(t, err)

	_, err = tr.Transact(ctx, reg, []Op{
		Assert{E: TempID(-1), A: email, V: datom.NewString("café@example.com")},
	})
	require.True(t, IsUniqueConflict(err), "got %v", err)
}

func TestTransact_FailedBatchLeavesLogUntouched(t *testing.T) {
	s, tr, reg := setupTransactor(t)
	reg = personSchema(t, s, tr, reg)
	ctx := context.Background()

	before, err := s.ReadLogSince(ctx, 0)
	require.NoError(t, err)

	_, err = tr.Transact(ctx, reg, []Op{
		Assert{E: TempID(-1), A: datom.MustKeyword("person/name"), V: datom.NewString("ok")},
		Assert{E: TempID(-2), A: datom.MustKeyword("person/age"), V: datom.NewString("bad")},
	})
	require.Error(t, err)

	after, err := s.ReadLogSince(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, before, after, "no partial writes")
}

func TestTransact_SchemaChangeValidated(t *testing.T) {
	s, tr, reg := setupTransactor(t)
	reg = personSchema(t, s, tr, reg)
	ctx := context.Background()

	email, _ := reg.ByIdent(datom.MustKeyword("person/email"))

	// Flipping a unique attribute to cardinality many would leave an
	// invalid definition; the batch is rejected.
	_, err := tr.Transact(ctx, reg, []Op{
		Retract{E: ID(email.ID), A: schema.CardinalityKw, V: datom.KeywordValue(datom.MustKeyword("db.cardinality/one"))},
		Assert{E: ID(email.ID), A: schema.CardinalityKw, V: datom.KeywordValue(datom.MustKeyword("db.cardinality/many"))},
	})
	var se *schema.SchemaError
	require.ErrorAs(t, err, &se)
}

func TestTransact_DeterministicReportOrder(t *testing.T) {
	s, tr, reg := setupTransactor(t)
	reg = personSchema(t, s, tr, reg)

	report, err := tr.Transact(context.Background(), reg, []Op{
		Assert{E: TempID(-1), A: datom.MustKeyword("person/age"), V: datom.Long(30)},
		Assert{E: TempID(-1), A: datom.MustKeyword("person/name"), V: datom.NewString("alice")},
		Assert{E: TempID(-2), A: datom.MustKeyword("person/name"), V: datom.NewString("bob")},
	})
	require.NoError(t, err)

	for i := 1; i < len(report.Datoms); i++ {
		assert.False(t, datom.Less(report.Datoms[i], report.Datoms[i-1]),
			"datoms out of order at %d", i)
	}
}
