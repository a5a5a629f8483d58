package transact

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/roach88/datalite/internal/datom"
	"github.com/roach88/datalite/internal/schema"
	"github.com/roach88/datalite/internal/store"
)

// Report describes one committed transaction.
type Report struct {
	TxID datom.TxID

	// TempIDs maps each distinct tempid in the batch to the permanent
	// entity id allocated for it.
	TempIDs map[TempID]datom.EntityID

	// Datoms are the facts actually written, in deterministic
	// (e, a, value, added) order. No-op operations contribute nothing.
	Datoms []datom.Datom
}

// Transactor validates and commits batches against a store.
//
// Transact calls are serialized by a process-local mutex; the store's
// immediate write lock serializes across processes. Only one transaction is
// ever in flight against a given store.
type Transactor struct {
	store *store.Store
	mu    sync.Mutex

	// now supplies db/txInstant. Replaceable in tests.
	now func() time.Time
}

// New creates a Transactor over a store.
func New(s *store.Store) *Transactor {
	return &Transactor{store: s, now: time.Now}
}

// SetClock replaces the transaction timestamp source. For tests.
func (t *Transactor) SetClock(now func() time.Time) { t.now = now }

// resolvedOp is an operation after id resolution, ready for validation.
type resolvedOp struct {
	e     datom.EntityID
	attr  schema.Attribute
	v     datom.Value
	added bool
}

// Transact runs the full pipeline for one batch against the given registry
// snapshot. On any error the log is untouched.
//
// The registry snapshot is the pre-transaction schema: attributes defined by
// this very batch become usable in subsequent batches, not within their own.
func (t *Transactor) Transact(ctx context.Context, reg *schema.Registry, ops []Op) (*Report, error) {
	if len(ops) == 0 {
		return nil, fmt.Errorf("transact: empty batch")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	wtx, err := t.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer wtx.Rollback()

	resolved, tempids, err := resolve(ctx, wtx, reg, ops)
	if err != nil {
		return nil, err
	}

	if err := validate(ctx, wtx, resolved); err != nil {
		return nil, err
	}

	if err := validateSchemaChanges(ctx, wtx, resolved); err != nil {
		return nil, err
	}

	txid, err := wtx.NextTxID(ctx)
	if err != nil {
		return nil, err
	}

	datoms, err := materialize(ctx, wtx, resolved, txid, t.now())
	if err != nil {
		return nil, err
	}

	if err := wtx.AppendDatoms(ctx, datoms); err != nil {
		return nil, err
	}
	if err := wtx.Commit(); err != nil {
		return nil, err
	}

	return &Report{TxID: txid, TempIDs: tempids, Datoms: datoms}, nil
}

// resolve maps every operation onto concrete entity ids.
//
// Tempids are collected from entity positions and from ref-typed value
// positions, then allocated as one contiguous range in first-occurrence
// order. Lookup refs resolve against current state first, then against
// unique values asserted elsewhere in the batch (upsert onto an entity being
// created by the same transaction).
// opParts is an operation with its attribute looked up but its entity
// position still symbolic.
type opParts struct {
	e     EntityRef
	attr  schema.Attribute
	v     datom.Value
	added bool
}

func resolve(ctx context.Context, wtx *store.WriteTx, reg *schema.Registry, ops []Op) ([]resolvedOp, map[TempID]datom.EntityID, error) {
	parts := make([]opParts, len(ops))
	var order []TempID
	seen := make(map[TempID]bool)
	note := func(id TempID) {
		if !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
	}

	for i, op := range ops {
		e, a, v, added := op.op()
		if v == nil {
			return nil, nil, fmt.Errorf("transact: operation %d has no value", i)
		}
		attr, ok := reg.ByIdent(a)
		if !ok {
			return nil, nil, &schema.SchemaError{Ident: a, Message: "unknown attribute"}
		}
		if tid, isTemp := e.(TempID); isTemp {
			note(tid)
		}
		if attr.Type == datom.TypeRef {
			if ref, isRef := v.(datom.Ref); isRef && ref < 0 {
				note(TempID(ref))
			}
		}
		parts[i] = opParts{e: e, attr: attr, v: v, added: added}
	}

	tempids := make(map[TempID]datom.EntityID, len(order))
	if len(order) > 0 {
		first, err := wtx.AllocateEntityIDs(ctx, len(order))
		if err != nil {
			return nil, nil, err
		}
		for i, tid := range order {
			tempids[tid] = first + datom.EntityID(i)
		}
	}

	// Entity ids for everything except lookup refs, so lookup refs can
	// resolve against in-batch assertions afterwards.
	resolved := make([]resolvedOp, len(ops))
	var pending []int
	for i, p := range parts {
		ro := resolvedOp{attr: p.attr, added: p.added, v: p.v}
		if ref, isRef := p.v.(datom.Ref); isRef && p.attr.Type == datom.TypeRef && ref < 0 {
			ro.v = datom.Ref(tempids[TempID(ref)])
		}
		switch e := p.e.(type) {
		case ID:
			ro.e = datom.EntityID(e)
		case TempID:
			ro.e = tempids[e]
		case LookupRef:
			pending = append(pending, i)
		default:
			return nil, nil, fmt.Errorf("transact: operation %d has no entity", i)
		}
		resolved[i] = ro
	}

	for _, i := range pending {
		ref := parts[i].e.(LookupRef)
		e, err := resolveLookupRef(ctx, wtx, reg, ref, parts, tempids)
		if err != nil {
			return nil, nil, err
		}
		resolved[i].e = e
	}

	return resolved, tempids, nil
}

func resolveLookupRef(ctx context.Context, wtx *store.WriteTx, reg *schema.Registry, ref LookupRef,
	parts []opParts, tempids map[TempID]datom.EntityID) (datom.EntityID, error) {
	attr, ok := reg.ByIdent(ref.A)
	if !ok {
		return 0, &schema.SchemaError{Ident: ref.A, Message: "unknown attribute"}
	}
	if attr.Unique == schema.UniqueNone {
		return 0, &schema.SchemaError{Ident: ref.A, Message: "attribute is not unique, cannot anchor a lookup ref"}
	}
	if ref.V == nil || ref.V.Type() != attr.Type {
		return 0, &schema.SchemaError{Ident: ref.A, Message: "lookup ref value does not match attribute type"}
	}

	e, found, err := wtx.CurrentEntityForValue(ctx, attr.ID, ref.V)
	if err != nil {
		return 0, err
	}
	if found {
		return e, nil
	}

	// The pair may be asserted by this very batch: upsert onto the entity
	// being created.
	for _, p := range parts {
		if !p.added || p.attr.ID != attr.ID || !datom.Equal(p.v, ref.V) {
			continue
		}
		switch pe := p.e.(type) {
		case ID:
			return datom.EntityID(pe), nil
		case TempID:
			return tempids[pe], nil
		}
	}

	return 0, &TempIDError{Ref: ref}
}

// validate enforces declared types, cardinality-one consistency and
// uniqueness against the write snapshot.
func validate(ctx context.Context, wtx *store.WriteTx, resolved []resolvedOp) error {
	for _, ro := range resolved {
		if ro.v.Type() != ro.attr.Type {
			return &ValidationError{
				Code:      ErrCodeTypeMismatch,
				Entity:    ro.e,
				Attribute: ro.attr.Ident,
				Value:     ro.v,
			}
		}
	}

	if err := validateCardinalityOne(ctx, wtx, resolved); err != nil {
		return err
	}
	return validateUnique(ctx, wtx, resolved)
}

type factKey struct {
	e datom.EntityID
	a datom.EntityID
}

func valueKey(v datom.Value) string {
	return fmt.Sprintf("%d|%v", v.Type(), datom.SQLParam(v))
}

func validateCardinalityOne(ctx context.Context, wtx *store.WriteTx, resolved []resolvedOp) error {
	asserted := make(map[factKey][]datom.Value)
	retracted := make(map[factKey][]datom.Value)
	attrs := make(map[factKey]schema.Attribute)

	for _, ro := range resolved {
		if ro.attr.Cardinality != schema.CardinalityOne {
			continue
		}
		k := factKey{e: ro.e, a: ro.attr.ID}
		attrs[k] = ro.attr
		if ro.added {
			asserted[k] = append(asserted[k], ro.v)
		} else {
			retracted[k] = append(retracted[k], ro.v)
		}
	}

	for k, values := range asserted {
		distinct := []datom.Value{values[0]}
		for _, v := range values[1:] {
			dup := false
			for _, d := range distinct {
				if datom.Equal(d, v) {
					dup = true
					break
				}
			}
			if !dup {
				distinct = append(distinct, v)
			}
		}
		if len(distinct) > 1 {
			return &ValidationError{
				Code:      ErrCodeConflictingCardinalityOne,
				Entity:    k.e,
				Attribute: attrs[k].Ident,
				Value:     distinct[1],
			}
		}

		current, err := wtx.CurrentValues(ctx, k.e, k.a)
		if err != nil {
			return err
		}
		next := distinct[0]
		for _, cur := range current {
			if datom.Equal(cur, next) {
				continue
			}
			if batchRetracts(retracted[k], cur) {
				continue
			}
			return &ValidationError{
				Code:      ErrCodeConflictingCardinalityOne,
				Entity:    k.e,
				Attribute: attrs[k].Ident,
				Value:     next,
			}
		}
	}
	return nil
}

func batchRetracts(retracted []datom.Value, v datom.Value) bool {
	for _, r := range retracted {
		if datom.Equal(r, v) {
			return true
		}
	}
	return false
}

func validateUnique(ctx context.Context, wtx *store.WriteTx, resolved []resolvedOp) error {
	type uniqueKey struct {
		a datom.EntityID
		v string
	}
	inBatch := make(map[uniqueKey]datom.EntityID)

	for _, ro := range resolved {
		if !ro.added || ro.attr.Unique == schema.UniqueNone {
			continue
		}
		k := uniqueKey{a: ro.attr.ID, v: valueKey(ro.v)}

		if prev, ok := inBatch[k]; ok && prev != ro.e {
			return &ValidationError{
				Code:      ErrCodeUniqueConflict,
				Entity:    ro.e,
				Attribute: ro.attr.Ident,
				Value:     ro.v,
				Existing:  prev,
			}
		}
		inBatch[k] = ro.e

		holder, found, err := wtx.CurrentEntityForValue(ctx, ro.attr.ID, ro.v)
		if err != nil {
			return err
		}
		if !found || holder == ro.e {
			continue
		}
		// The holder releasing the value in this same batch is legal.
		if retractsFact(resolved, holder, ro.attr.ID, ro.v) {
			continue
		}
		return &ValidationError{
			Code:      ErrCodeUniqueConflict,
			Entity:    ro.e,
			Attribute: ro.attr.Ident,
			Value:     ro.v,
			Existing:  holder,
		}
	}
	return nil
}

func retractsFact(resolved []resolvedOp, e datom.EntityID, a datom.EntityID, v datom.Value) bool {
	for _, ro := range resolved {
		if !ro.added && ro.e == e && ro.attr.ID == a && datom.Equal(ro.v, v) {
			return true
		}
	}
	return false
}

// validateSchemaChanges checks that any attribute definition implied by this
// batch is well formed once the batch's delta is applied over current state.
func validateSchemaChanges(ctx context.Context, wtx *store.WriteTx, resolved []resolvedOp) error {
	affected := make(map[datom.EntityID]bool)
	for _, ro := range resolved {
		if schema.IsSchemaAttribute(ro.attr.ID) {
			affected[ro.e] = true
		}
	}
	if len(affected) == 0 {
		return nil
	}

	for e := range affected {
		var post []datom.Datom
		for _, a := range []datom.EntityID{schema.IdentID, schema.ValueTypeID, schema.CardinalityID, schema.UniqueID, schema.IndexID, schema.DocID} {
			current, err := wtx.CurrentValues(ctx, e, a)
			if err != nil {
				return err
			}
			for _, v := range current {
				if factRetractedInBatch(resolved, e, a, v) {
					continue
				}
				post = append(post, datom.Datom{E: e, A: a, V: v, Added: true})
			}
		}
		for _, ro := range resolved {
			if ro.added && ro.e == e && schema.IsSchemaAttribute(ro.attr.ID) {
				post = append(post, datom.Datom{E: e, A: ro.attr.ID, V: ro.v, Added: true})
			}
		}
		if _, err := schema.Build(post); err != nil {
			return err
		}
	}
	return nil
}

func factRetractedInBatch(resolved []resolvedOp, e, a datom.EntityID, v datom.Value) bool {
	for _, ro := range resolved {
		if !ro.added && ro.e == e && ro.attr.ID == a && datom.Equal(ro.v, v) {
			return true
		}
	}
	return false
}

// materialize computes the final datom set by folding the batch in order:
// for each fact the last operation decides membership, and a datom is
// written only where the folded membership differs from current state. A
// retract+assert pair over the same fact therefore cancels, asserting an
// already-asserted fact and retracting a never-asserted fact are no-ops,
// and the transaction entity's own metadata is appended last.
func materialize(ctx context.Context, wtx *store.WriteTx, resolved []resolvedOp, txid datom.TxID, now time.Time) ([]datom.Datom, error) {
	type factID struct {
		e, a datom.EntityID
		v    string
	}
	initial := make(map[factID]bool)
	final := make(map[factID]bool)
	values := make(map[factID]datom.Value)
	var order []factID

	currentCache := make(map[factKey][]datom.Value)
	currentOf := func(e, a datom.EntityID) ([]datom.Value, error) {
		k := factKey{e: e, a: a}
		if vs, ok := currentCache[k]; ok {
			return vs, nil
		}
		vs, err := wtx.CurrentValues(ctx, e, a)
		if err != nil {
			return nil, err
		}
		currentCache[k] = vs
		return vs, nil
	}

	for _, ro := range resolved {
		fk := factID{e: ro.e, a: ro.attr.ID, v: valueKey(ro.v)}
		if _, seen := final[fk]; !seen {
			current, err := currentOf(ro.e, ro.attr.ID)
			if err != nil {
				return nil, err
			}
			held := false
			for _, cur := range current {
				if datom.Equal(cur, ro.v) {
					held = true
					break
				}
			}
			initial[fk] = held
			values[fk] = ro.v
			order = append(order, fk)
		}
		final[fk] = ro.added
	}

	var out []datom.Datom
	for _, fk := range order {
		if final[fk] == initial[fk] {
			continue
		}
		out = append(out, datom.Datom{
			E:     fk.e,
			A:     fk.a,
			V:     values[fk],
			Tx:    txid,
			Added: final[fk],
		})
	}

	out = append(out, datom.Datom{
		E:     datom.EntityID(txid),
		A:     schema.TxInstantID,
		V:     datom.NewInstant(now),
		Tx:    txid,
		Added: true,
	})

	sort.Slice(out, func(i, j int) bool { return datom.Less(out[i], out[j]) })
	return out, nil
}
