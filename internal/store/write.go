package store

import (
	"context"
	"database/sql"

	"github.com/roach88/datalite/internal/datom"
)

// WriteTx is one exclusive validate-then-commit sequence against the log.
//
// Begin takes SQLite's write lock immediately (BEGIN IMMEDIATE via the
// _txlock DSN option), so the validation scans below observe a snapshot no
// concurrent writer can invalidate. Either Commit persists every appended
// row or Rollback leaves the log byte-identical to its state before Begin.
type WriteTx struct {
	tx   *sql.Tx
	done bool
}

// Begin opens an exclusive write transaction.
func (s *Store) Begin(ctx context.Context) (*WriteTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &StorageError{Op: "begin", Cause: err}
	}
	return &WriteTx{tx: tx}, nil
}

// Commit makes every row appended through this WriteTx durable atomically.
func (w *WriteTx) Commit() error {
	w.done = true
	if err := w.tx.Commit(); err != nil {
		return &StorageError{Op: "commit", Cause: err}
	}
	return nil
}

// Rollback abandons the transaction. Safe to call after Commit (no-op), so
// callers can defer it unconditionally.
func (w *WriteTx) Rollback() error {
	if w.done {
		return nil
	}
	w.done = true
	if err := w.tx.Rollback(); err != nil {
		return &StorageError{Op: "rollback", Cause: err}
	}
	return nil
}

// AllocateEntityIDs reserves n fresh permanent entity ids and returns the
// first; the reserved range is [first, first+n).
func (w *WriteTx) AllocateEntityIDs(ctx context.Context, n int) (datom.EntityID, error) {
	var next int64
	if err := w.tx.QueryRowContext(ctx, `SELECT v FROM heads WHERE k = 'next_entity'`).Scan(&next); err != nil {
		return 0, &StorageError{Op: "allocate entity ids", Cause: err}
	}
	if _, err := w.tx.ExecContext(ctx, `UPDATE heads SET v = v + ? WHERE k = 'next_entity'`, int64(n)); err != nil {
		return 0, &StorageError{Op: "allocate entity ids", Cause: err}
	}
	return datom.EntityID(next), nil
}

// NextTxID allocates the id for the transaction being committed.
// Monotonicity follows from the exclusive write lock: no two WriteTxs can
// interleave between the read and the increment.
func (w *WriteTx) NextTxID(ctx context.Context) (datom.TxID, error) {
	var next int64
	if err := w.tx.QueryRowContext(ctx, `SELECT v FROM heads WHERE k = 'next_tx'`).Scan(&next); err != nil {
		return 0, &StorageError{Op: "next tx id", Cause: err}
	}
	if _, err := w.tx.ExecContext(ctx, `UPDATE heads SET v = v + 1 WHERE k = 'next_tx'`); err != nil {
		return 0, &StorageError{Op: "next tx id", Cause: err}
	}
	return datom.TxID(next), nil
}

// AppendDatoms appends materialized datoms to the log. Rows become visible
// to readers only at Commit.
func (w *WriteTx) AppendDatoms(ctx context.Context, datoms []datom.Datom) error {
	stmt, err := w.tx.PrepareContext(ctx, `
		INSERT INTO datoms (e, a, vtype, v, tx, added)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return &StorageError{Op: "append datoms", Cause: err}
	}
	defer stmt.Close()

	for _, d := range datoms {
		added := int64(0)
		if d.Added {
			added = 1
		}
		if _, err := stmt.ExecContext(ctx,
			int64(d.E),
			int64(d.A),
			int64(d.V.Type()),
			datom.SQLParam(d.V),
			int64(d.Tx),
			added,
		); err != nil {
			return &StorageError{Op: "append datoms", Cause: err}
		}
	}
	return nil
}

// CurrentValues returns the currently-asserted values of (e, a), in value
// order. Cardinality-one validation reads this inside the write snapshot.
func (w *WriteTx) CurrentValues(ctx context.Context, e, a datom.EntityID) ([]datom.Value, error) {
	rows, err := w.tx.QueryContext(ctx, `
		SELECT vtype, v FROM current_datoms
		WHERE e = ? AND a = ?
		ORDER BY vtype ASC, v ASC
	`, int64(e), int64(a))
	if err != nil {
		return nil, &StorageError{Op: "scan current values", Cause: err}
	}
	defer rows.Close()

	var out []datom.Value
	for rows.Next() {
		var vtype int64
		var raw any
		if err := rows.Scan(&vtype, &raw); err != nil {
			return nil, &StorageError{Op: "scan current values", Cause: err}
		}
		v, err := datom.DecodeValue(datom.ValueType(vtype), raw)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "scan current values", Cause: err}
	}
	return out, nil
}

// CurrentEntityForValue returns the entity currently asserting value v for
// attribute a, if any. Uniqueness validation and lookup-ref resolution read
// this inside the write snapshot. With the uniqueness invariant holding
// before the transaction, at most one row can match.
func (w *WriteTx) CurrentEntityForValue(ctx context.Context, a datom.EntityID, v datom.Value) (datom.EntityID, bool, error) {
	var e int64
	err := w.tx.QueryRowContext(ctx, `
		SELECT e FROM current_datoms
		WHERE a = ? AND vtype = ? AND v = ?
		ORDER BY e ASC
		LIMIT 1
	`, int64(a), int64(v.Type()), datom.SQLParam(v)).Scan(&e)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &StorageError{Op: "scan entity for value", Cause: err}
	}
	return datom.EntityID(e), true, nil
}
