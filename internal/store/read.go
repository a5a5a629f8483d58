package store

import (
	"context"
	"database/sql"

	"github.com/roach88/datalite/internal/datom"
)

// Deterministic ordering: every read in this file carries a full ORDER BY so
// that two scans of the same log produce identical row sequences.

// ScanEntity returns the currently-asserted datoms of one entity (EAVT
// order).
func (s *Store) ScanEntity(ctx context.Context, e datom.EntityID) ([]datom.Datom, error) {
	return s.scanCurrent(ctx, `
		SELECT e, a, vtype, v, tx FROM current_datoms
		WHERE e = ?
		ORDER BY a ASC, vtype ASC, v ASC
	`, int64(e))
}

// ScanAttributeValue returns the currently-asserted datoms holding value v
// for attribute a (AVET order).
func (s *Store) ScanAttributeValue(ctx context.Context, a datom.EntityID, v datom.Value) ([]datom.Datom, error) {
	return s.scanCurrent(ctx, `
		SELECT e, a, vtype, v, tx FROM current_datoms
		WHERE a = ? AND vtype = ? AND v = ?
		ORDER BY e ASC
	`, int64(a), int64(v.Type()), datom.SQLParam(v))
}

// ScanValue returns every currently-asserted datom holding value v under any
// attribute (VAET order).
func (s *Store) ScanValue(ctx context.Context, v datom.Value) ([]datom.Datom, error) {
	return s.scanCurrent(ctx, `
		SELECT e, a, vtype, v, tx FROM current_datoms
		WHERE vtype = ? AND v = ?
		ORDER BY a ASC, e ASC
	`, int64(v.Type()), datom.SQLParam(v))
}

// ScanAttribute returns every currently-asserted datom of one attribute.
// The registry rebuild uses this for the schema attributes.
func (s *Store) ScanAttribute(ctx context.Context, a datom.EntityID) ([]datom.Datom, error) {
	return s.scanCurrent(ctx, `
		SELECT e, a, vtype, v, tx FROM current_datoms
		WHERE a = ?
		ORDER BY e ASC, vtype ASC, v ASC
	`, int64(a))
}

func (s *Store) scanCurrent(ctx context.Context, query string, args ...any) ([]datom.Datom, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: "scan", Cause: err}
	}
	defer rows.Close()

	out := []datom.Datom{}
	for rows.Next() {
		d, err := scanDatom(rows, true)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "scan", Cause: err}
	}
	return out, nil
}

// Tx is one exported transaction: its id and every datom it wrote,
// including the transaction entity's own metadata datoms. Self-contained by
// construction; an external sync consumer needs nothing else to replay it.
type Tx struct {
	ID     datom.TxID
	Datoms []datom.Datom
}

// ReadLogSince returns every committed transaction with id > since, ordered
// by transaction id. The log being append-only, the result is a stable
// prefix-extension of any earlier call.
func (s *Store) ReadLogSince(ctx context.Context, since datom.TxID) ([]Tx, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e, a, vtype, v, tx, added FROM datoms
		WHERE tx > ?
		ORDER BY tx ASC, e ASC, a ASC, vtype ASC, v ASC, added ASC
	`, int64(since))
	if err != nil {
		return nil, &StorageError{Op: "read log", Cause: err}
	}
	defer rows.Close()

	var txs []Tx
	for rows.Next() {
		d, err := scanDatom(rows, false)
		if err != nil {
			return nil, err
		}
		if len(txs) == 0 || txs[len(txs)-1].ID != d.Tx {
			txs = append(txs, Tx{ID: d.Tx})
		}
		last := &txs[len(txs)-1]
		last.Datoms = append(last.Datoms, d)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "read log", Cause: err}
	}
	return txs, nil
}

// scanDatom decodes one row. currentOnly rows omit the added column (the
// current_datoms view only contains assertions).
func scanDatom(rows *sql.Rows, currentOnly bool) (datom.Datom, error) {
	var (
		e, a, vtype, tx int64
		raw             any
		added           int64 = 1
	)
	var err error
	if currentOnly {
		err = rows.Scan(&e, &a, &vtype, &raw, &tx)
	} else {
		err = rows.Scan(&e, &a, &vtype, &raw, &tx, &added)
	}
	if err != nil {
		return datom.Datom{}, &StorageError{Op: "scan", Cause: err}
	}

	v, err := datom.DecodeValue(datom.ValueType(vtype), raw)
	if err != nil {
		return datom.Datom{}, err
	}
	return datom.Datom{
		E:     datom.EntityID(e),
		A:     datom.EntityID(a),
		V:     v,
		Tx:    datom.TxID(tx),
		Added: added == 1,
	}, nil
}
