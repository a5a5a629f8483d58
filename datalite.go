// Package datalite is an embeddable, schema-governed datom store over
// SQLite.
//
// Facts are immutable (entity, attribute, value, tx, added) tuples; the log
// is append-only and totally ordered by transaction id; current state is a
// fold over the log. Writes go through the transaction pipeline
// (resolution, validation, atomic commit); reads go through the query
// pipeline (compile, execute, project). The two share the schema registry
// as their contract.
//
// A DB is safe for concurrent use: queries run concurrently under SQLite's
// WAL snapshot isolation, writers are serialized, and a query never
// observes a partially committed transaction.
package datalite

import (
	"context"
	"sync"

	"github.com/roach88/datalite/internal/datom"
	"github.com/roach88/datalite/internal/exec"
	"github.com/roach88/datalite/internal/project"
	"github.com/roach88/datalite/internal/query"
	"github.com/roach88/datalite/internal/querysql"
	"github.com/roach88/datalite/internal/schema"
	"github.com/roach88/datalite/internal/store"
	"github.com/roach88/datalite/internal/transact"
)

// DB is one open datom store.
type DB struct {
	store      *store.Store
	transactor *transact.Transactor

	mu  sync.RWMutex
	reg *schema.Registry
}

// Open opens or creates a store at path. A fresh store gets the bootstrap
// schema installed as its first transaction.
func Open(path string) (*DB, error) {
	s, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	return finishOpen(s)
}

// OpenInMemory opens a fresh in-memory store. For tests and ephemeral
// workloads.
func OpenInMemory() (*DB, error) {
	s, err := store.OpenInMemory()
	if err != nil {
		return nil, err
	}
	return finishOpen(s)
}

func finishOpen(s *store.Store) (*DB, error) {
	db := &DB{store: s, transactor: transact.New(s)}

	ctx := context.Background()
	fresh, err := db.isFresh(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	if fresh {
		if err := db.installBootstrap(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}
	if err := db.rebuildRegistry(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the underlying store.
func (db *DB) Close() error {
	return db.store.Close()
}

// Registry returns the current schema snapshot.
func (db *DB) Registry() *schema.Registry {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.reg
}

// Transact validates and atomically commits one batch of operations.
// On success every datom of the transaction is visible to any query issued
// afterwards; on error the log is untouched.
func (db *DB) Transact(ctx context.Context, ops ...transact.Op) (*transact.Report, error) {
	reg := db.Registry()
	report, err := db.transactor.Transact(ctx, reg, ops)
	if err != nil {
		return nil, err
	}

	for _, d := range report.Datoms {
		if schema.IsSchemaAttribute(d.A) {
			if err := db.rebuildRegistry(ctx); err != nil {
				return report, err
			}
			break
		}
	}
	return report, nil
}

// TransactSchema installs the attribute definitions of a YAML attribute
// document as one transaction. The document is validated before any of it
// reaches the transactor.
func (db *DB) TransactSchema(ctx context.Context, doc []byte) (*transact.Report, error) {
	parsed, err := schema.ReadDocument(doc)
	if err != nil {
		return nil, err
	}
	defs, err := parsed.Definitions()
	if err != nil {
		return nil, err
	}

	var ops []transact.Op
	for i, def := range defs {
		e := transact.TempID(-(i + 1))
		ops = append(ops,
			transact.Assert{E: e, A: schema.IdentKw, V: datom.KeywordValue(def.Ident)},
			transact.Assert{E: e, A: schema.ValueTypeKw, V: datom.KeywordValue(schema.ValueTypeKeyword(def.Type))},
			transact.Assert{E: e, A: schema.CardinalityKw, V: datom.KeywordValue(schema.CardinalityKeyword(def.Cardinality))},
		)
		if def.Unique != schema.UniqueNone {
			ops = append(ops, transact.Assert{E: e, A: schema.UniqueKw, V: datom.KeywordValue(schema.UniqueKeyword(def.Unique))})
		}
		if def.Indexed {
			ops = append(ops, transact.Assert{E: e, A: schema.IndexKw, V: datom.Bool(true)})
		}
		if def.Doc != "" {
			ops = append(ops, transact.Assert{E: e, A: schema.DocKw, V: datom.NewString(def.Doc)})
		}
	}
	return db.Transact(ctx, ops...)
}

// Query compiles, executes and projects one query against current state.
// Compile-time errors surface before any storage access.
func (db *DB) Query(ctx context.Context, q query.Query) (project.Result, error) {
	reg := db.Registry()

	an, err := query.Validate(q, reg)
	if err != nil {
		return nil, err
	}
	plan, err := querysql.NewCompiler(reg).Compile(q, an)
	if err != nil {
		return nil, err
	}
	stream, err := exec.Run(ctx, db.store, plan)
	if err != nil {
		return nil, err
	}
	return project.Project(stream, q, plan)
}

// LogSince exports every committed transaction with id greater than since,
// in order, each self-contained. External sync consumers fold this.
func (db *DB) LogSince(ctx context.Context, since datom.TxID) ([]store.Tx, error) {
	return db.store.ReadLogSince(ctx, since)
}

// isFresh reports whether the store has no committed transactions yet.
func (db *DB) isFresh(ctx context.Context) (bool, error) {
	datoms, err := db.store.ScanAttribute(ctx, schema.IdentID)
	if err != nil {
		return false, err
	}
	return len(datoms) == 0, nil
}

// installBootstrap writes the system attributes as the store's first
// transaction, validated against the fixed bootstrap registry.
func (db *DB) installBootstrap(ctx context.Context) error {
	var ops []transact.Op
	for _, a := range schema.BootstrapAttributes() {
		e := transact.ID(a.ID)
		ops = append(ops,
			transact.Assert{E: e, A: schema.IdentKw, V: datom.KeywordValue(a.Ident)},
			transact.Assert{E: e, A: schema.ValueTypeKw, V: datom.KeywordValue(schema.ValueTypeKeyword(a.Type))},
			transact.Assert{E: e, A: schema.CardinalityKw, V: datom.KeywordValue(schema.CardinalityKeyword(a.Cardinality))},
		)
		if a.Unique != schema.UniqueNone {
			ops = append(ops, transact.Assert{E: e, A: schema.UniqueKw, V: datom.KeywordValue(schema.UniqueKeyword(a.Unique))})
		}
		if a.Indexed {
			ops = append(ops, transact.Assert{E: e, A: schema.IndexKw, V: datom.Bool(true)})
		}
		if a.Doc != "" {
			ops = append(ops, transact.Assert{E: e, A: schema.DocKw, V: datom.NewString(a.Doc)})
		}
	}
	_, err := db.transactor.Transact(ctx, schema.Bootstrap(), ops)
	return err
}

// rebuildRegistry folds the current schema datoms into a fresh snapshot.
// Scan and install happen under the write lock: concurrent rebuilds are
// serialized, so the later rebuild scans after the earlier one installed
// and snapshots can only move forward.
func (db *DB) rebuildRegistry(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var all []datom.Datom
	for _, a := range []datom.EntityID{schema.IdentID, schema.ValueTypeID, schema.CardinalityID, schema.UniqueID, schema.IndexID, schema.DocID} {
		ds, err := db.store.ScanAttribute(ctx, a)
		if err != nil {
			return err
		}
		all = append(all, ds...)
	}
	reg, err := schema.Build(all)
	if err != nil {
		return err
	}
	db.reg = reg
	return nil
}
