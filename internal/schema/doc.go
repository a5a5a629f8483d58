// Package schema implements the attribute registry that governs the store.
//
// The registry is derived state, never a privileged singleton: it is built by
// folding the datoms that describe attribute entities (db/ident, db/valueType,
// db/cardinality, db/unique, db/index, db/doc). Schema changes flow through
// the same transaction pipeline as ordinary data, so schema evolution is
// atomic, ordered, and auditable like everything else in the log.
//
// A fixed bootstrap set of system attributes (entity ids below
// FirstUserEntityID) is installed into every new store at open time; the
// bootstrap registry lets the transactor validate that very first
// transaction.
//
// Attribute documents let Go callers describe new attributes in YAML without
// a query-grammar front end; documents are validated against an embedded CUE
// schema before they reach the transactor.
package schema
