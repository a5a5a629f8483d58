// Package transact implements the transaction pipeline: the only write path
// into the datom log.
//
// A batch of assert/retract operations moves through four phases inside one
// exclusive store transaction:
//
//  1. Resolution: tempids get fresh permanent ids (one per distinct tempid,
//     value positions included); lookup refs resolve against the current
//     snapshot or against unique values asserted earlier in the same batch.
//  2. Validation: declared value types, cardinality-one consistency within
//     the batch and against current state, uniqueness across entities.
//  3. Materialization: redundant asserts and retracts of never-asserted
//     facts drop out; survivors are stamped with the new tx id alongside the
//     transaction entity's own db/txInstant datom.
//  4. Commit: one atomic append. Any failure in any phase rolls back with
//     zero persisted effect.
//
// Writers are serialized: a process-local mutex plus SQLite's immediate
// write lock guarantee monotonically increasing tx ids and a stable
// validation snapshot.
//
// Schema changes are ordinary transactions here. A batch that asserts db/*
// attributes additionally has its implied attribute definitions validated
// before commit, so a malformed definition can never enter the log.
package transact
