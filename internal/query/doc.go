// Package query defines the declarative query structure and its
// compile-time validation.
//
// A query is a find-spec (requested variables or aggregates plus a result
// shape) over a set of where-clauses: [e a v] patterns whose positions are
// variables, literals or wildcards, optionally narrowed by predicate
// clauses and negations and ordered or limited.
//
// Validate rejects malformed queries before any storage access: unknown
// attributes, unbound find or predicate variables, aggregate misuse, and
// conflicting type inferences for the same variable. The inferred types it
// produces drive both SQL compilation and result projection, so a query
// that validates cleanly cannot produce a tuple the projector will not
// understand.
//
// The textual syntax that produces these structures is an external
// front-end's concern; this package starts at the parsed form.
package query
