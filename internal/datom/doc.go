// Package datom provides the foundational types for the datalite store.
//
// This package contains type definitions only. All other internal packages
// import datom; datom imports nothing internal. This ensures the fact model
// remains the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Value is a sealed variant: exactly nine implementations, one per
//     declared attribute value type. No open interface, no reflection.
//   - Stored strings and keyword idents are NFC normalized so equality and
//     uniqueness comparisons are canonical across producers.
//   - Instants carry millisecond precision in UTC. Finer precision is
//     truncated at construction, never at read time.
//   - Datoms are immutable once constructed. Retraction is a new datom with
//     Added=false, never mutation.
package datom
