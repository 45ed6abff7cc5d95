// Package gateway defines the boundary between the query layer and the
// relational store behind it.
//
// The [Gateway] interface is the only way the query coordinator reaches
// data. Implementations in this module:
//
//   - [Memory]: an in-process table store with full filter, ordering and
//     paging semantics. Used for local runs and tests.
//   - [Resilient]: a decorator adding rate limiting, a bulkhead, a circuit
//     breaker, retries and per-attempt timeouts around another Gateway.
//   - sqlgw: database/sql stores through sqlx (SQLite by default).
//   - supabasegw: PostgREST over the Supabase client.
//
// Filters, ordering, limits and offsets are forwarded to the implementation
// verbatim. Update and Delete refuse to run without filters.
package gateway
