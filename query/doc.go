// Package query coordinates reads and writes between callers, the cache
// store and a gateway.
//
// Reads (Fetch, Raw) consult the store first and return FromCache results
// without touching the gateway. On a miss the gateway is called and, when
// the caller passed WithCache, the rows are stored under the given TTL and
// tags. Writes (Create, Update, Delete, Upsert) always reach the gateway and
// invalidate the tags passed with Invalidate before returning.
//
// Every outcome is a Result value. Gateway errors are carried in Result.Err
// unchanged and are never cached.
//
// Batch runs a sequence of steps in order and stops at the first failure.
package query
