// Package cache provides the in-process query cache that sits in front of
// the relational data gateway.
//
// It provides a deterministic KeyEncoder for (collection, operation,
// parameters) triples, and a Store holding TTL-bound entries that can be
// invalidated in bulk by tag. The Store runs a cancellable background sweep
// and reads time through an injectable Clock.
package cache
