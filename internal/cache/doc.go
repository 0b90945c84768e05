// Package cache defines the persistent, generation-addressed response store.
// A Store holds any number of named generations (e.g. cache-v1, cache-v2);
// each Generation maps a request key to a stored Response. Generations are
// opened lazily, written with last-write-wins semantics and only ever removed
// as a whole. Drivers (fs, sqlite, redis, memory) share the same contract so
// the worker and resolver never depend on where entries live; an optional
// ristretto hot layer can sit in front of any of them.
package cache
