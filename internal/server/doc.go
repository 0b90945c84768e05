// Package server hosts the Fiber HTTP service and its middleware chain:
// panic recovery, request ids, and the split between diagnostics under /-/
// and the catch-all route handed to the cache proxy handler. Keep exports
// narrow and accept explicit dependencies so cmd wiring and tests can inject
// their own handlers.
package server
