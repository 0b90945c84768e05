// Package worker runs the lifecycle of one cache worker instance.
//
// The Lifecycle type owns the generation operations: Precache brings the
// current generation to a fully populated state and PruneOtherGenerations
// removes every superseded one. Worker wraps those operations in the
// install → activate → fetch state machine; each event runs as its own task
// and hands back a Deferral the host waits on before moving to the next
// phase.
package worker
