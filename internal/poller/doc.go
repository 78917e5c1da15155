// Package poller runs a function on a fixed interval in a single goroutine.
//
// A run never overlaps the previous one: the next tick is only observed once
// the current run returns. Stop cancels the loop's context and waits for an
// in-progress run to finish, bounded by the caller's context.
//
// The relay's background sweeps (connection liveness, room abandonment) are
// built on a Poller.
package poller
