// Package delivery implements the durable per-recipient payload queue.
//
// Enqueue writes one row per recipient and publishes a change notification.
// A Coalescer turns notifications into Flush calls: at most two triggers wait
// while a flush runs, extra triggers are dropped, and flushes never overlap.
// Flush delivers rows addressed to currently connected users and deletes
// exactly the rows that were written to a socket. Rows for offline users stay
// queued until a later flush finds them connected.
package delivery
