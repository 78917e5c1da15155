// Package notify carries the "new message inserted" signal between the
// delivery queue writer and its flush loop.
//
// The signal has no payload. Four drivers are available:
//   - Postgres: LISTEN/NOTIFY on a dedicated connection
//   - Redis: pub/sub channel
//   - NATS: core subject
//   - Local: in-process fan-out, used with memory storage
package notify
