// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Registered connections and liveness evictions
//   - Inbound frames by type and rejected frames by reason
//   - Room creations and abandonment sweeps
//   - Delivery queue enqueues, flushes and delivered rows
//   - Managed connection pool stats
package metrics
