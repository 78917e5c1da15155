// Package connection implements the Connection Registry component.
//
// The Connection Registry:
//   - Owns every authenticated WebSocket connection, keyed by user id
//   - Tracks last inbound activity and outstanding liveness probes per user
//   - Evicts through a single Unregister path that releases the transport
//     and removes the user from its room
//   - Runs the liveness sweep (evict closed, unresponsive and idle users,
//     then probe the survivors)
package connection
