// Package protocol implements the relay's WebSocket message protocol.
//
// A connection authenticates during the HTTP upgrade, is registered with the
// connection registry and then sends JSON frames of the form
// {"type": ..., "data": ...}. Structurally invalid frames, oversized frames
// and unknown message types evict the connection. Validation failures inside
// a handler are reported to the sender as {"error": ...} frames and the
// connection stays open.
//
// Message types:
//   - connectToRoom {roomKey}: join the room with that key
//   - sendPayload {payload, speed}: relay to every other room member
//   - heartbeat: keeps the connection from going idle
package protocol
