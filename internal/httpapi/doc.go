// Package httpapi serves the relay's REST routes and mounts the WebSocket
// handshake.
//
// Routes:
//
//	GET  /health    connection, room and pool counts (open)
//	GET  /metrics   Prometheus metrics when enabled (open)
//	POST /room      create or reuse the caller's room (authToken, deviceId)
//	POST /log       record a client diagnostic entry (authToken)
//	/, /ws          WebSocket handshake
package httpapi
