// Package websocket provides real-time event streaming via WebSocket.
//
// Clients connect to /ws and receive every published event as JSON
// ({type, timestamp, seq, data}) in publish order. A client "ping" is
// answered with "pong"; client "heartbeat" messages are ignored. The server
// sends its own heartbeat frames periodically.
package websocket
