// Package ws serves the terminal to local presentation clients over
// WebSocket.
//
// The package implements:
//   - Hub: the set of connected presentation clients and JSON broadcast
//   - Handler: upgrades requests, replays history and routes client messages
//   - Service: subscribes a terminal's observers and broadcasts their events
//
// Presentation clients receive the same render stream as the local terminal,
// including predicted echo and its erasures, plus state, activity and status
// updates. Output history is replayed on attach.
package ws
