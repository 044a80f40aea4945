// Package api implements the HTTP REST API and WebSocket server for the
// Gray Logic Tasmota service.
//
// This package provides:
//   - REST endpoints to list devices, read property values and write them
//   - Property change history backed by the local SQLite store
//   - WebSocket hub relaying property changes as they happen
//   - Optional JWT bearer authentication on property writes
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The server reads directly from the Tasmota bridge. Writes go through
// Bridge.SetProperty, which validates locally and sends the command to the
// device. Device delivery failures are logged by the bridge, so a write is
// answered with 202 Accepted once it passes validation.
//
// # Security
//
// When security.jwt.secret is set, PUT requests need an HS256 bearer
// token signed with that secret. Reads stay open for local dashboards.
//
// # Graceful Degradation
//
// The server runs without history storage or MQTT. The history endpoint
// answers 503 and the health endpoint reports MQTT as disconnected.
package api
