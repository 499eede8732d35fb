// Package api implements the HTTP REST API and WebSocket server for Payload Core.
//
// This package provides:
//   - REST endpoints that drive the camera engine (status, properties,
//     capture, zoom, storage, files)
//   - Read access to the capture and download ledger and the audit trail
//   - WebSocket hub relaying engine events to ground tooling
//   - Key-for-JWT token exchange with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, auth)
//   - TLS support for deployments where the link is not already encrypted
//
// # Architecture
//
// The API server sits between operator tooling (payloadctl, ground station
// dashboards) and the camera engine. Requests are translated into engine
// requests and executed synchronously; engine events are broadcast to
// WebSocket clients on the camera.capture, camera.download and camera.error
// channels.
//
// # Security
//
// Callers exchange a pre-shared key for a short-lived JWT at POST /auth/token.
// The operator key grants every permission; the observer key is read-only.
// WebSocket connections use single-use tickets to keep tokens out of URLs.
//
// # Graceful Degradation
//
// The server operates without the ledger or the audit trail; their
// endpoints then answer 503. Camera endpoints report the engine's error when the device is
// unreachable.
package api
