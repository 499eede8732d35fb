// Package auth provides authentication and authorisation for the payload
// API.
//
// Callers present a pre-shared key at /auth/token and receive a JWT
// access token carrying their role:
//   - observer: read-only access to status, listings and the ledger
//   - operator: full camera control, including reset and initialize
//
// Role-permission mapping is static, with no database lookup.
package auth
