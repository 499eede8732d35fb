// Package ledger keeps a durable record of capture attempts and image
// downloads in SQLite.
//
// Only metadata is stored. A Recorder subscribes to the camera engine's
// outbound stream, so captures requested over MQTT, over the HTTP API
// or by the interval timer all land in the same tables.
package ledger
