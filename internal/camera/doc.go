// Package camera implements the camera control engine for the payload core.
//
// The engine drives a single vendor camera (Sony SDIO extension of PTP) over
// a command/event transport. It schedules captures, tracks device properties
// and retrieves images while the link latency is unpredictable.
//
// # Architecture
//
//	          ┌──────────────┐   Request    ┌───────────────┐
//	bridge ──►│   Dispatch   │─────────────►│   Handlers    │
//	api    ──►│     loop     │              │ capture/zoom… │
//	          └──────────────┘              └──────┬────────┘
//	                                               │ Enter/Guard
//	┌──────────────┐  Recv   ┌──────────────┐      ▼
//	│ Event poller │────────►│  Serializer  │◄─────┘
//	└──────┬───────┘         │ worker+cache │──────► Transport
//	       │ Bus[Event]      └──────────────┘
//	       ▼
//	download loop, capture confirmation
//
// All transport I/O goes through the Interface serializer: a one-permit
// admission gate plus a single worker goroutine that owns the transport and
// the property cache. At most one transaction is in flight at any time.
//
// # Convergence
//
// Device properties are not applied synchronously. Interface.Ensure sets a
// property, refreshes the cache and re-reads until the device reports the
// target value or the attempt budget runs out.
//
// # Thread Safety
//
// Engine, Interface and Bus are safe for concurrent use. The property cache
// is only touched by the serializer worker.
package camera
