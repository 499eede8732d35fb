// Package mqttcam bridges the camera engine to MQTT.
//
// Commands arrive on payload/command/camera/{id} and are queued on the
// engine in arrival order. Each command is acknowledged twice on
// payload/ack/camera/{id}: "accepted" (or "rejected") when it is queued,
// then "completed", "failed" or "timeout" when the engine replies.
// Requests on payload/request/camera/{request_id} are answered on
// payload/response/camera/{request_id}.
//
// Engine events are forwarded as they happen:
//
//	payload/event/camera/capture   JSON EventMessage
//	payload/event/camera/error     JSON EventMessage
//	payload/event/camera/download  CBOR DownloadEnvelope
//
// Status snapshots are retained on payload/state/camera/status and bridge
// health on payload/health/camera. When a MetricsWriter is configured the
// same events feed InfluxDB.
package mqttcam
