// Package mqtt connects the payload computer to its MQTT broker.
//
// The broker is the bus between this process and the ground segment:
// commands and requests come in, while acks, responses, camera events
// and health go out. The client reconnects automatically, restores its
// subscriptions and keeps a retained online/offline status (with a will
// message) on payload/system/status.
//
// Topic layout, built with Topics:
//
//	payload/command/camera/{id}       inbound command
//	payload/ack/camera/{id}           command acknowledgement
//	payload/request/camera/{id}       inbound read request
//	payload/response/camera/{id}      read response
//	payload/state/camera/status       retained engine state
//	payload/event/camera/{kind}       capture, download, error
//	payload/health/camera             periodic health
//
// Usage:
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package mqtt
