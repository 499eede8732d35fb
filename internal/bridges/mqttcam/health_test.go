package mqttcam

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nerrad567/payload-core/internal/camera"
)

type staticHealth camera.Health

func (s staticHealth) Health() camera.Health { return camera.Health(s) }

func TestDetermineStatus(t *testing.T) {
	tests := []struct {
		name       string
		mqttUp     bool
		camera     HealthSource
		wantStatus HealthStatus
	}{
		{"mqtt down", false, staticHealth{Running: true, Connected: true}, HealthDegraded},
		{"no engine", true, nil, HealthUnhealthy},
		{"engine stopped", true, staticHealth{}, HealthUnhealthy},
		{"camera disconnected", true, staticHealth{Running: true}, HealthDegraded},
		{"healthy", true, staticHealth{Running: true, Connected: true}, HealthHealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := NewMockMQTTClient()
			pub.connected = tt.mqttUp
			h := NewHealthReporter(HealthReporterConfig{Publisher: pub, Camera: tt.camera})
			if got, _ := h.determineStatus(); got != tt.wantStatus {
				t.Errorf("status = %s, want %s", got, tt.wantStatus)
			}
		})
	}
}

func TestHealthReporterPeriodic(t *testing.T) {
	pub := NewMockMQTTClient()
	h := NewHealthReporter(HealthReporterConfig{
		BridgeID:  BridgeID,
		Version:   "dev",
		Interval:  10 * time.Millisecond,
		Publisher: pub,
		Camera:    staticHealth{Running: true, Connected: true, Captures: 4},
		Stats:     func() Statistics { return Statistics{CommandsReceived: 9} },
	})
	h.Start(context.Background())
	msgs := pub.waitFor(t, "payload/health/camera", 3)
	h.Stop()
	h.Stop()

	var msg HealthMessage
	if err := json.Unmarshal(msgs[0].Payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Bridge != BridgeID || msg.Camera.Captures != 4 || msg.Statistics.CommandsReceived != 9 {
		t.Errorf("health = %+v", msg)
	}
	if msgs[0].QoS != 1 || !msgs[0].Retained {
		t.Errorf("qos=%d retained=%v", msgs[0].QoS, msgs[0].Retained)
	}
}

func TestHealthReporterWithoutPublisher(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{})
	if err := h.PublishNow(); err != nil {
		t.Errorf("PublishNow without publisher: %v", err)
	}
	if h.interval != defaultHealthInterval {
		t.Errorf("interval = %s", h.interval)
	}
}
