package haptic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-wayfinder/internal/httpc"
)

// ErrNotConnected is returned when the MQTT client is offline.
var ErrNotConnected = errors.New("haptic: mqtt not connected")

// Payload returns the actuator body for a state.
func Payload(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// HTTPActuator posts "on"/"off" to the ESP32 vibration endpoint.
type HTTPActuator struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPActuator creates an HTTPActuator for url.
func NewHTTPActuator(url string, timeout time.Duration) *HTTPActuator {
	return &HTTPActuator{
		url:     url,
		client:  httpc.NewClient(timeout),
		timeout: timeout,
	}
}

// Set implements Actuator.
func (a *HTTPActuator) Set(ctx context.Context, on bool) error {
	return httpc.PostText(ctx, a.client, a.url, Payload(on), a.timeout)
}

// MQTTActuator publishes "on"/"off" to a topic the wearable subscribes to.
type MQTTActuator struct {
	client  mqtt.Client
	topic   string
	qos     byte
	timeout time.Duration
	logger  *slog.Logger
}

// NewMQTTActuator creates an actuator on an already-connected client.
func NewMQTTActuator(client mqtt.Client, topic string, qos byte, timeout time.Duration) *MQTTActuator {
	return &MQTTActuator{
		client:  client,
		topic:   topic,
		qos:     qos,
		timeout: timeout,
		logger:  slog.Default().With("component", "haptic.mqtt", "topic", topic),
	}
}

// Set implements Actuator. The message is retained so a reconnecting
// board picks up the current state.
func (a *MQTTActuator) Set(ctx context.Context, on bool) error {
	if !a.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := a.client.Publish(a.topic, a.qos, true, Payload(on))
	timeout := a.timeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(dl))
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("haptic: publish to %s timed out", a.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("haptic: publish to %s: %w", a.topic, err)
	}
	a.logger.Debug("published", "on", on)
	return nil
}
