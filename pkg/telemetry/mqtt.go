// Package telemetry ships wearable events off the device: MQTT for the
// event stream and AMQP for emergency alerts bound for the SMS gateway.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-wayfinder/pkg/protocol"
)

// ConnectTimeout bounds the initial broker connection.
const ConnectTimeout = 5 * time.Second

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Logger      *slog.Logger
}

// StatusTopic is where the retained online/offline marker lives.
func (c MQTTConfig) StatusTopic() string {
	return c.TopicPrefix + "/status"
}

// NewMQTTClient builds a client with auto-reconnect and an offline last
// will. It does not connect.
func NewMQTTClient(cfg MQTTConfig) mqtt.Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "telemetry.mqtt", "broker", cfg.Broker)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetWill(cfg.StatusTopic(), "offline", 1, true)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logger.Info("connected")
		c.Publish(cfg.StatusTopic(), 1, true, "online")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("connection lost", "error", err)
	})

	return mqtt.NewClient(opts)
}

// Connect connects client, waiting at most timeout.
func Connect(client mqtt.Client, timeout time.Duration) error {
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("telemetry: mqtt connect timed out after %s", timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("telemetry: mqtt connect: %w", err)
	}
	return nil
}

// MQTTStats counts publish outcomes.
type MQTTStats struct {
	Published uint64 `json:"published"`
	Skipped   uint64 `json:"skipped"`
	Failed    uint64 `json:"failed"`
}

// MQTTPublisher forwards bus events to <prefix>/events/<type>.
type MQTTPublisher struct {
	client mqtt.Client
	cfg    MQTTConfig
	logger *slog.Logger

	published atomic.Uint64
	skipped   atomic.Uint64
	failed    atomic.Uint64
}

// NewMQTTPublisher wraps a (possibly not yet connected) client.
func NewMQTTPublisher(client mqtt.Client, cfg MQTTConfig) *MQTTPublisher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTPublisher{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "telemetry.mqtt"),
	}
}

// Topic returns the topic for a message type.
func (p *MQTTPublisher) Topic(t protocol.MessageType) string {
	return p.cfg.TopicPrefix + "/events/" + string(t)
}

// Publish sends one message. While disconnected the message is skipped;
// the event stream is best effort.
func (p *MQTTPublisher) Publish(msg *protocol.Message) error {
	if !p.client.IsConnectionOpen() {
		p.skipped.Add(1)
		return nil
	}
	payload, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("telemetry: encode %s: %w", msg.Type, err)
	}

	token := p.client.Publish(p.Topic(msg.Type), p.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		p.failed.Add(1)
		return fmt.Errorf("telemetry: publish %s timed out", msg.Type)
	}
	if err := token.Error(); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("telemetry: publish %s: %w", msg.Type, err)
	}
	p.published.Add(1)
	return nil
}

// Run publishes every message from in until ctx is cancelled or in is
// closed, then marks the device offline and disconnects.
func (p *MQTTPublisher) Run(ctx context.Context, in <-chan *protocol.Message) error {
	defer p.close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			if err := p.Publish(msg); err != nil {
				p.logger.Warn("publish failed", "error", err)
			}
		}
	}
}

func (p *MQTTPublisher) close() {
	if p.client.IsConnectionOpen() {
		p.client.Publish(p.cfg.StatusTopic(), 1, true, "offline").WaitTimeout(time.Second)
	}
	p.client.Disconnect(250)
}

// Stats returns publish counters.
func (p *MQTTPublisher) Stats() MQTTStats {
	return MQTTStats{
		Published: p.published.Load(),
		Skipped:   p.skipped.Load(),
		Failed:    p.failed.Load(),
	}
}
