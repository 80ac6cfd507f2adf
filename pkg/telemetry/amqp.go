package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultAlertMessage is the SMS body sent to the emergency contact.
const DefaultAlertMessage = "This is an emergency alert from your assistive device. Immediate attention needed."

// ErrNoNumber is returned when an alert has no destination number.
var ErrNoNumber = errors.New("telemetry: alert has no destination number")

// Alert is an emergency SMS request handed to the gateway.
type Alert struct {
	ID      string    `json:"id"`
	Number  string    `json:"number"`
	Message string    `json:"message"`
	Lat     *float64  `json:"lat,omitempty"`
	Lon     *float64  `json:"lon,omitempty"`
	At      time.Time `json:"at"`
}

// amqpChannel is the part of *amqp.Channel the alerter uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// dialFunc opens a channel with the alert exchange declared. It returns a
// closer for the underlying connection.
type dialFunc func(url, exchange string) (amqpChannel, func() error, error)

// AMQPAlerter publishes alerts to a topic exchange consumed by the SMS
// gateway. The connection is opened lazily and re-opened after a failure.
type AMQPAlerter struct {
	url        string
	exchange   string
	routingKey string
	dial       dialFunc
	logger     *slog.Logger

	mu        sync.Mutex
	ch        amqpChannel
	closeConn func() error
}

// NewAMQPAlerter returns an alerter for the given broker.
func NewAMQPAlerter(url, exchange, routingKey string, logger *slog.Logger) *AMQPAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQPAlerter{
		url:        url,
		exchange:   exchange,
		routingKey: routingKey,
		dial:       dialAMQP,
		logger:     logger.With("component", "telemetry.amqp", "exchange", exchange),
	}
}

func dialAMQP(url, exchange string) (amqpChannel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("telemetry: amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("telemetry: declare exchange %q: %w", exchange, err)
	}
	return ch, conn.Close, nil
}

// SendAlert publishes alert as a persistent JSON message.
func (a *AMQPAlerter) SendAlert(ctx context.Context, alert Alert) error {
	if alert.Number == "" {
		return ErrNoNumber
	}
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.Message == "" {
		alert.Message = DefaultAlertMessage
	}
	if alert.At.IsZero() {
		alert.At = time.Now()
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("telemetry: encode alert: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ch == nil {
		ch, closer, err := a.dial(a.url, a.exchange)
		if err != nil {
			return err
		}
		a.ch, a.closeConn = ch, closer
	}

	err = a.ch.PublishWithContext(ctx, a.exchange, a.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    alert.ID,
		Timestamp:    alert.At,
		Body:         body,
	})
	if err != nil {
		a.logger.Warn("alert publish failed, resetting connection", "alert_id", alert.ID, "error", err)
		a.resetLocked()
		return fmt.Errorf("telemetry: publish alert: %w", err)
	}

	a.logger.Info("emergency alert published", "alert_id", alert.ID)
	return nil
}

func (a *AMQPAlerter) resetLocked() {
	if a.ch != nil {
		a.ch.Close()
	}
	if a.closeConn != nil {
		a.closeConn()
	}
	a.ch, a.closeConn = nil, nil
}

// Close releases the connection.
func (a *AMQPAlerter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
	return nil
}
