// Package events publishes entity change notifications over MQTT.
//
// Events are fire-and-forget: sibling services that care about identity
// changes subscribe to the topics, and a broker outage never fails the
// authentication flow that produced the event.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/trysts/auth-core/internal/infrastructure/mqtt"
)

// Event types published by the auth core.
const (
	UserCreated  = "user_created"
	UserUpdated  = "user_updated"
	TokenRotated = "token_rotated"
	TokenRevoked = "token_revoked"
)

// publisher is the slice of the MQTT client the bus needs.
type publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger is the logging interface the bus reports failures through.
type Logger interface {
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// envelope is the wire format for published events.
type envelope struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Bus publishes auth events. A nil Bus or a Bus with no client is a
// valid no-op, so callers never need to check whether MQTT is enabled.
type Bus struct {
	client publisher
	qos    byte
	logger Logger
	topics mqtt.Topics
}

// NewBus creates a Bus over an MQTT client. Pass a nil client to
// disable publishing.
func NewBus(client *mqtt.Client, qos byte, logger Logger) *Bus {
	b := &Bus{qos: qos, logger: logger}
	if client != nil {
		b.client = client
	}
	return b
}

// Publish emits an event. Failures are logged and swallowed.
func (b *Bus) Publish(eventType string, data interface{}) {
	if b == nil || b.client == nil {
		return
	}

	payload, err := json.Marshal(envelope{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		b.logger.Warn("marshalling event failed", "type", eventType, "error", err)
		return
	}

	topic := b.topics.Event(eventType)
	if err := b.client.Publish(topic, payload, b.qos, false); err != nil {
		b.logger.Warn("publishing event failed", "topic", topic, "error", err)
		return
	}

	b.logger.Debug("event published", "topic", topic, "type", eventType)
}
