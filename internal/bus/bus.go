// Package bus provides event bus implementations for Harrier.
package bus

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	// ErrClosed is returned by operations on a closed bus.
	ErrClosed = errors.New("bus is closed")

	// ErrBackpressure is returned when a subscriber's buffer is full and the
	// message could not be delivered to it.
	ErrBackpressure = errors.New("subscriber buffer full")
)

// New creates a new event bus based on configuration.
// "channel" keeps messages in process; "nats" connects to a NATS server.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// MetadataReplyTo names the topic a responder publishes its answer to when a
// message was sent with Request.
const MetadataReplyTo = "reply_to"

// ReplyTopic returns the reply topic of a request message.
func ReplyTopic(msg *domain.Message) (string, bool) {
	if msg == nil || msg.Metadata == nil {
		return "", false
	}
	topic, ok := msg.Metadata[MetadataReplyTo]
	return topic, ok && topic != ""
}

func newMessage(topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}
