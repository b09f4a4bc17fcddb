package kafka

import (
	"encoding/json"
	"errors"
	"time"
)

const (
	HeaderEventType   = "event_type"
	HeaderTraceParent = "traceparent"

	// EventTypeResourceDeleted announces that a source resource was removed upstream
	EventTypeResourceDeleted = "resource.deleted"
)

// ErrUnsupportedMessage is returned for messages the consumer does not understand
var ErrUnsupportedMessage = errors.New("unsupported message")

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	// Parsed content
	Deletion *ResourceDeletedMessage
}

// ResourceDeletedMessage asks for a source resource and its links to be removed
type ResourceDeletedMessage struct {
	EventType    string `json:"event_type"`
	ResourceID   string `json:"resource_id"`
	ResourceType string `json:"resource_type,omitempty"`
}

// TraceParent returns the W3C traceparent header, if the producer set one
func (m *IncomingMessage) TraceParent() string {
	return m.Headers[HeaderTraceParent]
}

// Parse decodes the message into one of the supported shapes: a resource.deleted event or a
// Debezium delete of the resources table. Anything else yields ErrUnsupportedMessage.
func (m *IncomingMessage) Parse() error {
	if m.Headers[HeaderEventType] == EventTypeResourceDeleted || !isDebezium(m.Value) {
		var del ResourceDeletedMessage
		if err := json.Unmarshal(m.Value, &del); err != nil {
			return err
		}
		if del.EventType == "" {
			del.EventType = m.Headers[HeaderEventType]
		}
		if del.EventType != EventTypeResourceDeleted || del.ResourceID == "" {
			return ErrUnsupportedMessage
		}
		m.Deletion = &del
		return nil
	}

	del, err := parseDebeziumDeletion(m.Value)
	if err != nil {
		return err
	}
	m.Deletion = del
	return nil
}
