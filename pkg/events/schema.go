package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/clover/pkg/context"
)

// EventType defines the type of event
type EventType string

const (
	// Link events
	EventTypeLinkUpserted EventType = "link.upserted"
	EventTypeLinkDeleted  EventType = "link.deleted"

	// Golden record events
	EventTypeGoldenCreated EventType = "golden.created"
	EventTypeGoldenDeleted EventType = "golden.deleted"

	// Bulk events
	EventTypeLinksCleared EventType = "links.cleared"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID       string    `json:"event_id"`
	EventType     EventType `json:"event_type"`
	SchemaVersion string    `json:"schema_version"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Actor         string    `json:"actor,omitempty"`
}

// LinkEvent is emitted when a link is created, updated or removed
type LinkEvent struct {
	BaseEvent
	LinkID       string   `json:"link_id,omitempty"`
	GoldenID     string   `json:"golden_id"`
	SourceID     string   `json:"source_id"`
	SourceType   string   `json:"source_type"`
	SourceGolden bool     `json:"source_golden"`
	MatchOutcome string   `json:"match_outcome,omitempty"`
	LinkSource   string   `json:"link_source,omitempty"`
	Score        *float64 `json:"score,omitempty"`
	Version      int      `json:"version,omitempty"`
}

// GoldenEvent is emitted when a golden record is created or deleted
type GoldenEvent struct {
	BaseEvent
	GoldenID     string          `json:"golden_id"`
	ResourceType string          `json:"resource_type"`
	Data         json.RawMessage `json:"data,omitempty"`
	SourceID     string          `json:"source_id,omitempty"`
}

// LinksClearedEvent is emitted once per committed clear
type LinksClearedEvent struct {
	BaseEvent
	ResourceType         string   `json:"resource_type,omitempty"`
	LinksRemoved         int      `json:"links_removed"`
	GoldenRecordsRemoved int      `json:"golden_records_removed"`
	GoldenIDs            []string `json:"golden_ids,omitempty"`
}

// NewBaseEvent stamps an event with an id, the current time and the request identity carried by ctx
func NewBaseEvent(ctx context.Context, eventType EventType) BaseEvent {
	return BaseEvent{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		SchemaVersion: SchemaVersion,
		Timestamp:     time.Now().UTC(),
		CorrelationID: appctx.GetRequestID(ctx),
		Actor:         appctx.GetActor(ctx),
	}
}
