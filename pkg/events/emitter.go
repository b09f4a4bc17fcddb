// Package events handles event emission for link graph changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Publisher delivers one serialized event. key keeps events for the same record ordered.
type Publisher interface {
	PublishEvent(ctx context.Context, key string, eventType string, payload any) error
}

// Emitter handles event emission for Clover. A nil publisher drops every event.
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
	}
}

// EmitLinkUpserted emits a link.upserted event
func (e *Emitter) EmitLinkUpserted(ctx context.Context, link *models.Link) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitLinkUpserted")
	defer span.End()

	return e.publish(ctx, link.Key().String(), newLinkEvent(ctx, EventTypeLinkUpserted, link))
}

// EmitLinkDeleted emits a link.deleted event
func (e *Emitter) EmitLinkDeleted(ctx context.Context, link *models.Link) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitLinkDeleted")
	defer span.End()

	return e.publish(ctx, link.Key().String(), newLinkEvent(ctx, EventTypeLinkDeleted, link))
}

// EmitGoldenCreated emits a golden.created event for a golden record created from sourceID
func (e *Emitter) EmitGoldenCreated(ctx context.Context, golden *models.Resource, sourceID string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitGoldenCreated")
	defer span.End()

	event := &GoldenEvent{
		BaseEvent:    NewBaseEvent(ctx, EventTypeGoldenCreated),
		GoldenID:     golden.ID,
		ResourceType: golden.ResourceType,
		Data:         json.RawMessage(golden.Data),
		SourceID:     sourceID,
	}
	return e.publish(ctx, golden.ID, event)
}

// EmitGoldenDeleted emits a golden.deleted event
func (e *Emitter) EmitGoldenDeleted(ctx context.Context, goldenID string, resourceType string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitGoldenDeleted")
	defer span.End()

	event := &GoldenEvent{
		BaseEvent:    NewBaseEvent(ctx, EventTypeGoldenDeleted),
		GoldenID:     goldenID,
		ResourceType: resourceType,
	}
	return e.publish(ctx, goldenID, event)
}

// EmitLinksCleared emits one links.cleared event summarising a committed clear
func (e *Emitter) EmitLinksCleared(ctx context.Context, summary models.ClearSummary, goldenIDs []string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitLinksCleared")
	defer span.End()

	event := &LinksClearedEvent{
		BaseEvent:            NewBaseEvent(ctx, EventTypeLinksCleared),
		ResourceType:         summary.ResourceType,
		LinksRemoved:         summary.LinksRemoved,
		GoldenRecordsRemoved: summary.GoldenRecordsRemoved,
		GoldenIDs:            goldenIDs,
	}

	key := summary.ResourceType
	if key == "" {
		key = "*"
	}
	return e.publish(ctx, key, event)
}

func (e *Emitter) publish(ctx context.Context, key string, event any) error {
	if e == nil || e.publisher == nil {
		return nil
	}

	eventType := eventTypeOf(event)
	if err := e.publisher.PublishEvent(ctx, key, string(eventType), event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_type": eventType,
			"key":        key,
		}).Error("Failed to emit event")
		return err
	}
	return nil
}

func newLinkEvent(ctx context.Context, eventType EventType, link *models.Link) *LinkEvent {
	return &LinkEvent{
		BaseEvent:    NewBaseEvent(ctx, eventType),
		LinkID:       link.ID,
		GoldenID:     link.GoldenID,
		SourceID:     link.SourceID,
		SourceType:   link.SourceType,
		SourceGolden: link.SourceGolden,
		MatchOutcome: string(link.MatchOutcome),
		LinkSource:   string(link.LinkSource),
		Score:        link.Score,
		Version:      link.Version,
	}
}

func eventTypeOf(event any) EventType {
	switch ev := event.(type) {
	case *LinkEvent:
		return ev.EventType
	case *GoldenEvent:
		return ev.EventType
	case *LinksClearedEvent:
		return ev.EventType
	}
	return ""
}
