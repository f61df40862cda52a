package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/oybaeko/HubSpotPipeline/internal/core/domain"
	"github.com/oybaeko/HubSpotPipeline/internal/pipeline/metrics"
)

// EventSource identifies this service in published envelopes.
const EventSource = "crm-ingest"

// Publisher appends snapshot events to the Redis stream. Delivery to
// consumers is at-least-once; the publisher never blocks on consumer
// acknowledgment.
type Publisher struct {
	rdb    *redis.Client
	stream string
}

// NewPublisher creates a stream publisher on the given client.
func NewPublisher(client *Client, stream string) *Publisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &Publisher{rdb: client.rdb, stream: stream}
}

// PublishSnapshotCompleted publishes the ingest-completion event for a
// snapshot. Invoked once, synchronously, right after the registry reaches
// ingest_completed.
func (p *Publisher) PublishSnapshotCompleted(
	ctx context.Context,
	snapshotID string,
	counts map[domain.EntityKind]int,
) error {
	return p.publish(ctx, domain.SnapshotEvent{
		ID:        uuid.New().String(),
		Type:      domain.EventSnapshotCompleted,
		Version:   domain.EventVersion,
		Source:    EventSource,
		Timestamp: time.Now().UTC(),
		Data: domain.SnapshotEventData{
			SnapshotID:   snapshotID,
			RecordCounts: counts,
		},
	})
}

// PublishSnapshotFailed publishes an ingest-failure event. Failures of the
// publish itself are reported but must not fail the ingest run.
func (p *Publisher) PublishSnapshotFailed(
	ctx context.Context,
	snapshotID string,
	cause string,
) error {
	return p.publish(ctx, domain.SnapshotEvent{
		ID:        uuid.New().String(),
		Type:      domain.EventSnapshotFailed,
		Version:   domain.EventVersion,
		Source:    EventSource,
		Timestamp: time.Now().UTC(),
		Data: domain.SnapshotEventData{
			SnapshotID: snapshotID,
			Error:      cause,
		},
	})
}

func (p *Publisher) publish(ctx context.Context, event domain.SnapshotEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"type":    string(event.Type),
			"payload": payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}

	metrics.EventsPublished.WithLabelValues(string(event.Type)).Inc()
	return nil
}
