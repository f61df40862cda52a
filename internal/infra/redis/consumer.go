package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oybaeko/HubSpotPipeline/internal/core/domain"
	"github.com/oybaeko/HubSpotPipeline/internal/pipeline/metrics"
)

// Handler processes one decoded snapshot event. Handlers must be idempotent:
// the stream redelivers on missing acknowledgment.
type Handler func(ctx context.Context, event domain.SnapshotEvent) error

// Consumer reads snapshot events from the stream through a consumer group.
type Consumer struct {
	rdb      *redis.Client
	stream   string
	group    string
	consumer string
	log      *slog.Logger
}

// NewConsumer creates a consumer bound to a group. An empty group or consumer
// name falls back to defaults.
func NewConsumer(client *Client, cfg Config, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	stream := cfg.Stream
	if stream == "" {
		stream = DefaultStream
	}
	group := cfg.Group
	if group == "" {
		group = DefaultGroup
	}
	consumer := cfg.Consumer
	if consumer == "" {
		consumer = "scoring-1"
	}
	return &Consumer{
		rdb:      client.rdb,
		stream:   stream,
		group:    group,
		consumer: consumer,
		log:      log,
	}
}

// Run consumes events until ctx is done. A handler error leaves the message
// unacknowledged so the group redelivers it; decode failures are acked and
// dropped since redelivery cannot fix them.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	c.log.Info("event consumer started",
		"stream", c.stream, "group", c.group, "consumer", c.consumer)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{c.stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("event read failed, backing off", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.handleMessage(ctx, msg, handle)
			}
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg redis.XMessage, handle Handler) {
	event, err := decodeMessage(msg)
	if err != nil {
		c.log.Error("dropping undecodable event", "message_id", msg.ID, "error", err)
		metrics.EventsConsumed.WithLabelValues("undecodable").Inc()
		c.ack(ctx, msg.ID)
		return
	}

	if err := handle(ctx, event); err != nil {
		// Leave unacked: the event system redelivers, the registry CAS
		// keeps the retry harmless.
		c.log.Error("event handling failed, leaving for redelivery",
			"message_id", msg.ID, "snapshot_id", event.Data.SnapshotID, "error", err)
		metrics.EventsConsumed.WithLabelValues("failed").Inc()
		return
	}

	metrics.EventsConsumed.WithLabelValues("handled").Inc()
	c.ack(ctx, msg.ID)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.rdb.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		c.log.Warn("failed to ack event", "message_id", id, "error", err)
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

func decodeMessage(msg redis.XMessage) (domain.SnapshotEvent, error) {
	var event domain.SnapshotEvent
	raw, ok := msg.Values["payload"]
	if !ok {
		return event, fmt.Errorf("message %s has no payload", msg.ID)
	}
	s, ok := raw.(string)
	if !ok {
		return event, fmt.Errorf("message %s payload has unexpected type %T", msg.ID, raw)
	}
	if err := json.Unmarshal([]byte(s), &event); err != nil {
		return event, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return event, nil
}
