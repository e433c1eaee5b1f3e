// Playlytics - Embedded Playback Telemetry for Media Applications
// Copyright 2026 Playlytics contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playlytics/playlytics

package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/playlytics/playlytics/internal/event"
	"github.com/playlytics/playlytics/internal/logging"
	"github.com/playlytics/playlytics/internal/metrics"
)

// TopicPrefix namespaces all published telemetry subjects.
const TopicPrefix = "telemetry"

// Topic returns the publish subject for an event.
// Format: telemetry.<category>.<action>
// Example: telemetry.playback.complete
func Topic(ev *event.Event) string {
	return TopicPrefix + "." + string(ev.Data.Category) + "." + ev.Type.Action()
}

// PublisherTransport fans a batch out through a watermill publisher, one
// message per event, preserving batch order. Used with the NATS JetStream
// publisher in production and the in-process gochannel Pub/Sub in tests.
type PublisherTransport struct {
	publisher message.Publisher
}

// NewPublisher wraps the given watermill publisher.
func NewPublisher(pub message.Publisher) *PublisherTransport {
	return &PublisherTransport{publisher: pub}
}

// Send publishes each event of the batch in order. The first publish error
// fails the whole batch so the engine re-queues it; JetStream deduplicates
// replays by message UUID (the event ID).
func (t *PublisherTransport) Send(ctx context.Context, events []*event.Event) error {
	for i, ev := range events {
		payload, err := ev.JSON()
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", ev.EventID, err)
		}

		msg := message.NewMessage(ev.EventID, payload)
		msg.SetContext(ctx)
		msg.Metadata.Set("event_type", string(ev.Type))
		msg.Metadata.Set("session_id", ev.SessionID)
		if id := logging.CorrelationIDFromContext(ctx); id != "" {
			msg.Metadata.Set("correlation_id", id)
		}

		if err := t.publisher.Publish(Topic(ev), msg); err != nil {
			metrics.FlushErrors.WithLabelValues("publisher").Inc()
			return fmt.Errorf("publish event %d/%d: %w", i+1, len(events), err)
		}
	}

	log := logging.Ctx(ctx)
	log.Debug().Int("count", len(events)).Msg("batch published")
	return nil
}

// Close releases the underlying publisher.
func (t *PublisherTransport) Close() error {
	return t.publisher.Close()
}
