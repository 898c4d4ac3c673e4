/*
 * Copyright 2026 JustProSound.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package natsutil provides NATS JetStream helpers: connection setup and a
// CloudEvents publisher for registry device events.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/justprosound/devreg/pkg/logger"
	"github.com/justprosound/devreg/pkg/models"
)

const eventSource = "devreg/registry"

// EventPublisher publishes registry device events as CloudEvents v1.0
// envelopes to NATS JetStream. It satisfies the registry's EventSink.
type EventPublisher struct {
	js     jetstream.JetStream
	stream string
	logger logger.Logger
}

// NewEventPublisher creates a publisher targeting the given stream.
func NewEventPublisher(js jetstream.JetStream, streamName string, log logger.Logger) *EventPublisher {
	return &EventPublisher{
		js:     js,
		stream: streamName,
		logger: log,
	}
}

// PublishDeviceEvent publishes one device event to its type's subject.
func (p *EventPublisher) PublishDeviceEvent(ctx context.Context, data *models.DeviceEventData) error {
	subject := subjectForEventType(data.Type)

	timestamp := data.Timestamp

	event := models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          eventSource,
		Type:            "com.justprosound.devreg." + string(data.Type),
		DataContentType: "application/json",
		Subject:         subject,
		Time:            &timestamp,
		Data:            data,
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal device event: %w", err)
	}

	ack, err := p.js.Publish(ctx, subject, eventBytes)
	if err != nil {
		return fmt.Errorf("failed to publish device event: %w", err)
	}

	p.logger.Debug().
		Str("event_id", event.ID).
		Str("subject", subject).
		Uint64("sequence", ack.Sequence).
		Msg("Published device event")

	return nil
}

func subjectForEventType(eventType models.DeviceEventType) string {
	switch eventType {
	case models.EventDeviceRegistered:
		return "events.device.registered"
	case models.EventDeviceUpdated:
		return "events.device.updated"
	case models.EventDeviceMovementDetected:
		return "events.device.movement"
	case models.EventDeviceConflictQueued:
		return "events.device.conflict"
	default:
		return "events.device.unknown"
	}
}

// Connect establishes a NATS connection with logging handlers attached.
func Connect(natsURL string, log logger.Logger, extraOpts ...nats.Option) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.ConnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	opts = append(opts, extraOpts...)

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return nc, nil
}

// NewJetStream creates a JetStream context, honoring an optional domain.
func NewJetStream(nc *nats.Conn, domain string) (jetstream.JetStream, error) {
	if domain != "" {
		js, err := jetstream.NewWithDomain(nc, domain)
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream context with domain %s: %w", domain, err)
		}

		return js, nil
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return js, nil
}

// CreateEventPublisher creates an EventPublisher over an existing
// connection, ensuring the target stream exists.
func CreateEventPublisher(ctx context.Context, nc *nats.Conn, domain, streamName string, subjects []string, log logger.Logger) (*EventPublisher, error) {
	js, err := NewJetStream(nc, domain)
	if err != nil {
		return nil, err
	}

	if _, err = js.Stream(ctx, streamName); err != nil {
		if len(subjects) == 0 {
			subjects = []string{"events.device.*"}
		}

		streamConfig := jetstream.StreamConfig{
			Name:     streamName,
			Subjects: subjects,
		}

		if _, err = js.CreateOrUpdateStream(ctx, streamConfig); err != nil {
			return nil, fmt.Errorf("failed to create or get stream %s: %w", streamName, err)
		}

		log.Info().Str("stream", streamName).Msg("Created NATS JetStream stream")
	}

	return NewEventPublisher(js, streamName, log), nil
}
