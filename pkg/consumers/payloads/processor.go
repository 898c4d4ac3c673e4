package payloads

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/justprosound/devreg/pkg/identity"
	"github.com/justprosound/devreg/pkg/logger"
	"github.com/justprosound/devreg/pkg/models"
	"github.com/justprosound/devreg/pkg/registry"
)

var (
	ErrEmptyMessage = errors.New("empty message received")
	ErrUnmarshal    = errors.New("failed to unmarshal payload")
)

// Processor feeds decoded raw payloads into the reconciliation pipeline.
type Processor struct {
	registry     registry.Manager
	manufacturer string
	logger       logger.Logger
}

// NewProcessor creates a processor tagging untagged payloads with
// manufacturer.
func NewProcessor(manufacturer string, manager registry.Manager, log logger.Logger) *Processor {
	return &Processor{registry: manager, manufacturer: manufacturer, logger: log}
}

// Process handles one JetStream message. Malformed payloads are logged and
// swallowed so they are acked rather than redelivered forever.
func (p *Processor) Process(ctx context.Context, msg jetstream.Msg) error {
	return p.processData(ctx, msg.Data())
}

func (p *Processor) processData(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return ErrEmptyMessage
	}

	var payload models.RawPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to unmarshal payload")
		return ErrUnmarshal
	}

	if payload.Manufacturer == "" {
		payload.Manufacturer = p.manufacturer
	}

	if payload.ReceivedAt.IsZero() {
		payload.ReceivedAt = time.Now().UTC()
	}

	resolution, err := p.registry.ProcessPayload(ctx, &payload)
	if err != nil {
		if errors.Is(err, identity.ErrMalformedPayload) {
			p.logger.Warn().
				Str("manufacturer", payload.ManufacturerCode()).
				Msg("Skipping payload with no extractable match key")

			return nil
		}

		return err
	}

	p.logger.Debug().
		Str("classification", string(resolution.Classification)).
		Str("device_id", resolution.DeviceID).
		Str("queue_entry_id", resolution.QueueEntryID).
		Msg("Payload resolved")

	return nil
}
