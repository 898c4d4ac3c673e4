package registry

import (
	"context"

	"github.com/justprosound/devreg/pkg/models"
)

// EventSink receives device events emitted after successful commits and
// queue routings. Publish failures must not fail the originating
// operation; the registry logs and moves on.
type EventSink interface {
	PublishDeviceEvent(ctx context.Context, event *models.DeviceEventData) error
}

type noopEventSink struct{}

func (noopEventSink) PublishDeviceEvent(context.Context, *models.DeviceEventData) error {
	return nil
}

func (r *Registry) publish(ctx context.Context, event *models.DeviceEventData) {
	if err := r.sink.PublishDeviceEvent(ctx, event); err != nil {
		r.logger.Warn().Err(err).
			Str("event_type", string(event.Type)).
			Str("device_id", event.DeviceID).
			Msg("Failed to publish device event")
	}
}
