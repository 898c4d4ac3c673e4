package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/justprosound/devreg/pkg/models"
)

// GetDevice returns a canonical device by ID.
func (r *Registry) GetDevice(ctx context.Context, deviceID string) (*models.CanonicalDevice, error) {
	return r.db.GetDevice(ctx, deviceID)
}

// GetDevicesByIP returns the live devices registered at an IP.
func (r *Registry) GetDevicesByIP(ctx context.Context, ip string) ([]*models.CanonicalDevice, error) {
	return r.db.GetDevicesByIP(ctx, ip)
}

// ListDevices pages through canonical devices by recency.
func (r *Registry) ListDevices(ctx context.Context, limit, offset int) ([]*models.CanonicalDevice, error) {
	return r.db.ListDevices(ctx, limit, offset)
}

// RetireDevice soft-retires a canonical record. Retired devices drop out of
// match lookups but stay queryable for movement history.
func (r *Registry) RetireDevice(ctx context.Context, deviceID string) error {
	if err := r.db.RetireDevice(ctx, deviceID, time.Now().UTC()); err != nil {
		return fmt.Errorf("retire device %s: %w", deviceID, err)
	}

	r.logger.Info().Str("device_id", deviceID).Msg("Device retired")

	return nil
}

// GetQueueEntry returns a discovery queue entry by ID.
func (r *Registry) GetQueueEntry(ctx context.Context, entryID string) (*models.DiscoveryQueueEntry, error) {
	return r.db.GetQueueEntry(ctx, entryID)
}

// ListQueueEntries returns queue entries matching the filter.
func (r *Registry) ListQueueEntries(ctx context.Context, filter *models.QueueFilter) ([]*models.DiscoveryQueueEntry, error) {
	return r.db.ListQueueEntries(ctx, filter)
}

// ListPendingQueueEntries returns pending entries, optionally narrowed by
// manufacturer and classification through filter.
func (r *Registry) ListPendingQueueEntries(ctx context.Context, filter *models.QueueFilter) ([]*models.DiscoveryQueueEntry, error) {
	if filter == nil {
		filter = &models.QueueFilter{}
	}

	filter.Status = models.QueueStatusPending

	return r.db.ListQueueEntries(ctx, filter)
}

// ListMovementEntries returns a device's movement history, newest first.
func (r *Registry) ListMovementEntries(ctx context.Context, deviceID string, limit int) ([]*models.DeviceMovementLogEntry, error) {
	return r.db.ListMovementEntries(ctx, deviceID, limit)
}

// AcknowledgeMovement marks a movement log entry acknowledged.
func (r *Registry) AcknowledgeMovement(ctx context.Context, entryID string) (*models.DeviceMovementLogEntry, error) {
	if err := r.db.AcknowledgeMovement(ctx, entryID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("acknowledge movement %s: %w", entryID, err)
	}

	return r.db.GetMovementEntry(ctx, entryID)
}
