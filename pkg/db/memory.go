package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/justprosound/devreg/pkg/identity"
	"github.com/justprosound/devreg/pkg/models"
)

// MemoryStore is an in-memory Service used by unit tests and local
// development. It enforces the same uniqueness rules as the Postgres
// schema so callers exercise the ErrConstraintViolation fallback path.
type MemoryStore struct {
	mu        sync.Mutex
	devices   map[string]*models.CanonicalDevice
	queue     map[string]*models.DiscoveryQueueEntry
	movements map[string]*models.DeviceMovementLogEntry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:   make(map[string]*models.CanonicalDevice),
		queue:     make(map[string]*models.DiscoveryQueueEntry),
		movements: make(map[string]*models.DeviceMovementLogEntry),
	}
}

var _ Service = (*MemoryStore)(nil)

func (m *MemoryStore) GetDevice(_ context.Context, deviceID string) (*models.CanonicalDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	device, ok := m.devices[deviceID]
	if !ok {
		return nil, ErrNotFound
	}

	return copyDevice(device), nil
}

func (m *MemoryStore) GetDevicesByMatchKey(_ context.Context, key models.MatchKey) ([]*models.CanonicalDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*models.CanonicalDevice

	for _, device := range m.devices {
		if device.Retired {
			continue
		}

		if deviceHoldsKey(device, key) {
			matched = append(matched, copyDevice(device))
		}
	}

	sortDevices(matched)

	return matched, nil
}

func (m *MemoryStore) GetDevicesByIP(_ context.Context, ip string) ([]*models.CanonicalDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*models.CanonicalDevice

	for _, device := range m.devices {
		if !device.Retired && device.IP == ip {
			matched = append(matched, copyDevice(device))
		}
	}

	sortDevices(matched)

	return matched, nil
}

func (m *MemoryStore) ListDevices(_ context.Context, limit, offset int) ([]*models.CanonicalDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]*models.CanonicalDevice, 0, len(m.devices))
	for _, device := range m.devices {
		all = append(all, copyDevice(device))
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].LastSeen.After(all[j].LastSeen)
	})

	return page(all, limit, offset), nil
}

func (m *MemoryStore) InsertDevice(_ context.Context, device *models.CanonicalDevice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.devices[device.DeviceID]; exists {
		return fmt.Errorf("%w: canonical_devices_pkey", ErrConstraintViolation)
	}

	if err := m.checkUnique(device); err != nil {
		return err
	}

	m.devices[device.DeviceID] = copyDevice(device)

	return nil
}

func (m *MemoryStore) UpdateDevice(_ context.Context, device *models.CanonicalDevice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.devices[device.DeviceID]; !exists {
		return ErrNotFound
	}

	if err := m.checkUnique(device); err != nil {
		return err
	}

	m.devices[device.DeviceID] = copyDevice(device)

	return nil
}

func (m *MemoryStore) RetireDevice(_ context.Context, deviceID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	device, ok := m.devices[deviceID]
	if !ok || device.Retired {
		return ErrNotFound
	}

	device.Retired = true
	retiredAt := at
	device.RetiredAt = &retiredAt

	return nil
}

// checkUnique mirrors the partial unique indexes on live devices.
func (m *MemoryStore) checkUnique(candidate *models.CanonicalDevice) error {
	if candidate.Retired {
		return nil
	}

	for _, device := range m.devices {
		if device.DeviceID == candidate.DeviceID || device.Retired {
			continue
		}

		if candidate.Serial() != "" && candidate.Serial() == device.Serial() {
			return fmt.Errorf("%w: uq_devices_serial", ErrConstraintViolation)
		}

		if candidate.MACAddress() != "" && candidate.MACAddress() == device.MACAddress() {
			return fmt.Errorf("%w: uq_devices_mac", ErrConstraintViolation)
		}

		if candidate.APIDeviceID != "" &&
			candidate.APIDeviceID == device.APIDeviceID &&
			candidate.Manufacturer == device.Manufacturer {
			return fmt.Errorf("%w: uq_devices_manufacturer_api_id", ErrConstraintViolation)
		}
	}

	return nil
}

func (m *MemoryStore) InsertQueueEntry(_ context.Context, entry *models.DiscoveryQueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.queue[entry.EntryID]; exists {
		return fmt.Errorf("%w: discovery_queue_pkey", ErrConstraintViolation)
	}

	if entry.Status == models.QueueStatusPending {
		hash := identity.KeySetHash(entry.MatchKeys, entry.Classification)
		for _, existing := range m.queue {
			if existing.Status == models.QueueStatusPending &&
				identity.KeySetHash(existing.MatchKeys, existing.Classification) == hash {
				return fmt.Errorf("%w: uq_queue_pending_match", ErrConstraintViolation)
			}
		}
	}

	m.queue[entry.EntryID] = copyQueueEntry(entry)

	return nil
}

func (m *MemoryStore) GetQueueEntry(_ context.Context, entryID string) (*models.DiscoveryQueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.queue[entryID]
	if !ok {
		return nil, ErrNotFound
	}

	return copyQueueEntry(entry), nil
}

func (m *MemoryStore) GetQueueEntryForUpdate(ctx context.Context, entryID string) (*models.DiscoveryQueueEntry, error) {
	return m.GetQueueEntry(ctx, entryID)
}

func (m *MemoryStore) FindPendingQueueEntry(_ context.Context, matchHash string) (*models.DiscoveryQueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range m.queue {
		if entry.Status == models.QueueStatusPending &&
			identity.KeySetHash(entry.MatchKeys, entry.Classification) == matchHash {
			return copyQueueEntry(entry), nil
		}
	}

	return nil, ErrNotFound
}

func (m *MemoryStore) ListQueueEntries(_ context.Context, filter *models.QueueFilter) ([]*models.DiscoveryQueueEntry, error) {
	if filter == nil {
		filter = &models.QueueFilter{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var entries []*models.DiscoveryQueueEntry

	for _, entry := range m.queue {
		if filter.Status != "" && entry.Status != filter.Status {
			continue
		}

		if filter.Class != "" && entry.Classification != filter.Class {
			continue
		}

		if filter.Manufacturer != "" && entry.Payload.Manufacturer != filter.Manufacturer {
			continue
		}

		entries = append(entries, copyQueueEntry(entry))
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].DiscoveredAt.After(entries[j].DiscoveredAt)
	})

	return page(entries, filter.Limit, filter.Offset), nil
}

func (m *MemoryStore) UpdateQueueEntryStatus(_ context.Context, entryID string, status models.QueueStatus, resolvedAt time.Time, resolvedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.queue[entryID]
	if !ok {
		return ErrNotFound
	}

	entry.Status = status
	at := resolvedAt
	entry.ResolvedAt = &at

	entry.ResolvedBy = nil
	if resolvedBy != "" {
		by := resolvedBy
		entry.ResolvedBy = &by
	}

	return nil
}

func (m *MemoryStore) InsertMovementEntry(_ context.Context, entry *models.DeviceMovementLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.movements[entry.EntryID]; exists {
		return fmt.Errorf("%w: device_movement_log_pkey", ErrConstraintViolation)
	}

	stored := *entry
	m.movements[entry.EntryID] = &stored

	return nil
}

func (m *MemoryStore) GetMovementEntry(_ context.Context, entryID string) (*models.DeviceMovementLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.movements[entryID]
	if !ok {
		return nil, ErrNotFound
	}

	copied := *entry

	return &copied, nil
}

func (m *MemoryStore) FindMovementEntry(_ context.Context, deviceID string, previous, next models.NetworkFingerprint) (*models.DeviceMovementLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *models.DeviceMovementLogEntry

	for _, entry := range m.movements {
		if entry.DeviceID != deviceID {
			continue
		}

		if !entry.PreviousFingerprint.Equal(previous) || !entry.NewFingerprint.Equal(next) {
			continue
		}

		if latest == nil || entry.DetectedAt.After(latest.DetectedAt) {
			latest = entry
		}
	}

	if latest == nil {
		return nil, ErrNotFound
	}

	copied := *latest

	return &copied, nil
}

func (m *MemoryStore) ListMovementEntries(_ context.Context, deviceID string, limit int) ([]*models.DeviceMovementLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var entries []*models.DeviceMovementLogEntry

	for _, entry := range m.movements {
		if entry.DeviceID == deviceID {
			copied := *entry
			entries = append(entries, &copied)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].DetectedAt.After(entries[j].DetectedAt)
	})

	return page(entries, limit, 0), nil
}

func (m *MemoryStore) AcknowledgeMovement(_ context.Context, entryID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.movements[entryID]
	if !ok || entry.Acknowledged {
		return ErrNotFound
	}

	entry.Acknowledged = true
	ackAt := at
	entry.AcknowledgedAt = &ackAt

	return nil
}

// InTx runs fn against the store directly. Mutations inside fn apply
// immediately and are not rolled back on error; tests that need rollback
// semantics run against Postgres.
func (m *MemoryStore) InTx(_ context.Context, fn func(Store) error) error {
	return fn(m)
}

func (m *MemoryStore) Close() error { return nil }

func deviceHoldsKey(device *models.CanonicalDevice, key models.MatchKey) bool {
	switch key.Type {
	case models.MatchKeySerialNumber:
		return device.Serial() == key.Value
	case models.MatchKeyMACAddress:
		return device.MACAddress() == key.Value
	case models.MatchKeyAPIDeviceID:
		return device.APIDeviceID == key.Value && device.Manufacturer == key.Manufacturer
	case models.MatchKeyIPModel:
		return models.CompositeValue(device.IP, device.Model) == key.Value
	default:
		return false
	}
}

func copyDevice(device *models.CanonicalDevice) *models.CanonicalDevice {
	copied := *device

	if device.Fingerprint.Metadata != nil {
		metadata := make(map[string]string, len(device.Fingerprint.Metadata))
		for k, v := range device.Fingerprint.Metadata {
			metadata[k] = v
		}

		copied.Fingerprint.Metadata = metadata
	}

	return &copied
}

func copyQueueEntry(entry *models.DiscoveryQueueEntry) *models.DiscoveryQueueEntry {
	copied := *entry

	if entry.MatchKeys != nil {
		copied.MatchKeys = append([]models.MatchKey(nil), entry.MatchKeys...)
	}

	if entry.ConflictingIDs != nil {
		copied.ConflictingIDs = append([]string(nil), entry.ConflictingIDs...)
	}

	if entry.Payload.Fields != nil {
		fields := make(map[string]string, len(entry.Payload.Fields))
		for k, v := range entry.Payload.Fields {
			fields[k] = v
		}

		copied.Payload.Fields = fields
	}

	return &copied
}

func sortDevices(devices []*models.CanonicalDevice) {
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].DeviceID < devices[j].DeviceID
	})
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}

		items = items[offset:]
	}

	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	return items
}
