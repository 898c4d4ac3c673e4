package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justprosound/devreg/pkg/models"
)

func storedDevice(id, serial, mac, ip string) *models.CanonicalDevice {
	now := time.Now().UTC()

	device := &models.CanonicalDevice{
		DeviceID:     id,
		Manufacturer: models.ManufacturerShure,
		IP:           ip,
		Fingerprint:  models.NetworkFingerprint{IP: ip},
		FirstSeen:    now,
		LastSeen:     now,
	}

	if serial != "" {
		device.SerialNumber = &serial
	}

	if mac != "" {
		device.MAC = &mac
	}

	return device
}

func TestMemoryStoreDeviceUniqueness(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.InsertDevice(ctx, storedDevice("dr:a", "SN-1", "AABBCC001122", "10.0.0.1")))

	err := store.InsertDevice(ctx, storedDevice("dr:b", "SN-1", "", "10.0.0.2"))
	assert.ErrorIs(t, err, ErrConstraintViolation)

	err = store.InsertDevice(ctx, storedDevice("dr:c", "", "AABBCC001122", "10.0.0.3"))
	assert.ErrorIs(t, err, ErrConstraintViolation)

	err = store.InsertDevice(ctx, storedDevice("dr:a", "SN-2", "", "10.0.0.4"))
	assert.ErrorIs(t, err, ErrConstraintViolation, "duplicate primary key")
}

func TestMemoryStoreAPIIDUniquenessIsManufacturerScoped(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	shure := storedDevice("dr:a", "", "", "10.0.0.1")
	shure.APIDeviceID = "api-1"
	require.NoError(t, store.InsertDevice(ctx, shure))

	// Same API ID under a different manufacturer is a distinct namespace.
	sennheiser := storedDevice("dr:b", "", "", "10.0.0.2")
	sennheiser.APIDeviceID = "api-1"
	sennheiser.Manufacturer = models.ManufacturerSennheiser
	require.NoError(t, store.InsertDevice(ctx, sennheiser))

	duplicate := storedDevice("dr:c", "", "", "10.0.0.3")
	duplicate.APIDeviceID = "api-1"
	assert.ErrorIs(t, store.InsertDevice(ctx, duplicate), ErrConstraintViolation)
}

func TestMemoryStoreRetireExcludesFromLookups(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.InsertDevice(ctx, storedDevice("dr:a", "SN-1", "", "10.0.0.1")))
	require.NoError(t, store.RetireDevice(ctx, "dr:a", time.Now().UTC()))

	matched, err := store.GetDevicesByMatchKey(ctx, models.MatchKey{
		Type:  models.MatchKeySerialNumber,
		Value: "SN-1",
	})
	require.NoError(t, err)
	assert.Empty(t, matched)

	byIP, err := store.GetDevicesByIP(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.Empty(t, byIP)

	// Still queryable by ID for history.
	device, err := store.GetDevice(ctx, "dr:a")
	require.NoError(t, err)
	assert.True(t, device.Retired)

	// A retired record frees its serial for a new live one.
	require.NoError(t, store.InsertDevice(ctx, storedDevice("dr:b", "SN-1", "", "10.0.0.1")))

	assert.ErrorIs(t, store.RetireDevice(ctx, "dr:a", time.Now().UTC()), ErrNotFound, "retire is not repeatable")
}

func pendingEntry(id string, keys []models.MatchKey, class models.Classification) *models.DiscoveryQueueEntry {
	return &models.DiscoveryQueueEntry{
		EntryID:        id,
		Payload:        models.RawPayload{Manufacturer: models.ManufacturerShure},
		MatchKeys:      keys,
		Classification: class,
		Status:         models.QueueStatusPending,
		DiscoveredAt:   time.Now().UTC(),
	}
}

func TestMemoryStorePendingQueueDedupe(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	keys := []models.MatchKey{{Type: models.MatchKeySerialNumber, Value: "SN-1"}}

	require.NoError(t, store.InsertQueueEntry(ctx, pendingEntry("q-1", keys, models.ClassificationIPConflict)))

	err := store.InsertQueueEntry(ctx, pendingEntry("q-2", keys, models.ClassificationIPConflict))
	assert.ErrorIs(t, err, ErrConstraintViolation)

	// A different classification for the same keys is a separate entry.
	require.NoError(t, store.InsertQueueEntry(ctx, pendingEntry("q-3", keys, models.ClassificationMovement)))

	// Resolving the first entry frees the slot.
	require.NoError(t, store.UpdateQueueEntryStatus(ctx, "q-1", models.QueueStatusRejected, time.Now().UTC(), "operator"))
	require.NoError(t, store.InsertQueueEntry(ctx, pendingEntry("q-4", keys, models.ClassificationIPConflict)))
}

func TestMemoryStoreListQueueEntriesFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	keysA := []models.MatchKey{{Type: models.MatchKeySerialNumber, Value: "SN-1"}}
	keysB := []models.MatchKey{{Type: models.MatchKeySerialNumber, Value: "SN-2"}}

	require.NoError(t, store.InsertQueueEntry(ctx, pendingEntry("q-1", keysA, models.ClassificationIPConflict)))
	require.NoError(t, store.InsertQueueEntry(ctx, pendingEntry("q-2", keysB, models.ClassificationMovement)))
	require.NoError(t, store.UpdateQueueEntryStatus(ctx, "q-2", models.QueueStatusApproved, time.Now().UTC(), "operator"))

	pending, err := store.ListQueueEntries(ctx, &models.QueueFilter{Status: models.QueueStatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "q-1", pending[0].EntryID)

	conflicts, err := store.ListQueueEntries(ctx, &models.QueueFilter{Class: models.ClassificationIPConflict})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)

	all, err := store.ListQueueEntries(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryStoreMovementLog(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	previous := models.NetworkFingerprint{IP: "10.0.0.1"}
	next := models.NetworkFingerprint{IP: "10.0.0.9"}

	entry := &models.DeviceMovementLogEntry{
		EntryID:             "m-1",
		DeviceID:            "dr:a",
		PreviousFingerprint: previous,
		NewFingerprint:      next,
		DetectedAt:          time.Now().UTC(),
	}

	require.NoError(t, store.InsertMovementEntry(ctx, entry))

	found, err := store.FindMovementEntry(ctx, "dr:a", previous, next)
	require.NoError(t, err)
	assert.Equal(t, "m-1", found.EntryID)

	// Transition identity is location-only; metadata drift still matches.
	drifted := next
	drifted.Metadata = map[string]string{"battery_level": "7"}
	found, err = store.FindMovementEntry(ctx, "dr:a", previous, drifted)
	require.NoError(t, err)
	assert.Equal(t, "m-1", found.EntryID)

	_, err = store.FindMovementEntry(ctx, "dr:a", next, previous)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.AcknowledgeMovement(ctx, "m-1", time.Now().UTC()))

	acked, err := store.GetMovementEntry(ctx, "m-1")
	require.NoError(t, err)
	assert.True(t, acked.Acknowledged)
	require.NotNil(t, acked.AcknowledgedAt)

	assert.ErrorIs(t, store.AcknowledgeMovement(ctx, "m-1", time.Now().UTC()), ErrNotFound, "acknowledge is not repeatable")
}

func TestMemoryStoreCopiesOnReadAndWrite(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	device := storedDevice("dr:a", "SN-1", "", "10.0.0.1")
	device.Fingerprint.Metadata = map[string]string{"battery_level": "42"}
	require.NoError(t, store.InsertDevice(ctx, device))

	// Mutating the caller's copy never leaks into the store.
	device.IP = "10.9.9.9"
	device.Fingerprint.Metadata["battery_level"] = "0"

	stored, err := store.GetDevice(ctx, "dr:a")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", stored.IP)
	assert.Equal(t, "42", stored.Fingerprint.Metadata["battery_level"])

	stored.Manufacturer = models.ManufacturerSennheiser

	again, err := store.GetDevice(ctx, "dr:a")
	require.NoError(t, err)
	assert.Equal(t, models.ManufacturerShure, again.Manufacturer)
}
