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

package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justprosound/devreg/pkg/db"
	"github.com/justprosound/devreg/pkg/models"
)

// queueMismatch registers a Shure device and then submits a Sennheiser
// payload claiming the same serial, leaving a MANUFACTURER_MISMATCH entry
// pending. Returns the registered device ID and the queue entry ID.
func queueMismatch(t *testing.T, reg *Registry, ip string) (string, string) {
	t.Helper()

	registered, err := reg.ProcessPayload(context.Background(), shurePayload(map[string]string{
		models.FieldSerialNumber: "SN-100",
		models.FieldIPAddress:    "10.0.0.1",
	}))
	require.NoError(t, err)

	queued, err := reg.ProcessPayload(context.Background(), &models.RawPayload{
		Manufacturer: models.ManufacturerSennheiser,
		Fields: map[string]string{
			models.FieldSerialNumber: "SN-100",
			models.FieldIPAddress:    ip,
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, queued.QueueEntryID)

	return registered.DeviceID, queued.QueueEntryID
}

func TestApproveAppliesPayloadToDevice(t *testing.T) {
	reg, store, sink := newTestRegistry(t, Config{})

	deviceID, entryID := queueMismatch(t, reg, "10.0.0.1")

	entry, err := reg.Approve(context.Background(), entryID, "operator@justprosound")
	require.NoError(t, err)

	assert.Equal(t, models.QueueStatusApproved, entry.Status)
	require.NotNil(t, entry.ResolvedAt)
	require.NotNil(t, entry.ResolvedBy)
	assert.Equal(t, "operator@justprosound", *entry.ResolvedBy)

	// Approval confirms the payload's claim, so it overwrites.
	device, err := store.GetDevice(context.Background(), deviceID)
	require.NoError(t, err)
	assert.Equal(t, models.ManufacturerSennheiser, device.Manufacturer)

	require.Len(t, sink.byType(models.EventDeviceUpdated), 1)
}

func TestApproveRecordsMovementOnRelocation(t *testing.T) {
	reg, store, _ := newTestRegistry(t, Config{})

	deviceID, entryID := queueMismatch(t, reg, "10.0.0.9")

	_, err := reg.Approve(context.Background(), entryID, "operator")
	require.NoError(t, err)

	device, err := store.GetDevice(context.Background(), deviceID)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9", device.IP)

	movements, err := store.ListMovementEntries(context.Background(), deviceID, 0)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, "10.0.0.1", movements[0].PreviousFingerprint.IP)
	assert.Equal(t, "10.0.0.9", movements[0].NewFingerprint.IP)
}

func TestApproveQueuedNewDevice(t *testing.T) {
	reg, store, sink := newTestRegistry(t, Config{QueueNewDevices: true})

	queued, err := reg.ProcessPayload(context.Background(), shurePayload(map[string]string{
		models.FieldSerialNumber: "SN-100",
		models.FieldIPAddress:    "10.0.0.1",
	}))
	require.NoError(t, err)

	entry, err := reg.Approve(context.Background(), queued.QueueEntryID, "operator")
	require.NoError(t, err)

	require.NotNil(t, entry.CandidateDeviceID)

	device, err := store.GetDevice(context.Background(), *entry.CandidateDeviceID)
	require.NoError(t, err)
	assert.Equal(t, "SN-100", device.Serial())

	require.Len(t, sink.byType(models.EventDeviceRegistered), 1)
}

func TestRejectLeavesRegistryUntouched(t *testing.T) {
	reg, store, _ := newTestRegistry(t, Config{})

	deviceID, entryID := queueMismatch(t, reg, "10.0.0.1")

	entry, err := reg.Reject(context.Background(), entryID, "operator")
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusRejected, entry.Status)

	device, err := store.GetDevice(context.Background(), deviceID)
	require.NoError(t, err)
	assert.Equal(t, models.ManufacturerShure, device.Manufacturer)

	movements, err := store.ListMovementEntries(context.Background(), deviceID, 0)
	require.NoError(t, err)
	assert.Empty(t, movements)
}

func TestApproveAmbiguousEntryRefused(t *testing.T) {
	reg, store, _ := newTestRegistry(t, Config{})

	// Two weak-key-only records sharing an IP+model make the composite
	// lookup ambiguous.
	for _, id := range []string{"dr:a", "dr:b"} {
		require.NoError(t, store.InsertDevice(context.Background(), &models.CanonicalDevice{
			DeviceID:     id,
			Manufacturer: models.ManufacturerShure,
			IP:           "10.0.0.5",
			Model:        "ULXD4",
			Fingerprint:  models.NetworkFingerprint{IP: "10.0.0.5"},
		}))
	}

	queued, err := reg.ProcessPayload(context.Background(), shurePayload(map[string]string{
		models.FieldIPAddress: "10.0.0.5",
		models.FieldModel:     "ULXD4",
	}))
	require.NoError(t, err)

	assert.Equal(t, models.ClassificationIdentityAmbiguous, queued.Classification)
	require.NotEmpty(t, queued.QueueEntryID)

	_, err = reg.Approve(context.Background(), queued.QueueEntryID, "operator")
	assert.ErrorIs(t, err, ErrAmbiguousEntry)

	// The refusal leaves the entry pending and mints no third record.
	entry, err := store.GetQueueEntry(context.Background(), queued.QueueEntryID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusPending, entry.Status)
	assert.Len(t, entry.ConflictingIDs, 2)

	devices, err := store.ListDevices(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Len(t, devices, 2)

	// Rejecting is still the supported way out.
	resolved, err := reg.Reject(context.Background(), queued.QueueEntryID, "operator")
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusRejected, resolved.Status)
}

func TestResolveTerminalEntryFails(t *testing.T) {
	reg, _, _ := newTestRegistry(t, Config{})

	_, entryID := queueMismatch(t, reg, "10.0.0.1")

	_, err := reg.Approve(context.Background(), entryID, "operator")
	require.NoError(t, err)

	_, err = reg.Approve(context.Background(), entryID, "operator")
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	_, err = reg.Reject(context.Background(), entryID, "operator")
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestApproveUnknownEntry(t *testing.T) {
	reg, _, _ := newTestRegistry(t, Config{})

	_, err := reg.Approve(context.Background(), "no-such-entry", "operator")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestBulkApprovePartialSuccess(t *testing.T) {
	reg, _, _ := newTestRegistry(t, Config{QueueNewDevices: true})

	first, err := reg.ProcessPayload(context.Background(), shurePayload(map[string]string{
		models.FieldSerialNumber: "SN-1",
		models.FieldIPAddress:    "10.0.0.1",
	}))
	require.NoError(t, err)

	second, err := reg.ProcessPayload(context.Background(), shurePayload(map[string]string{
		models.FieldSerialNumber: "SN-2",
		models.FieldIPAddress:    "10.0.0.2",
	}))
	require.NoError(t, err)

	results := reg.BulkApprove(context.Background(),
		[]string{first.QueueEntryID, "no-such-entry", second.QueueEntryID}, "operator")

	require.Len(t, results, 3)

	assert.Equal(t, models.QueueStatusApproved, results[0].Status)
	assert.NoError(t, results[0].Err)

	assert.Error(t, results[1].Err)
	assert.NotEmpty(t, results[1].Error)

	// One bad ID never blocks the rest of the batch.
	assert.Equal(t, models.QueueStatusApproved, results[2].Status)
}

func TestBulkRejectResolvesAll(t *testing.T) {
	reg, store, _ := newTestRegistry(t, Config{QueueNewDevices: true})

	first, err := reg.ProcessPayload(context.Background(), shurePayload(map[string]string{
		models.FieldSerialNumber: "SN-1",
		models.FieldIPAddress:    "10.0.0.1",
	}))
	require.NoError(t, err)

	second, err := reg.ProcessPayload(context.Background(), shurePayload(map[string]string{
		models.FieldSerialNumber: "SN-2",
		models.FieldIPAddress:    "10.0.0.2",
	}))
	require.NoError(t, err)

	results := reg.BulkReject(context.Background(),
		[]string{first.QueueEntryID, second.QueueEntryID}, "operator")

	require.Len(t, results, 2)
	for _, result := range results {
		assert.Equal(t, models.QueueStatusRejected, result.Status)
	}

	devices, err := store.ListDevices(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, devices)

	pending, err := reg.ListPendingQueueEntries(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
