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

package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justprosound/devreg/pkg/logger"
	"github.com/justprosound/devreg/pkg/models"
)

type fakeKeyLookup struct {
	devices map[string][]*models.CanonicalDevice
}

func (f *fakeKeyLookup) GetDevicesByMatchKey(_ context.Context, key models.MatchKey) ([]*models.CanonicalDevice, error) {
	return f.devices[fakeLookupKey(key)], nil
}

func fakeLookupKey(key models.MatchKey) string {
	return string(key.Type) + "|" + key.Manufacturer + "|" + key.Value
}

func testDevice(id, serial string) *models.CanonicalDevice {
	device := &models.CanonicalDevice{DeviceID: id}
	if serial != "" {
		device.SerialNumber = &serial
	}

	return device
}

func TestMatchNewDevice(t *testing.T) {
	matcher := NewMatcher(&fakeKeyLookup{devices: map[string][]*models.CanonicalDevice{}}, logger.NewTestLogger())

	result, err := matcher.Match(context.Background(), []models.MatchKey{
		{Type: models.MatchKeySerialNumber, Value: "SN-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeNewDevice, result.Outcome)
	assert.Nil(t, result.Matched)
}

func TestMatchUniqueOnSerial(t *testing.T) {
	deviceA := testDevice("dr:a", "SN-1")

	lookup := &fakeKeyLookup{devices: map[string][]*models.CanonicalDevice{
		fakeLookupKey(models.MatchKey{Type: models.MatchKeySerialNumber, Value: "SN-1"}): {deviceA},
	}}

	matcher := NewMatcher(lookup, logger.NewTestLogger())

	result, err := matcher.Match(context.Background(), []models.MatchKey{
		{Type: models.MatchKeySerialNumber, Value: "SN-1"},
		{Type: models.MatchKeyMACAddress, Value: "AABBCCDDEEFF"},
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeUniqueMatch, result.Outcome)
	assert.Equal(t, "dr:a", result.Matched.DeviceID)
	require.NotNil(t, result.MatchedKey)
	assert.Equal(t, models.MatchKeySerialNumber, result.MatchedKey.Type)
}

func TestMatchHigherPriorityWins(t *testing.T) {
	deviceA := testDevice("dr:a", "SN-1")

	// Serial and MAC both point at the same record.
	lookup := &fakeKeyLookup{devices: map[string][]*models.CanonicalDevice{
		fakeLookupKey(models.MatchKey{Type: models.MatchKeySerialNumber, Value: "SN-1"}):     {deviceA},
		fakeLookupKey(models.MatchKey{Type: models.MatchKeyMACAddress, Value: "AABBCC0011"}): {deviceA},
	}}

	matcher := NewMatcher(lookup, logger.NewTestLogger())

	result, err := matcher.Match(context.Background(), []models.MatchKey{
		{Type: models.MatchKeySerialNumber, Value: "SN-1"},
		{Type: models.MatchKeyMACAddress, Value: "AABBCC0011"},
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeUniqueMatch, result.Outcome)
	assert.Equal(t, models.MatchKeySerialNumber, result.MatchedKey.Type)
}

func TestMatchWeakKeyAlone(t *testing.T) {
	deviceA := testDevice("dr:a", "")

	lookup := &fakeKeyLookup{devices: map[string][]*models.CanonicalDevice{
		fakeLookupKey(models.MatchKey{Type: models.MatchKeyIPModel, Value: "10.0.0.1|ULXD4"}): {deviceA},
	}}

	matcher := NewMatcher(lookup, logger.NewTestLogger())

	result, err := matcher.Match(context.Background(), []models.MatchKey{
		{Type: models.MatchKeyIPModel, Value: "10.0.0.1|ULXD4"},
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeUniqueMatch, result.Outcome)
	assert.Equal(t, "dr:a", result.Matched.DeviceID)
}

func TestMatchStrongKeysDisagree(t *testing.T) {
	deviceA := testDevice("dr:a", "SN-1")
	deviceB := testDevice("dr:b", "SN-2")

	lookup := &fakeKeyLookup{devices: map[string][]*models.CanonicalDevice{
		fakeLookupKey(models.MatchKey{Type: models.MatchKeySerialNumber, Value: "SN-1"}):     {deviceA},
		fakeLookupKey(models.MatchKey{Type: models.MatchKeyMACAddress, Value: "AABBCC0011"}): {deviceB},
	}}

	matcher := NewMatcher(lookup, logger.NewTestLogger())

	result, err := matcher.Match(context.Background(), []models.MatchKey{
		{Type: models.MatchKeySerialNumber, Value: "SN-1"},
		{Type: models.MatchKeyMACAddress, Value: "AABBCC0011"},
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeConflict, result.Outcome)
	assert.Equal(t, models.ClassificationManufacturerMismatch, result.ConflictClass)
	require.Len(t, result.Conflicting, 2)

	// Deterministic ordering by device ID.
	assert.Equal(t, "dr:a", result.Conflicting[0].DeviceID)
	assert.Equal(t, "dr:b", result.Conflicting[1].DeviceID)
}

func TestMatchWeakKeyPointsAtDifferentSerial(t *testing.T) {
	deviceA := testDevice("dr:a", "SN-1")
	deviceB := testDevice("dr:b", "SN-9")

	lookup := &fakeKeyLookup{devices: map[string][]*models.CanonicalDevice{
		fakeLookupKey(models.MatchKey{Type: models.MatchKeySerialNumber, Value: "SN-1"}):       {deviceA},
		fakeLookupKey(models.MatchKey{Type: models.MatchKeyIPModel, Value: "10.0.0.1|ULXD4"}): {deviceB},
	}}

	matcher := NewMatcher(lookup, logger.NewTestLogger())

	result, err := matcher.Match(context.Background(), []models.MatchKey{
		{Type: models.MatchKeySerialNumber, Value: "SN-1"},
		{Type: models.MatchKeyIPModel, Value: "10.0.0.1|ULXD4"},
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeConflict, result.Outcome)
	assert.Equal(t, models.ClassificationIPConflict, result.ConflictClass)
}

func TestMatchSingleKeyMultipleCandidates(t *testing.T) {
	deviceA := testDevice("dr:a", "")
	deviceB := testDevice("dr:b", "")

	lookup := &fakeKeyLookup{devices: map[string][]*models.CanonicalDevice{
		fakeLookupKey(models.MatchKey{Type: models.MatchKeyIPModel, Value: "10.0.0.1|ULXD4"}): {deviceA, deviceB},
	}}

	matcher := NewMatcher(lookup, logger.NewTestLogger())

	result, err := matcher.Match(context.Background(), []models.MatchKey{
		{Type: models.MatchKeyIPModel, Value: "10.0.0.1|ULXD4"},
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeConflict, result.Outcome)
	assert.Equal(t, models.ClassificationIdentityAmbiguous, result.ConflictClass)
	assert.Len(t, result.Conflicting, 2)
}

func TestMatchIsDeterministic(t *testing.T) {
	deviceA := testDevice("dr:a", "SN-1")
	deviceB := testDevice("dr:b", "SN-2")

	lookup := &fakeKeyLookup{devices: map[string][]*models.CanonicalDevice{
		fakeLookupKey(models.MatchKey{Type: models.MatchKeySerialNumber, Value: "SN-1"}):     {deviceA},
		fakeLookupKey(models.MatchKey{Type: models.MatchKeyMACAddress, Value: "AABBCC0011"}): {deviceB},
	}}

	matcher := NewMatcher(lookup, logger.NewTestLogger())

	keys := []models.MatchKey{
		{Type: models.MatchKeySerialNumber, Value: "SN-1"},
		{Type: models.MatchKeyMACAddress, Value: "AABBCC0011"},
	}

	first, err := matcher.Match(context.Background(), keys)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		next, err := matcher.Match(context.Background(), keys)
		require.NoError(t, err)
		assert.Equal(t, first.Outcome, next.Outcome)
		assert.Equal(t, first.ConflictClass, next.ConflictClass)
		assert.Equal(t, len(first.Conflicting), len(next.Conflicting))
	}
}
