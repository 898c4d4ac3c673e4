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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justprosound/devreg/pkg/models"
)

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "colons", input: "aa:bb:cc:dd:ee:ff", expected: "AABBCCDDEEFF"},
		{name: "dashes", input: "AA-BB-CC-DD-EE-FF", expected: "AABBCCDDEEFF"},
		{name: "dots", input: "aabb.ccdd.eeff", expected: "AABBCCDDEEFF"},
		{name: "already normalized", input: "AABBCCDDEEFF", expected: "AABBCCDDEEFF"},
		{name: "whitespace", input: "  aa:bb:cc:dd:ee:ff  ", expected: "AABBCCDDEEFF"},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeMAC(tt.input))
		})
	}
}

func TestExtractMatchKeysPriorityOrder(t *testing.T) {
	payload := &models.RawPayload{
		Manufacturer: models.ManufacturerShure,
		Fields: map[string]string{
			models.FieldSerialNumber: "SN-1",
			models.FieldMACAddress:   "aa:bb:cc:dd:ee:ff",
			models.FieldAPIDeviceID:  "api-9",
			models.FieldIPAddress:    "10.0.0.1",
			models.FieldModel:        "ULXD4",
		},
	}

	keys, err := ExtractMatchKeys(payload)
	require.NoError(t, err)
	require.Len(t, keys, 4)

	assert.Equal(t, models.MatchKeySerialNumber, keys[0].Type)
	assert.Equal(t, "SN-1", keys[0].Value)

	assert.Equal(t, models.MatchKeyMACAddress, keys[1].Type)
	assert.Equal(t, "AABBCCDDEEFF", keys[1].Value)

	assert.Equal(t, models.MatchKeyAPIDeviceID, keys[2].Type)
	assert.Equal(t, "api-9", keys[2].Value)
	assert.Equal(t, models.ManufacturerShure, keys[2].Manufacturer)

	assert.Equal(t, models.MatchKeyIPModel, keys[3].Type)
	assert.Equal(t, "10.0.0.1|ULXD4", keys[3].Value)
}

func TestExtractMatchKeysOmitsEmptyFields(t *testing.T) {
	payload := &models.RawPayload{
		Manufacturer: models.ManufacturerSennheiser,
		Fields: map[string]string{
			models.FieldMACAddress: "00:11:22:33:44:55",
			models.FieldIPAddress:  "10.0.0.2",
			// model missing, so no composite key
		},
	}

	keys, err := ExtractMatchKeys(payload)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, models.MatchKeyMACAddress, keys[0].Type)
}

func TestExtractMatchKeysCompositeRequiresBothParts(t *testing.T) {
	payload := &models.RawPayload{
		Manufacturer: models.ManufacturerShure,
		Fields: map[string]string{
			models.FieldModel: "AD4Q",
		},
	}

	_, err := ExtractMatchKeys(payload)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestExtractMatchKeysMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload *models.RawPayload
	}{
		{name: "nil payload", payload: nil},
		{name: "no fields", payload: &models.RawPayload{Manufacturer: models.ManufacturerShure}},
		{
			name: "only unrecognized fields",
			payload: &models.RawPayload{
				Manufacturer: models.ManufacturerShure,
				Fields:       map[string]string{"battery_level": "42"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractMatchKeys(tt.payload)
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestExtractMatchKeysManufacturerCodeOverride(t *testing.T) {
	payload := &models.RawPayload{
		Manufacturer: models.ManufacturerShure,
		Fields: map[string]string{
			models.FieldAPIDeviceID:      "api-1",
			models.FieldManufacturerCode: "Sennheiser",
		},
	}

	keys, err := ExtractMatchKeys(payload)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, models.ManufacturerSennheiser, keys[0].Manufacturer)
}

func TestFingerprintFromPayload(t *testing.T) {
	payload := &models.RawPayload{
		Manufacturer: models.ManufacturerShure,
		Fields: map[string]string{
			models.FieldSerialNumber: "SN-1",
			models.FieldIPAddress:    "10.0.0.1",
			models.FieldSubnet:       "10.0.0.0/24",
			models.FieldInterfaceID:  "eth0",
			"battery_level":          "87",
		},
	}

	fp := FingerprintFromPayload(payload)

	assert.Equal(t, "10.0.0.1", fp.IP)
	assert.Equal(t, "10.0.0.0/24", fp.Subnet)
	assert.Equal(t, "eth0", fp.InterfaceID)

	// Pass-through fields land in metadata; match-key fields do not.
	assert.Equal(t, "87", fp.Metadata["battery_level"])
	assert.NotContains(t, fp.Metadata, models.FieldSerialNumber)
}
