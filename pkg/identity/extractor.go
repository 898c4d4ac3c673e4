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

// Package identity implements match key extraction, the priority-cascade
// deduplication matcher, and the conflict/movement detector. Everything in
// this package is deterministic and free of side effects; registry reads go
// through the injected lookup interface and nothing here ever writes.
package identity

import (
	"errors"
	"strings"

	"github.com/justprosound/devreg/pkg/models"
)

// ErrMalformedPayload is returned when a payload lacks every extractable
// match key. Callers must skip and log such payloads without inserting a
// queue entry.
var ErrMalformedPayload = errors.New("payload has no extractable match key")

// NormalizeMAC normalizes a MAC address to uppercase without separators.
func NormalizeMAC(mac string) string {
	mac = strings.ToUpper(strings.TrimSpace(mac))
	mac = strings.ReplaceAll(mac, ":", "")
	mac = strings.ReplaceAll(mac, "-", "")
	mac = strings.ReplaceAll(mac, ".", "")
	return mac
}

// ExtractMatchKeys derives the ordered candidate identity keys from a raw
// payload: serial_number > mac_address > manufacturer api_device_id >
// (ip_address, model) composite. Empty fields are omitted. The returned
// slice is always in priority order.
func ExtractMatchKeys(payload *models.RawPayload) ([]models.MatchKey, error) {
	if payload == nil {
		return nil, ErrMalformedPayload
	}

	manufacturer := payload.ManufacturerCode()
	keys := make([]models.MatchKey, 0, len(models.MatchKeyPriority))

	if serial := payload.Field(models.FieldSerialNumber); serial != "" {
		keys = append(keys, models.MatchKey{
			Type:  models.MatchKeySerialNumber,
			Value: serial,
		})
	}

	if mac := NormalizeMAC(payload.Field(models.FieldMACAddress)); mac != "" {
		keys = append(keys, models.MatchKey{
			Type:  models.MatchKeyMACAddress,
			Value: mac,
		})
	}

	if apiID := payload.Field(models.FieldAPIDeviceID); apiID != "" {
		keys = append(keys, models.MatchKey{
			Type:         models.MatchKeyAPIDeviceID,
			Value:        apiID,
			Manufacturer: manufacturer,
		})
	}

	ip := payload.Field(models.FieldIPAddress)
	model := payload.Field(models.FieldModel)
	if ip != "" && model != "" {
		keys = append(keys, models.MatchKey{
			Type:  models.MatchKeyIPModel,
			Value: models.CompositeValue(ip, model),
		})
	}

	if len(keys) == 0 {
		return nil, ErrMalformedPayload
	}

	return keys, nil
}

// FingerprintFromPayload builds the network fingerprint carried by a
// payload, including sanitized pass-through metadata. Recognized match-key
// fields are not duplicated into the metadata map.
func FingerprintFromPayload(payload *models.RawPayload) models.NetworkFingerprint {
	fp := models.NetworkFingerprint{
		IP:          payload.Field(models.FieldIPAddress),
		Subnet:      payload.Field(models.FieldSubnet),
		InterfaceID: payload.Field(models.FieldInterfaceID),
	}

	SanitizePayload(payload)

	for k, v := range payload.Fields {
		if isProtectedField(k) {
			continue
		}
		if fp.Metadata == nil {
			fp.Metadata = make(map[string]string)
		}
		fp.Metadata[k] = v
	}

	return fp
}
