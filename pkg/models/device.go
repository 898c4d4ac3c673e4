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

package models

import (
	"strings"
	"time"
)

// Manufacturer codes recognized by the built-in pollers. The registry itself
// is manufacturer-agnostic; these are the sources shipped with devreg.
const (
	ManufacturerShure      = "shure"
	ManufacturerSennheiser = "sennheiser"
	ManufacturerAudioTech  = "audio-technica"
	ManufacturerUnknown    = "unknown"
)

// Recognized raw payload field names for match key extraction.
const (
	FieldSerialNumber     = "serial_number"
	FieldMACAddress       = "mac_address"
	FieldAPIDeviceID      = "api_device_id"
	FieldIPAddress        = "ip_address"
	FieldModel            = "model"
	FieldManufacturerCode = "manufacturer_code"
	FieldSubnet           = "subnet"
	FieldInterfaceID      = "interface_id"
)

// RawPayload is a manufacturer-tagged device-state snapshot as delivered by
// an upstream poller. Fields is a flat mapping of field name to value;
// unrecognized fields are carried through into the stored fingerprint
// metadata untouched.
type RawPayload struct {
	Manufacturer string            `json:"manufacturer"`
	Fields       map[string]string `json:"fields"`
	ReceivedAt   time.Time         `json:"received_at"`
}

// Field returns the trimmed value for a payload field, or "" when absent.
func (p *RawPayload) Field(name string) string {
	if p == nil || p.Fields == nil {
		return ""
	}
	return strings.TrimSpace(p.Fields[name])
}

// ManufacturerCode returns the payload's manufacturer tag, preferring the
// explicit manufacturer_code field over the envelope tag.
func (p *RawPayload) ManufacturerCode() string {
	if code := p.Field(FieldManufacturerCode); code != "" {
		return strings.ToLower(code)
	}
	if p == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(p.Manufacturer))
}

// NetworkFingerprint is a device's last-known network location.
// Metadata carries arbitrary pass-through payload fields; it is not part of
// fingerprint equality.
type NetworkFingerprint struct {
	IP          string            `json:"ip"`
	Subnet      string            `json:"subnet,omitempty"`
	InterfaceID string            `json:"interface_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Equal reports whether two fingerprints describe the same network location.
func (f NetworkFingerprint) Equal(other NetworkFingerprint) bool {
	return f.IP == other.IP && f.Subnet == other.Subnet && f.InterfaceID == other.InterfaceID
}

// IsZero reports whether the fingerprint carries no location information.
func (f NetworkFingerprint) IsZero() bool {
	return f.IP == "" && f.Subnet == "" && f.InterfaceID == ""
}

// CanonicalDevice is the authoritative, deduplicated representation of one
// physical device. DeviceID is assigned once and never changes; for any
// non-empty match key (serial, MAC, manufacturer+api id) at most one
// canonical device may hold that value at a time.
type CanonicalDevice struct {
	DeviceID     string             `json:"device_id" db:"device_id"`
	SerialNumber *string            `json:"serial_number,omitempty" db:"serial_number"`
	MAC          *string            `json:"mac,omitempty" db:"mac"`
	APIDeviceID  string             `json:"api_device_id,omitempty" db:"api_device_id"`
	Manufacturer string             `json:"manufacturer" db:"manufacturer"`
	IP           string             `json:"ip" db:"ip"`
	Model        string             `json:"model,omitempty" db:"model"`
	Fingerprint  NetworkFingerprint `json:"fingerprint" db:"fingerprint"`
	FirstSeen    time.Time          `json:"first_seen" db:"first_seen"`
	LastSeen     time.Time          `json:"last_seen" db:"last_seen"`
	Retired      bool               `json:"retired" db:"retired"`
	RetiredAt    *time.Time         `json:"retired_at,omitempty" db:"retired_at"`
}

// Serial returns the device serial number or "" when unset.
func (d *CanonicalDevice) Serial() string {
	if d == nil || d.SerialNumber == nil {
		return ""
	}
	return *d.SerialNumber
}

// MACAddress returns the normalized MAC or "" when unset.
func (d *CanonicalDevice) MACAddress() string {
	if d == nil || d.MAC == nil {
		return ""
	}
	return *d.MAC
}
