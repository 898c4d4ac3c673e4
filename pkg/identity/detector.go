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
	"fmt"

	"github.com/justprosound/devreg/pkg/logger"
	"github.com/justprosound/devreg/pkg/models"
)

// IPLookup resolves which live canonical records currently claim an IP
// address. Used to detect a payload landing on an IP registered to a
// different device.
type IPLookup interface {
	GetDevicesByIP(ctx context.Context, ip string) ([]*models.CanonicalDevice, error)
}

// Detection is the detector's final classification for one payload.
type Detection struct {
	Classification models.Classification
	Match          *MatchResult

	// Fingerprint is the network location carried by the payload.
	Fingerprint models.NetworkFingerprint

	// PreviousFingerprint is the matched record's last-known location.
	// Nil unless the match was unique.
	PreviousFingerprint *models.NetworkFingerprint
}

// Detector refines matcher output into the classification that drives
// auto-commit versus queue routing.
type Detector struct {
	store  IPLookup
	logger logger.Logger
}

// NewDetector creates a detector reading IP occupancy through store.
func NewDetector(store IPLookup, log logger.Logger) *Detector {
	return &Detector{store: store, logger: log}
}

// Classify decides what a matcher result means for the registry:
//
//   - no match anywhere: NEW_DEVICE
//   - unique match, identical fingerprint: NO_CHANGE
//   - unique match, changed network fingerprint, same identity: MOVEMENT
//   - unique match under a different manufacturer: MANUFACTURER_MISMATCH
//   - payload IP registered to a different device with another serial, or
//     a unique match claiming a different serial/MAC anchor: IP_CONFLICT
//   - matcher conflicts carry their class through unchanged
//
// Only NO_CHANGE and MOVEMENT may be committed without approval; NEW_DEVICE
// insertion is governed by the registry's queue_new_devices setting.
func (d *Detector) Classify(ctx context.Context, payload *models.RawPayload, match *MatchResult) (*Detection, error) {
	detection := &Detection{
		Match:       match,
		Fingerprint: FingerprintFromPayload(payload),
	}

	switch match.Outcome {
	case OutcomeConflict:
		detection.Classification = match.ConflictClass
		if detection.Classification == "" {
			detection.Classification = models.ClassificationIdentityAmbiguous
		}

		return detection, nil

	case OutcomeNewDevice:
		occupied, err := d.ipOccupiedByOther(ctx, payload, nil)
		if err != nil {
			return nil, err
		}

		if occupied {
			detection.Classification = models.ClassificationIPConflict
		} else {
			detection.Classification = models.ClassificationNewDevice
		}

		return detection, nil

	case OutcomeUniqueMatch:
		return d.classifyUniqueMatch(ctx, payload, detection)

	default:
		return nil, fmt.Errorf("unknown match outcome %q", match.Outcome)
	}
}

func (d *Detector) classifyUniqueMatch(ctx context.Context, payload *models.RawPayload, detection *Detection) (*Detection, error) {
	matched := detection.Match.Matched
	prev := matched.Fingerprint
	detection.PreviousFingerprint = &prev

	// A unique match through a weaker key never overrides a differing
	// identity anchor: a payload claiming another serial or MAC is a
	// different physical device landing on this record's location.
	if anchorMismatch(payload, matched) {
		detection.Classification = models.ClassificationIPConflict

		if d.logger != nil {
			d.logger.Warn().
				Str("device_id", matched.DeviceID).
				Str("payload_serial", payload.Field(models.FieldSerialNumber)).
				Str("matched_serial", matched.Serial()).
				Msg("Identity anchor mismatch on unique match")
		}

		return detection, nil
	}

	manufacturer := payload.ManufacturerCode()
	if manufacturer != "" && matched.Manufacturer != "" && manufacturer != matched.Manufacturer {
		detection.Classification = models.ClassificationManufacturerMismatch
		return detection, nil
	}

	occupied, err := d.ipOccupiedByOther(ctx, payload, matched)
	if err != nil {
		return nil, err
	}

	if occupied {
		detection.Classification = models.ClassificationIPConflict
		return detection, nil
	}

	if !detection.Fingerprint.IsZero() && !prev.Equal(detection.Fingerprint) {
		detection.Classification = models.ClassificationMovement

		if d.logger != nil {
			d.logger.Debug().
				Str("device_id", matched.DeviceID).
				Str("previous_ip", prev.IP).
				Str("new_ip", detection.Fingerprint.IP).
				Msg("Device movement detected")
		}

		return detection, nil
	}

	detection.Classification = models.ClassificationNoChange

	return detection, nil
}

// anchorMismatch reports whether the payload carries a serial or MAC that
// disagrees with a non-empty value on the matched record.
func anchorMismatch(payload *models.RawPayload, matched *models.CanonicalDevice) bool {
	if serial := payload.Field(models.FieldSerialNumber); serial != "" && matched.Serial() != "" && serial != matched.Serial() {
		return true
	}

	if mac := NormalizeMAC(payload.Field(models.FieldMACAddress)); mac != "" && matched.MACAddress() != "" && mac != matched.MACAddress() {
		return true
	}

	return false
}

// ipOccupiedByOther reports whether the payload's IP is registered to a live
// device other than matched whose serial differs from the payload's.
func (d *Detector) ipOccupiedByOther(ctx context.Context, payload *models.RawPayload, matched *models.CanonicalDevice) (bool, error) {
	ip := payload.Field(models.FieldIPAddress)
	if ip == "" || d.store == nil {
		return false, nil
	}

	occupants, err := d.store.GetDevicesByIP(ctx, ip)
	if err != nil {
		return false, fmt.Errorf("ip occupancy lookup (%s): %w", ip, err)
	}

	serial := payload.Field(models.FieldSerialNumber)

	for _, occupant := range occupants {
		if matched != nil && occupant.DeviceID == matched.DeviceID {
			continue
		}

		if occupant.Serial() == "" || serial == "" || occupant.Serial() != serial {
			return true, nil
		}
	}

	return false, nil
}
