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
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/justprosound/devreg/pkg/db"
	"github.com/justprosound/devreg/pkg/identity"
	"github.com/justprosound/devreg/pkg/models"
)

// ErrAlreadyResolved is returned when resolving a queue entry that already
// reached a terminal state. Resolution is idempotent in the sense that the
// registry is never mutated twice; callers treat this as a no-op signal.
var ErrAlreadyResolved = errors.New("queue entry already resolved")

// ErrAmbiguousEntry is returned when approving an entry that carries
// conflicting candidate identities and no single target. Approving cannot
// pick a winner; the operator corrects or retires the conflicting records
// and rejects the entry, letting the next ingestion re-resolve cleanly.
var ErrAmbiguousEntry = errors.New("queue entry has no single candidate identity")

// Approve resolves a pending queue entry and applies its payload to the
// canonical registry. The status change and the registry mutation commit in
// one transaction.
func (r *Registry) Approve(ctx context.Context, entryID, resolvedBy string) (*models.DiscoveryQueueEntry, error) {
	return r.resolveEntry(ctx, entryID, models.QueueStatusApproved, resolvedBy)
}

// Reject resolves a pending queue entry without touching the canonical
// registry. The payload snapshot stays on the entry for audit.
func (r *Registry) Reject(ctx context.Context, entryID, resolvedBy string) (*models.DiscoveryQueueEntry, error) {
	return r.resolveEntry(ctx, entryID, models.QueueStatusRejected, resolvedBy)
}

// BulkApprove approves entries one at a time. A failure on one entry never
// rolls back the others; each result carries its own error.
func (r *Registry) BulkApprove(ctx context.Context, entryIDs []string, resolvedBy string) []models.BulkResolutionResult {
	return r.bulkResolve(ctx, entryIDs, models.QueueStatusApproved, resolvedBy)
}

// BulkReject rejects entries one at a time with per-entry results.
func (r *Registry) BulkReject(ctx context.Context, entryIDs []string, resolvedBy string) []models.BulkResolutionResult {
	return r.bulkResolve(ctx, entryIDs, models.QueueStatusRejected, resolvedBy)
}

func (r *Registry) bulkResolve(ctx context.Context, entryIDs []string, status models.QueueStatus, resolvedBy string) []models.BulkResolutionResult {
	results := make([]models.BulkResolutionResult, 0, len(entryIDs))

	for _, entryID := range entryIDs {
		result := models.BulkResolutionResult{EntryID: entryID}

		entry, err := r.resolveEntry(ctx, entryID, status, resolvedBy)
		if err != nil {
			result.Err = err
			result.Error = err.Error()
		} else {
			result.Status = entry.Status
		}

		results = append(results, result)
	}

	return results
}

// resolveEntry locks the entry row, validates the transition, applies the
// registry mutation for approving resolutions, and records the status, all
// inside one transaction. Events are published only after the commit.
func (r *Registry) resolveEntry(ctx context.Context, entryID string, status models.QueueStatus, resolvedBy string) (*models.DiscoveryQueueEntry, error) {
	var (
		resolved *models.DiscoveryQueueEntry
		events   []*models.DeviceEventData
	)

	err := r.db.InTx(ctx, func(store db.Store) error {
		entry, err := store.GetQueueEntryForUpdate(ctx, entryID)
		if err != nil {
			return fmt.Errorf("load queue entry %s: %w", entryID, err)
		}

		if entry.Status.IsTerminal() {
			return fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, entryID, entry.Status)
		}

		if err := entry.Status.ValidateTransition(status); err != nil {
			return err
		}

		if status == models.QueueStatusApproved || status == models.QueueStatusAutoApproved {
			deviceID, applied, err := r.applyEntry(ctx, store, entry)
			if err != nil {
				return fmt.Errorf("apply queue entry %s: %w", entryID, err)
			}

			entry.CandidateDeviceID = &deviceID
			events = applied
		}

		now := time.Now().UTC()
		if err := store.UpdateQueueEntryStatus(ctx, entryID, status, now, resolvedBy); err != nil {
			return fmt.Errorf("resolve queue entry %s: %w", entryID, err)
		}

		entry.Status = status
		entry.ResolvedAt = &now

		if resolvedBy != "" {
			by := resolvedBy
			entry.ResolvedBy = &by
		}

		resolved = entry

		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, event := range events {
		r.publish(ctx, event)
	}

	r.logger.Info().
		Str("entry_id", entryID).
		Str("status", string(status)).
		Str("resolved_by", resolvedBy).
		Msg("Discovery queue entry resolved")

	return resolved, nil
}

// applyEntry commits an approved entry's payload against the current
// registry state, which may have drifted since the entry was queued. A
// matched or candidate record receives the payload as an operator-confirmed
// overwrite; with no target the payload registers a new device, falling
// back to the update path if the insert loses a uniqueness race.
func (r *Registry) applyEntry(ctx context.Context, store db.Store, entry *models.DiscoveryQueueEntry) (string, []*models.DeviceEventData, error) {
	payload := entry.Payload

	matcher := identity.NewMatcher(store, r.logger)
	detector := identity.NewDetector(store, r.logger)

	match, err := matcher.Match(ctx, entry.MatchKeys)
	if err != nil {
		return "", nil, err
	}

	detection, err := detector.Classify(ctx, &payload, match)
	if err != nil {
		return "", nil, err
	}

	target := detection.Match.Matched
	if target == nil && entry.CandidateDeviceID != nil {
		target, err = store.GetDevice(ctx, *entry.CandidateDeviceID)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return "", nil, err
		}
	}

	// An entry queued with several conflicting records has no identity to
	// apply the payload to; inserting a fresh record would only deepen the
	// ambiguity.
	if target == nil && len(entry.ConflictingIDs) > 0 {
		return "", nil, fmt.Errorf("%w: %d conflicting records", ErrAmbiguousEntry, len(entry.ConflictingIDs))
	}

	if target != nil {
		movement, err := applyApproved(ctx, store, target, &payload, detection)
		if err != nil {
			return "", nil, err
		}

		return target.DeviceID, approvalEvents(target, movement, entry.Classification), nil
	}

	device := newCanonicalDevice(&payload, entry.MatchKeys, detection.Fingerprint)

	err = store.InsertDevice(ctx, device)
	if errors.Is(err, db.ErrConstraintViolation) {
		// Another writer registered this identity after the entry was
		// queued. Re-match and apply as an update instead.
		rematch, rerr := matcher.Match(ctx, entry.MatchKeys)
		if rerr != nil {
			return "", nil, rerr
		}

		if rematch.Matched == nil {
			return "", nil, err
		}

		redetection, rerr := detector.Classify(ctx, &payload, rematch)
		if rerr != nil {
			return "", nil, rerr
		}

		movement, rerr := applyApproved(ctx, store, rematch.Matched, &payload, redetection)
		if rerr != nil {
			return "", nil, rerr
		}

		return rematch.Matched.DeviceID, approvalEvents(rematch.Matched, movement, entry.Classification), nil
	}

	if err != nil {
		return "", nil, err
	}

	return device.DeviceID, []*models.DeviceEventData{{
		Type:           models.EventDeviceRegistered,
		DeviceID:       device.DeviceID,
		Classification: entry.Classification,
		Manufacturer:   device.Manufacturer,
		IP:             device.IP,
		Timestamp:      time.Now().UTC(),
	}}, nil
}

// applyApproved writes an approved payload onto a target record. Unlike
// the auto-commit path, approval overwrites identity attributes the
// payload disagrees on; the operator confirmed the payload's claim.
func applyApproved(ctx context.Context, store db.Store, target *models.CanonicalDevice, payload *models.RawPayload, detection *identity.Detection) (*models.DeviceMovementLogEntry, error) {
	now := seenAt(payload)

	if serial := payload.Field(models.FieldSerialNumber); serial != "" {
		target.SerialNumber = &serial
	}

	if mac := identity.NormalizeMAC(payload.Field(models.FieldMACAddress)); mac != "" {
		target.MAC = &mac
	}

	if apiID := payload.Field(models.FieldAPIDeviceID); apiID != "" {
		target.APIDeviceID = apiID
	}

	if manufacturer := payload.ManufacturerCode(); manufacturer != "" {
		target.Manufacturer = manufacturer
	}

	if model := payload.Field(models.FieldModel); model != "" {
		target.Model = model
	}

	var movement *models.DeviceMovementLogEntry

	previous := target.Fingerprint

	if !detection.Fingerprint.IsZero() && !previous.Equal(detection.Fingerprint) {
		_, err := store.FindMovementEntry(ctx, target.DeviceID, previous, detection.Fingerprint)
		if errors.Is(err, db.ErrNotFound) {
			movement = &models.DeviceMovementLogEntry{
				EntryID:             uuid.New().String(),
				DeviceID:            target.DeviceID,
				PreviousFingerprint: previous,
				NewFingerprint:      detection.Fingerprint,
				DetectedAt:          now,
			}

			if err := store.InsertMovementEntry(ctx, movement); err != nil {
				return nil, err
			}
		} else if err != nil {
			return nil, err
		}
	}

	if !detection.Fingerprint.IsZero() {
		target.Fingerprint = detection.Fingerprint
		target.IP = detection.Fingerprint.IP
	}

	target.LastSeen = now

	if err := store.UpdateDevice(ctx, target); err != nil {
		return nil, err
	}

	return movement, nil
}

func approvalEvents(device *models.CanonicalDevice, movement *models.DeviceMovementLogEntry, class models.Classification) []*models.DeviceEventData {
	events := []*models.DeviceEventData{{
		Type:           models.EventDeviceUpdated,
		DeviceID:       device.DeviceID,
		Classification: class,
		Manufacturer:   device.Manufacturer,
		IP:             device.IP,
		Timestamp:      time.Now().UTC(),
	}}

	if movement != nil {
		events = append(events, &models.DeviceEventData{
			Type:           models.EventDeviceMovementDetected,
			DeviceID:       device.DeviceID,
			Classification: models.ClassificationMovement,
			Manufacturer:   device.Manufacturer,
			IP:             movement.NewFingerprint.IP,
			Timestamp:      time.Now().UTC(),
		})
	}

	return events
}

// matchAutoApproveRule returns the first configured rule covering the
// entry, or nil. A rule must match both the classification and the
// payload's IP within the rule's subnet.
func (r *Registry) matchAutoApproveRule(entry *models.DiscoveryQueueEntry) *models.AutoApproveRule {
	if len(r.config.AutoApprove) == 0 {
		return nil
	}

	addr, err := netip.ParseAddr(entry.Payload.Field(models.FieldIPAddress))
	if err != nil {
		return nil
	}

	for i := range r.config.AutoApprove {
		rule := &r.config.AutoApprove[i]

		if rule.Classification != entry.Classification {
			continue
		}

		prefix, err := netip.ParsePrefix(rule.SubnetCIDR)
		if err != nil {
			r.logger.Warn().
				Str("subnet_cidr", rule.SubnetCIDR).
				Msg("Skipping auto-approve rule with invalid subnet")

			continue
		}

		if prefix.Contains(addr) {
			return rule
		}
	}

	return nil
}
