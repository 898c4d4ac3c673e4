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

// Package registry implements the canonical device registry and the
// discovery reconciliation pipeline feeding it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/justprosound/devreg/pkg/db"
	"github.com/justprosound/devreg/pkg/identity"
	"github.com/justprosound/devreg/pkg/logger"
	"github.com/justprosound/devreg/pkg/models"
)

// Config controls registry reconciliation behavior.
type Config struct {
	// QueueNewDevices routes NEW_DEVICE classifications to the discovery
	// queue instead of registering them immediately.
	QueueNewDevices bool `json:"queue_new_devices"`

	// AutoApprove lists the explicit exceptions to the queue-everything
	// default. Empty by default; nothing is widened silently.
	AutoApprove []models.AutoApproveRule `json:"auto_approve,omitempty"`

	CacheTTL     models.Duration `json:"cache_ttl,omitempty"`
	CacheMaxSize int             `json:"cache_max_size,omitempty"`
}

// Resolution is the outcome of processing one raw payload.
type Resolution struct {
	Classification models.Classification `json:"classification"`

	// DeviceID is set when the payload was committed to, or matched
	// against, a canonical record.
	DeviceID string `json:"device_id,omitempty"`

	// QueueEntryID is set when the payload was routed to the discovery
	// queue, including re-submissions folded into an existing pending entry.
	QueueEntryID string `json:"queue_entry_id,omitempty"`

	// Committed reports whether the canonical registry was mutated.
	Committed bool `json:"committed"`

	// Err carries the per-payload failure in batch mode.
	Err error `json:"-"`
}

// Registry owns the ingest pipeline: extract match keys, run the
// deduplication matcher, classify, then either commit to the canonical
// store or route to the discovery queue. Writes for one identity are
// serialized in-process on the strongest match key; the database unique
// constraints remain the final arbiter for anything that slips past.
type Registry struct {
	db       db.Service
	logger   logger.Logger
	matcher  *identity.Matcher
	detector *identity.Detector
	sink     EventSink
	config   Config
	keys     *keyMutex
	cache    *resolutionCache
}

// NewRegistry creates a registry over the given store. A nil sink disables
// event emission.
func NewRegistry(database db.Service, sink EventSink, cfg Config, log logger.Logger) *Registry {
	if sink == nil {
		sink = noopEventSink{}
	}

	ttl := time.Duration(cfg.CacheTTL)
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	maxSize := cfg.CacheMaxSize
	if maxSize <= 0 {
		maxSize = defaultCacheMaxSize
	}

	return &Registry{
		db:       database,
		logger:   log,
		matcher:  identity.NewMatcher(database, log),
		detector: identity.NewDetector(database, log),
		sink:     sink,
		config:   cfg,
		keys:     newKeyMutex(),
		cache:    newResolutionCache(ttl, maxSize),
	}
}

// ProcessPayload runs one raw payload through the reconciliation pipeline.
// ErrMalformedPayload is returned for payloads with no extractable match
// key; callers log and skip those without creating a queue entry.
func (r *Registry) ProcessPayload(ctx context.Context, payload *models.RawPayload) (*Resolution, error) {
	keys, err := identity.ExtractMatchKeys(payload)
	if err != nil {
		return nil, err
	}

	unlock := r.keys.lock(lockKey(keys[0]))
	defer unlock()

	if resolution := r.tryCachedNoChange(ctx, payload, keys); resolution != nil {
		return resolution, nil
	}

	return r.resolve(ctx, payload, keys, true)
}

// ProcessBatchPayloads processes payloads independently. One payload's
// failure never affects the others; per-payload errors are carried in the
// result slice.
func (r *Registry) ProcessBatchPayloads(ctx context.Context, payloads []*models.RawPayload) []*Resolution {
	results := make([]*Resolution, 0, len(payloads))

	var committed, queued, newDevices, failed int

	for _, payload := range payloads {
		resolution, err := r.ProcessPayload(ctx, payload)
		if err != nil {
			failed++

			r.logger.Warn().Err(err).
				Str("manufacturer", payload.ManufacturerCode()).
				Msg("Payload resolution failed")

			results = append(results, &Resolution{Err: err})

			continue
		}

		if resolution.Committed {
			committed++
		}

		if resolution.QueueEntryID != "" {
			queued++
		}

		if resolution.Classification == models.ClassificationNewDevice {
			newDevices++
		}

		results = append(results, resolution)
	}

	recordResolutionMetrics(len(payloads), committed, queued, newDevices, failed, time.Now())

	return results
}

// resolve classifies and commits or enqueues one payload. allowRetry
// bounds the constraint-violation fallback to a single re-read.
func (r *Registry) resolve(ctx context.Context, payload *models.RawPayload, keys []models.MatchKey, allowRetry bool) (*Resolution, error) {
	match, err := r.matcher.Match(ctx, keys)
	if err != nil {
		return nil, err
	}

	detection, err := r.detector.Classify(ctx, payload, match)
	if err != nil {
		return nil, err
	}

	switch detection.Classification {
	case models.ClassificationNewDevice:
		if r.config.QueueNewDevices {
			return r.enqueue(ctx, payload, keys, detection)
		}

		return r.commitNewDevice(ctx, payload, keys, detection, allowRetry)

	case models.ClassificationNoChange, models.ClassificationMovement:
		return r.commitMatched(ctx, payload, keys, detection)

	default:
		return r.enqueue(ctx, payload, keys, detection)
	}
}

// commitNewDevice registers a never-seen device. Losing the uniqueness
// race surfaces as a constraint violation; the payload is then re-resolved
// against the record the winner inserted.
func (r *Registry) commitNewDevice(ctx context.Context, payload *models.RawPayload, keys []models.MatchKey, detection *identity.Detection, allowRetry bool) (*Resolution, error) {
	device := newCanonicalDevice(payload, keys, detection.Fingerprint)

	err := r.db.InsertDevice(ctx, device)
	if err != nil {
		if errors.Is(err, db.ErrConstraintViolation) {
			// A retired record can hold the same deterministic ID; a
			// reappearing device revives it rather than forking identity.
			if existing, getErr := r.db.GetDevice(ctx, device.DeviceID); getErr == nil && existing.Retired {
				return r.reviveDevice(ctx, existing, payload, keys, detection)
			}

			if allowRetry {
				r.logger.Debug().
					Str("device_id", device.DeviceID).
					Msg("Lost insert race, re-resolving against winner")

				return r.resolve(ctx, payload, keys, false)
			}
		}

		return nil, fmt.Errorf("register device: %w", err)
	}

	r.cache.set(cacheKey(keys), device.DeviceID)

	r.publish(ctx, &models.DeviceEventData{
		Type:           models.EventDeviceRegistered,
		DeviceID:       device.DeviceID,
		Classification: models.ClassificationNewDevice,
		Manufacturer:   device.Manufacturer,
		IP:             device.IP,
		Timestamp:      time.Now().UTC(),
	})

	r.logger.Info().
		Str("device_id", device.DeviceID).
		Str("manufacturer", device.Manufacturer).
		Str("ip", device.IP).
		Msg("Registered new canonical device")

	return &Resolution{
		Classification: models.ClassificationNewDevice,
		DeviceID:       device.DeviceID,
		Committed:      true,
	}, nil
}

// reviveDevice reactivates a retired record whose identity reappeared on
// the network. The canonical ID is preserved so movement history and
// approvals stay attached to the same device.
func (r *Registry) reviveDevice(ctx context.Context, existing *models.CanonicalDevice, payload *models.RawPayload, keys []models.MatchKey, detection *identity.Detection) (*Resolution, error) {
	now := seenAt(payload)

	existing.Retired = false
	existing.RetiredAt = nil
	existing.Fingerprint = detection.Fingerprint
	existing.IP = detection.Fingerprint.IP
	existing.LastSeen = now

	enrichDevice(existing, payload)

	if err := r.db.UpdateDevice(ctx, existing); err != nil {
		return nil, fmt.Errorf("revive device %s: %w", existing.DeviceID, err)
	}

	r.cache.set(cacheKey(keys), existing.DeviceID)

	r.publish(ctx, &models.DeviceEventData{
		Type:           models.EventDeviceRegistered,
		DeviceID:       existing.DeviceID,
		Classification: models.ClassificationNewDevice,
		Manufacturer:   existing.Manufacturer,
		IP:             existing.IP,
		Timestamp:      time.Now().UTC(),
	})

	r.logger.Info().
		Str("device_id", existing.DeviceID).
		Msg("Revived retired canonical device")

	return &Resolution{
		Classification: models.ClassificationNewDevice,
		DeviceID:       existing.DeviceID,
		Committed:      true,
	}, nil
}

// commitMatched applies a NO_CHANGE or MOVEMENT payload to its matched
// record. Movement commits the record update and the movement log entry in
// one transaction.
func (r *Registry) commitMatched(ctx context.Context, payload *models.RawPayload, keys []models.MatchKey, detection *identity.Detection) (*Resolution, error) {
	matched := detection.Match.Matched

	var movement *models.DeviceMovementLogEntry

	err := r.db.InTx(ctx, func(store db.Store) error {
		var err error

		movement, err = applyMatched(ctx, store, matched, payload, detection)

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", detection.Classification, err)
	}

	r.cache.set(cacheKey(keys), matched.DeviceID)

	if movement != nil {
		r.publish(ctx, &models.DeviceEventData{
			Type:           models.EventDeviceMovementDetected,
			DeviceID:       matched.DeviceID,
			Classification: models.ClassificationMovement,
			Manufacturer:   matched.Manufacturer,
			IP:             detection.Fingerprint.IP,
			Timestamp:      time.Now().UTC(),
		})
	} else {
		r.publish(ctx, &models.DeviceEventData{
			Type:           models.EventDeviceUpdated,
			DeviceID:       matched.DeviceID,
			Classification: detection.Classification,
			Manufacturer:   matched.Manufacturer,
			IP:             matched.IP,
			Timestamp:      time.Now().UTC(),
		})
	}

	return &Resolution{
		Classification: detection.Classification,
		DeviceID:       matched.DeviceID,
		Committed:      true,
	}, nil
}

// enqueue routes a payload to the discovery queue. Re-submitting a payload
// with the same key set and classification folds into the existing pending
// entry instead of creating a duplicate.
func (r *Registry) enqueue(ctx context.Context, payload *models.RawPayload, keys []models.MatchKey, detection *identity.Detection) (*Resolution, error) {
	r.cache.invalidate(cacheKey(keys))

	entry := &models.DiscoveryQueueEntry{
		EntryID:        uuid.New().String(),
		Payload:        *payload,
		MatchKeys:      keys,
		Classification: detection.Classification,
		Status:         models.QueueStatusPending,
		DiscoveredAt:   time.Now().UTC(),
	}

	if matched := detection.Match.Matched; matched != nil {
		candidateID := matched.DeviceID
		entry.CandidateDeviceID = &candidateID
	}

	for _, device := range detection.Match.Conflicting {
		entry.ConflictingIDs = append(entry.ConflictingIDs, device.DeviceID)
	}

	err := r.db.InsertQueueEntry(ctx, entry)
	if err != nil {
		if !errors.Is(err, db.ErrConstraintViolation) {
			return nil, fmt.Errorf("enqueue payload: %w", err)
		}

		existing, findErr := r.db.FindPendingQueueEntry(ctx, identity.KeySetHash(keys, detection.Classification))
		if findErr != nil {
			return nil, fmt.Errorf("enqueue payload: %w", err)
		}

		return &Resolution{
			Classification: detection.Classification,
			QueueEntryID:   existing.EntryID,
		}, nil
	}

	r.logger.Info().
		Str("entry_id", entry.EntryID).
		Str("classification", string(entry.Classification)).
		Str("manufacturer", payload.ManufacturerCode()).
		Msg("Payload routed to discovery queue")

	if rule := r.matchAutoApproveRule(entry); rule != nil {
		resolved, err := r.resolveEntry(ctx, entry.EntryID, models.QueueStatusAutoApproved, "auto-approval")
		if err != nil {
			return nil, fmt.Errorf("auto-approve queue entry %s: %w", entry.EntryID, err)
		}

		return &Resolution{
			Classification: detection.Classification,
			DeviceID:       resolvedDeviceID(resolved),
			QueueEntryID:   entry.EntryID,
			Committed:      true,
		}, nil
	}

	r.publish(ctx, &models.DeviceEventData{
		Type:           models.EventDeviceConflictQueued,
		QueueEntryID:   entry.EntryID,
		Classification: entry.Classification,
		Manufacturer:   payload.ManufacturerCode(),
		IP:             payload.Field(models.FieldIPAddress),
		Timestamp:      time.Now().UTC(),
	})

	return &Resolution{
		Classification: detection.Classification,
		QueueEntryID:   entry.EntryID,
	}, nil
}

// tryCachedNoChange short-circuits the steady-state case: a payload whose
// key set recently resolved to a device and whose fingerprint has not
// moved. Anything else falls through to the full cascade.
func (r *Registry) tryCachedNoChange(ctx context.Context, payload *models.RawPayload, keys []models.MatchKey) *Resolution {
	deviceID := r.cache.get(cacheKey(keys))
	if deviceID == "" {
		return nil
	}

	device, err := r.db.GetDevice(ctx, deviceID)
	if err != nil || device.Retired {
		r.cache.invalidate(cacheKey(keys))
		return nil
	}

	match := &identity.MatchResult{Outcome: identity.OutcomeUniqueMatch, Matched: device}

	detection, err := r.detector.Classify(ctx, payload, match)
	if err != nil || detection.Classification != models.ClassificationNoChange {
		return nil
	}

	resolution, err := r.commitMatched(ctx, payload, keys, detection)
	if err != nil {
		return nil
	}

	return resolution
}

// applyMatched refreshes a matched record from the payload. Returns the
// movement log entry when the classification is MOVEMENT and the
// transition was not already recorded.
func applyMatched(ctx context.Context, store db.Store, matched *models.CanonicalDevice, payload *models.RawPayload, detection *identity.Detection) (*models.DeviceMovementLogEntry, error) {
	now := seenAt(payload)

	enrichDevice(matched, payload)

	matched.LastSeen = now

	var movement *models.DeviceMovementLogEntry

	if detection.Classification == models.ClassificationMovement {
		previous := matched.Fingerprint
		if detection.PreviousFingerprint != nil {
			previous = *detection.PreviousFingerprint
		}

		matched.Fingerprint = detection.Fingerprint
		matched.IP = detection.Fingerprint.IP

		_, err := store.FindMovementEntry(ctx, matched.DeviceID, previous, detection.Fingerprint)
		if errors.Is(err, db.ErrNotFound) {
			movement = &models.DeviceMovementLogEntry{
				EntryID:             uuid.New().String(),
				DeviceID:            matched.DeviceID,
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
	} else {
		// Metadata refresh only; the network location stands.
		matched.Fingerprint.Metadata = detection.Fingerprint.Metadata
	}

	if err := store.UpdateDevice(ctx, matched); err != nil {
		return nil, err
	}

	return movement, nil
}

// enrichDevice fills identity attributes the record was missing. Existing
// values are never overwritten here; disagreements were already classified
// as conflicts upstream.
func enrichDevice(device *models.CanonicalDevice, payload *models.RawPayload) {
	if device.Serial() == "" {
		if serial := payload.Field(models.FieldSerialNumber); serial != "" {
			device.SerialNumber = &serial
		}
	}

	if device.MACAddress() == "" {
		if mac := identity.NormalizeMAC(payload.Field(models.FieldMACAddress)); mac != "" {
			device.MAC = &mac
		}
	}

	if device.APIDeviceID == "" {
		device.APIDeviceID = payload.Field(models.FieldAPIDeviceID)
	}

	if device.Manufacturer == "" || device.Manufacturer == models.ManufacturerUnknown {
		if manufacturer := payload.ManufacturerCode(); manufacturer != "" {
			device.Manufacturer = manufacturer
		}
	}

	if device.Model == "" {
		device.Model = payload.Field(models.FieldModel)
	}
}

func newCanonicalDevice(payload *models.RawPayload, keys []models.MatchKey, fingerprint models.NetworkFingerprint) *models.CanonicalDevice {
	now := seenAt(payload)

	device := &models.CanonicalDevice{
		DeviceID:     identity.GenerateDeviceID(keys),
		APIDeviceID:  payload.Field(models.FieldAPIDeviceID),
		Manufacturer: payload.ManufacturerCode(),
		IP:           fingerprint.IP,
		Model:        payload.Field(models.FieldModel),
		Fingerprint:  fingerprint,
		FirstSeen:    now,
		LastSeen:     now,
	}

	if serial := payload.Field(models.FieldSerialNumber); serial != "" {
		device.SerialNumber = &serial
	}

	if mac := identity.NormalizeMAC(payload.Field(models.FieldMACAddress)); mac != "" {
		device.MAC = &mac
	}

	return device
}

func seenAt(payload *models.RawPayload) time.Time {
	if !payload.ReceivedAt.IsZero() {
		return payload.ReceivedAt.UTC()
	}

	return time.Now().UTC()
}

func lockKey(key models.MatchKey) string {
	return string(key.Type) + ":" + key.Manufacturer + ":" + key.Value
}

func cacheKey(keys []models.MatchKey) string {
	return identity.KeySetHash(keys, "")
}

func resolvedDeviceID(entry *models.DiscoveryQueueEntry) string {
	if entry != nil && entry.CandidateDeviceID != nil {
		return *entry.CandidateDeviceID
	}

	return ""
}
