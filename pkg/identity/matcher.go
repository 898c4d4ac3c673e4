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
	"sort"

	"github.com/justprosound/devreg/pkg/logger"
	"github.com/justprosound/devreg/pkg/models"
)

// KeyLookup is the read-only registry view the matcher queries. Lookups must
// exclude soft-retired devices.
type KeyLookup interface {
	GetDevicesByMatchKey(ctx context.Context, key models.MatchKey) ([]*models.CanonicalDevice, error)
}

// MatchOutcome classifies a matcher run.
type MatchOutcome string

const (
	OutcomeNewDevice   MatchOutcome = "NEW_DEVICE"
	OutcomeUniqueMatch MatchOutcome = "UNIQUE_MATCH"
	OutcomeConflict    MatchOutcome = "CONFLICT"
)

// MatchResult is the matcher's verdict for one payload's key set.
type MatchResult struct {
	Outcome    MatchOutcome
	Matched    *models.CanonicalDevice
	MatchedKey *models.MatchKey

	// Conflicting holds every distinct candidate when Outcome is
	// OutcomeConflict, including the would-be match, ordered by device ID
	// for determinism.
	Conflicting   []*models.CanonicalDevice
	ConflictClass models.Classification
}

type keyCandidates struct {
	key     models.MatchKey
	devices []*models.CanonicalDevice
}

// Matcher resolves extracted match keys against the canonical registry.
type Matcher struct {
	store  KeyLookup
	logger logger.Logger
}

// NewMatcher creates a matcher reading through the given lookup.
func NewMatcher(store KeyLookup, log logger.Logger) *Matcher {
	return &Matcher{store: store, logger: log}
}

// Match walks the keys in priority order. The first key yielding exactly one
// candidate determines the match; a higher-priority key always takes
// precedence over lower-priority ones. A lower-priority key that resolves to
// a different record is a conflict requiring resolution, never a silent
// pick. A single key yielding two or more live records is ambiguous.
//
// Match never writes to the registry and is deterministic for a given
// registry state.
func (m *Matcher) Match(ctx context.Context, keys []models.MatchKey) (*MatchResult, error) {
	hits := make([]keyCandidates, 0, len(keys))

	for _, key := range keys {
		candidates, err := m.store.GetDevicesByMatchKey(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("match key lookup (%s=%s): %w", key.Type, key.Value, err)
		}

		if len(candidates) == 0 {
			continue
		}

		hits = append(hits, keyCandidates{key: key, devices: candidates})
	}

	if len(hits) == 0 {
		return &MatchResult{Outcome: OutcomeNewDevice}, nil
	}

	result := m.classify(keys, hits)

	if result.Outcome == OutcomeConflict && m.logger != nil {
		m.logger.Debug().
			Int("candidates", len(result.Conflicting)).
			Str("conflict_class", string(result.ConflictClass)).
			Msg("Match resolved to conflict")
	}

	return result, nil
}

func (m *Matcher) classify(keys []models.MatchKey, hits []keyCandidates) *MatchResult {
	result := &MatchResult{}

	seen := make(map[string]*models.CanonicalDevice)
	ambiguous := false
	weakOnlyDisagreement := true

	for _, hit := range hits {
		for _, device := range hit.devices {
			seen[device.DeviceID] = device
		}

		if len(hit.devices) > 1 {
			// One key value pointing at several live records. Unique
			// constraints rule this out for the strong keys; the IP+model
			// composite can legitimately collide.
			ambiguous = true
			continue
		}

		if result.Matched == nil {
			result.Matched = hit.devices[0]
			matchedKey := hit.key
			result.MatchedKey = &matchedKey

			continue
		}

		if hit.devices[0].DeviceID != result.Matched.DeviceID && hit.key.Type != models.MatchKeyIPModel {
			weakOnlyDisagreement = false
		}
	}

	switch {
	case ambiguous:
		result.Outcome = OutcomeConflict
		result.ConflictClass = models.ClassificationIdentityAmbiguous
	case len(seen) > 1:
		// Cross-key disagreement: higher-priority key matched record A
		// while a lower-priority key matched a different record B.
		result.Outcome = OutcomeConflict
		if weakOnlyDisagreement && serialsDiffer(keys, seen, result.Matched) {
			result.ConflictClass = models.ClassificationIPConflict
		} else {
			result.ConflictClass = models.ClassificationManufacturerMismatch
		}
	default:
		result.Outcome = OutcomeUniqueMatch
	}

	if result.Outcome == OutcomeConflict {
		result.Conflicting = make([]*models.CanonicalDevice, 0, len(seen))
		for _, device := range seen {
			result.Conflicting = append(result.Conflicting, device)
		}

		sort.Slice(result.Conflicting, func(i, j int) bool {
			return result.Conflicting[i].DeviceID < result.Conflicting[j].DeviceID
		})
	}

	return result
}

// serialsDiffer reports whether the payload's serial number disagrees with
// the serial of every candidate other than the matched record. A record
// occupying the payload's IP under a different serial is an IP conflict, not
// an identity mismatch.
func serialsDiffer(keys []models.MatchKey, seen map[string]*models.CanonicalDevice, matched *models.CanonicalDevice) bool {
	var payloadSerial string

	for _, key := range keys {
		if key.Type == models.MatchKeySerialNumber {
			payloadSerial = key.Value
			break
		}
	}

	for id, device := range seen {
		if matched != nil && id == matched.DeviceID {
			continue
		}
		if device.Serial() != "" && device.Serial() == payloadSerial {
			return false
		}
	}

	return true
}
