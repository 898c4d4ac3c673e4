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
	"errors"
	"fmt"
	"time"
)

// QueueStatus is the lifecycle state of a discovery queue entry.
type QueueStatus string

const (
	QueueStatusPending      QueueStatus = "pending"
	QueueStatusApproved     QueueStatus = "approved"
	QueueStatusRejected     QueueStatus = "rejected"
	QueueStatusAutoApproved QueueStatus = "auto_approved"
)

// ErrInvalidTransition is returned when a queue entry transition would leave
// a terminal state.
var ErrInvalidTransition = errors.New("invalid queue entry transition")

// IsTerminal reports whether the status permits no further transitions.
func (s QueueStatus) IsTerminal() bool {
	switch s {
	case QueueStatusApproved, QueueStatusRejected, QueueStatusAutoApproved:
		return true
	case QueueStatusPending:
		return false
	default:
		return false
	}
}

// ValidateTransition checks a proposed status change. Terminal states are
// immutable; pending entries may move to any terminal state.
func (s QueueStatus) ValidateTransition(to QueueStatus) error {
	if s.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, to)
	}

	switch to {
	case QueueStatusApproved, QueueStatusRejected, QueueStatusAutoApproved:
		return nil
	case QueueStatusPending:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, to)
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
}

// Classification is the conflict/movement detector's verdict for a payload.
type Classification string

const (
	ClassificationNewDevice            Classification = "NEW_DEVICE"
	ClassificationNoChange             Classification = "NO_CHANGE"
	ClassificationMovement             Classification = "MOVEMENT"
	ClassificationManufacturerMismatch Classification = "MANUFACTURER_MISMATCH"
	ClassificationIdentityAmbiguous    Classification = "IDENTITY_AMBIGUOUS"
	ClassificationIPConflict           Classification = "IP_CONFLICT"
)

// AutoCommitEligible reports whether the classification may be committed to
// the canonical registry without explicit approval. Everything else is
// routed to the discovery queue; silent auto-resolution of identity
// conflicts risks corrupting the registry.
func (c Classification) AutoCommitEligible() bool {
	return c == ClassificationNoChange || c == ClassificationMovement
}

// DiscoveryQueueEntry is a pending reconciliation decision. The entry owns
// the raw payload snapshot until it is resolved, at which point the
// resulting canonical mutation belongs to the approval workflow.
type DiscoveryQueueEntry struct {
	EntryID           string         `json:"entry_id" db:"entry_id"`
	Payload           RawPayload     `json:"payload" db:"payload"`
	MatchKeys         []MatchKey     `json:"match_keys" db:"match_keys"`
	CandidateDeviceID *string        `json:"candidate_device_id,omitempty" db:"candidate_device_id"`
	ConflictingIDs    []string       `json:"conflicting_ids,omitempty" db:"conflicting_ids"`
	Classification    Classification `json:"classification" db:"classification"`
	Status            QueueStatus    `json:"status" db:"status"`
	DiscoveredAt      time.Time      `json:"discovered_at" db:"discovered_at"`
	ResolvedAt        *time.Time     `json:"resolved_at,omitempty" db:"resolved_at"`
	ResolvedBy        *string        `json:"resolved_by,omitempty" db:"resolved_by"`
}

// QueueFilter narrows ListQueueEntries results.
type QueueFilter struct {
	Status       QueueStatus    `json:"status,omitempty"`
	Manufacturer string         `json:"manufacturer,omitempty"`
	Class        Classification `json:"classification,omitempty"`
	Limit        int            `json:"limit,omitempty"`
	Offset       int            `json:"offset,omitempty"`
}

// BulkResolutionResult reports the outcome of one entry within a bulk
// approve/reject call. A failure on one entry never rolls back the others.
type BulkResolutionResult struct {
	EntryID string      `json:"entry_id"`
	Status  QueueStatus `json:"status,omitempty"`
	Err     error       `json:"-"`
	Error   string      `json:"error,omitempty"`
}
