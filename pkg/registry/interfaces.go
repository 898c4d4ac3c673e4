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

	"github.com/justprosound/devreg/pkg/models"
)

// Manager is the full reconciliation surface consumed by ingestion
// consumers and the (out-of-scope) admin layer.
type Manager interface {
	// Ingestion.

	ProcessPayload(ctx context.Context, payload *models.RawPayload) (*Resolution, error)
	ProcessBatchPayloads(ctx context.Context, payloads []*models.RawPayload) []*Resolution

	// Approval workflow.

	Approve(ctx context.Context, entryID, resolvedBy string) (*models.DiscoveryQueueEntry, error)
	Reject(ctx context.Context, entryID, resolvedBy string) (*models.DiscoveryQueueEntry, error)
	BulkApprove(ctx context.Context, entryIDs []string, resolvedBy string) []models.BulkResolutionResult
	BulkReject(ctx context.Context, entryIDs []string, resolvedBy string) []models.BulkResolutionResult

	// Query surface.

	GetDevice(ctx context.Context, deviceID string) (*models.CanonicalDevice, error)
	GetDevicesByIP(ctx context.Context, ip string) ([]*models.CanonicalDevice, error)
	ListDevices(ctx context.Context, limit, offset int) ([]*models.CanonicalDevice, error)
	RetireDevice(ctx context.Context, deviceID string) error
	GetQueueEntry(ctx context.Context, entryID string) (*models.DiscoveryQueueEntry, error)
	ListQueueEntries(ctx context.Context, filter *models.QueueFilter) ([]*models.DiscoveryQueueEntry, error)
	ListPendingQueueEntries(ctx context.Context, filter *models.QueueFilter) ([]*models.DiscoveryQueueEntry, error)
	ListMovementEntries(ctx context.Context, deviceID string, limit int) ([]*models.DeviceMovementLogEntry, error)
	AcknowledgeMovement(ctx context.Context, entryID string) (*models.DeviceMovementLogEntry, error)
}

var _ Manager = (*Registry)(nil)
