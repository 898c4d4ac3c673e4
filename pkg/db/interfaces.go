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

// Package db provides the storage layer for the canonical device registry,
// discovery queue, and movement log.
package db

import (
	"context"
	"errors"
	"time"

	"github.com/justprosound/devreg/pkg/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConstraintViolation is returned when an insert or update loses a
	// uniqueness race. Callers recover by re-reading and falling back to the
	// update path; it is never surfaced outside the registry.
	ErrConstraintViolation = errors.New("registry constraint violation")
)

// Store is the operation set available both on the service itself and
// inside a transaction callback.
type Store interface {
	// Canonical device operations.

	GetDevice(ctx context.Context, deviceID string) (*models.CanonicalDevice, error)
	GetDevicesByMatchKey(ctx context.Context, key models.MatchKey) ([]*models.CanonicalDevice, error)
	GetDevicesByIP(ctx context.Context, ip string) ([]*models.CanonicalDevice, error)
	ListDevices(ctx context.Context, limit, offset int) ([]*models.CanonicalDevice, error)
	InsertDevice(ctx context.Context, device *models.CanonicalDevice) error
	UpdateDevice(ctx context.Context, device *models.CanonicalDevice) error
	RetireDevice(ctx context.Context, deviceID string, at time.Time) error

	// Discovery queue operations.

	InsertQueueEntry(ctx context.Context, entry *models.DiscoveryQueueEntry) error
	GetQueueEntry(ctx context.Context, entryID string) (*models.DiscoveryQueueEntry, error)
	GetQueueEntryForUpdate(ctx context.Context, entryID string) (*models.DiscoveryQueueEntry, error)
	FindPendingQueueEntry(ctx context.Context, matchHash string) (*models.DiscoveryQueueEntry, error)
	ListQueueEntries(ctx context.Context, filter *models.QueueFilter) ([]*models.DiscoveryQueueEntry, error)
	UpdateQueueEntryStatus(ctx context.Context, entryID string, status models.QueueStatus, resolvedAt time.Time, resolvedBy string) error

	// Movement log operations.

	InsertMovementEntry(ctx context.Context, entry *models.DeviceMovementLogEntry) error
	GetMovementEntry(ctx context.Context, entryID string) (*models.DeviceMovementLogEntry, error)
	FindMovementEntry(ctx context.Context, deviceID string, previous, next models.NetworkFingerprint) (*models.DeviceMovementLogEntry, error)
	ListMovementEntries(ctx context.Context, deviceID string, limit int) ([]*models.DeviceMovementLogEntry, error)
	AcknowledgeMovement(ctx context.Context, entryID string, at time.Time) error
}

// Service is the full storage contract. InTx runs fn inside a single
// transaction; a queue resolution and its registry mutation commit together
// or not at all.
type Service interface {
	Store

	InTx(ctx context.Context, fn func(Store) error) error
	Close() error
}
