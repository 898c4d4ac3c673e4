package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/justprosound/devreg/pkg/models"
)

const movementColumns = `entry_id, device_id, previous_fingerprint, new_fingerprint,
	detected_at, acknowledged, acknowledged_at`

const insertMovementSQL = `
INSERT INTO device_movement_log (
	entry_id, device_id, previous_fingerprint, new_fingerprint, detected_at, acknowledged
) VALUES ($1,$2,$3,$4,$5,$6)`

const getMovementSQL = `
SELECT ` + movementColumns + `
FROM device_movement_log
WHERE entry_id = $1`

const findMovementSQL = `
SELECT ` + movementColumns + `
FROM device_movement_log
WHERE device_id = $1
  AND previous_fingerprint->>'ip' = $2
  AND COALESCE(previous_fingerprint->>'subnet', '') = $3
  AND COALESCE(previous_fingerprint->>'interface_id', '') = $4
  AND new_fingerprint->>'ip' = $5
  AND COALESCE(new_fingerprint->>'subnet', '') = $6
  AND COALESCE(new_fingerprint->>'interface_id', '') = $7
ORDER BY detected_at DESC
LIMIT 1`

const listMovementsSQL = `
SELECT ` + movementColumns + `
FROM device_movement_log
WHERE device_id = $1
ORDER BY detected_at DESC
LIMIT $2`

const acknowledgeMovementSQL = `
UPDATE device_movement_log
SET acknowledged = TRUE, acknowledged_at = $2
WHERE entry_id = $1 AND NOT acknowledged`

// InsertMovementEntry appends to the movement log. Entries are never
// updated except through AcknowledgeMovement, and never deleted.
func (db *DB) InsertMovementEntry(ctx context.Context, entry *models.DeviceMovementLogEntry) error {
	previous, err := json.Marshal(entry.PreviousFingerprint)
	if err != nil {
		return fmt.Errorf("marshal previous fingerprint: %w", err)
	}

	next, err := json.Marshal(entry.NewFingerprint)
	if err != nil {
		return fmt.Errorf("marshal new fingerprint: %w", err)
	}

	_, err = db.conn().Exec(ctx, insertMovementSQL,
		entry.EntryID,
		entry.DeviceID,
		previous,
		next,
		entry.DetectedAt,
		entry.Acknowledged,
	)

	return translateError(err)
}

// GetMovementEntry returns a movement log entry by ID.
func (db *DB) GetMovementEntry(ctx context.Context, entryID string) (*models.DeviceMovementLogEntry, error) {
	entry, err := scanMovement(db.conn().QueryRow(ctx, getMovementSQL, entryID))
	if err != nil {
		return nil, translateError(err)
	}

	return entry, nil
}

// FindMovementEntry looks for an existing entry recording the same
// transition, used to keep approval-time movement logging idempotent.
// Transitions compare by network location only, matching
// NetworkFingerprint.Equal; metadata drift never forks a new entry.
func (db *DB) FindMovementEntry(ctx context.Context, deviceID string, previous, next models.NetworkFingerprint) (*models.DeviceMovementLogEntry, error) {
	entry, err := scanMovement(db.conn().QueryRow(ctx, findMovementSQL,
		deviceID,
		previous.IP, previous.Subnet, previous.InterfaceID,
		next.IP, next.Subnet, next.InterfaceID,
	))
	if err != nil {
		return nil, translateError(err)
	}

	return entry, nil
}

// ListMovementEntries returns a device's movement history, newest first.
func (db *DB) ListMovementEntries(ctx context.Context, deviceID string, limit int) ([]*models.DeviceMovementLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.conn().Query(ctx, listMovementsSQL, deviceID, limit)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	var entries []*models.DeviceMovementLogEntry

	for rows.Next() {
		entry, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// AcknowledgeMovement sets the acknowledged flag. Acknowledging twice is a
// no-op surfaced as ErrNotFound so callers can distinguish it.
func (db *DB) AcknowledgeMovement(ctx context.Context, entryID string, at time.Time) error {
	tag, err := db.conn().Exec(ctx, acknowledgeMovementSQL, entryID, at)
	if err != nil {
		return translateError(err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func scanMovement(row pgx.Row) (*models.DeviceMovementLogEntry, error) {
	var (
		entry    models.DeviceMovementLogEntry
		previous []byte
		next     []byte
	)

	err := row.Scan(
		&entry.EntryID,
		&entry.DeviceID,
		&previous,
		&next,
		&entry.DetectedAt,
		&entry.Acknowledged,
		&entry.AcknowledgedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(previous, &entry.PreviousFingerprint); err != nil {
		return nil, fmt.Errorf("unmarshal previous fingerprint: %w", err)
	}

	if err := json.Unmarshal(next, &entry.NewFingerprint); err != nil {
		return nil, fmt.Errorf("unmarshal new fingerprint: %w", err)
	}

	return &entry, nil
}
