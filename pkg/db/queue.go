package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/justprosound/devreg/pkg/identity"
	"github.com/justprosound/devreg/pkg/models"
)

const queueColumns = `entry_id, payload, match_keys, match_hash, candidate_device_id,
	conflicting_ids, classification, status, discovered_at, resolved_at, resolved_by`

const insertQueueEntrySQL = `
INSERT INTO discovery_queue (
	entry_id, payload, match_keys, match_hash, candidate_device_id,
	conflicting_ids, classification, status, discovered_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

const getQueueEntrySQL = `
SELECT ` + queueColumns + `
FROM discovery_queue
WHERE entry_id = $1`

const getQueueEntryForUpdateSQL = getQueueEntrySQL + `
FOR UPDATE`

const findPendingQueueEntrySQL = `
SELECT ` + queueColumns + `
FROM discovery_queue
WHERE match_hash = $1 AND status = 'pending'
LIMIT 1`

const updateQueueEntryStatusSQL = `
UPDATE discovery_queue
SET status = $2, resolved_at = $3, resolved_by = $4
WHERE entry_id = $1`

// InsertQueueEntry stores a pending reconciliation decision. The partial
// unique index on (match_hash) WHERE pending surfaces duplicate pending
// entries as ErrConstraintViolation.
func (db *DB) InsertQueueEntry(ctx context.Context, entry *models.DiscoveryQueueEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshal queue payload: %w", err)
	}

	matchKeys, err := json.Marshal(entry.MatchKeys)
	if err != nil {
		return fmt.Errorf("marshal match keys: %w", err)
	}

	var conflicting []byte
	if len(entry.ConflictingIDs) > 0 {
		conflicting, err = json.Marshal(entry.ConflictingIDs)
		if err != nil {
			return fmt.Errorf("marshal conflicting ids: %w", err)
		}
	}

	_, err = db.conn().Exec(ctx, insertQueueEntrySQL,
		entry.EntryID,
		payload,
		matchKeys,
		matchHash(entry),
		entry.CandidateDeviceID,
		conflicting,
		entry.Classification,
		entry.Status,
		entry.DiscoveredAt,
	)

	return translateError(err)
}

// GetQueueEntry returns a queue entry by ID.
func (db *DB) GetQueueEntry(ctx context.Context, entryID string) (*models.DiscoveryQueueEntry, error) {
	entry, err := scanQueueEntry(db.conn().QueryRow(ctx, getQueueEntrySQL, entryID))
	if err != nil {
		return nil, translateError(err)
	}

	return entry, nil
}

// GetQueueEntryForUpdate locks the entry row for the current transaction so
// concurrent approve/reject calls serialize on it.
func (db *DB) GetQueueEntryForUpdate(ctx context.Context, entryID string) (*models.DiscoveryQueueEntry, error) {
	entry, err := scanQueueEntry(db.conn().QueryRow(ctx, getQueueEntryForUpdateSQL, entryID))
	if err != nil {
		return nil, translateError(err)
	}

	return entry, nil
}

// FindPendingQueueEntry returns the pending entry for a match hash, or
// ErrNotFound.
func (db *DB) FindPendingQueueEntry(ctx context.Context, hash string) (*models.DiscoveryQueueEntry, error) {
	entry, err := scanQueueEntry(db.conn().QueryRow(ctx, findPendingQueueEntrySQL, hash))
	if err != nil {
		return nil, translateError(err)
	}

	return entry, nil
}

// ListQueueEntries returns entries matching the filter, newest first.
func (db *DB) ListQueueEntries(ctx context.Context, filter *models.QueueFilter) ([]*models.DiscoveryQueueEntry, error) {
	if filter == nil {
		filter = &models.QueueFilter{}
	}

	sql := `SELECT ` + queueColumns + ` FROM discovery_queue WHERE 1=1`
	args := make([]any, 0, 4)

	if filter.Status != "" {
		args = append(args, filter.Status)
		sql += fmt.Sprintf(" AND status = $%d", len(args))
	}

	if filter.Class != "" {
		args = append(args, filter.Class)
		sql += fmt.Sprintf(" AND classification = $%d", len(args))
	}

	if filter.Manufacturer != "" {
		args = append(args, filter.Manufacturer)
		sql += fmt.Sprintf(" AND payload->>'manufacturer' = $%d", len(args))
	}

	sql += " ORDER BY discovered_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	args = append(args, limit)
	sql += fmt.Sprintf(" LIMIT $%d", len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := db.conn().Query(ctx, sql, args...)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	var entries []*models.DiscoveryQueueEntry

	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// UpdateQueueEntryStatus records a resolution. Transition legality is
// enforced by the caller against the loaded entry.
func (db *DB) UpdateQueueEntryStatus(ctx context.Context, entryID string, status models.QueueStatus, resolvedAt time.Time, resolvedBy string) error {
	var by *string
	if resolvedBy != "" {
		by = &resolvedBy
	}

	tag, err := db.conn().Exec(ctx, updateQueueEntryStatusSQL, entryID, status, resolvedAt, by)
	if err != nil {
		return translateError(err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func matchHash(entry *models.DiscoveryQueueEntry) string {
	return identity.KeySetHash(entry.MatchKeys, entry.Classification)
}

func scanQueueEntry(row pgx.Row) (*models.DiscoveryQueueEntry, error) {
	var (
		entry       models.DiscoveryQueueEntry
		payload     []byte
		matchKeys   []byte
		hash        string
		conflicting []byte
	)

	err := row.Scan(
		&entry.EntryID,
		&payload,
		&matchKeys,
		&hash,
		&entry.CandidateDeviceID,
		&conflicting,
		&entry.Classification,
		&entry.Status,
		&entry.DiscoveredAt,
		&entry.ResolvedAt,
		&entry.ResolvedBy,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(payload, &entry.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal queue payload: %w", err)
	}

	if err := json.Unmarshal(matchKeys, &entry.MatchKeys); err != nil {
		return nil, fmt.Errorf("unmarshal match keys: %w", err)
	}

	if len(conflicting) > 0 {
		if err := json.Unmarshal(conflicting, &entry.ConflictingIDs); err != nil {
			return nil, fmt.Errorf("unmarshal conflicting ids: %w", err)
		}
	}

	return &entry, nil
}
