package db

import "context"

// Schema statements are idempotent so startup can always run them. The
// partial unique indexes on the live-device match keys are the final
// arbiter for concurrent ingestion: whatever the in-process locking misses,
// the database refuses.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS canonical_devices (
		device_id     TEXT PRIMARY KEY,
		serial_number TEXT,
		mac           TEXT,
		api_device_id TEXT NOT NULL DEFAULT '',
		manufacturer  TEXT NOT NULL DEFAULT '',
		ip            TEXT NOT NULL DEFAULT '',
		model         TEXT NOT NULL DEFAULT '',
		fingerprint   JSONB NOT NULL DEFAULT '{}'::jsonb,
		first_seen    TIMESTAMPTZ NOT NULL,
		last_seen     TIMESTAMPTZ NOT NULL,
		retired       BOOLEAN NOT NULL DEFAULT FALSE,
		retired_at    TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_devices_serial
		ON canonical_devices (serial_number)
		WHERE serial_number IS NOT NULL AND NOT retired`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_devices_mac
		ON canonical_devices (mac)
		WHERE mac IS NOT NULL AND NOT retired`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_devices_manufacturer_api_id
		ON canonical_devices (manufacturer, api_device_id)
		WHERE api_device_id <> '' AND NOT retired`,
	`CREATE INDEX IF NOT EXISTS idx_devices_ip
		ON canonical_devices (ip)
		WHERE NOT retired`,
	`CREATE INDEX IF NOT EXISTS idx_devices_ip_model
		ON canonical_devices (ip, model)
		WHERE NOT retired`,

	`CREATE TABLE IF NOT EXISTS discovery_queue (
		entry_id            TEXT PRIMARY KEY,
		payload             JSONB NOT NULL,
		match_keys          JSONB NOT NULL,
		match_hash          TEXT NOT NULL,
		candidate_device_id TEXT,
		conflicting_ids     JSONB,
		classification      TEXT NOT NULL,
		status              TEXT NOT NULL,
		discovered_at       TIMESTAMPTZ NOT NULL,
		resolved_at         TIMESTAMPTZ,
		resolved_by         TEXT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_queue_pending_match
		ON discovery_queue (match_hash)
		WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS idx_queue_status_discovered
		ON discovery_queue (status, discovered_at)`,

	`CREATE TABLE IF NOT EXISTS device_movement_log (
		entry_id             TEXT PRIMARY KEY,
		device_id            TEXT NOT NULL,
		previous_fingerprint JSONB NOT NULL,
		new_fingerprint      JSONB NOT NULL,
		detected_at          TIMESTAMPTZ NOT NULL,
		acknowledged         BOOLEAN NOT NULL DEFAULT FALSE,
		acknowledged_at      TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_movement_device_detected
		ON device_movement_log (device_id, detected_at)`,
}

// EnsureSchema creates tables and indexes if they do not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn().Exec(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}
