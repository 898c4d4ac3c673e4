package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/justprosound/devreg/pkg/models"
)

const deviceColumns = `device_id, serial_number, mac, api_device_id, manufacturer,
	ip, model, fingerprint, first_seen, last_seen, retired, retired_at`

const getDeviceSQL = `
SELECT ` + deviceColumns + `
FROM canonical_devices
WHERE device_id = $1`

const getDevicesByIPSQL = `
SELECT ` + deviceColumns + `
FROM canonical_devices
WHERE ip = $1 AND NOT retired
ORDER BY device_id`

const listDevicesSQL = `
SELECT ` + deviceColumns + `
FROM canonical_devices
ORDER BY last_seen DESC
LIMIT $1 OFFSET $2`

const insertDeviceSQL = `
INSERT INTO canonical_devices (
	device_id, serial_number, mac, api_device_id, manufacturer,
	ip, model, fingerprint, first_seen, last_seen, retired, retired_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

const updateDeviceSQL = `
UPDATE canonical_devices SET
	serial_number = $2,
	mac = $3,
	api_device_id = $4,
	manufacturer = $5,
	ip = $6,
	model = $7,
	fingerprint = $8,
	last_seen = $9,
	retired = $10,
	retired_at = $11
WHERE device_id = $1`

const retireDeviceSQL = `
UPDATE canonical_devices
SET retired = TRUE, retired_at = $2
WHERE device_id = $1 AND NOT retired`

// GetDevice returns a canonical device by ID, retired or not. Retired
// records stay queryable for movement history.
func (db *DB) GetDevice(ctx context.Context, deviceID string) (*models.CanonicalDevice, error) {
	row := db.conn().QueryRow(ctx, getDeviceSQL, deviceID)

	device, err := scanDevice(row)
	if err != nil {
		return nil, translateError(err)
	}

	return device, nil
}

// GetDevicesByMatchKey returns live devices holding the given match key.
func (db *DB) GetDevicesByMatchKey(ctx context.Context, key models.MatchKey) ([]*models.CanonicalDevice, error) {
	var (
		sql  string
		args []any
	)

	switch key.Type {
	case models.MatchKeySerialNumber:
		sql = `SELECT ` + deviceColumns + ` FROM canonical_devices
			WHERE serial_number = $1 AND NOT retired ORDER BY device_id`
		args = []any{key.Value}
	case models.MatchKeyMACAddress:
		sql = `SELECT ` + deviceColumns + ` FROM canonical_devices
			WHERE mac = $1 AND NOT retired ORDER BY device_id`
		args = []any{key.Value}
	case models.MatchKeyAPIDeviceID:
		sql = `SELECT ` + deviceColumns + ` FROM canonical_devices
			WHERE manufacturer = $1 AND api_device_id = $2 AND NOT retired ORDER BY device_id`
		args = []any{key.Manufacturer, key.Value}
	case models.MatchKeyIPModel:
		ip, model := splitComposite(key.Value)
		sql = `SELECT ` + deviceColumns + ` FROM canonical_devices
			WHERE ip = $1 AND model = $2 AND NOT retired ORDER BY device_id`
		args = []any{ip, model}
	default:
		return nil, fmt.Errorf("unknown match key type %q", key.Type)
	}

	rows, err := db.conn().Query(ctx, sql, args...)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	return scanDevices(rows)
}

// GetDevicesByIP returns live devices registered at the given IP.
func (db *DB) GetDevicesByIP(ctx context.Context, ip string) ([]*models.CanonicalDevice, error) {
	rows, err := db.conn().Query(ctx, getDevicesByIPSQL, ip)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	return scanDevices(rows)
}

// ListDevices pages through all devices by recency.
func (db *DB) ListDevices(ctx context.Context, limit, offset int) ([]*models.CanonicalDevice, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.conn().Query(ctx, listDevicesSQL, limit, offset)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	return scanDevices(rows)
}

// InsertDevice creates a canonical device. A uniqueness race surfaces as
// ErrConstraintViolation for the caller's fallback path.
func (db *DB) InsertDevice(ctx context.Context, device *models.CanonicalDevice) error {
	fingerprint, err := json.Marshal(device.Fingerprint)
	if err != nil {
		return fmt.Errorf("marshal fingerprint: %w", err)
	}

	_, err = db.conn().Exec(ctx, insertDeviceSQL,
		device.DeviceID,
		device.SerialNumber,
		device.MAC,
		device.APIDeviceID,
		device.Manufacturer,
		device.IP,
		device.Model,
		fingerprint,
		device.FirstSeen,
		device.LastSeen,
		device.Retired,
		device.RetiredAt,
	)

	return translateError(err)
}

// UpdateDevice rewrites a canonical device's mutable attributes.
func (db *DB) UpdateDevice(ctx context.Context, device *models.CanonicalDevice) error {
	fingerprint, err := json.Marshal(device.Fingerprint)
	if err != nil {
		return fmt.Errorf("marshal fingerprint: %w", err)
	}

	tag, err := db.conn().Exec(ctx, updateDeviceSQL,
		device.DeviceID,
		device.SerialNumber,
		device.MAC,
		device.APIDeviceID,
		device.Manufacturer,
		device.IP,
		device.Model,
		fingerprint,
		device.LastSeen,
		device.Retired,
		device.RetiredAt,
	)
	if err != nil {
		return translateError(err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// RetireDevice soft-retires a device; it is never hard-deleted.
func (db *DB) RetireDevice(ctx context.Context, deviceID string, at time.Time) error {
	tag, err := db.conn().Exec(ctx, retireDeviceSQL, deviceID, at)
	if err != nil {
		return translateError(err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func splitComposite(value string) (ip, model string) {
	parts := strings.SplitN(value, "|", 2)
	ip = parts[0]
	if len(parts) == 2 {
		model = parts[1]
	}

	return ip, model
}

func scanDevice(row pgx.Row) (*models.CanonicalDevice, error) {
	var (
		device      models.CanonicalDevice
		fingerprint []byte
	)

	err := row.Scan(
		&device.DeviceID,
		&device.SerialNumber,
		&device.MAC,
		&device.APIDeviceID,
		&device.Manufacturer,
		&device.IP,
		&device.Model,
		&fingerprint,
		&device.FirstSeen,
		&device.LastSeen,
		&device.Retired,
		&device.RetiredAt,
	)
	if err != nil {
		return nil, err
	}

	if len(fingerprint) > 0 {
		if err := json.Unmarshal(fingerprint, &device.Fingerprint); err != nil {
			return nil, fmt.Errorf("unmarshal fingerprint: %w", err)
		}
	}

	return &device, nil
}

func scanDevices(rows pgx.Rows) ([]*models.CanonicalDevice, error) {
	var devices []*models.CanonicalDevice

	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}

		devices = append(devices, device)
	}

	return devices, rows.Err()
}
