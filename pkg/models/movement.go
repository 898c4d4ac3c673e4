package models

import "time"

// DeviceMovementLogEntry is an append-only record of a detected change in a
// known device's network location. Entries are never deleted; the only
// permitted mutation is toggling the acknowledged flag.
type DeviceMovementLogEntry struct {
	EntryID             string             `json:"entry_id" db:"entry_id"`
	DeviceID            string             `json:"device_id" db:"device_id"`
	PreviousFingerprint NetworkFingerprint `json:"previous_fingerprint" db:"previous_fingerprint"`
	NewFingerprint      NetworkFingerprint `json:"new_fingerprint" db:"new_fingerprint"`
	DetectedAt          time.Time          `json:"detected_at" db:"detected_at"`
	Acknowledged        bool               `json:"acknowledged" db:"acknowledged"`
	AcknowledgedAt      *time.Time         `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
}
