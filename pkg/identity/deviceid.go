package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/justprosound/devreg/pkg/models"
)

// DeviceIDPrefix marks registry-assigned canonical device IDs.
const DeviceIDPrefix = "dr:"

// IsCanonicalDeviceID checks if a device ID was assigned by the registry.
func IsCanonicalDeviceID(deviceID string) bool {
	return strings.HasPrefix(deviceID, DeviceIDPrefix)
}

// GenerateDeviceID generates a deterministic canonical device ID from the
// payload's match keys. The same key set always produces the same ID, so two
// pollers racing on the same never-seen device derive the same identity and
// the registry's uniqueness constraints arbitrate the insert.
//
// Format: dr:<uuid>, the UUID derived from a SHA-256 hash of the strongest
// identifiers. A payload with no keys at all gets a random UUID.
func GenerateDeviceID(keys []models.MatchKey) string {
	h := sha256.New()
	h.Write([]byte("devreg-device-v1:"))

	var seeds []string

	for _, key := range keys {
		switch key.Type {
		case models.MatchKeySerialNumber:
			seeds = append(seeds, "serial:"+key.Value)
		case models.MatchKeyMACAddress:
			seeds = append(seeds, "mac:"+key.Value)
		case models.MatchKeyAPIDeviceID:
			seeds = append(seeds, "api:"+key.Manufacturer+":"+key.Value)
		case models.MatchKeyIPModel:
			// Weak key; only seeds the hash when nothing stronger exists.
			if len(seeds) == 0 {
				seeds = append(seeds, "ipmodel:"+key.Value)
			}
		}
	}

	if len(seeds) == 0 {
		return DeviceIDPrefix + uuid.New().String()
	}

	for _, seed := range seeds {
		h.Write([]byte(seed))
	}

	hashBytes := h.Sum(nil)

	var uuidBytes [16]byte
	copy(uuidBytes[:], hashBytes[:16])

	// Set version (4) and variant (RFC 4122)
	uuidBytes[6] = (uuidBytes[6] & 0x0f) | 0x40
	uuidBytes[8] = (uuidBytes[8] & 0x3f) | 0x80

	return DeviceIDPrefix + hex.EncodeToString(uuidBytes[:4]) + "-" +
		hex.EncodeToString(uuidBytes[4:6]) + "-" +
		hex.EncodeToString(uuidBytes[6:8]) + "-" +
		hex.EncodeToString(uuidBytes[8:10]) + "-" +
		hex.EncodeToString(uuidBytes[10:16])
}

// KeySetHash produces a stable digest of a key set plus classification,
// used to deduplicate pending discovery queue entries for re-submitted
// payloads.
func KeySetHash(keys []models.MatchKey, class models.Classification) string {
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "class:%s", class)

	for _, key := range keys {
		_, _ = fmt.Fprintf(h, "|%s:%s:%s", key.Type, key.Manufacturer, key.Value)
	}

	return hex.EncodeToString(h.Sum(nil))
}
