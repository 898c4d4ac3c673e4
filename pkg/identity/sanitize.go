package identity

import (
	"sort"
	"strconv"
	"strings"

	"github.com/justprosound/devreg/pkg/models"
)

const (
	// maxMetadataValueBytes limits a single metadata entry to 64KiB.
	maxMetadataValueBytes = 64 * 1024
	// maxMetadataTotalBytes caps total pass-through metadata per payload to 512KiB.
	maxMetadataTotalBytes = 512 * 1024
	minMetadataValueBytes = 32
)

type metadataEntry struct {
	key       string
	size      int
	priority  int
	protected bool
}

// SanitizePayload trims oversized pass-through fields in-place to keep
// stored fingerprint metadata bounded. Match-key fields are never dropped.
func SanitizePayload(payload *models.RawPayload) {
	if payload == nil || len(payload.Fields) == 0 {
		return
	}

	fields := payload.Fields
	var modified bool

	totalSize := 0
	entries := make([]metadataEntry, 0, len(fields))

	for k, v := range fields {
		origLen := len(v)
		if origLen > maxMetadataValueBytes {
			fields[k] = truncateValue(v, maxMetadataValueBytes)
			modified = true
		}
		size := len(k) + len(fields[k]) + 4
		totalSize += size
		entries = append(entries, metadataEntry{
			key:       k,
			size:      size,
			priority:  dropPriority(k),
			protected: isProtectedField(k),
		})
	}

	if totalSize > maxMetadataTotalBytes {
		modified = true
		totalSize = dropOversizedFields(fields, entries, totalSize)
	}

	if totalSize > maxMetadataTotalBytes {
		modified = true
		totalSize = aggressivelyTruncateFields(fields, totalSize)
	}

	if modified {
		fields["_metadata_truncated"] = strconv.Itoa(totalSize)
	}
}

func truncateValue(value string, limit int) string {
	if limit <= minMetadataValueBytes {
		limit = minMetadataValueBytes
	}
	if len(value) <= limit {
		return value
	}
	if limit <= 3 {
		return value[:limit]
	}
	return value[:limit-3] + "..."
}

func dropPriority(key string) int {
	if isProtectedField(key) {
		return 0
	}

	prefixes := [...]string{
		"rf_samples",
		"audio_levels",
		"channel_scan",
		"raw_payload",
		"battery_history",
		"sync_dump",
		"alt_ip:",
	}

	for idx, prefix := range prefixes {
		if strings.HasPrefix(key, prefix) {
			return len(prefixes) - idx + 1
		}
	}

	return 1
}

// isProtectedField reports whether a field participates in match key
// extraction or fingerprinting and must survive sanitization.
func isProtectedField(key string) bool {
	switch key {
	case models.FieldSerialNumber,
		models.FieldMACAddress,
		models.FieldAPIDeviceID,
		models.FieldIPAddress,
		models.FieldModel,
		models.FieldManufacturerCode,
		models.FieldSubnet,
		models.FieldInterfaceID:
		return true
	default:
		return false
	}
}

func dropOversizedFields(fields map[string]string, entries []metadataEntry, total int) int {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].priority == entries[j].priority {
			return entries[i].size > entries[j].size
		}
		return entries[i].priority > entries[j].priority
	})

	for _, ent := range entries {
		if total <= maxMetadataTotalBytes {
			break
		}
		if ent.protected || ent.priority == 0 {
			continue
		}
		delete(fields, ent.key)
		total -= ent.size
	}

	return total
}

func aggressivelyTruncateFields(fields map[string]string, total int) int {
	if total <= maxMetadataTotalBytes || len(fields) == 0 {
		return total
	}

	scale := float64(maxMetadataTotalBytes) / float64(total)
	if scale <= 0 {
		scale = 0.5
	}

	newTotal := 0
	for k, v := range fields {
		allowed := int(float64(len(v)) * scale)
		if allowed < minMetadataValueBytes {
			allowed = minMetadataValueBytes
		}
		fields[k] = truncateValue(v, allowed)
		newTotal += len(k) + len(fields[k]) + 4
	}

	return newTotal
}
