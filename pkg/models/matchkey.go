package models

import "strings"

// MatchKeyType identifies which device attribute a match key was derived from.
type MatchKeyType string

// Match key types in fixed priority order. Serial numbers are the strongest
// identity anchor; the IP+model composite is a weak fallback only consulted
// when nothing stronger is present on a candidate record.
const (
	MatchKeySerialNumber MatchKeyType = "serial_number"
	MatchKeyMACAddress   MatchKeyType = "mac_address"
	MatchKeyAPIDeviceID  MatchKeyType = "api_device_id"
	MatchKeyIPModel      MatchKeyType = "ip_model"
)

// MatchKeyPriority lists match key types from strongest to weakest.
//
//nolint:gochecknoglobals // shared configuration constant
var MatchKeyPriority = []MatchKeyType{
	MatchKeySerialNumber,
	MatchKeyMACAddress,
	MatchKeyAPIDeviceID,
	MatchKeyIPModel,
}

// MatchKey is one candidate identity key extracted from a raw payload.
// For MatchKeyAPIDeviceID the manufacturer code scopes the value; for the
// IP+model composite Value is "<ip>|<model>".
type MatchKey struct {
	Type         MatchKeyType `json:"type"`
	Value        string       `json:"value"`
	Manufacturer string       `json:"manufacturer,omitempty"`
}

// CompositeValue joins an IP and model into an IP+model match key value.
func CompositeValue(ip, model string) string {
	return strings.TrimSpace(ip) + "|" + strings.TrimSpace(model)
}
