package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration so config files can use strings like "30s".
type Duration time.Duration

// UnmarshalJSON accepts either a duration string or nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case float64:
		*d = Duration(time.Duration(v))
		return nil
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration value: %v", raw)
	}
}

// MarshalJSON renders the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Database describes the Postgres cluster backing the canonical registry.
type Database struct {
	Host               string            `json:"host"`
	Port               int               `json:"port"`
	Database           string            `json:"database"`
	Username           string            `json:"username"`
	Password           string            `json:"password,omitempty"`
	SSLMode            string            `json:"ssl_mode,omitempty"`
	ApplicationName    string            `json:"application_name,omitempty"`
	MaxConnections     int32             `json:"max_connections,omitempty"`
	MinConnections     int32             `json:"min_connections,omitempty"`
	MaxConnLifetime    Duration          `json:"max_conn_lifetime,omitempty"`
	HealthCheckPeriod  Duration          `json:"health_check_period,omitempty"`
	ExtraRuntimeParams map[string]string `json:"extra_runtime_params,omitempty"`
}

// Validate ensures the database configuration is usable.
func (c *Database) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

// AutoApproveRule is an explicitly configured exception to the conservative
// queue-everything default. A pending entry whose classification and subnet
// both match a rule is resolved as AUTO_APPROVED through the normal
// approval path, so the audit trail is preserved.
type AutoApproveRule struct {
	Classification Classification `json:"classification"`
	SubnetCIDR     string         `json:"subnet_cidr"`
}
