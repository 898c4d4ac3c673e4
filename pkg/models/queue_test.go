package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueStatusIsTerminal(t *testing.T) {
	assert.False(t, QueueStatusPending.IsTerminal())
	assert.True(t, QueueStatusApproved.IsTerminal())
	assert.True(t, QueueStatusRejected.IsTerminal())
	assert.True(t, QueueStatusAutoApproved.IsTerminal())
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    QueueStatus
		to      QueueStatus
		wantErr bool
	}{
		{name: "pending to approved", from: QueueStatusPending, to: QueueStatusApproved},
		{name: "pending to rejected", from: QueueStatusPending, to: QueueStatusRejected},
		{name: "pending to auto approved", from: QueueStatusPending, to: QueueStatusAutoApproved},
		{name: "pending to pending", from: QueueStatusPending, to: QueueStatusPending, wantErr: true},
		{name: "approved is immutable", from: QueueStatusApproved, to: QueueStatusRejected, wantErr: true},
		{name: "rejected is immutable", from: QueueStatusRejected, to: QueueStatusApproved, wantErr: true},
		{name: "auto approved is immutable", from: QueueStatusAutoApproved, to: QueueStatusRejected, wantErr: true},
		{name: "unknown target", from: QueueStatusPending, to: QueueStatus("bogus"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.from.ValidateTransition(tt.to)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAutoCommitEligible(t *testing.T) {
	assert.True(t, ClassificationNoChange.AutoCommitEligible())
	assert.True(t, ClassificationMovement.AutoCommitEligible())

	assert.False(t, ClassificationNewDevice.AutoCommitEligible())
	assert.False(t, ClassificationManufacturerMismatch.AutoCommitEligible())
	assert.False(t, ClassificationIdentityAmbiguous.AutoCommitEligible())
	assert.False(t, ClassificationIPConflict.AutoCommitEligible())
}

func TestNetworkFingerprintEqual(t *testing.T) {
	base := NetworkFingerprint{IP: "10.0.0.1", Subnet: "10.0.0.0/24", InterfaceID: "eth0"}

	assert.True(t, base.Equal(NetworkFingerprint{IP: "10.0.0.1", Subnet: "10.0.0.0/24", InterfaceID: "eth0"}))
	assert.False(t, base.Equal(NetworkFingerprint{IP: "10.0.0.2", Subnet: "10.0.0.0/24", InterfaceID: "eth0"}))
	assert.False(t, base.Equal(NetworkFingerprint{IP: "10.0.0.1", Subnet: "10.1.0.0/24", InterfaceID: "eth0"}))

	// Metadata is not part of location equality.
	withMetadata := base
	withMetadata.Metadata = map[string]string{"battery_level": "12"}
	assert.True(t, base.Equal(withMetadata))
}

func TestManufacturerCodePrefersExplicitField(t *testing.T) {
	payload := &RawPayload{
		Manufacturer: ManufacturerShure,
		Fields:       map[string]string{FieldManufacturerCode: "Sennheiser"},
	}

	assert.Equal(t, ManufacturerSennheiser, payload.ManufacturerCode())

	payload = &RawPayload{Manufacturer: " Shure "}
	assert.Equal(t, ManufacturerShure, payload.ManufacturerCode())
}
