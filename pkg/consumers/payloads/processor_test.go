package payloads

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justprosound/devreg/pkg/db"
	"github.com/justprosound/devreg/pkg/logger"
	"github.com/justprosound/devreg/pkg/models"
	"github.com/justprosound/devreg/pkg/registry"
)

func newTestProcessor(t *testing.T) (*Processor, *db.MemoryStore) {
	t.Helper()

	store := db.NewMemoryStore()
	manager := registry.NewRegistry(store, nil, registry.Config{}, logger.NewTestLogger())

	return NewProcessor(models.ManufacturerShure, manager, logger.NewTestLogger()), store
}

func TestProcessRegistersDevice(t *testing.T) {
	processor, store := newTestProcessor(t)
	ctx := context.Background()

	data, err := json.Marshal(models.RawPayload{
		Manufacturer: models.ManufacturerShure,
		Fields: map[string]string{
			models.FieldSerialNumber: "SN-100",
			models.FieldIPAddress:    "10.0.0.5",
			models.FieldModel:        "ULXD4",
		},
		ReceivedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	require.NoError(t, processor.processData(ctx, data))

	devices, err := store.GetDevicesByIP(ctx, "10.0.0.5")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "SN-100", devices[0].Serial())
	assert.Equal(t, models.ManufacturerShure, devices[0].Manufacturer)
}

func TestProcessDefaultsManufacturer(t *testing.T) {
	processor, store := newTestProcessor(t)
	ctx := context.Background()

	data, err := json.Marshal(models.RawPayload{
		Fields: map[string]string{
			models.FieldSerialNumber: "SN-200",
			models.FieldIPAddress:    "10.0.0.6",
		},
	})
	require.NoError(t, err)

	require.NoError(t, processor.processData(ctx, data))

	devices, err := store.GetDevicesByIP(ctx, "10.0.0.6")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, models.ManufacturerShure, devices[0].Manufacturer)
}

func TestProcessEmptyMessage(t *testing.T) {
	processor, _ := newTestProcessor(t)

	err := processor.processData(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestProcessInvalidJSON(t *testing.T) {
	processor, _ := newTestProcessor(t)

	err := processor.processData(context.Background(), []byte("{not json"))
	assert.ErrorIs(t, err, ErrUnmarshal)
}

func TestProcessSkipsPayloadWithoutMatchKeys(t *testing.T) {
	processor, store := newTestProcessor(t)
	ctx := context.Background()

	data, err := json.Marshal(models.RawPayload{
		Manufacturer: models.ManufacturerShure,
		Fields: map[string]string{
			"battery_level": "87",
		},
	})
	require.NoError(t, err)

	// Malformed payloads are swallowed so the message is acked, and no
	// queue entry is created.
	require.NoError(t, processor.processData(ctx, data))

	entries, err := store.ListQueueEntries(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConsumerConfigValidate(t *testing.T) {
	cfg := &ConsumerConfig{}

	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrMissingNATSURL)
	assert.ErrorIs(t, err, ErrMissingStreamName)
	assert.ErrorIs(t, err, ErrMissingConsumerName)

	cfg = &ConsumerConfig{
		NATSURL:      "nats://127.0.0.1:4222",
		StreamName:   "payloads",
		ConsumerName: "shure-payloads",
	}

	require.NoError(t, cfg.Validate())
	assert.Equal(t, models.ManufacturerUnknown, cfg.Manufacturer)
}
