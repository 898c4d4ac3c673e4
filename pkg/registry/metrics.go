package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	resolutionMeterName           = "devreg.resolution"
	metricProcessedLastBatchName  = "resolution_processed_last_batch"
	metricCommittedLastBatchName  = "resolution_committed_last_batch"
	metricQueuedLastBatchName     = "resolution_queued_last_batch"
	metricNewDevicesLastBatchName = "resolution_new_devices_last_batch"
	metricFailedLastBatchName     = "resolution_failed_last_batch"
	metricBatchTimestampMsName    = "resolution_batch_timestamp_ms"
)

// resolutionMetricsObservatory stores the latest batch measurements.
type resolutionMetricsObservatory struct {
	processedLastBatch  atomic.Int64
	committedLastBatch  atomic.Int64
	queuedLastBatch     atomic.Int64
	newDevicesLastBatch atomic.Int64
	failedLastBatch     atomic.Int64
	batchTimestampMs    atomic.Int64
}

var (
	//nolint:gochecknoglobals // metric observers are shared singletons
	resolutionMetricsOnce sync.Once
	//nolint:gochecknoglobals // metric observers are shared singletons
	resolutionMetricsData = &resolutionMetricsObservatory{}
	//nolint:gochecknoglobals // metric observers are shared singletons
	resolutionMetricsGauges struct {
		processedLastBatch  metric.Int64ObservableGauge
		committedLastBatch  metric.Int64ObservableGauge
		queuedLastBatch     metric.Int64ObservableGauge
		newDevicesLastBatch metric.Int64ObservableGauge
		failedLastBatch     metric.Int64ObservableGauge
		batchTimestampMs    metric.Int64ObservableGauge
	}
	resolutionMetricsRegistration metric.Registration //nolint:unused,gochecknoglobals // kept to retain callback
)

func initResolutionMetrics() {
	meter := otel.Meter(resolutionMeterName)

	var err error

	resolutionMetricsGauges.processedLastBatch, err = meter.Int64ObservableGauge(
		metricProcessedLastBatchName,
		metric.WithDescription("Number of payloads processed in the latest ingestion batch"),
	)
	if err != nil {
		otel.Handle(err)
		return
	}

	resolutionMetricsGauges.committedLastBatch, err = meter.Int64ObservableGauge(
		metricCommittedLastBatchName,
		metric.WithDescription("Number of payloads committed to the canonical registry in the latest batch"),
	)
	if err != nil {
		otel.Handle(err)
		return
	}

	resolutionMetricsGauges.queuedLastBatch, err = meter.Int64ObservableGauge(
		metricQueuedLastBatchName,
		metric.WithDescription("Number of payloads routed to the discovery queue in the latest batch"),
	)
	if err != nil {
		otel.Handle(err)
		return
	}

	resolutionMetricsGauges.newDevicesLastBatch, err = meter.Int64ObservableGauge(
		metricNewDevicesLastBatchName,
		metric.WithDescription("Number of new devices seen in the latest batch"),
	)
	if err != nil {
		otel.Handle(err)
		return
	}

	resolutionMetricsGauges.failedLastBatch, err = meter.Int64ObservableGauge(
		metricFailedLastBatchName,
		metric.WithDescription("Number of payloads that failed resolution in the latest batch"),
	)
	if err != nil {
		otel.Handle(err)
		return
	}

	resolutionMetricsGauges.batchTimestampMs, err = meter.Int64ObservableGauge(
		metricBatchTimestampMsName,
		metric.WithDescription("Unix epoch milliseconds of the latest ingestion batch"),
	)
	if err != nil {
		otel.Handle(err)
		return
	}

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		observer.ObserveInt64(resolutionMetricsGauges.processedLastBatch, resolutionMetricsData.processedLastBatch.Load())
		observer.ObserveInt64(resolutionMetricsGauges.committedLastBatch, resolutionMetricsData.committedLastBatch.Load())
		observer.ObserveInt64(resolutionMetricsGauges.queuedLastBatch, resolutionMetricsData.queuedLastBatch.Load())
		observer.ObserveInt64(resolutionMetricsGauges.newDevicesLastBatch, resolutionMetricsData.newDevicesLastBatch.Load())
		observer.ObserveInt64(resolutionMetricsGauges.failedLastBatch, resolutionMetricsData.failedLastBatch.Load())
		observer.ObserveInt64(resolutionMetricsGauges.batchTimestampMs, resolutionMetricsData.batchTimestampMs.Load())
		return nil
	},
		resolutionMetricsGauges.processedLastBatch,
		resolutionMetricsGauges.committedLastBatch,
		resolutionMetricsGauges.queuedLastBatch,
		resolutionMetricsGauges.newDevicesLastBatch,
		resolutionMetricsGauges.failedLastBatch,
		resolutionMetricsGauges.batchTimestampMs,
	)
	if err != nil {
		otel.Handle(err)
		return
	}

	resolutionMetricsRegistration = registration
}

// recordResolutionMetrics updates gauges for the latest ingestion batch.
func recordResolutionMetrics(processed, committed, queued, newDevices, failed int, batchTime time.Time) {
	resolutionMetricsOnce.Do(initResolutionMetrics)

	resolutionMetricsData.processedLastBatch.Store(int64(processed))
	resolutionMetricsData.committedLastBatch.Store(int64(committed))
	resolutionMetricsData.queuedLastBatch.Store(int64(queued))
	resolutionMetricsData.newDevicesLastBatch.Store(int64(newDevices))
	resolutionMetricsData.failedLastBatch.Store(int64(failed))
	resolutionMetricsData.batchTimestampMs.Store(batchTime.UnixMilli())
}
