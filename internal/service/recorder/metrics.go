package recorder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the write-path instruments updated by the service.
type Metrics struct {
	writeDuration  prometheus.Histogram
	slowWrites     prometheus.Counter
	recordsWritten prometheus.Counter
	recordsDropped prometheus.Counter
}

// NewMetrics creates and registers the recorder metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		writeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "timelogger",
			Subsystem: "db",
			Name:      "write_duration_seconds",
			Help:      "Duration of batch writes to the database",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		slowWrites: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "timelogger",
			Subsystem: "db",
			Name:      "write_slow_total",
			Help:      "Number of batch writes exceeding the slow-write threshold",
		}),
		recordsWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "timelogger",
			Name:      "records_written_total",
			Help:      "Total records persisted to the database",
		}),
		recordsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "timelogger",
			Name:      "records_dropped_total",
			Help:      "Records evicted from the buffer due to overflow",
		}),
	}
}

// InstrumentService registers gauges that read live state from the service.
// Called once after the service is constructed.
func InstrumentService(registry *prometheus.Registry, svc *Service) {
	factory := promauto.With(registry)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "timelogger",
		Subsystem: "buffer",
		Name:      "size",
		Help:      "Current number of records pending in the buffer",
	}, func() float64 { return float64(svc.BufferSize()) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "timelogger",
		Subsystem: "buffer",
		Name:      "max_size",
		Help:      "Configured buffer capacity",
	}, func() float64 { return float64(svc.MaxBufferSize()) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "timelogger",
		Subsystem: "db",
		Name:      "available",
		Help:      "Database availability as observed by the flush and read paths (1 or 0)",
	}, func() float64 {
		if svc.DatabaseAvailable() {
			return 1
		}
		return 0
	})
}
