package relay

import (
	"time"

	pond "github.com/alitto/pond/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricRecorder moves histogram observations off the request goroutine
// onto a pond pool.
type MetricRecorder struct {
	pool pond.Pool
}

// NewMetricRecorder creates a recorder submitting to pool. A nil pool
// records synchronously.
func NewMetricRecorder(pool pond.Pool) *MetricRecorder {
	return &MetricRecorder{pool: pool}
}

// Record submits one observation.
func (m *MetricRecorder) Record(histogram *prometheus.HistogramVec, labels []string, value float64) {
	if m == nil || m.pool == nil {
		histogram.WithLabelValues(labels...).Observe(value)
		return
	}
	m.pool.Submit(func() {
		histogram.WithLabelValues(labels...).Observe(value)
	})
}

// RecordDuration records d in seconds.
func (m *MetricRecorder) RecordDuration(histogram *prometheus.HistogramVec, labels []string, d time.Duration) {
	m.Record(histogram, labels, d.Seconds())
}
