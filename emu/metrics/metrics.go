// Package metrics exposes emulator activity as Prometheus metrics.
package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "hmfemu"

// Result labels for the predictions counter.
const (
	ResultOK           = "ok"
	ResultInvalid      = "invalid"
	ResultOutOfRange   = "out_of_range"
	ResultInternalFail = "error"
)

// Recorder records prediction counts, latencies, and the loaded design size.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	predictions *prom.CounterVec
	duration    prom.Histogram
	snapshots   prom.Gauge
}

// NewRecorder constructs the metrics and registers them with reg. A nil reg
// gets a private registry.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	r := &Recorder{
		predictions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Prediction requests by result",
		}, []string{"result"}),
		duration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_duration_seconds",
			Help:      "Time spent evaluating one prediction request",
			Buckets:   prom.ExponentialBuckets(1e-5, 4, 10),
		}),
		snapshots: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "design_snapshots",
			Help:      "Number of snapshots in the loaded design",
		}),
	}
	reg.MustRegister(r.predictions, r.duration, r.snapshots)
	return r
}

// ObservePrediction counts one request with the given result label and, for
// successful ones, records its duration.
func (r *Recorder) ObservePrediction(result string, d time.Duration) {
	if r == nil {
		return
	}
	r.predictions.WithLabelValues(result).Inc()
	if result == ResultOK {
		r.duration.Observe(d.Seconds())
	}
}

// SetSnapshots records the number of loaded snapshots.
func (r *Recorder) SetSnapshots(n int) {
	if r == nil {
		return
	}
	r.snapshots.Set(float64(n))
}
