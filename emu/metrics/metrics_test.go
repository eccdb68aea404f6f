package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_CountsByResult(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewRecorder(reg)

	r.ObservePrediction(ResultOK, 3*time.Millisecond)
	r.ObservePrediction(ResultOK, 5*time.Millisecond)
	r.ObservePrediction(ResultOutOfRange, time.Millisecond)
	r.SetSnapshots(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.predictions.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.predictions.WithLabelValues(ResultOutOfRange)))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.snapshots))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
		if f.GetName() == "hmfemu_prediction_duration_seconds" {
			require.Len(t, f.GetMetric(), 1)
			assert.Equal(t, uint64(2), f.GetMetric()[0].GetHistogram().GetSampleCount())
		}
	}
	assert.True(t, names["hmfemu_predictions_total"])
	assert.True(t, names["hmfemu_prediction_duration_seconds"])
	assert.True(t, names["hmfemu_design_snapshots"])
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObservePrediction(ResultOK, time.Second)
		r.SetSnapshots(2)
	})
}

func TestNewRecorder_NilRegistry(t *testing.T) {
	assert.NotPanics(t, func() { NewRecorder(nil).SetSnapshots(1) })
}
