package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	Track(rec, "mintAgent", "base", time.Now(), nil)
	Track(rec, "mintAgent", "base", time.Now(), nil)
	Track(rec, "mintAgent", "base", time.Now(), errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.counters.WithLabelValues("mintAgent", "base", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.counters.WithLabelValues("mintAgent", "base", "error")))

	count, err := testutil.GatherAndCount(reg, "agentpay_operation_latency_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPrometheusRecorderDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	_, err = NewPrometheusRecorder(reg)
	assert.Error(t, err)
}

func TestTrackNilRecorder(t *testing.T) {
	assert.NotPanics(t, func() {
		Track(nil, "connect", "eth", time.Now(), nil)
		Track(NoopRecorder{}, "connect", "eth", time.Now(), nil)
	})
}
