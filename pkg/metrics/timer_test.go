package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)

	d := timer.Duration()
	assert.GreaterOrEqual(t, d, 20*time.Millisecond)
	assert.Less(t, d, 2*time.Second)
}

func TestTimerObserveDuration(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_sweep_duration_seconds",
		Help: "test",
	})

	NewTimer().ObserveDuration(h)
	NewTimer().ObserveDuration(h)

	assert.Equal(t, 1, testutil.CollectAndCount(h))
}

func TestTimerObserveDurationVec(t *testing.T) {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_reconciliation_duration_seconds",
		Help: "test",
	}, []string{"app"})

	for _, app := range []string{"blog", "shop", "blog"} {
		NewTimer().ObserveDurationVec(vec, app)
	}

	assert.Equal(t, 2, testutil.CollectAndCount(vec), "one series per app")
}
