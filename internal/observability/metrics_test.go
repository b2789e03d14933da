package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetricsWith("test", prometheus.NewRegistry())
}

func TestNewMetrics(t *testing.T) {
	m := newTestMetrics(t)
	require.NotNil(t, m)

	m.RunsStarted.Inc()
	m.PagesFetched.Inc()
	m.RecordsExtracted.Add(200)
	m.RecordsNormalized.Add(200)
	m.DuplicatesCollapsed.Add(3)
	m.RowsLoaded.WithLabelValues("inserted").Add(150)
	m.RowsLoaded.WithLabelValues("updated").Add(47)
	m.RunsFailed.WithLabelValues("extracting").Inc()
	m.RunDuration.Observe(12.5)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsStarted))
	assert.Equal(t, 200.0, testutil.ToFloat64(m.RecordsExtracted))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.RowsLoaded.WithLabelValues("inserted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsFailed.WithLabelValues("extracting")))
}

func TestObserveQualityFlags(t *testing.T) {
	m := newTestMetrics(t)

	m.ObserveQualityFlags(true, true, false, false)
	m.ObserveQualityFlags(false, true, false, true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.QualityFlagged.WithLabelValues("missing_title")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.QualityFlagged.WithLabelValues("missing_doi")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.QualityFlagged.WithLabelValues("missing_journal")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QualityFlagged.WithLabelValues("missing_authors")))
}
