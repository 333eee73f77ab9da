package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordHelpers(t *testing.T) {
	m := NewMetrics("braincount_test")

	m.RecordEvent("car")
	m.RecordEvent("car")
	m.RecordEvent("person")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsIngested.WithLabelValues("car")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsIngested.WithLabelValues("person")))

	m.RecordEventFailure("malformed_event")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsFailed.WithLabelValues("malformed_event")))

	m.RecordMergeRetry()
	m.RecordMergeRetry()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MergeRetries))

	m.RecordReport("ok", 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReportQueries.WithLabelValues("ok")))

	m.RecordRateLimitHit("/report")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitHits.WithLabelValues("/report")))
}
