package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordRecommendation(t *testing.T) {
	before := testutil.ToFloat64(RecommendationsTotal.WithLabelValues("degraded"))
	RecordRecommendation(true)
	RecordRecommendation(false)
	assert.Equal(t, before+1, testutil.ToFloat64(RecommendationsTotal.WithLabelValues("degraded")))
}
