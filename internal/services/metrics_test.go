package services

import (
	"context"
	"testing"
	"time"

	"taskloom/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineMetrics_NilReceiver(t *testing.T) {
	var m *EngineMetrics
	assert.NotPanics(t, func() {
		m.RecordPreview("ok", 0.1, 3)
		m.RecordCacheLookup(true)
		m.RecordSummarizer("fallback", "unavailable")
		m.RecordSessionDecision("continue")
	})
}

func TestEngineMetrics_Record(t *testing.T) {
	m := NewEngineMetrics(prometheus.NewRegistry())

	m.RecordPreview("ok", 0.2, 4)
	m.RecordPreview("not_found", 0.01, 0)
	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)
	m.RecordCacheLookup(false)
	m.RecordSummarizer("ai", "")

	assert.Equal(t, 1.0, counterValue(t, m.PreviewsBuilt.WithLabelValues("ok")))
	assert.Equal(t, 1.0, counterValue(t, m.PreviewsBuilt.WithLabelValues("not_found")))
	assert.Equal(t, 1.0, counterValue(t, m.PreviewCache.WithLabelValues("hit")))
	assert.Equal(t, 2.0, counterValue(t, m.PreviewCache.WithLabelValues("miss")))
	assert.Equal(t, 1.0, counterValue(t, m.SummarizerOutcomes.WithLabelValues("ai", "")))
}

func TestEngineMetrics_LedgerDecisions(t *testing.T) {
	m := NewEngineMetrics(prometheus.NewRegistry())
	ledger := NewSessionLedger(NewMemoryLedgerStore(), nil, nil, nil, m)
	start := time.Date(2026, 7, 14, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := ledger.RecordActivity(context.Background(), models.ActivityBatch{
			ProjectID:       "p1",
			EventCount:      1,
			EstimatedTokens: 100,
			OccurredAt:      start.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	assert.Equal(t, 1.0, counterValue(t, m.SessionDecisions.WithLabelValues(string(models.TriggerManual))))
	assert.Equal(t, 2.0, counterValue(t, m.SessionDecisions.WithLabelValues("continue")))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, c.Write(&metric))
	return metric.GetCounter().GetValue()
}
