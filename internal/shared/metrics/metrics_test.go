package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("test", reg)
	require.NotNil(t, m)

	m.RecordHTTPRequest("GET", "/api/v1/plans", 200, 10*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/plans", "200"),
	))
}

func TestMetrics_Ledger(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("test", reg)

	m.PaymentsReconciledTotal.WithLabelValues("completed").Inc()
	m.PaymentsReconciledTotal.WithLabelValues("duplicate").Inc()
	m.CreditsConsumedTotal.Add(5)
	m.DebitsDeniedTotal.Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.PaymentsReconciledTotal.WithLabelValues("completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PaymentsReconciledTotal.WithLabelValues("duplicate")))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.CreditsConsumedTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DebitsDeniedTotal))
}

func TestMetrics_Webhook(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("test", reg)

	m.RecordWebhookEvent("checkout.session.completed", "processed")
	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.WebhookEventsTotal.WithLabelValues("checkout.session.completed", "processed"),
	))
}
