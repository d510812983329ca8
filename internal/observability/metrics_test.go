package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsWith_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg, "test")

	m.EventsApplied.Inc()
	m.PollCycles.WithLabelValues("ok").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["test_ledger_events_applied_total"])
	assert.True(t, names["test_poller_cycles_total"])
}

func TestRecordEventApplied_Outcomes(t *testing.T) {
	win := testutil.ToFloat64(DefaultMetrics.TradesByOutcome.WithLabelValues("win"))
	loss := testutil.ToFloat64(DefaultMetrics.TradesByOutcome.WithLabelValues("loss"))
	flat := testutil.ToFloat64(DefaultMetrics.TradesByOutcome.WithLabelValues("flat"))

	RecordEventApplied(12.5)
	RecordEventApplied(-3)
	RecordEventApplied(0)

	assert.Equal(t, win+1, testutil.ToFloat64(DefaultMetrics.TradesByOutcome.WithLabelValues("win")))
	assert.Equal(t, loss+1, testutil.ToFloat64(DefaultMetrics.TradesByOutcome.WithLabelValues("loss")))
	assert.Equal(t, flat+1, testutil.ToFloat64(DefaultMetrics.TradesByOutcome.WithLabelValues("flat")))
}

func TestRecordProviderCall_CountsErrors(t *testing.T) {
	before := testutil.ToFloat64(DefaultMetrics.ProviderErrors.WithLabelValues("helius", "transactions"))

	RecordProviderCall("helius", "transactions", 0.2, nil)
	RecordProviderCall("helius", "transactions", 0.4, errors.New("boom"))

	assert.Equal(t, before+1, testutil.ToFloat64(DefaultMetrics.ProviderErrors.WithLabelValues("helius", "transactions")))
}
