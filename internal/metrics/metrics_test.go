package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestSetActiveTransfersRecordsLatestValue(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetActiveTransfers(3)
	require.Equal(t, float64(3), gaugeValue(t, m.activeTransfers))
	m.SetActiveTransfers(1)
	require.Equal(t, float64(1), gaugeValue(t, m.activeTransfers))
}

func TestAddBytesTransferredAccumulates(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.AddBytesTransferred(100)
	m.AddBytesTransferred(50)
	require.Equal(t, float64(150), counterValue(t, m.bytesTransferred))
}

func TestAddBytesTransferredIgnoresNonPositive(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.AddBytesTransferred(0)
	m.AddBytesTransferred(-5)
	require.Equal(t, float64(0), counterValue(t, m.bytesTransferred))
}

func TestSetSessionsConnected(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetSessionsConnected(2)
	require.Equal(t, float64(2), gaugeValue(t, m.sessionsConnected))
}
