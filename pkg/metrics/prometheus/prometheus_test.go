package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/marmos91/dittolog/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Collectors register on the global registry, so each constructor runs once
// for the whole package.
func TestCollectors(t *testing.T) {
	metrics.InitRegistry()
	require.True(t, metrics.IsEnabled())

	sm := NewSocketMetrics()
	_, ok := sm.(*socketMetrics)
	require.True(t, ok, "expected the Prometheus implementation once the registry exists")

	sm.RecordConnectionAccepted()
	sm.RecordConnectionAccepted()
	sm.RecordConnectionClosed()
	sm.SetActiveConnections(1)
	sm.RecordPacket(6)
	sm.RecordWorkerError("read")
	sm.RecordWorkersReaped(1)

	st := NewStoreMetrics()
	st.RecordAppend("client", 6, nil)
	st.RecordAppend("timestamp", 20, nil)
	st.RecordAppend("client", 3, errors.New("write failed"))
	st.RecordEcho(26, 2*time.Millisecond)
	st.RecordLockWait(time.Millisecond)
	st.SetSize(26)

	families, err := metrics.GetRegistry().Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, mf := range families {
		var sum float64
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				sum += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				sum += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				sum += float64(m.GetHistogram().GetSampleCount())
			}
		}
		values[mf.GetName()] = sum
	}

	assert.Equal(t, 2.0, values["dittolog_socket_connections_accepted_total"])
	assert.Equal(t, 1.0, values["dittolog_socket_connections_closed_total"])
	assert.Equal(t, 1.0, values["dittolog_socket_active_connections"])
	assert.Equal(t, 1.0, values["dittolog_socket_packets_total"])
	assert.Equal(t, 1.0, values["dittolog_socket_packet_size_bytes"])
	assert.Equal(t, 1.0, values["dittolog_socket_worker_errors_total"])
	assert.Equal(t, 1.0, values["dittolog_socket_workers_reaped_total"])

	assert.Equal(t, 3.0, values["dittolog_store_appends_total"])
	assert.Equal(t, 26.0, values["dittolog_store_appended_bytes_total"], "failed appends are not counted as bytes")
	assert.Equal(t, 26.0, values["dittolog_store_echo_bytes_total"])
	assert.Equal(t, 1.0, values["dittolog_store_echo_duration_milliseconds"])
	assert.Equal(t, 1.0, values["dittolog_store_lock_wait_milliseconds"])
	assert.Equal(t, 26.0, values["dittolog_store_size_bytes"])
}
