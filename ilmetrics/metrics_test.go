package ilmetrics

import (
	"testing"

	"github.com/input-leap/input-leap-sub002/event"
	"github.com/input-leap/input-leap-sub002/ioreactor"
	"github.com/stretchr/testify/require"
)

func TestDefaultMetricsIncrementsAndReads(t *testing.T) {
	m := New()
	m.IncrementConnectionsAccepted()
	m.IncrementConnectionsAccepted()
	m.IncrementConnectionsClosed()
	m.IncrementBytesSent(128)
	m.IncrementBytesReceived(64)
	m.IncrementHeartbeatsSent()
	m.IncrementHeartbeatTimeouts()

	require.EqualValues(t, 2, m.GetConnectionsAccepted())
	require.EqualValues(t, 1, m.GetConnectionsClosed())
	require.EqualValues(t, 128, m.GetBytesSent())
	require.EqualValues(t, 64, m.GetBytesReceived())
	require.EqualValues(t, 1, m.GetHeartbeatsSent())
	require.EqualValues(t, 1, m.GetHeartbeatTimeouts())
}

func TestCountingHandlerDelegatesAndCounts(t *testing.T) {
	m := New()
	var got event.Event
	h := CountingHandler(m, func(e event.Event) { got = e })

	h(event.Event{Type: event.KeyDown})
	require.EqualValues(t, 1, m.GetEventsDispatched())
	require.Equal(t, event.KeyDown, got.Type)
}

func TestCountingRunFuncDelegatesAndCounts(t *testing.T) {
	m := New()
	run := CountingRunFunc(m, func(r ioreactor.Readiness) ioreactor.Result {
		return ioreactor.Keep
	})

	res := run(ioreactor.Readiness{Readable: true})
	require.True(t, res.Continue)
	require.EqualValues(t, 1, m.GetReactorCycles())
}
