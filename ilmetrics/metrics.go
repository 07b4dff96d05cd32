// Package ilmetrics provides atomic counters and decorators for this
// module's hot paths (event dispatch, reactor cycles, and connection I/O):
// wrap the thing being measured, delegate, and increment a counter on the
// way through.
package ilmetrics

import (
	"sync/atomic"

	"github.com/input-leap/input-leap-sub002/event"
	"github.com/input-leap/input-leap-sub002/ioreactor"
)

// Metrics is the counter surface every collector in this module reports
// through; the relay package feeds it via relay.WithMetrics.
type Metrics interface {
	IncrementEventsDispatched()
	IncrementReactorCycles()
	IncrementConnectionsAccepted()
	IncrementConnectionsClosed()
	IncrementHeartbeatsSent()
	IncrementHeartbeatTimeouts()
	IncrementBytesSent(n int64)
	IncrementBytesReceived(n int64)

	GetEventsDispatched() int64
	GetReactorCycles() int64
	GetConnectionsAccepted() int64
	GetConnectionsClosed() int64
	GetHeartbeatsSent() int64
	GetHeartbeatTimeouts() int64
	GetBytesSent() int64
	GetBytesReceived() int64
}

// DefaultMetrics implements Metrics with atomic counters.
type DefaultMetrics struct {
	eventsDispatched    int64
	reactorCycles       int64
	connectionsAccepted int64
	connectionsClosed   int64
	heartbeatsSent      int64
	heartbeatTimeouts   int64
	bytesSent           int64
	bytesReceived       int64
}

// New builds a zeroed DefaultMetrics.
func New() *DefaultMetrics { return &DefaultMetrics{} }

func (m *DefaultMetrics) IncrementEventsDispatched()    { atomic.AddInt64(&m.eventsDispatched, 1) }
func (m *DefaultMetrics) IncrementReactorCycles()       { atomic.AddInt64(&m.reactorCycles, 1) }
func (m *DefaultMetrics) IncrementConnectionsAccepted() { atomic.AddInt64(&m.connectionsAccepted, 1) }
func (m *DefaultMetrics) IncrementConnectionsClosed()   { atomic.AddInt64(&m.connectionsClosed, 1) }
func (m *DefaultMetrics) IncrementHeartbeatsSent()      { atomic.AddInt64(&m.heartbeatsSent, 1) }
func (m *DefaultMetrics) IncrementHeartbeatTimeouts()   { atomic.AddInt64(&m.heartbeatTimeouts, 1) }
func (m *DefaultMetrics) IncrementBytesSent(n int64)    { atomic.AddInt64(&m.bytesSent, n) }
func (m *DefaultMetrics) IncrementBytesReceived(n int64) { atomic.AddInt64(&m.bytesReceived, n) }

func (m *DefaultMetrics) GetEventsDispatched() int64  { return atomic.LoadInt64(&m.eventsDispatched) }
func (m *DefaultMetrics) GetReactorCycles() int64     { return atomic.LoadInt64(&m.reactorCycles) }
func (m *DefaultMetrics) GetConnectionsAccepted() int64 {
	return atomic.LoadInt64(&m.connectionsAccepted)
}
func (m *DefaultMetrics) GetConnectionsClosed() int64 { return atomic.LoadInt64(&m.connectionsClosed) }
func (m *DefaultMetrics) GetHeartbeatsSent() int64    { return atomic.LoadInt64(&m.heartbeatsSent) }
func (m *DefaultMetrics) GetHeartbeatTimeouts() int64 { return atomic.LoadInt64(&m.heartbeatTimeouts) }
func (m *DefaultMetrics) GetBytesSent() int64         { return atomic.LoadInt64(&m.bytesSent) }
func (m *DefaultMetrics) GetBytesReceived() int64     { return atomic.LoadInt64(&m.bytesReceived) }

// CountingHandler wraps an event.Handler so every dispatch through it
// increments m's events-dispatched counter before delegating.
func CountingHandler(m Metrics, next event.Handler) event.Handler {
	return func(e event.Event) {
		m.IncrementEventsDispatched()
		next(e)
	}
}

// CountingRunFunc wraps an ioreactor.RunFunc so every cycle it runs in
// increments m's reactor-cycles counter before delegating.
func CountingRunFunc(m Metrics, next ioreactor.RunFunc) ioreactor.RunFunc {
	return func(r ioreactor.Readiness) ioreactor.Result {
		m.IncrementReactorCycles()
		return next(r)
	}
}
