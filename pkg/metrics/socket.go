package metrics

// SocketMetrics provides observability for the packet socket adapter.
//
// Implementations collect connection lifecycle counters and per-worker
// traffic. If no implementation is given to the adapter, NewNoopSocketMetrics
// is used.
type SocketMetrics interface {
	// RecordConnectionAccepted increments the total accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the total closed connections counter.
	RecordConnectionClosed()

	// RecordConnectionForceClosed counts client sockets closed by the drain timeout.
	RecordConnectionForceClosed()

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// RecordPacket records one complete packet received from a client.
	RecordPacket(bytes int)

	// RecordWorkerError counts a fatal worker error by reason
	// ("read", "append", "echo", "panic").
	RecordWorkerError(reason string)

	// RecordWorkersReaped counts workers joined by the registry.
	RecordWorkersReaped(count int)
}

// NewNoopSocketMetrics returns a SocketMetrics that discards everything.
func NewNoopSocketMetrics() SocketMetrics {
	return noopSocketMetrics{}
}

type noopSocketMetrics struct{}

func (noopSocketMetrics) RecordConnectionAccepted()    {}
func (noopSocketMetrics) RecordConnectionClosed()      {}
func (noopSocketMetrics) RecordConnectionForceClosed() {}
func (noopSocketMetrics) SetActiveConnections(int32)   {}
func (noopSocketMetrics) RecordPacket(int)             {}
func (noopSocketMetrics) RecordWorkerError(string)     {}
func (noopSocketMetrics) RecordWorkersReaped(int)      {}
