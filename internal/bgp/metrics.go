package bgp

// MetricsReporter receives protocol engine events for instrumentation.
// Implementations must be cheap and non-blocking; the engine calls them
// inline on the session's scheduling turn.
type MetricsReporter interface {
	// MessageReceived counts one decoded inbound message.
	MessageReceived(peer, name string)

	// MessageSent counts one fully flushed outbound message.
	MessageSent(peer, name string)

	// ChunkFlushed records one flushed chunk: its fragment count and size.
	ChunkFlushed(peer, name string, fragments, bytes int)

	// NotificationSent counts an outbound NOTIFICATION by code/subcode.
	NotificationSent(peer string, code, subcode uint8)
}

// noopMetrics is the default reporter used when none is attached.
type noopMetrics struct{}

func (noopMetrics) MessageReceived(string, string)        {}
func (noopMetrics) MessageSent(string, string)            {}
func (noopMetrics) ChunkFlushed(string, string, int, int) {}
func (noopMetrics) NotificationSent(string, uint8, uint8) {}
