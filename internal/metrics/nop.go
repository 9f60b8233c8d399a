package metrics

import "voicekey/internal/ports"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for tests and when metrics are disabled.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements BridgeMetrics.
var _ ports.BridgeMetrics = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// DatagramReceived discards the datagram counter.
func (n *NopMetrics) DatagramReceived(_ /* size */ int) {}

// UpdateApplied discards the update counter.
func (n *NopMetrics) UpdateApplied(_ /* kind */ string) {}

// PayloadRejected discards the rejection counter.
func (n *NopMetrics) PayloadRejected(_ /* reason */ string) {}

// ListenerStateChanged discards the listener state gauge.
func (n *NopMetrics) ListenerStateChanged(_ /* state */ string) {}

// ObserversConnected discards the observer gauge.
func (n *NopMetrics) ObserversConnected(_ /* count */ int) {}
