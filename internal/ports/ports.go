package ports

import (
	"context"
	"io"

	"voicekey/internal/domain"
)

// StateSink receives overlay state snapshots. Publishing is fire-and-forget:
// implementations must not block the caller and may drop deliveries.
type StateSink interface {
	PublishState(state domain.OverlayState)
}

// StateSinkFunc adapts a function to StateSink.
type StateSinkFunc func(state domain.OverlayState)

func (f StateSinkFunc) PublishState(state domain.OverlayState) { f(state) }

// StateReader reads the current overlay state.
type StateReader interface {
	State() (domain.OverlayState, error)
}

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// PatchSender pushes partial updates to the overlay bridge.
type PatchSender interface {
	SendPatch(patch domain.OverlayPatch) error
}

// BridgeMetrics records state bridge activity.
type BridgeMetrics interface {
	// DatagramReceived counts every datagram read from the socket.
	DatagramReceived(size int)
	// UpdateApplied counts merges by source kind: full, patch or local.
	UpdateApplied(kind string)
	// PayloadRejected counts discarded payloads by reason.
	PayloadRejected(reason string)
	// ListenerStateChanged tracks the listener lifecycle.
	ListenerStateChanged(state string)
	// ObserversConnected tracks connected websocket observers.
	ObserversConnected(count int)
}
