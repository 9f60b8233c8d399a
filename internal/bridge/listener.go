package bridge

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"voicekey/internal/domain"
	"voicekey/internal/ports"
	"voicekey/internal/protocol"
)

// ListenerState is the lifecycle phase of a Listener.
type ListenerState string

const (
	StateIdle      ListenerState = "idle"
	StateBinding   ListenerState = "binding"
	StateListening ListenerState = "listening"
	StateStopped   ListenerState = "stopped"
)

// Rejection reasons reported to metrics.
const (
	RejectInvalidUTF8     = protocol.ReasonInvalidUTF8
	RejectInvalidShape    = protocol.ReasonInvalidShape
	RejectLockUnavailable = "lock_unavailable"
	RejectMergeFailed     = "merge_failed"
)

var ErrAlreadyStarted = errors.New("overlay listener already started")

// Merger applies decoded updates to the shared state.
type Merger interface {
	ApplyUpdate(update protocol.Update) (domain.OverlayState, error)
}

// ListenerOptions configures the UDP bridge.
type ListenerOptions struct {
	Address     string
	ReadTimeout time.Duration
	BufferSize  int
}

// Listener receives overlay updates over UDP and merges them through a Merger.
// It stops for good on a bind or transport failure; malformed datagrams and
// poisoned-store merges are logged and skipped.
type Listener struct {
	merger  Merger
	metrics ports.BridgeMetrics
	logger  *logrus.Entry
	opts    ListenerOptions

	started atomic.Bool
	ready   chan struct{}
	done    chan struct{}

	mu    sync.RWMutex
	state ListenerState
	addr  net.Addr
	err   error
}

func NewListener(merger Merger, metrics ports.BridgeMetrics, logger *logrus.Entry, opts ListenerOptions) *Listener {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 250 * time.Millisecond
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = protocol.MaxDatagramSize
	}
	return &Listener{
		merger:  merger,
		metrics: metrics,
		logger:  logger,
		opts:    opts,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		state:   StateIdle,
	}
}

// Run binds the socket and receives until ctx is cancelled or the transport fails.
// It returns nil on cancellation, a BIND_FAILURE or TRANSPORT_FAILURE error otherwise.
func (l *Listener) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	l.setState(StateBinding)
	conn, err := net.ListenPacket("udp", l.opts.Address)
	if err != nil {
		bindErr := domain.BindFailure(l.opts.Address, err)
		l.logger.WithError(err).WithField("addr", l.opts.Address).Error("overlay bridge bind failed; local interface stays available")
		return l.stop(bindErr)
	}

	l.mu.Lock()
	l.addr = conn.LocalAddr()
	l.mu.Unlock()
	l.setState(StateListening)
	close(l.ready)
	l.logger.WithField("addr", conn.LocalAddr().String()).Info("overlay bridge listening")

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stopWatch:
		}
	}()

	return l.stop(l.receive(ctx, conn))
}

func (l *Listener) receive(ctx context.Context, conn net.PacketConn) error {
	defer conn.Close()

	buf := make([]byte, l.opts.BufferSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := conn.SetReadDeadline(time.Now().Add(l.opts.ReadTimeout)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return l.transportFailure(err)
		}

		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return l.transportFailure(err)
		}
		l.handle(buf[:n])
	}
}

func (l *Listener) handle(payload []byte) {
	l.metrics.DatagramReceived(len(payload))

	update, err := protocol.Decode(payload)
	if err != nil {
		reason := protocol.RejectReason(err)
		if reason == "" {
			reason = RejectInvalidShape
		}
		l.metrics.PayloadRejected(reason)

		entry := l.logger.WithField("reason", reason)
		var coded *domain.Error
		if errors.As(err, &coded) && coded.Details != nil {
			entry = entry.WithFields(logrus.Fields(coded.Details))
		}
		entry.Warn("discarded overlay payload")
		return
	}

	if _, err := l.merger.ApplyUpdate(update); err != nil {
		if errors.Is(err, domain.ErrLockUnavailable) {
			l.metrics.PayloadRejected(RejectLockUnavailable)
			l.logger.WithError(err).Warn("overlay state unavailable; skipping merge")
			return
		}
		l.metrics.PayloadRejected(RejectMergeFailed)
		l.logger.WithError(err).Error("overlay merge failed")
	}
}

func (l *Listener) transportFailure(cause error) error {
	err := domain.TransportFailure(cause)
	l.logger.WithError(cause).Error("overlay bridge receive failed; listener stopped")
	return err
}

func (l *Listener) stop(err error) error {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
	l.setState(StateStopped)
	close(l.done)
	if err == nil {
		l.logger.Info("overlay bridge stopped")
	}
	return err
}

func (l *Listener) setState(state ListenerState) {
	l.mu.Lock()
	l.state = state
	l.mu.Unlock()
	l.metrics.ListenerStateChanged(string(state))
}

// State returns the current lifecycle phase.
func (l *Listener) State() ListenerState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Ready is closed once the socket is bound. It stays open if binding fails.
func (l *Listener) Ready() <-chan struct{} { return l.ready }

// Done is closed once the listener has stopped.
func (l *Listener) Done() <-chan struct{} { return l.done }

// Err returns the error that stopped the listener, or nil.
func (l *Listener) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

// LocalAddr returns the bound address, or nil before binding.
func (l *Listener) LocalAddr() net.Addr {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.addr
}
