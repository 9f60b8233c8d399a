package bridge

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"voicekey/internal/domain"
	"voicekey/internal/ports"
	"voicekey/internal/protocol"
)

var ErrSenderClosed = errors.New("overlay sender closed")

// SenderOptions configures a Sender.
type SenderOptions struct {
	// ForceMerge makes patches merge on the receiver instead of replacing.
	ForceMerge bool
	Logger     *logrus.Entry
}

// Sender writes overlay updates to the bridge. Delivery is best effort:
// nobody acknowledges a datagram.
type Sender struct {
	conn   net.Conn
	opts   SenderOptions
	logger *logrus.Entry

	mu        sync.Mutex
	closed    bool
	hideGen   uint64
	hideTimer *time.Timer
}

var _ ports.PatchSender = (*Sender)(nil)

// Dial opens a UDP sender towards addr.
func Dial(addr string, opts SenderOptions) (*Sender, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial overlay bridge %s: %w", addr, err)
	}
	return NewSender(conn, opts), nil
}

// NewSender wraps an established connection.
func NewSender(conn net.Conn, opts SenderOptions) *Sender {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Sender{conn: conn, opts: opts, logger: logger}
}

// SendState sends a full record; the receiver replaces its state with it.
func (s *Sender) SendState(state domain.OverlayState) error {
	payload, err := protocol.EncodeState(state)
	if err != nil {
		return fmt.Errorf("encode overlay state: %w", err)
	}
	return s.write(payload)
}

// SendPatch sends the fields present in patch.
func (s *Sender) SendPatch(patch domain.OverlayPatch) error {
	if patch.IsEmpty() {
		return nil
	}
	payload, err := protocol.EncodePatch(patch, protocol.EncodeOptions{ForceMerge: s.opts.ForceMerge})
	if err != nil {
		return fmt.Errorf("encode overlay patch: %w", err)
	}
	return s.write(payload)
}

// Show cancels any pending hide and makes the overlay visible.
func (s *Sender) Show() error {
	s.cancelHide()
	return s.SendPatch(domain.OverlayPatch{Visible: domain.Ptr(true)})
}

// Hide cancels any pending hide and hides the overlay now.
func (s *Sender) Hide() error {
	s.cancelHide()
	return s.SendPatch(domain.OverlayPatch{Visible: domain.Ptr(false)})
}

// HideAfter hides the overlay once d elapses. A later Show, Hide or
// HideAfter call supersedes it.
func (s *Sender) HideAfter(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.stopTimerLocked()
	gen := s.hideGen

	s.hideTimer = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.closed || gen != s.hideGen {
			s.mu.Unlock()
			return
		}
		s.hideTimer = nil
		s.mu.Unlock()

		if err := s.SendPatch(domain.OverlayPatch{Visible: domain.Ptr(false)}); err != nil {
			s.logger.WithError(err).Debug("delayed hide not delivered")
		}
	})
}

// Close cancels a pending hide and closes the socket.
func (s *Sender) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopTimerLocked()
	s.mu.Unlock()
	return s.conn.Close()
}

func (s *Sender) cancelHide() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
}

// stopTimerLocked also bumps the generation so a timer that already fired does nothing.
func (s *Sender) stopTimerLocked() {
	s.hideGen++
	if s.hideTimer != nil {
		s.hideTimer.Stop()
		s.hideTimer = nil
	}
}

func (s *Sender) write(payload []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSenderClosed
	}

	if _, err := s.conn.Write(payload); err != nil {
		s.logger.WithError(err).Debug("overlay datagram not delivered")
		return fmt.Errorf("send overlay datagram: %w", err)
	}
	s.logger.WithField("payload", string(payload)).Trace("overlay datagram sent")
	return nil
}
