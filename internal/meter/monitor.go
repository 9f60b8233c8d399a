package meter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"voicekey/internal/domain"
	"voicekey/internal/ports"
)

const (
	MessageListening = "Listening..."
	MessageNoAudio   = "No audio detected"
)

// MonitorOptions configures how often and what the monitor reports.
type MonitorOptions struct {
	Meter Options
	// PushInterval is the minimum gap between level patches.
	PushInterval time.Duration
	// NoAudioTimeout is how long to wait for audio before reporting silence.
	NoAudioTimeout time.Duration
	// ActivityThreshold is the raw level that counts as audio.
	ActivityThreshold float64
	ChunkSize         int
	// Now is overridable for tests.
	Now func() time.Time
}

// Monitor reads PCM from a capture session and pushes level and silence
// patches to the overlay.
type Monitor struct {
	sender ports.PatchSender
	logger *logrus.Entry
	opts   MonitorOptions
}

func NewMonitor(sender ports.PatchSender, logger *logrus.Entry, opts MonitorOptions) *Monitor {
	if opts.PushInterval <= 0 {
		opts.PushInterval = 20 * time.Millisecond
	}
	if opts.NoAudioTimeout <= 0 {
		opts.NoAudioTimeout = 5 * time.Second
	}
	if opts.ActivityThreshold <= 0 {
		opts.ActivityThreshold = 0.02
	}
	if opts.ChunkSize < 256 {
		opts.ChunkSize = 1024
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Monitor{sender: sender, logger: logger, opts: opts}
}

type session struct {
	startedAt    time.Time
	lastPush     time.Time
	heardAudio   bool
	noAudioShown bool
}

// Run reads audio until EOF or cancellation. The last pushed level is always 0.
func (m *Monitor) Run(ctx context.Context, audio io.Reader) error {
	meter := New(m.opts.Meter)
	s := &session{startedAt: m.opts.Now()}
	defer m.push(domain.OverlayPatch{Level: domain.Ptr(0.0)})

	buf := make([]byte, m.opts.ChunkSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := audio.Read(buf)
		if n > 0 {
			raw, level := meter.Observe(buf[:n])
			m.observe(s, raw, level)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read audio: %w", err)
		}
	}
}

func (m *Monitor) observe(s *session, raw, level float64) {
	now := m.opts.Now()

	switch {
	case !s.heardAudio && raw > m.opts.ActivityThreshold:
		s.heardAudio = true
		if s.noAudioShown {
			s.noAudioShown = false
			m.push(domain.OverlayPatch{Message: domain.Ptr(MessageListening)})
		}
	case !s.heardAudio && !s.noAudioShown && now.Sub(s.startedAt) >= m.opts.NoAudioTimeout:
		s.noAudioShown = true
		m.logger.WithField("after", m.opts.NoAudioTimeout).Warn("no audio detected")
		m.push(domain.OverlayPatch{Message: domain.Ptr(MessageNoAudio)})
	}

	if s.lastPush.IsZero() || now.Sub(s.lastPush) >= m.opts.PushInterval {
		s.lastPush = now
		m.push(domain.OverlayPatch{Level: domain.Ptr(level)})
	}
}

func (m *Monitor) push(patch domain.OverlayPatch) {
	if err := m.sender.SendPatch(patch); err != nil {
		m.logger.WithError(err).Debug("level update not delivered")
	}
}
