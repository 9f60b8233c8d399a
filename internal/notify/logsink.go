package notify

import (
	"sync"

	"github.com/sirupsen/logrus"

	"voicekey/internal/domain"
)

// LogSink logs published states at debug level. Unless verbose, updates that
// only move the level are skipped so the meter does not flood the log.
type LogSink struct {
	logger  *logrus.Entry
	verbose bool

	mu   sync.Mutex
	last *domain.OverlayState
}

func NewLogSink(logger *logrus.Entry, verbose bool) *LogSink {
	return &LogSink{logger: logger, verbose: verbose}
}

func (s *LogSink) PublishState(state domain.OverlayState) {
	s.mu.Lock()
	levelOnly := s.last != nil && onlyLevelChanged(*s.last, state)
	copied := state
	s.last = &copied
	s.mu.Unlock()

	if levelOnly && !s.verbose {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"connection": state.Connection,
		"listening":  state.Listening,
		"processing": state.Processing,
		"target":     state.Target,
		"level":      state.Level,
		"visible":    state.Visible,
		"message":    state.MessageText(),
	}).Debug("overlay state")
}

func onlyLevelChanged(prev, next domain.OverlayState) bool {
	prev.Level = next.Level
	return prev.Equal(next)
}
