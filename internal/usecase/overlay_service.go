package usecase

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"voicekey/internal/domain"
	"voicekey/internal/ports"
	"voicekey/internal/protocol"
)

// KindLocal labels merges that came from the host process rather than a datagram.
const KindLocal = "local"

// StateStore is the shared store the service merges into.
type StateStore interface {
	Get() (domain.OverlayState, error)
	Replace(next domain.OverlayState) (domain.OverlayState, error)
	Update(fn func(*domain.OverlayState)) (domain.OverlayState, error)
}

// OverlayService owns every path that changes the overlay state.
// It merges into the store and then notifies with the resulting snapshot,
// never while the store lock is held.
type OverlayService struct {
	store    StateStore
	notifier ports.StateSink
	metrics  ports.BridgeMetrics
	logger   *logrus.Entry
}

var _ ports.StateReader = (*OverlayService)(nil)

func NewOverlayService(
	store StateStore,
	notifier ports.StateSink,
	metrics ports.BridgeMetrics,
	logger *logrus.Entry,
) *OverlayService {
	return &OverlayService{
		store:    store,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
	}
}

// State returns a copy of the current state.
func (s *OverlayService) State() (domain.OverlayState, error) {
	state, err := s.store.Get()
	if err != nil {
		return domain.OverlayState{}, fmt.Errorf("read overlay state: %w", err)
	}
	return state, nil
}

// SetState replaces the whole state with candidate and notifies observers.
func (s *OverlayService) SetState(candidate domain.OverlayState) error {
	state, err := s.store.Replace(candidate)
	if err != nil {
		return fmt.Errorf("replace overlay state: %w", err)
	}
	s.notifier.PublishState(state)
	s.metrics.UpdateApplied(KindLocal)
	return nil
}

// ApplyUpdate merges a decoded datagram: full records replace, patches overwrite present fields.
func (s *OverlayService) ApplyUpdate(update protocol.Update) (domain.OverlayState, error) {
	var (
		state domain.OverlayState
		err   error
	)
	switch update.Kind {
	case protocol.KindFull:
		state, err = s.store.Replace(update.State)
	case protocol.KindPatch:
		patch := update.Patch
		state, err = s.store.Update(func(current *domain.OverlayState) {
			*current = patch.Apply(*current)
		})
	default:
		return domain.OverlayState{}, fmt.Errorf("unknown update kind %q", update.Kind)
	}
	if err != nil {
		return domain.OverlayState{}, fmt.Errorf("apply %s update: %w", update.Kind, err)
	}

	s.notifier.PublishState(state)
	s.metrics.UpdateApplied(string(update.Kind))
	return state, nil
}

// PublishCurrent notifies observers of the current state without changing it.
func (s *OverlayService) PublishCurrent() error {
	state, err := s.State()
	if err != nil {
		return err
	}
	s.notifier.PublishState(state)
	s.logger.WithFields(logrus.Fields{
		"connection": state.Connection,
		"visible":    state.Visible,
	}).Debug("published current overlay state")
	return nil
}
