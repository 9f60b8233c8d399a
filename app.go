package main

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"voicekey/internal/bootstrap"
	"voicekey/internal/domain"
	"voicekey/internal/logging"
)

// App is the Wails application root. It hosts the overlay window and is
// itself a state sink that forwards every snapshot to the frontend.
type App struct {
	ctx context.Context

	services *bootstrap.Services
	stop     func(context.Context) error
	bootErr  error

	mu          sync.Mutex
	lastVisible *bool
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	logger := logging.NewLogger("app")

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		logger.WithError(err).Error("overlay startup failed")
		return
	}
	a.services = &services

	stop, err := services.Start(ctx)
	if err != nil {
		a.bootErr = err
		logger.WithError(err).Error("overlay startup failed")
		return
	}
	a.stop = stop
}

func (a *App) shutdown(ctx context.Context) {
	if a.stop == nil {
		return
	}
	if err := a.stop(ctx); err != nil {
		logging.NewLogger("app").WithError(err).Warn("overlay shutdown incomplete")
	}
}

// GetOverlayState returns the current overlay state.
func (a *App) GetOverlayState() (domain.OverlayState, error) {
	if err := a.requireReady(); err != nil {
		return domain.OverlayState{}, err
	}
	return a.services.Service.State()
}

// SetOverlayState replaces the whole overlay state.
func (a *App) SetOverlayState(next domain.OverlayState) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.services.Service.SetState(next)
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if a.services == nil {
		return map[string]string{}
	}

	cfg := a.services.Config
	info := map[string]string{
		"bridgeAddress":  cfg.Bridge.Address,
		"listenerState":  string(a.services.Listener.State()),
		"httpEnabled":    strconv.FormatBool(cfg.HTTP.Enabled),
		"stateEventName": domain.StateEvent,
	}
	if addr := a.services.Listener.LocalAddr(); addr != nil {
		info["bridgeAddress"] = addr.String()
	}
	if err := a.services.Listener.Err(); err != nil {
		info["listenerError"] = err.Error()
	}
	if cfg.HTTP.Enabled {
		info["httpAddress"] = cfg.HTTP.Address
	}
	return info
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// PublishState emits the state to the frontend and follows its visibility.
func (a *App) PublishState(state domain.OverlayState) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, domain.StateEvent, state)

	if a.visibilityChanged(state.Visible) {
		if state.Visible {
			runtime.WindowShow(a.ctx)
		} else {
			runtime.WindowHide(a.ctx)
		}
	}
}

func (a *App) visibilityChanged(visible bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastVisible != nil && *a.lastVisible == visible {
		return false
	}
	a.lastVisible = &visible
	return true
}
