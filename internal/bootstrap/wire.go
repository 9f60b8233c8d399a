package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"voicekey/internal/bridge"
	"voicekey/internal/config"
	"voicekey/internal/httpapi"
	"voicekey/internal/logging"
	"voicekey/internal/meter"
	"voicekey/internal/metrics"
	"voicekey/internal/notify"
	"voicekey/internal/ports"
	"voicekey/internal/store"
	"voicekey/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Config   config.Config
	Store    *store.Store
	Notifier *notify.Fanout
	Service  *usecase.OverlayService
	Listener *bridge.Listener
	Hub      *notify.Hub
	// HTTP is nil when the HTTP surface is disabled.
	HTTP     *httpapi.Server
	Registry *prometheus.Registry
}

// Build loads configuration and wires the state bridge. The given sinks
// receive every published state in addition to the built-in observers.
func Build(sinks ...ports.StateSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return BuildWith(cfg, sinks...), nil
}

// BuildWith wires the state bridge from an explicit configuration.
func BuildWith(cfg config.Config, sinks ...ports.StateSink) Services {
	logging.Configure(cfg.Logging)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewPrometheus(registry, "")

	fanout := notify.NewFanout(sinks...)
	if cfg.Debug.States {
		fanout.Add(notify.NewLogSink(logging.NewLogger("notify"), cfg.Debug.Verbose))
	}

	st := store.NewDefault()
	service := usecase.NewOverlayService(st, fanout, collector, logging.NewLogger("usecase"))

	listener := bridge.NewListener(service, collector, logging.NewLogger("bridge"), bridge.ListenerOptions{
		Address:     cfg.Bridge.Address,
		ReadTimeout: cfg.Bridge.ReadTimeout(),
		BufferSize:  cfg.Bridge.BufferSize,
	})

	services := Services{
		Config:   cfg,
		Store:    st,
		Notifier: fanout,
		Service:  service,
		Listener: listener,
		Registry: registry,
	}

	if cfg.HTTP.Enabled {
		hub := notify.NewHub(service, collector, logging.NewLogger("websocket"), notify.HubOptions{})
		fanout.Add(hub)
		services.Hub = hub
		services.HTTP = httpapi.NewServer(service, httpapi.ServerOptions{
			Addr:      cfg.HTTP.Address,
			Logger:    logging.NewLogger("http"),
			Observers: hub,
			Gatherer:  registry,
			Listener:  listener,
		})
	}

	return services
}

// Start publishes the initial state and launches the listener and the HTTP
// surface. Listener and HTTP failures are logged and leave the local
// interface usable. The returned function stops everything.
func (s Services) Start(ctx context.Context) (stop func(context.Context) error, err error) {
	logger := logging.NewLogger("bootstrap")

	if err := s.Service.PublishCurrent(); err != nil {
		return nil, fmt.Errorf("publish initial overlay state: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		if err := s.Listener.Run(runCtx); err != nil {
			logger.WithError(err).Warn("overlay bridge unavailable; only local updates will apply")
		}
	}()

	if s.HTTP != nil {
		if err := s.HTTP.Start(); err != nil {
			logger.WithError(err).Warn("http api unavailable")
		}
	}

	return func(stopCtx context.Context) error {
		cancel()
		var errs []error
		if s.HTTP != nil {
			s.Hub.Close()
			if err := s.HTTP.Stop(stopCtx); err != nil {
				errs = append(errs, fmt.Errorf("stop http api: %w", err))
			}
		}
		select {
		case <-s.Listener.Done():
		case <-stopCtx.Done():
			errs = append(errs, fmt.Errorf("wait for overlay bridge: %w", stopCtx.Err()))
		}
		return errors.Join(errs...)
	}, nil
}

// CaptureConfig maps the audio section to capture settings.
func CaptureConfig(cfg config.Config) ports.AudioConfig {
	return ports.AudioConfig{
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		InputFormat: cfg.Audio.InputFormat,
		InputDevice: cfg.Audio.InputDevice,
	}
}

// MonitorOptions maps the meter section to level monitor settings.
func MonitorOptions(cfg config.Config) meter.MonitorOptions {
	return meter.MonitorOptions{
		Meter:          meter.DefaultOptions(),
		PushInterval:   time.Duration(cfg.Meter.PushIntervalMS) * time.Millisecond,
		NoAudioTimeout: time.Duration(cfg.Meter.NoAudioTimeoutMS) * time.Millisecond,
	}
}
