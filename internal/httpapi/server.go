// Package httpapi serves the overlay state to local tools over HTTP.
//
// Routes are versioned under /v1 and are read-only; the state is changed
// only through the UDP bridge and the in-process interface.
//
//   - GET /v1/healthz: liveness
//   - GET /v1/state: current overlay state, 503 when the store is unavailable
//   - GET /v1/status: listener phase and observer count
//   - GET /ws: websocket stream of state events
//   - GET /metrics: Prometheus exposition
package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"voicekey/internal/bridge"
	"voicekey/internal/domain"
	"voicekey/internal/ports"
)

const (
	APIVersion     = "v1"
	DefaultAddress = "127.0.0.1:38486"
)

// ListenerStatus is the view of the UDP bridge the status route reports.
type ListenerStatus interface {
	State() bridge.ListenerState
	LocalAddr() net.Addr
	Err() error
}

// ObserverCounter reports connected websocket observers.
type ObserverCounter interface {
	Count() int
}

// ServerOptions configures the HTTP server.
type ServerOptions struct {
	Addr              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	Logger            *logrus.Entry

	// Observers serves /ws when set.
	Observers http.Handler
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
	// Listener feeds /v1/status when set.
	Listener ListenerStatus
}

// Server hosts the loopback HTTP surface.
type Server struct {
	http   *http.Server
	reader ports.StateReader
	logger *logrus.Entry
	opts   ServerOptions

	listener net.Listener
}

// NewServer wires the routes. Nothing listens until Start is called.
func NewServer(reader ports.StateReader, opts ServerOptions) *Server {
	if reader == nil {
		panic("httpapi.NewServer: reader is nil")
	}
	if opts.Addr == "" {
		opts.Addr = DefaultAddress
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 5 * time.Second
	}
	if opts.ReadHeaderTimeout == 0 {
		opts.ReadHeaderTimeout = 2 * time.Second
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = 60 * time.Second
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	mux := http.NewServeMux()
	s := &Server{
		reader: reader,
		logger: opts.Logger,
		opts:   opts,
	}
	// No WriteTimeout: /ws connections are long-lived.
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           withLogging(mux, opts.Logger),
		ReadTimeout:       opts.ReadTimeout,
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
		IdleTimeout:       opts.IdleTimeout,
		BaseContext: func(net.Listener) context.Context {
			return context.Background()
		},
	}

	mux.HandleFunc("/"+APIVersion+"/healthz", s.handleHealthz)
	mux.HandleFunc("/"+APIVersion+"/state", s.handleState)
	mux.HandleFunc("/"+APIVersion+"/status", s.handleStatus)
	if opts.Observers != nil {
		mux.Handle("/ws", opts.Observers)
	}
	if opts.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start binds the address and serves in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	s.listener = ln

	go func() {
		s.logger.WithField("addr", ln.Addr().String()).Info("http api listening")
		if err := s.http.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("http api stopped")
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts down gracefully, waiting up to ShutdownTimeout.
func (s *Server) Stop(ctx context.Context) error {
	if timeout := s.opts.ShutdownTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": timestamp(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	state, err := s.reader.State()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrLockUnavailable) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, APIError{
			Error:     err.Error(),
			Code:      string(domain.CodeOf(err)),
			Timestamp: timestamp(),
		})
		return
	}
	writeJSON(w, http.StatusOK, StateResponse{
		Event:       domain.StateEvent,
		State:       state,
		GeneratedAt: timestamp(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	resp := StatusResponse{GeneratedAt: timestamp()}
	if l := s.opts.Listener; l != nil {
		resp.Listener.State = string(l.State())
		if addr := l.LocalAddr(); addr != nil {
			resp.Listener.Addr = addr.String()
		}
		if err := l.Err(); err != nil {
			resp.Listener.Error = err.Error()
		}
	}
	if counter, ok := s.opts.Observers.(ObserverCounter); ok {
		resp.Observers = counter.Count()
	}
	writeJSON(w, http.StatusOK, resp)
}

func requireGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet {
		return true
	}
	writeJSON(w, http.StatusMethodNotAllowed, APIError{
		Error:     "method not allowed",
		Timestamp: timestamp(),
	})
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}

func withLogging(next http.Handler, logger *logrus.Entry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := TimeNow()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("http request")
	})
}

// statusRecorder captures the response status and still allows websocket upgrades.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
