package bridge

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"voicekey/internal/domain"
	"voicekey/internal/metrics"
	"voicekey/internal/protocol"
	"voicekey/internal/store"
	"voicekey/internal/usecase"
)

func discardLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

type harness struct {
	store    *store.Store
	service  *usecase.OverlayService
	listener *Listener
	sink     *countingSink
	metrics  *countingMetrics
	cancel   context.CancelFunc
	runErr   chan error
}

func startHarness(t *testing.T) *harness {
	t.Helper()

	st := store.NewDefault()
	sink := &countingSink{}
	m := &countingMetrics{}
	service := usecase.NewOverlayService(st, sink, m, discardLogger())
	listener := NewListener(service, m, discardLogger(), ListenerOptions{
		Address:     "127.0.0.1:0",
		ReadTimeout: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{store: st, service: service, listener: listener, sink: sink, metrics: m, cancel: cancel, runErr: make(chan error, 1)}
	go func() { h.runErr <- listener.Run(ctx) }()

	select {
	case <-listener.Ready():
	case <-listener.Done():
		t.Fatalf("listener stopped before ready: %v", listener.Err())
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not become ready")
	}
	require.Equal(t, StateListening, listener.State())

	t.Cleanup(func() {
		cancel()
		<-listener.Done()
	})
	return h
}

func (h *harness) send(t *testing.T, payload string) {
	t.Helper()

	conn, err := net.Dial("udp", h.listener.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte(payload))
	require.NoError(t, err)
}

// sendAndWait sends payload and waits until the listener has consumed it.
func (h *harness) sendAndWait(t *testing.T, payload string) {
	t.Helper()

	before := h.metrics.datagramCount()
	h.send(t, payload)
	require.Eventually(t, func() bool { return h.metrics.datagramCount() > before }, 2*time.Second, 5*time.Millisecond)
}

func (h *harness) current(t *testing.T) domain.OverlayState {
	t.Helper()

	state, err := h.store.Get()
	require.NoError(t, err)
	return state
}

func TestListenerEndToEndPatchThenFullReplace(t *testing.T) {
	t.Parallel()

	h := startHarness(t)

	h.sendAndWait(t, `{"level":1.5,"visible":true,"connection":null}`)
	state := h.current(t)
	want := domain.DefaultState()
	want.Level = 1
	want.Visible = true
	require.True(t, state.Equal(want), "got %+v", state)

	h.sendAndWait(t, `{"connection":"ok"}`)
	state = h.current(t)
	want = domain.DefaultState()
	want.Connection = "ok"
	require.True(t, state.Equal(want), "got %+v", state)

	require.Equal(t, 2, h.sink.count())
}

func TestListenerFullRecordOverwritesPriorState(t *testing.T) {
	t.Parallel()

	h := startHarness(t)
	require.NoError(t, h.service.SetState(domain.OverlayState{
		Connection: "online",
		Listening:  "listening",
		Processing: "transcribing",
		Target:     "selected",
		Level:      0.7,
		Visible:    true,
		Message:    domain.Ptr("hello"),
	}))

	h.sendAndWait(t, `{"level":1.5,"visible":true}`)
	state := h.current(t)
	want := domain.DefaultState()
	want.Level = 1
	want.Visible = true
	require.True(t, state.Equal(want), "full record must not inherit prior fields, got %+v", state)
}

func TestListenerDiscardsMalformedPayloads(t *testing.T) {
	t.Parallel()

	h := startHarness(t)
	h.sendAndWait(t, `{"connection":"online","visible":true}`)
	before := h.current(t)
	notified := h.sink.count()

	for _, payload := range []string{
		"not json",
		"[1,2,3]",
		"null",
		`{"level":"high"}`,
		`{"visible":null,"level":"x"}`,
		"\xff\xfe",
	} {
		h.sendAndWait(t, payload)
	}

	require.True(t, h.current(t).Equal(before))
	require.Equal(t, notified, h.sink.count())
	require.Equal(t, StateListening, h.listener.State())

	rejected := h.metrics.rejections()
	require.Equal(t, 1, rejected[RejectInvalidUTF8])
	require.Equal(t, 5, rejected[RejectInvalidShape])
}

func TestListenerSkipsMergeWhenStorePoisoned(t *testing.T) {
	t.Parallel()

	h := startHarness(t)
	_, _ = h.store.Update(func(*domain.OverlayState) { panic("boom") })

	h.sendAndWait(t, `{"visible":true}`)
	h.sendAndWait(t, `{"visible":false}`)

	require.Equal(t, StateListening, h.listener.State())
	require.Equal(t, 2, h.metrics.rejections()[RejectLockUnavailable])
	require.Zero(t, h.sink.count())
}

func TestListenerCancelStopsCleanly(t *testing.T) {
	t.Parallel()

	h := startHarness(t)
	h.cancel()

	select {
	case err := <-h.runErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop after cancel")
	}
	require.Equal(t, StateStopped, h.listener.State())
	require.NoError(t, h.listener.Err())

	// The local interface keeps serving the last state.
	require.NoError(t, h.service.SetState(domain.DefaultState()))
}

func TestListenerBindFailure(t *testing.T) {
	t.Parallel()

	occupied, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	m := &countingMetrics{}
	listener := NewListener(usecase.NewOverlayService(store.NewDefault(), &countingSink{}, m, discardLogger()), m, discardLogger(), ListenerOptions{
		Address: occupied.LocalAddr().String(),
	})

	err = listener.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, domain.ErrCodeBindFailure, domain.CodeOf(err))
	require.Equal(t, StateStopped, listener.State())
	require.ErrorIs(t, listener.Err(), err)

	select {
	case <-listener.Done():
	default:
		t.Fatal("done should be closed after bind failure")
	}
	select {
	case <-listener.Ready():
		t.Fatal("ready must stay open after bind failure")
	default:
	}

	require.ErrorIs(t, listener.Run(context.Background()), ErrAlreadyStarted)
	require.Equal(t, []string{"binding", "stopped"}, m.states())
}

func TestSenderDeliversEncodedUpdates(t *testing.T) {
	t.Parallel()

	h := startHarness(t)
	sender, err := Dial(h.listener.LocalAddr().String(), SenderOptions{Logger: discardLogger()})
	require.NoError(t, err)
	defer sender.Close()

	full := domain.DefaultState()
	full.Connection = "online"
	full.Message = domain.Ptr("Listening...")
	before := h.metrics.datagramCount()
	require.NoError(t, sender.SendState(full))
	require.Eventually(t, func() bool { return h.metrics.datagramCount() > before }, 2*time.Second, 5*time.Millisecond)
	require.True(t, h.current(t).Equal(full))

	// An empty patch is not sent at all.
	require.NoError(t, sender.SendPatch(domain.OverlayPatch{}))
}

func TestSenderForceMergePreservesUntouchedFields(t *testing.T) {
	t.Parallel()

	h := startHarness(t)
	require.NoError(t, h.service.SetState(domain.OverlayState{
		Connection: "online",
		Listening:  "listening",
		Processing: "idle",
		Target:     "selected",
		Visible:    true,
	}))

	sender, err := Dial(h.listener.LocalAddr().String(), SenderOptions{ForceMerge: true, Logger: discardLogger()})
	require.NoError(t, err)
	defer sender.Close()

	before := h.metrics.datagramCount()
	require.NoError(t, sender.SendPatch(domain.OverlayPatch{Level: domain.Ptr(0.3)}))
	require.Eventually(t, func() bool { return h.metrics.datagramCount() > before }, 2*time.Second, 5*time.Millisecond)

	state := h.current(t)
	require.Equal(t, "online", state.Connection)
	require.Equal(t, "selected", state.Target)
	require.True(t, state.Visible)
	require.Equal(t, 0.3, state.Level)
}

func TestSenderHideAfterIsSupersededByShow(t *testing.T) {
	t.Parallel()

	rx, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer rx.Close()

	sender, err := Dial(rx.LocalAddr().String(), SenderOptions{Logger: discardLogger()})
	require.NoError(t, err)
	defer sender.Close()

	sender.HideAfter(30 * time.Millisecond)
	require.NoError(t, sender.Show())

	patch := readPatch(t, rx, time.Second)
	require.NotNil(t, patch.Visible)
	require.True(t, *patch.Visible)

	// The cancelled hide never arrives.
	require.NoError(t, rx.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err = rx.ReadFrom(make([]byte, 64))
	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "unexpected datagram: %v", err)

	sender.HideAfter(10 * time.Millisecond)
	patch = readPatch(t, rx, time.Second)
	require.NotNil(t, patch.Visible)
	require.False(t, *patch.Visible)
}

func TestSenderClosedRejectsWrites(t *testing.T) {
	t.Parallel()

	rx, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer rx.Close()

	sender, err := Dial(rx.LocalAddr().String(), SenderOptions{})
	require.NoError(t, err)
	sender.HideAfter(time.Hour)
	require.NoError(t, sender.Close())
	require.NoError(t, sender.Close())
	require.ErrorIs(t, sender.Hide(), ErrSenderClosed)
}

func readPatch(t *testing.T, conn net.PacketConn, timeout time.Duration) domain.OverlayPatch {
	t.Helper()

	buf := make([]byte, protocol.MaxDatagramSize)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	n, _, err := conn.ReadFrom(buf)
	require.NoError(t, err)
	patch, err := protocol.DecodePatch(buf[:n])
	require.NoError(t, err)
	return patch
}

type countingSink struct {
	mu sync.Mutex
	n  int
}

func (s *countingSink) PublishState(domain.OverlayState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// countingMetrics records datagrams only after the listener has fully
// handled them, so tests can wait on the counter.
type countingMetrics struct {
	metrics.NopMetrics

	mu        sync.Mutex
	datagrams int
	rejected  map[string]int
	seen      []string
	pending   bool
}

func (m *countingMetrics) DatagramReceived(int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = true
}

func (m *countingMetrics) UpdateApplied(string) { m.settle() }

func (m *countingMetrics) PayloadRejected(reason string) {
	m.mu.Lock()
	if m.rejected == nil {
		m.rejected = make(map[string]int)
	}
	m.rejected[reason]++
	m.mu.Unlock()
	m.settle()
}

func (m *countingMetrics) ListenerStateChanged(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, state)
}

func (m *countingMetrics) settle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending {
		m.pending = false
		m.datagrams++
	}
}

func (m *countingMetrics) datagramCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.datagrams
}

func (m *countingMetrics) rejections() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.rejected))
	for k, v := range m.rejected {
		out[k] = v
	}
	return out
}

func (m *countingMetrics) states() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.seen...)
}
