package notify

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"voicekey/internal/domain"
	"voicekey/internal/metrics"
	"voicekey/internal/ports"
)

func TestFanoutPublishesToAllSinksInOrder(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var order []string
	record := func(name string) ports.StateSink {
		return ports.StateSinkFunc(func(domain.OverlayState) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
		})
	}

	f := NewFanout(record("a"), nil, record("b"))
	removeC := f.Add(record("c"))
	require.Equal(t, 3, f.Len())

	f.PublishState(domain.DefaultState())
	require.Equal(t, []string{"a", "b", "c"}, order)

	removeC()
	removeC()
	require.Equal(t, 2, f.Len())

	order = nil
	f.PublishState(domain.DefaultState())
	require.Equal(t, []string{"a", "b"}, order)
}

func TestFanoutSinkMayRemoveItselfDuringPublish(t *testing.T) {
	t.Parallel()

	f := NewFanout()
	calls := 0
	var remove func()
	remove = f.Add(ports.StateSinkFunc(func(domain.OverlayState) {
		calls++
		remove()
	}))

	f.PublishState(domain.DefaultState())
	f.PublishState(domain.DefaultState())
	require.Equal(t, 1, calls)
	require.Zero(t, f.Len())
}

func TestLogSinkSkipsLevelOnlyUpdatesUnlessVerbose(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.DebugLevel)

	sink := NewLogSink(logger.WithField("component", "notify"), false)
	state := domain.DefaultState()
	sink.PublishState(state)
	state.Level = 0.4
	sink.PublishState(state)
	state.Visible = true
	sink.PublishState(state)

	require.Equal(t, 2, strings.Count(buf.String(), "overlay state"))

	buf.Reset()
	verbose := NewLogSink(logger.WithField("component", "notify"), true)
	verbose.PublishState(state)
	state.Level = 0.9
	verbose.PublishState(state)
	require.Equal(t, 2, strings.Count(buf.String(), "overlay state"))
}

type staticReader struct {
	mu    sync.Mutex
	state domain.OverlayState
	err   error
}

func (r *staticReader) State() (domain.OverlayState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.err
}

func newTestHub(t *testing.T, reader ports.StateReader) (*Hub, string) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	hub := NewHub(reader, metrics.NewNop(), logger.WithField("component", "hub"), HubOptions{QueueSize: 4})
	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(payload, &env))
	return env
}

func TestHubSendsCurrentStateOnConnectAndLaterPublishes(t *testing.T) {
	t.Parallel()

	initial := domain.DefaultState()
	initial.Connection = "online"
	hub, url := newTestHub(t, &staticReader{state: initial})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	env := readEnvelope(t, conn)
	require.Equal(t, domain.StateEvent, env.Event)
	require.Equal(t, "online", env.Payload.Connection)

	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	next := initial
	next.Level = 0.5
	next.Message = domain.Ptr("Listening...")
	hub.PublishState(next)

	env = readEnvelope(t, conn)
	require.Equal(t, 0.5, env.Payload.Level)
	require.Equal(t, "Listening...", env.Payload.MessageText())
}

func TestHubRemovesDisconnectedObservers(t *testing.T) {
	t.Parallel()

	hub, url := newTestHub(t, &staticReader{state: domain.DefaultState()})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = readEnvelope(t, conn)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)

	// Publishing with nobody listening is a no-op.
	hub.PublishState(domain.DefaultState())
}

func TestHubSkipsInitialStateWhenReaderFails(t *testing.T) {
	t.Parallel()

	hub, url := newTestHub(t, &staticReader{err: domain.ErrLockUnavailable})

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	state := domain.DefaultState()
	state.Target = "selected"
	hub.PublishState(state)

	env := readEnvelope(t, conn)
	require.Equal(t, "selected", env.Payload.Target)
}

func TestHubClientEnqueueDropsWhenFull(t *testing.T) {
	t.Parallel()

	c := &hubClient{send: make(chan []byte, 1), done: make(chan struct{})}
	require.True(t, c.enqueue([]byte("a")))
	require.False(t, c.enqueue([]byte("b")))

	close(c.done)
	<-c.send
	require.False(t, c.enqueue([]byte("c")))
}

func TestHubCloseRejectsNewObservers(t *testing.T) {
	t.Parallel()

	hub, url := newTestHub(t, &staticReader{state: domain.DefaultState()})
	hub.Close()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	require.Zero(t, hub.Count())
}
