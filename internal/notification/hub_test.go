package notification

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/shipwatch/shipwatch/internal/logger"
	"github.com/shipwatch/shipwatch/internal/observability/metrics"
)

// fakeConn records what it was sent. When fail is set every Send errors;
// beforeSend runs inside Send to simulate concurrent registry changes.
type fakeConn struct {
	mu         sync.Mutex
	messages   []string
	fail       bool
	closed     bool
	beforeSend func()
}

func (f *fakeConn) Send(_ context.Context, message string) error {
	if f.beforeSend != nil {
		f.beforeSend()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail || f.closed {
		return ErrConnectionClosed
	}
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	m, err := metrics.NewNotificationMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	return NewHub(WithLogger(logger.NewDiscardLogger()), WithMetrics(m))
}

func TestSendToClientUnknownIDCallsFallbackOnce(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	hub := newTestHub(t)
	hub.Connect(&fakeConn{}, "other")

	var calls int
	var gotID, gotMsg string
	assert.NotPanics(t, func() {
		hub.SendToClient(t.Context(), "missing", "success", func(clientID, message string) {
			calls++
			gotID, gotMsg = clientID, message
		})
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, "missing", gotID)
	assert.Equal(t, "success", gotMsg)
}

func TestSendToClientNilFallback(t *testing.T) {
	hub := newTestHub(t)
	assert.NotPanics(t, func() {
		hub.SendToClient(t.Context(), "missing", "success", nil)
	})
}

func TestSendToClientFirstMatchOnly(t *testing.T) {
	hub := newTestHub(t)
	first, second := &fakeConn{}, &fakeConn{}
	hub.Connect(first, "c1")
	hub.Connect(second, "c1")

	hub.SendToClient(t.Context(), "c1", "success", func(string, string) {
		t.Fatal("fallback must not be called")
	})

	assert.Equal(t, []string{"success"}, first.received())
	assert.Empty(t, second.received())
}

func TestSendToClientFailedSendFallsBack(t *testing.T) {
	hub := newTestHub(t)
	hub.Connect(&fakeConn{fail: true}, "c1")

	calls := 0
	hub.SendToClient(t.Context(), "c1", "boom", func(string, string) { calls++ })
	assert.Equal(t, 1, calls)
}

func TestDisconnect(t *testing.T) {
	hub := newTestHub(t)
	a, b := &fakeConn{}, &fakeConn{}
	hub.Connect(a, "a")
	hub.Connect(b, "b")

	// wrong pairing and unknown connections are ignored
	hub.Disconnect(a, "b")
	hub.Disconnect(&fakeConn{}, "a")
	assert.Equal(t, 2, hub.Count())

	hub.Disconnect(a, "a")
	assert.Equal(t, 1, hub.Count())
	hub.Disconnect(a, "a")
	assert.Equal(t, 1, hub.Count())

	calls := 0
	hub.SendToClient(t.Context(), "a", "x", func(string, string) { calls++ })
	assert.Equal(t, 1, calls)
}

func TestBroadcastDeliversToAll(t *testing.T) {
	hub := newTestHub(t)
	conns := []*fakeConn{{}, {}, {}}
	for i, c := range conns {
		hub.Connect(c, string(rune('a'+i)))
	}

	hub.Broadcast(t.Context(), "update_ships")

	for _, c := range conns {
		assert.Equal(t, []string{"update_ships"}, c.received())
	}
}

func TestBroadcastSurvivesRemovalDuringSend(t *testing.T) {
	hub := newTestHub(t)
	first, dying, last := &fakeConn{}, &fakeConn{}, &fakeConn{}
	hub.Connect(first, "first")
	hub.Connect(dying, "dying")
	hub.Connect(last, "last")

	// the second connection disappears while the broadcast is running
	dying.beforeSend = func() {
		hub.Disconnect(dying, "dying")
		_ = dying.Close()
	}

	assert.NotPanics(t, func() { hub.Broadcast(t.Context(), "update_ships") })

	assert.Equal(t, []string{"update_ships"}, first.received())
	assert.Empty(t, dying.received())
	assert.Equal(t, []string{"update_ships"}, last.received())
	assert.Equal(t, 2, hub.Count())
}

func TestBroadcastStalledClientDoesNotDelayOthers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	hub := newTestHub(t)

	release := make(chan struct{})
	stalled := &fakeConn{beforeSend: func() { <-release }}
	fastSent := make(chan struct{})
	fast := &fakeConn{beforeSend: func() { close(fastSent) }}
	hub.Connect(stalled, "stalled")
	hub.Connect(fast, "fast")

	done := make(chan struct{})
	go func() {
		hub.Broadcast(t.Context(), "update_ships")
		close(done)
	}()

	select {
	case <-fastSent:
	case <-time.After(2 * time.Second):
		t.Fatal("fast client was held up by the stalled one")
	}
	select {
	case <-done:
		t.Fatal("broadcast returned before the stalled write finished")
	default:
	}

	close(release)
	<-done
	assert.Equal(t, []string{"update_ships"}, fast.received())
	assert.Equal(t, []string{"update_ships"}, stalled.received())
}

func TestHubConcurrentAccess(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	hub := newTestHub(t)
	ctx := context.Background()

	var delivered atomic.Int64
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			c := &fakeConn{}
			id := string(rune('A' + i))
			hub.Connect(c, id)
			hub.Broadcast(ctx, "update_ships")
			hub.SendToClient(ctx, id, "success", nil)
			hub.Disconnect(c, id)
			delivered.Add(int64(len(c.received())))
		})
	}
	wg.Wait()

	assert.Equal(t, 0, hub.Count())
	assert.GreaterOrEqual(t, delivered.Load(), int64(40), "every client gets at least its own broadcast and direct message")
}

func TestCloseAll(t *testing.T) {
	hub := newTestHub(t)
	a := &fakeConn{}
	hub.Connect(a, "a")

	hub.CloseAll()

	assert.Equal(t, 0, hub.Count())
	assert.True(t, a.closed)
}
