package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/thereceipt/print-agent/internal/notify"
)

func TestBackoffSchedule(t *testing.T) {
	b := DefaultBackoff()

	prev := time.Duration(0)
	for n := 1; n <= 10; n++ {
		d := b.Base(n)
		if d < prev {
			t.Errorf("Base(%d) = %v decreased from %v", n, d, prev)
		}
		if d > b.Max {
			t.Errorf("Base(%d) = %v exceeds max", n, d)
		}
		prev = d
	}
	if b.Base(1) != time.Second || b.Base(3) != 4*time.Second || b.Base(8) != 60*time.Second {
		t.Errorf("unexpected schedule %v %v %v", b.Base(1), b.Base(3), b.Base(8))
	}

	for _, r := range []float64{0, 0.25, 0.5, 0.999} {
		b.rand = func() float64 { return r }
		for n := 1; n <= b.MaxAttempts; n++ {
			d := b.Delay(n)
			if d < b.Initial {
				t.Errorf("Delay(%d) with r=%v = %v below initial", n, r, d)
			}
			base := b.Base(n)
			if lo, hi := time.Duration(float64(base)*0.9), time.Duration(float64(base)*1.1); d > hi || (d < lo && d != b.Initial) {
				t.Errorf("Delay(%d) with r=%v = %v outside jitter band of %v", n, r, d, base)
			}
		}
	}
}

// fakeConn is a scripted transport session.
type fakeConn struct {
	in       chan []byte
	closed   chan struct{}
	once     sync.Once
	mu       sync.Mutex
	written  [][]byte
	readFail error
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 8), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	if c.readFail != nil {
		return nil, c.readFail
	}
	select {
	case m := <-c.in:
		return m, nil
	case <-c.closed:
		return nil, errors.New("closed")
	}
}

func (c *fakeConn) WriteMessage(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), b...))
	return nil
}

func (c *fakeConn) Ping() error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) messages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

// fakeDialer hands out results in order; once the script runs out every dial
// fails.
type fakeDialer struct {
	mu       sync.Mutex
	script   []func() (Conn, error)
	dials    int
	inFlight int32
	maxIn    int32
	hold     time.Duration
}

func (d *fakeDialer) Dial(ctx context.Context, _ Endpoint) (Conn, error) {
	n := atomic.AddInt32(&d.inFlight, 1)
	defer atomic.AddInt32(&d.inFlight, -1)
	for {
		m := atomic.LoadInt32(&d.maxIn)
		if n <= m || atomic.CompareAndSwapInt32(&d.maxIn, m, n) {
			break
		}
	}
	if d.hold > 0 {
		select {
		case <-time.After(d.hold):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.dials
	d.dials++
	if i < len(d.script) {
		return d.script[i]()
	}
	return nil, errors.New("connection refused")
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func fastOptions() Options {
	b := DefaultBackoff()
	b.Initial = 5 * time.Millisecond
	b.Max = 20 * time.Millisecond
	return Options{Backoff: b, SettleWindow: 20 * time.Millisecond}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	first := newFakeConn()
	first.readFail = errors.New("connection reset")
	d := &fakeDialer{script: []func() (Conn, error){
		func() (Conn, error) { return first, nil },
	}}
	hub := notify.NewHub(zerolog.Nop(), 10)

	m := New(d, nil, hub, fastOptions(), zerolog.Nop())
	if err := m.Start(context.Background(), Endpoint{URL: "ws://test"}, "b1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop()

	waitFor(t, "notification", func() bool { return hub.Count(notify.KindReconnectFailed) > 0 })

	// No further automatic attempts.
	time.Sleep(100 * time.Millisecond)
	if got := d.count(); got != 1+3 {
		t.Errorf("dials = %d, want 4", got)
	}
	if s := m.State(); s != Disconnected {
		t.Errorf("state = %v, want disconnected", s)
	}
	if n := hub.Count(notify.KindReconnectFailed); n != 1 {
		t.Errorf("notifications = %d, want 1", n)
	}
}

func TestSecondReconnectLoopIsNoop(t *testing.T) {
	d := &fakeDialer{hold: 10 * time.Millisecond}
	hub := notify.NewHub(zerolog.Nop(), 10)
	m := New(d, nil, hub, fastOptions(), zerolog.Nop())

	_ = m.Start(context.Background(), Endpoint{URL: "ws://test"}, "b1")
	defer m.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.startReconnection(false)
		}()
	}
	wg.Wait()

	waitFor(t, "give up", func() bool { return hub.Count(notify.KindReconnectFailed) == 1 })
	if got := d.count(); got != 1+3 {
		t.Errorf("dials = %d, want 4", got)
	}
	if max := atomic.LoadInt32(&d.maxIn); max != 1 {
		t.Errorf("concurrent dials = %d, want 1", max)
	}
}

func TestForceReconnectAfterGivingUp(t *testing.T) {
	good := newFakeConn()
	d := &fakeDialer{}
	hub := notify.NewHub(zerolog.Nop(), 10)
	m := New(d, nil, hub, fastOptions(), zerolog.Nop())

	_ = m.Start(context.Background(), Endpoint{URL: "ws://test"}, "b1")
	defer m.Stop()
	waitFor(t, "give up", func() bool { return hub.Count(notify.KindReconnectFailed) == 1 })

	d.mu.Lock()
	d.script = make([]func() (Conn, error), d.dials+1)
	d.script[d.dials] = func() (Conn, error) { return good, nil }
	d.mu.Unlock()

	if err := m.ForceReconnect(); err != nil {
		t.Fatalf("ForceReconnect() error = %v", err)
	}
	waitFor(t, "connected", func() bool { return m.State() == Connected })
	waitFor(t, "subscribe", func() bool { return len(good.messages()) > 0 })

	var sub map[string]string
	_ = json.Unmarshal(good.messages()[0], &sub)
	if sub["type"] != "subscribe" || sub["branch_id"] != "b1" {
		t.Errorf("first message = %s", good.messages()[0])
	}
	waitFor(t, "attempts reset", func() bool { return m.Status().Attempts == 0 })
}

func TestForceReconnectCancelsRunningLoop(t *testing.T) {
	d := &fakeDialer{hold: 50 * time.Millisecond}
	opts := fastOptions()
	opts.Backoff.Initial = 200 * time.Millisecond
	opts.Backoff.Max = time.Second
	m := New(d, nil, nil, opts, zerolog.Nop())

	_ = m.Start(context.Background(), Endpoint{URL: "ws://test"}, "")
	defer m.Stop()
	waitFor(t, "retrying", func() bool { return m.State() == Retrying })

	for i := 0; i < 3; i++ {
		if err := m.ForceReconnect(); err != nil {
			t.Fatal(err)
		}
	}
	if max := atomic.LoadInt32(&d.maxIn); max != 1 {
		t.Errorf("concurrent dials = %d, want 1", max)
	}
}

func TestSendWithoutSessionIsDropped(t *testing.T) {
	m := New(&fakeDialer{}, nil, nil, fastOptions(), zerolog.Nop())
	if m.Send(map[string]string{"type": "ack"}) {
		t.Error("Send() should report a drop without a session")
	}
	if err := m.ForceReconnect(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("ForceReconnect() error = %v", err)
	}
}

func TestWatchSeesTransitions(t *testing.T) {
	conn := newFakeConn()
	d := &fakeDialer{script: []func() (Conn, error){func() (Conn, error) { return conn, nil }}}
	m := New(d, nil, nil, fastOptions(), zerolog.Nop())

	ch, stop := m.Watch()
	defer stop()
	if s := <-ch; s != Disconnected {
		t.Fatalf("initial state = %v", s)
	}

	_ = m.Start(context.Background(), Endpoint{URL: "ws://test"}, "b")
	defer m.Stop()
	waitFor(t, "connected", func() bool {
		select {
		case s := <-ch:
			return s == Connected
		default:
			return false
		}
	})
}

func TestWebsocketSession(t *testing.T) {
	upgrader := websocket.Upgrader{}
	type hello struct {
		header http.Header
		msg    map[string]any
	}
	connected := make(chan hello, 4)
	var conns sync.Map
	var accepted int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := atomic.AddInt32(&accepted, 1)
		conns.Store(n, c)

		var sub map[string]any
		if err := c.ReadJSON(&sub); err != nil {
			return
		}
		connected <- hello{header: r.Header, msg: sub}

		_ = c.WriteJSON(map[string]any{"type": "subscribed"})
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	received := make(chan string, 8)
	handler := func(_ context.Context, msg []byte) { received <- string(msg) }

	m := New(WebsocketDialer{HandshakeTimeout: time.Second}, handler, nil, fastOptions(), zerolog.Nop())
	ep := Endpoint{
		URL:    "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/device/ABC123/",
		Header: http.Header{"Authorization": {"Token secret"}, "Device-Id": {"ABC123"}},
	}
	if err := m.Start(context.Background(), ep, "branch-9"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop()

	select {
	case h := <-connected:
		if h.msg["type"] != "subscribe" || h.msg["branch_id"] != "branch-9" {
			t.Errorf("subscribe = %v", h.msg)
		}
		if h.header.Get("Authorization") != "Token secret" || h.header.Get("Device-Id") != "ABC123" {
			t.Errorf("headers = %v", h.header)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no subscribe")
	}

	select {
	case msg := <-received:
		if !strings.Contains(msg, "subscribed") {
			t.Errorf("handler got %s", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("handler not called")
	}

	// Server drops the connection; the manager must come back on its own.
	if c, ok := conns.Load(int32(1)); ok {
		c.(*websocket.Conn).Close()
	}
	select {
	case h := <-connected:
		if h.msg["type"] != "subscribe" {
			t.Errorf("resubscribe = %v", h.msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("did not reconnect")
	}
	waitFor(t, "connected", func() bool { return m.State() == Connected })
}
