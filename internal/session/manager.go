// Package session owns the single connection to the coordination server and
// its reconnect state machine.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thereceipt/print-agent/internal/notify"
	"github.com/thereceipt/print-agent/internal/protocol"
)

// State is the connectivity state observed by the rest of the agent.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Retrying
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Retrying:
		return "retrying"
	default:
		return "disconnected"
	}
}

// MarshalText makes State render as its name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Handler processes one inbound message. It runs on its own goroutine.
type Handler func(ctx context.Context, msg []byte)

// Notifier receives operator notifications.
type Notifier interface {
	Notify(kind, title, text string)
}

// Options tune a Manager.
type Options struct {
	Backoff Backoff
	// SettleWindow is how long a re-established session must stay up before
	// the reconnection counts as successful.
	SettleWindow time.Duration
	QueueSize    int
}

// Status is a snapshot of the manager.
type Status struct {
	State    State     `json:"state"`
	Attempts int       `json:"attempts"`
	Since    time.Time `json:"since"`
}

// ErrNotStarted is returned by operations that need Start first.
var ErrNotStarted = errors.New("session manager not started")

// Manager keeps exactly one logical session alive.
type Manager struct {
	dialer   Dialer
	handler  Handler
	notifier Notifier
	opts     Options
	log      zerolog.Logger

	mu       sync.Mutex
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	endpoint Endpoint
	branchID string
	sess     *session
	state    State
	since    time.Time
	attempts int
	// loopCancel and loopDone are set while a reconnect loop runs.
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	watchers   map[chan State]struct{}
}

type session struct {
	conn Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// New creates a stopped manager.
func New(d Dialer, h Handler, n Notifier, opts Options, log zerolog.Logger) *Manager {
	if opts.Backoff.MaxAttempts == 0 && opts.Backoff.Initial == 0 {
		opts.Backoff = DefaultBackoff()
	}
	if opts.SettleWindow <= 0 {
		opts.SettleWindow = 5 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	return &Manager{
		dialer:   d,
		handler:  h,
		notifier: n,
		opts:     opts,
		log:      log.With().Str("component", "session").Logger(),
		state:    Disconnected,
		since:    time.Now(),
		watchers: make(map[chan State]struct{}),
	}
}

// Start dials ep. On success the device subscribes to branchID; on failure
// the reconnect loop takes over and the dial error is returned for logging.
func (m *Manager) Start(ctx context.Context, ep Endpoint, branchID string) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("session manager already started")
	}
	m.running = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.endpoint = ep
	m.branchID = branchID
	m.attempts = 0
	runCtx := m.ctx
	m.mu.Unlock()

	if _, err := m.connect(runCtx); err != nil {
		m.log.Warn().Err(err).Msg("initial connection failed")
		m.setState(Disconnected)
		m.startReconnection(false)
		return err
	}
	return nil
}

// Stop closes the session and cancels any reconnect loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	cancelLoop, done := m.loopCancel, m.loopDone
	s := m.sess
	m.sess = nil
	m.mu.Unlock()

	if cancelLoop != nil {
		cancelLoop()
		<-done
	}
	if s != nil {
		s.close()
	}
	m.setState(Disconnected)
	m.log.Info().Msg("session stopped")
}

// Send enqueues an outbound message. Without a live session the message is
// dropped and logged; it is never an error for the caller.
func (m *Manager) Send(msg any) bool {
	data, err := protocol.Encode(msg)
	if err != nil {
		m.log.Error().Err(err).Msg("outbound message dropped")
		return false
	}

	m.mu.Lock()
	s := m.sess
	m.mu.Unlock()
	if s == nil {
		m.log.Warn().RawJSON("message", data).Msg("no session, outbound message dropped")
		return false
	}

	t := time.NewTimer(writeWait)
	defer t.Stop()
	select {
	case s.out <- data:
		return true
	case <-s.done:
	case <-t.C:
	}
	m.log.Warn().RawJSON("message", data).Msg("session closed or stalled, outbound message dropped")
	return false
}

// ForceReconnect cancels any reconnect loop, tears the session down and
// starts a fresh attempt sequence whose first attempt is immediate.
func (m *Manager) ForceReconnect() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotStarted
	}
	cancelLoop, done := m.loopCancel, m.loopDone
	m.mu.Unlock()

	if cancelLoop != nil {
		cancelLoop()
		<-done
	}

	m.mu.Lock()
	s := m.sess
	m.sess = nil
	m.attempts = 0
	m.mu.Unlock()
	if s != nil {
		s.close()
	}

	m.log.Info().Msg("manual reconnect requested")
	m.setState(Disconnected)
	m.startReconnection(true)
	return nil
}

// Status returns the current state and reconnect attempt.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{State: m.state, Attempts: m.attempts, Since: m.since}
}

// State returns the current state.
func (m *Manager) State() State {
	return m.Status().State
}

// Watch streams state changes. Only the latest state is buffered; a slow
// watcher sees the newest value, not every transition. Call the returned
// func to stop watching.
func (m *Manager) Watch() (<-chan State, func()) {
	ch := make(chan State, 1)
	m.mu.Lock()
	m.watchers[ch] = struct{}{}
	ch <- m.state
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		delete(m.watchers, ch)
		m.mu.Unlock()
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStateLocked(s)
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.log.Debug().Stringer("from", m.state).Stringer("to", s).Msg("state change")
	m.state = s
	m.since = time.Now()
	for ch := range m.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

// connect dials once and, on success, installs the session, starts its pumps
// and subscribes. A cancelled ctx never leaves a session behind.
func (m *Manager) connect(ctx context.Context) (*session, error) {
	m.mu.Lock()
	ep := m.endpoint
	branch := m.branchID
	m.setStateLocked(Connecting)
	m.mu.Unlock()

	conn, err := m.dialer.Dial(ctx, ep)
	if err != nil {
		return nil, err
	}

	s := &session{
		conn: conn,
		out:  make(chan []byte, m.opts.QueueSize),
		done: make(chan struct{}),
	}

	m.mu.Lock()
	if ctx.Err() != nil || !m.running {
		m.mu.Unlock()
		_ = conn.Close()
		return nil, context.Canceled
	}
	m.sess = s
	handlerCtx := m.ctx
	m.setStateLocked(Connected)
	m.mu.Unlock()

	go m.writer(s)
	go m.reader(handlerCtx, s)

	m.log.Info().Str("url", ep.URL).Msg("session established")
	m.Send(protocol.NewSubscribe(branch))
	return s, nil
}

func (m *Manager) reader(ctx context.Context, s *session) {
	for {
		data, err := s.conn.ReadMessage()
		if err != nil {
			m.onSessionClosed(s, err)
			return
		}
		if m.handler != nil {
			go m.handler(ctx, data)
		}
	}
}

func (m *Manager) writer(s *session) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-s.out:
			if err := s.conn.WriteMessage(data); err != nil {
				m.log.Warn().Err(err).Msg("write failed")
				// The reader sees the closed conn and reports the loss.
				s.close()
				return
			}
		case <-ticker.C:
			if err := s.conn.Ping(); err != nil {
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// onSessionClosed handles the loss of s. Losses of sessions that were already
// replaced or torn down on purpose are ignored.
func (m *Manager) onSessionClosed(s *session, err error) {
	m.mu.Lock()
	if m.sess != s {
		m.mu.Unlock()
		s.close()
		return
	}
	m.sess = nil
	m.setStateLocked(Disconnected)
	m.mu.Unlock()

	s.close()
	m.log.Warn().Err(err).Msg("session lost")
	m.startReconnection(false)
}

// startReconnection launches the reconnect loop unless one is running.
func (m *Manager) startReconnection(immediate bool) {
	m.mu.Lock()
	if !m.running || m.loopDone != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	done := make(chan struct{})
	m.loopCancel = cancel
	m.loopDone = done
	m.setStateLocked(Retrying)
	m.mu.Unlock()

	go m.reconnectLoop(ctx, done, immediate)
}

// finishLoopLocked detaches the loop identified by done. It reports whether
// the loop was still the registered one.
func (m *Manager) finishLoopLocked(done chan struct{}) bool {
	if m.loopDone != done {
		return false
	}
	m.loopCancel()
	m.loopCancel = nil
	m.loopDone = nil
	return true
}

func (m *Manager) reconnectLoop(ctx context.Context, done chan struct{}, immediate bool) {
	defer func() {
		m.mu.Lock()
		m.finishLoopLocked(done)
		m.mu.Unlock()
		close(done)
	}()
	b := m.opts.Backoff

	for attempt := 1; attempt <= b.MaxAttempts; attempt++ {
		m.mu.Lock()
		m.attempts = attempt
		m.mu.Unlock()

		delay := b.Delay(attempt)
		if immediate && attempt == 1 {
			delay = 0
		}
		m.log.Info().Int("attempt", attempt).Int("max", b.MaxAttempts).Dur("delay", delay).Msg("reconnecting")
		if !sleep(ctx, delay) {
			return
		}

		s, err := m.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
			m.setState(Retrying)
			continue
		}

		settle := time.NewTimer(m.opts.SettleWindow)
		select {
		case <-ctx.Done():
			settle.Stop()
			return
		case <-s.done:
			settle.Stop()
			m.log.Warn().Int("attempt", attempt).Msg("session dropped while settling")
			m.setState(Retrying)
			continue
		case <-settle.C:
		}

		m.mu.Lock()
		if !m.finishLoopLocked(done) {
			m.mu.Unlock()
			return
		}
		m.attempts = 0
		lost := m.sess != s
		m.mu.Unlock()

		m.log.Info().Int("attempt", attempt).Msg("reconnected")
		if lost {
			m.startReconnection(false)
		}
		return
	}

	m.mu.Lock()
	if !m.finishLoopLocked(done) {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(Disconnected)
	m.mu.Unlock()

	m.log.Error().Int("attempts", b.MaxAttempts).Msg("reconnection failed, giving up")
	if m.notifier != nil {
		m.notifier.Notify(notify.KindReconnectFailed, "Connection lost",
			"Could not reconnect to the server. Use reconnect to try again.")
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
