package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/agentgov/consolestream/internal/session"
)

// reconnectSettleDelay is the pause between a manual disconnect and the
// follow-up connect in Reconnect, letting the old handle fully release.
const reconnectSettleDelay = 100 * time.Millisecond

// Manager owns at most one live connection to the console's realtime channel
// and keeps it alive across transient failures.
//
// All state transitions happen under mu. Every connect attempt gets a new
// epoch; events and timer fires carry the epoch they were armed under and are
// dropped if the attempt has been superseded, so a stale timer or a late read
// error can never corrupt a newer attempt's state.
type Manager struct {
	cfg    Config
	sess   session.Store
	logger *slog.Logger
	clock  clock.Clock
	dial   DialFunc

	mu         sync.Mutex
	status     Status
	lastError  string
	attempts   int
	manual     bool
	lastPingAt time.Time
	latency    time.Duration
	epoch      uint64
	tr         Transport
	dialCancel context.CancelFunc

	// Pending timers, cleared on every transition out of connecting/connected.
	connectTimer   *clock.Timer
	pingTimer      *clock.Timer
	pongTimer      *clock.Timer
	reconnectTimer *clock.Timer

	onMessage func(Message)
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the wall clock (tests use a mock).
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithDialer overrides the transport dialer.
func WithDialer(d DialFunc) Option {
	return func(m *Manager) { m.dial = d }
}

// NewManager creates a connection Manager. The session store supplies the
// authentication gate and the bearer credential; its Logout is invoked when
// the console rejects the credential with the fatal close code.
func NewManager(cfg Config, sess session.Store, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:    cfg,
		sess:   sess,
		logger: logger,
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dial == nil {
		m.dial = Dialer(cfg.HandshakeTimeout, cfg.WriteTimeout)
	}
	return m
}

// OnMessage registers the handler for inbound non-pong frames. The handler is
// invoked once per frame from the read goroutine; panics are recovered and
// logged so a misbehaving consumer cannot break the connection.
func (m *Manager) OnMessage(fn func(Message)) {
	m.mu.Lock()
	m.onMessage = fn
	m.mu.Unlock()
}

// State returns a snapshot of the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return State{
		Status:            m.status,
		LastError:         m.lastError,
		ReconnectAttempts: m.attempts,
		LastPingSentAt:    m.lastPingAt,
		Latency:           m.latency,
		ManualDisconnect:  m.manual,
	}
}

// Connect transitions to connecting and dials the console endpoint. It
// returns immediately; the outcome surfaces through State. A call while
// already connecting or connected is a no-op, and a call without a valid
// session sets LastError without dialing.
func (m *Manager) Connect() {
	m.mu.Lock()

	if m.status != StatusDisconnected {
		m.logger.Debug("connect skipped", "status", m.status)
		m.mu.Unlock()
		return
	}
	if !m.sess.Authenticated() || m.sess.Token() == "" {
		m.lastError = "Not authenticated"
		m.logger.Warn("connect refused: no valid session")
		m.mu.Unlock()
		return
	}

	endpoint, err := BuildURL(m.cfg.Origin, m.cfg.Path, m.sess.Token())
	if err != nil {
		m.lastError = fmt.Sprintf("Invalid endpoint: %v", err)
		m.logger.Error("connect refused", "error", err)
		m.mu.Unlock()
		return
	}

	m.status = StatusConnecting
	m.manual = false
	m.lastError = ""
	m.epoch++
	epoch := m.epoch

	ctx, cancel := context.WithCancel(context.Background())
	m.dialCancel = cancel
	m.connectTimer = m.clock.AfterFunc(m.cfg.ConnectTimeout, func() {
		m.onConnectTimeout(epoch)
	})
	m.mu.Unlock()

	m.logger.Debug("dialing console", "attempt_budget_used", m.attempts)
	go m.dialAndRun(epoch, ctx, endpoint)
}

// Disconnect cancels every pending timer, releases the transport, and resets
// the attempt counter. Idempotent; safe to call in any state.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.epoch++ // supersede the current attempt so late events are dropped
	m.clearTimersLocked()
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	tr := m.tr
	m.tr = nil
	m.status = StatusDisconnected
	m.manual = true
	m.attempts = 0
	m.mu.Unlock()

	if tr != nil {
		tr.Close(websocket.CloseNormalClosure, "client disconnect")
	}
}

// Reconnect resets the attempt counter, forces a manual disconnect, and dials
// again after a short settle delay. This is the only way out of the
// "max retries reached" terminal state.
func (m *Manager) Reconnect() {
	m.Disconnect()

	m.mu.Lock()
	m.reconnectTimer = m.clock.AfterFunc(reconnectSettleDelay, m.Connect)
	m.mu.Unlock()
}

// CredentialRotated handles the credential changing under us (login in
// another session, token refresh): drop the old connection and dial again
// with the new token.
func (m *Manager) CredentialRotated() {
	m.logger.Info("credential rotated, reconnecting")
	m.Reconnect()
}

// CredentialRevoked handles the credential disappearing: drop the connection
// and stay down.
func (m *Manager) CredentialRevoked() {
	m.Disconnect()

	m.mu.Lock()
	m.lastError = "Logged out in another session"
	m.mu.Unlock()
	m.logger.Info("credential revoked, staying disconnected")
}

// SendMessage transmits a chat envelope with trimmed content. Returns false
// if not connected or the write fails; write failures are logged, never
// propagated.
func (m *Manager) SendMessage(content string) bool {
	env := chatEnvelope{
		Type:      TypeMessage,
		Content:   strings.TrimSpace(content),
		Timestamp: m.clock.Now().UTC().Format(time.RFC3339),
	}
	return m.write(env)
}

// SendPing transmits an on-demand liveness probe, independent of the
// automatic heartbeat.
func (m *Manager) SendPing() bool {
	now := m.clock.Now()

	m.mu.Lock()
	if m.status != StatusConnected {
		m.mu.Unlock()
		return false
	}
	m.lastPingAt = now
	m.mu.Unlock()

	return m.write(pingEnvelope{Type: TypePing, Timestamp: now.UnixMilli()})
}

// write marshals and transmits an outbound envelope.
func (m *Manager) write(v any) bool {
	m.mu.Lock()
	tr := m.tr
	connected := m.status == StatusConnected
	m.mu.Unlock()

	if !connected || tr == nil {
		return false
	}

	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Error("marshal outbound frame", "error", err)
		return false
	}
	if err := tr.WriteMessage(data); err != nil {
		m.logger.Warn("write failed", "error", err)
		return false
	}
	return true
}

// dialAndRun performs the dial for one connect attempt and, on success, runs
// the read loop. A superseded attempt discards its result.
func (m *Manager) dialAndRun(epoch uint64, ctx context.Context, endpoint string) {
	tr, err := m.dial(ctx, endpoint)

	m.mu.Lock()
	if epoch != m.epoch || m.status != StatusConnecting {
		m.mu.Unlock()
		if tr != nil {
			tr.Close(websocket.CloseNormalClosure, "superseded")
		}
		return
	}

	if err != nil {
		m.logger.Warn("dial failed", "error", err)
		m.handleCloseLocked(closeCode(err))
		return
	}

	m.tr = tr
	m.status = StatusConnected
	m.attempts = 0
	m.lastError = ""
	m.dialCancel = nil
	stopTimer(&m.connectTimer)
	m.pingTimer = m.clock.AfterFunc(m.cfg.PingInterval, func() {
		m.heartbeat(epoch)
	})
	m.mu.Unlock()

	m.logger.Info("connected", "endpoint_path", m.cfg.Path)
	go m.readLoop(epoch, tr)
}

// readLoop delivers inbound frames until the transport dies.
func (m *Manager) readLoop(epoch uint64, tr Transport) {
	for {
		data, err := tr.ReadMessage()
		if err != nil {
			m.transportClosed(epoch, err)
			return
		}
		m.handleFrame(epoch, data)
	}
}

// handleFrame parses one inbound frame. Pongs feed the heartbeat; everything
// else goes to the message handler. Malformed frames are dropped.
func (m *Manager) handleFrame(epoch uint64, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		m.logger.Warn("dropping malformed frame", "error", err)
		return
	}

	if msg.Type == TypePong {
		m.mu.Lock()
		if epoch == m.epoch {
			stopTimer(&m.pongTimer)
			if !m.lastPingAt.IsZero() {
				m.latency = m.clock.Now().Sub(m.lastPingAt)
			}
		}
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	fn := m.onMessage
	m.mu.Unlock()
	if fn == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("message handler panicked", "panic", r)
		}
	}()
	fn(msg)
}

// heartbeat sends one liveness probe, arms the pong deadline, and re-arms
// itself.
func (m *Manager) heartbeat(epoch uint64) {
	now := m.clock.Now()

	m.mu.Lock()
	if epoch != m.epoch || m.status != StatusConnected {
		m.mu.Unlock()
		return
	}
	m.lastPingAt = now
	tr := m.tr
	m.pongTimer = m.clock.AfterFunc(m.cfg.PongTimeout, func() {
		m.onPongTimeout(epoch)
	})
	m.pingTimer = m.clock.AfterFunc(m.cfg.PingInterval, func() {
		m.heartbeat(epoch)
	})
	m.mu.Unlock()

	data, _ := json.Marshal(pingEnvelope{Type: TypePing, Timestamp: now.UnixMilli()})
	if err := tr.WriteMessage(data); err != nil {
		m.logger.Warn("heartbeat write failed", "error", err)
	}
}

// onPongTimeout fires when a probe went unanswered: the connection is dead
// even though reads have not errored yet. Force-closing the transport routes
// recovery through the standard close-handling path.
func (m *Manager) onPongTimeout(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch || m.status != StatusConnected {
		m.mu.Unlock()
		return
	}
	tr := m.tr
	m.mu.Unlock()

	m.logger.Warn("pong timeout, force-closing connection")
	if tr != nil {
		tr.Close(websocket.CloseAbnormalClosure, "pong timeout")
	}
}

// onConnectTimeout aborts a dial that has not completed in time.
func (m *Manager) onConnectTimeout(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch || m.status != StatusConnecting {
		m.mu.Unlock()
		return
	}

	m.logger.Warn("connection timeout")
	m.epoch++ // drop the in-flight dial's result
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	m.clearTimersLocked()
	m.status = StatusDisconnected
	m.lastError = "Connection timeout"
	m.scheduleReconnectLocked()
}

// transportClosed runs when the read loop observes a dead transport.
func (m *Manager) transportClosed(epoch uint64, err error) {
	m.mu.Lock()
	if epoch != m.epoch {
		// A manual disconnect or a newer attempt already superseded this
		// handle; its late close must not touch state.
		m.mu.Unlock()
		return
	}
	m.logger.Warn("connection closed", "code", closeCode(err), "error", err)
	m.handleCloseLocked(closeCode(err))
}

// handleCloseLocked applies the close-code policy and, when eligible,
// schedules a reconnect. Called with mu held; releases it.
func (m *Manager) handleCloseLocked(code int) {
	m.epoch++
	m.clearTimersLocked()
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	tr := m.tr
	m.tr = nil
	m.status = StatusDisconnected

	fatal := false
	switch code {
	case websocket.CloseNormalClosure:
		if !m.manual {
			m.lastError = "Connection closed"
		}
	case CloseAuthFailure:
		m.lastError = "Authentication failed - please login again"
		fatal = true
	case websocket.CloseInternalServerErr:
		m.lastError = "Server error"
	case websocket.CloseAbnormalClosure:
		m.lastError = "Connection lost"
	default:
		m.lastError = fmt.Sprintf("Connection closed (code %d)", code)
	}

	if !fatal && !m.manual {
		m.scheduleReconnectLocked()
	} else {
		m.mu.Unlock()
	}

	if tr != nil {
		tr.Close(websocket.CloseNormalClosure, "teardown")
	}
	if fatal {
		// Retrying with the same rejected credential cannot succeed.
		m.logger.Error("authentication rejected by console, logging out")
		m.sess.Logout()
	}
}

// scheduleReconnectLocked arms the backoff timer for the next attempt, or
// enters the terminal state once the budget is spent. Called with mu held;
// releases it.
//
// The delay is computed after incrementing the counter, so the first retry
// waits base*2, not base. Observable timing; do not change.
func (m *Manager) scheduleReconnectLocked() {
	if m.attempts >= m.cfg.MaxReconnects {
		m.lastError = "Max retries reached. Reconnect to try again."
		m.logger.Error("reconnect budget exhausted", "attempts", m.attempts)
		m.mu.Unlock()
		return
	}

	m.attempts++
	delay := m.cfg.ReconnectBase * (1 << uint(m.attempts))
	if delay > m.cfg.ReconnectMax {
		delay = m.cfg.ReconnectMax
	}
	m.lastError = fmt.Sprintf("Reconnecting in %ds... (%d/%d)",
		int(delay/time.Second), m.attempts, m.cfg.MaxReconnects)
	m.reconnectTimer = m.clock.AfterFunc(delay, m.Connect)
	attempt := m.attempts
	m.mu.Unlock()

	m.logger.Info("reconnect scheduled", "delay", delay, "attempt", attempt)
}

// clearTimersLocked stops every pending timer. One exhaustive operation
// instead of scattered cancellations; invoked on every transition out of
// connecting/connected.
func (m *Manager) clearTimersLocked() {
	stopTimer(&m.connectTimer)
	stopTimer(&m.pingTimer)
	stopTimer(&m.pongTimer)
	stopTimer(&m.reconnectTimer)
}

func stopTimer(t **clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
