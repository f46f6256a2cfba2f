// Package session owns the single logical connection to the chat server:
// dialing, the authentication handshake, automatic reconnection with
// backoff, and correlation of sends with server-assigned message ids.
// No other component touches the transport directly.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"parley/internal/backoff"
	"parley/internal/content"
	"parley/internal/models"

	"github.com/gorilla/websocket"
)

var ErrCorrelationTimeout = errors.New("timed out waiting for message id")

const (
	defaultPollInterval = 100 * time.Millisecond
	defaultPollAttempts = 20
)

// Transport is the minimal connection surface the manager needs; the real
// implementation is *websocket.Conn, tests supply an in-memory fake.
type Transport interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

type DialFunc func(ctx context.Context) (Transport, error)

// SessionStore persists the authenticated session between runs.
type SessionStore interface {
	Save(models.Session) error
	Clear() error
}

type Config struct {
	// URL is the websocket endpoint, e.g. ws://host:8080/api/chat.
	URL string

	// Dial overrides the websocket dialer (used by tests).
	Dial DialFunc

	// Backoff overrides the reconnect delay policy.
	Backoff func(attempt int) time.Duration

	// PollInterval and PollAttempts bound CorrelateSend.
	PollInterval time.Duration
	PollAttempts int

	// Sessions, when set, persists the session on auth success and
	// clears it on auth failure.
	Sessions SessionStore

	Logger *slog.Logger
}

type observer[T any] struct {
	id int
	fn T
}

type Manager struct {
	cfg Config

	mu          sync.Mutex
	wmu         sync.Mutex // serializes transport writes
	state       models.ConnState
	conn        Transport
	session     models.Session
	attempt     int
	timer       *time.Timer
	stopped     bool
	authFailed  bool
	pendingAuth *models.Frame
	lastError   string

	needsTOTP bool

	nextObsID int
	msgObs    []observer[func(models.Frame)]
	closeObs  []observer[func(error)]
	errObs    []observer[func(error)]
}

func NewManager(cfg Config) *Manager {
	if cfg.Dial == nil {
		url := cfg.URL
		cfg.Dial = func(ctx context.Context) (Transport, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			if err != nil {
				return nil, err
			}
			return conn, nil
		}
	}
	if cfg.Backoff == nil {
		cfg.Backoff = backoff.Delay
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = defaultPollAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:   cfg,
		state: models.StateDisconnected,
	}
}

// State returns the tri-state connection status the UI subscribes to.
func (m *Manager) State() models.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns the current authenticated identity (zero when signed out).
func (m *Manager) Session() models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// LastError returns the latest surfaced authentication or server error.
func (m *Manager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

// NeedsTOTP reports whether the server demanded a second factor for the
// last credential handshake. Cleared by the next Authenticate call.
func (m *Manager) NeedsTOTP() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.needsTOTP
}

// RestoreSession seeds the manager with a previously persisted session so
// the next transport open re-authenticates silently with the stored token.
func (m *Manager) RestoreSession(sess models.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = sess
}

// Connect opens the transport unless one is already connecting or
// connected. Repeated calls never create duplicate sockets.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.stopped || m.state != models.StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.state = models.StateConnecting
	m.authFailed = false
	m.mu.Unlock()

	go m.dial()
}

func (m *Manager) dial() {
	conn, err := m.cfg.Dial(context.Background())

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		if err == nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.state = models.StateDisconnected
		m.mu.Unlock()
		m.cfg.Logger.Warn("dial failed", "error", err)
		m.notifyError(err)
		m.scheduleReconnect()
		return
	}

	m.conn = conn
	pending := m.pendingAuth
	m.pendingAuth = nil
	if pending == nil && m.session.Valid() {
		// Reconnect path: re-run the handshake with the stored token.
		pending = &models.Frame{Type: models.FrameToken, Token: m.session.Token}
	}
	m.mu.Unlock()

	if pending != nil {
		m.write(conn, *pending)
	}
	go m.readLoop(conn)
}

func (m *Manager) readLoop(conn Transport) {
	for {
		var f models.Frame
		if err := conn.ReadJSON(&f); err != nil {
			m.handleDisconnect(conn, err)
			return
		}
		m.dispatch(f)
	}
}

// dispatch processes one inbound frame. Frames are handled strictly in
// arrival order on the single reader goroutine; the store downstream relies
// on that ordering.
func (m *Manager) dispatch(f models.Frame) {
	switch f.Type {
	case models.FrameAuthSuccess:
		m.mu.Lock()
		m.session = models.Session{Token: f.Token, Username: f.Username}
		m.state = models.StateConnected
		m.attempt = 0
		m.lastError = ""
		m.needsTOTP = false
		m.mu.Unlock()
		if m.cfg.Sessions != nil {
			if err := m.cfg.Sessions.Save(models.Session{Token: f.Token, Username: f.Username}); err != nil {
				m.cfg.Logger.Warn("persisting session failed", "error", err)
			}
		}
		m.cfg.Logger.Info("authenticated", "username", f.Username)

	case models.FrameAuthError:
		// Auth failure is never auto-retried; the stored token is
		// invalidated so it cannot loop against a rejecting server.
		m.mu.Lock()
		m.session = models.Session{}
		m.authFailed = true
		m.lastError = f.Message
		conn := m.conn
		m.mu.Unlock()
		if m.cfg.Sessions != nil {
			if err := m.cfg.Sessions.Clear(); err != nil {
				m.cfg.Logger.Warn("clearing session failed", "error", err)
			}
		}
		m.cfg.Logger.Warn("authentication rejected", "message", f.Message)
		if conn != nil {
			_ = conn.Close()
		}

	case models.FrameTwoFactorRequired:
		// The handshake stalls until the caller re-authenticates with a
		// TOTP code; the transport stays open and state stays connecting.
		m.mu.Lock()
		m.needsTOTP = true
		m.mu.Unlock()

	case models.FrameError:
		m.mu.Lock()
		m.lastError = f.Message
		m.mu.Unlock()
	}

	for _, obs := range m.messageObservers() {
		obs(f)
	}
}

func (m *Manager) handleDisconnect(conn Transport, err error) {
	m.mu.Lock()
	if m.conn != conn {
		// A stale reader from a connection we already replaced or tore
		// down; its close was accounted for elsewhere.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.state = models.StateDisconnected
	stopped := m.stopped
	authFailed := m.authFailed
	m.mu.Unlock()

	_ = conn.Close()
	m.cfg.Logger.Info("transport closed", "error", err)
	for _, obs := range m.closeObservers() {
		obs(err)
	}

	if !stopped && !authFailed {
		m.scheduleReconnect()
	}
}

// scheduleReconnect arms the backoff timer. Transport errors and closes are
// treated identically; only teardown and auth failure suppress retry.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.stopped || m.timer != nil || m.state != models.StateDisconnected {
		m.mu.Unlock()
		return
	}
	delay := m.cfg.Backoff(m.attempt)
	m.attempt++
	m.state = models.StateConnecting
	m.timer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.timer = nil
		// A timer may already be queued when Teardown runs; recheck.
		if m.stopped {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		m.dial()
	})
	m.mu.Unlock()
	m.cfg.Logger.Info("reconnect scheduled", "delay", delay)
}

// Authenticate sends a credential handshake. A malformed username is
// rejected before anything touches the wire. If the transport is not open
// yet the frame is queued and sent on the open event, never dropped.
func (m *Manager) Authenticate(username, password, totp string) error {
	if err := content.ValidateUsername(username); err != nil {
		return err
	}
	m.queueAuth(models.Frame{Type: models.FrameLogin, Username: username, Password: password, TOTP: totp})
	return nil
}

// AuthenticateToken re-authenticates with a persisted token.
func (m *Manager) AuthenticateToken(token string) {
	m.queueAuth(models.Frame{Type: models.FrameToken, Token: token})
}

func (m *Manager) queueAuth(f models.Frame) {
	m.mu.Lock()
	m.needsTOTP = false
	conn := m.conn
	if conn == nil {
		m.pendingAuth = &f
	}
	disconnected := m.state == models.StateDisconnected
	m.mu.Unlock()

	if conn != nil {
		m.write(conn, f)
		return
	}
	if disconnected {
		m.Connect()
	}
}

// Send writes a frame on the open transport. Callers are responsible for
// checking State before composing user-initiated sends; Send never buffers
// while disconnected and fails fast instead.
func (m *Manager) Send(f models.Frame) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == models.StateConnected
	m.mu.Unlock()

	if conn == nil || !connected {
		return models.ErrNotConnected
	}
	return m.write(conn, f)
}

func (m *Manager) write(conn Transport, f models.Frame) error {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	if err := conn.WriteJSON(f); err != nil {
		m.cfg.Logger.Warn("write failed", "type", f.Type, "error", err)
		return err
	}
	return nil
}

// CorrelateSend performs send and waits for the server-assigned id of the
// resulting message, polling in bounded steps (about two seconds total)
// rather than waiting forever. The one-shot listener is removed on every
// path. The wire protocol has no echo token, so correlation matches the
// first own-username message push; callers must not run two correlated
// sends concurrently.
func (m *Manager) CorrelateSend(ctx context.Context, send func() error) (int64, error) {
	me := m.Session().Username

	var idMu sync.Mutex
	var got int64
	unsubscribe := m.OnMessage(func(f models.Frame) {
		if f.Type != models.FrameMessage || f.Username != me || f.ID == 0 {
			return
		}
		idMu.Lock()
		if got == 0 {
			got = f.ID
		}
		idMu.Unlock()
	})
	defer unsubscribe()

	if err := send(); err != nil {
		return 0, err
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for i := 0; i < m.cfg.PollAttempts; i++ {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
			idMu.Lock()
			id := got
			idMu.Unlock()
			if id != 0 {
				return id, nil
			}
		}
	}
	return 0, ErrCorrelationTimeout
}

// OnMessage registers an inbound frame handler. Handlers run in
// registration order; the returned unsubscribe is idempotent and safe to
// call during teardown.
func (m *Manager) OnMessage(fn func(models.Frame)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextObsID++
	id := m.nextObsID
	m.msgObs = append(m.msgObs, observer[func(models.Frame)]{id: id, fn: fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.msgObs = removeObserver(m.msgObs, id)
	}
}

// OnClose registers a transport-close handler.
func (m *Manager) OnClose(fn func(error)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextObsID++
	id := m.nextObsID
	m.closeObs = append(m.closeObs, observer[func(error)]{id: id, fn: fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.closeObs = removeObserver(m.closeObs, id)
	}
}

// OnError registers a transport-error handler.
func (m *Manager) OnError(fn func(error)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextObsID++
	id := m.nextObsID
	m.errObs = append(m.errObs, observer[func(error)]{id: id, fn: fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.errObs = removeObserver(m.errObs, id)
	}
}

func removeObserver[T any](list []observer[T], id int) []observer[T] {
	for i, o := range list {
		if o.id == id {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

func (m *Manager) messageObservers() []func(models.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]func(models.Frame), len(m.msgObs))
	for i, o := range m.msgObs {
		out[i] = o.fn
	}
	return out
}

func (m *Manager) closeObservers() []func(error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]func(error), len(m.closeObs))
	for i, o := range m.closeObs {
		out[i] = o.fn
	}
	return out
}

func (m *Manager) notifyError(err error) {
	m.mu.Lock()
	obs := make([]func(error), len(m.errObs))
	for i, o := range m.errObs {
		obs[i] = o.fn
	}
	m.mu.Unlock()
	for _, fn := range obs {
		fn(err)
	}
}

// Logout clears the session in memory and on disk and tells the server.
func (m *Manager) Logout() {
	m.mu.Lock()
	m.session = models.Session{}
	m.mu.Unlock()
	if m.cfg.Sessions != nil {
		if err := m.cfg.Sessions.Clear(); err != nil {
			m.cfg.Logger.Warn("clearing session failed", "error", err)
		}
	}
}

// Teardown stops the manager for good: no further reconnects are scheduled
// and any pending timer is cancelled. In-flight correlated waits hit their
// own timeout.
func (m *Manager) Teardown() {
	m.mu.Lock()
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	conn := m.conn
	m.conn = nil
	m.state = models.StateDisconnected
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}
