// Package conn owns the single WebSocket to the ttyd endpoint and keeps it
// alive: it dials, retries on a fixed backoff table, pings stale links and
// routes inbound frames to the rest of the client.
package conn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"pkt.systems/pslog"

	"github.com/FL-Penly/mobile-terminal/internal/dispatch"
	"github.com/FL-Penly/mobile-terminal/internal/frame"
	"github.com/FL-Penly/mobile-terminal/internal/model"
)

// Subprotocol is the WebSocket subprotocol ttyd speaks.
const Subprotocol = "tty"

const (
	DefaultStaleAfter   = 30 * time.Second
	DefaultPingInterval = 20 * time.Second
	DefaultPongWait     = 45 * time.Second
	DefaultWriteWait    = 10 * time.Second
	DefaultDialTimeout  = 10 * time.Second
)

var errStale = errors.New("stale connection ping could not be queued")

// Config describes the endpoint and the keepalive policy.
type Config struct {
	URL          string
	AuthToken    string
	Columns      int
	Rows         int
	MaxAttempts  int
	StaleAfter   time.Duration
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	DialTimeout  time.Duration
	Header       http.Header
}

func (c Config) withDefaults() Config {
	if c.Columns <= 0 {
		c.Columns = 80
	}
	if c.Rows <= 0 {
		c.Rows = 24
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongWait <= 0 {
		c.PongWait = DefaultPongWait
	}
	if c.WriteWait <= 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	return c
}

// Events are invoked on the dispatch loop.
type Events struct {
	// OnState fires on every state transition.
	OnState func(model.ConnectionState)
	// OnOpen fires after the init message is queued. reconnected is false only
	// for the first connection of the Manager's lifetime.
	OnOpen func(reconnected bool)
	// OnFrame receives every decodable inbound frame in wire order.
	OnFrame func(frame.Frame)
}

// Manager drives the connection state machine. Every method must be called on
// the dispatch loop; I/O happens on helper goroutines that post back.
type Manager struct {
	ctx    context.Context
	sched  dispatch.Scheduler
	cfg    Config
	events Events
	dialer *websocket.Dialer
	log    pslog.Logger

	state     model.ConnectionState
	attempt   int
	exhausted bool
	manual    bool
	epoch     uint64
	opens     int
	retry     dispatch.Timer
	live      *link

	lastConnectedAt time.Time
	lastActivity    time.Time
}

// New creates a Manager in the Disconnected state. ctx bounds every dial and
// carries the logger.
func New(ctx context.Context, sched dispatch.Scheduler, cfg Config, events Events) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		ctx:    ctx,
		sched:  sched,
		cfg:    cfg,
		events: events,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
			Subprotocols:     []string{Subprotocol},
		},
		log:   pslog.Ctx(ctx).With("component", "conn"),
		state: model.StateDisconnected,
	}
}

// State returns the current connection state.
func (m *Manager) State() model.ConnectionState { return m.state }

// Attempt returns the number of consecutive failed connections.
func (m *Manager) Attempt() int { return m.attempt }

// Exhausted reports whether automatic retries have stopped.
func (m *Manager) Exhausted() bool { return m.exhausted }

// Epoch identifies the current connection attempt. It changes on every dial
// and on every manual teardown.
func (m *Manager) Epoch() uint64 { return m.epoch }

// LastConnectedAt returns when the current or last connection opened.
func (m *Manager) LastConnectedAt() time.Time { return m.lastConnectedAt }

// LastActivity returns when the last inbound frame arrived.
func (m *Manager) LastActivity() time.Time { return m.lastActivity }

// ConnID returns the id of the open connection, or "".
func (m *Manager) ConnID() string {
	if m.live == nil {
		return ""
	}
	return m.live.id
}

// Size returns the dimensions sent on open and on resize.
func (m *Manager) Size() (cols, rows int) { return m.cfg.Columns, m.cfg.Rows }

// Connect dials unless a connection is already open or being dialed.
func (m *Manager) Connect() {
	m.manual = false
	if m.state == model.StateConnected || m.state == model.StateConnecting {
		return
	}
	m.dial()
}

// Reconnect drops any current connection and dials again with a fresh attempt
// counter.
func (m *Manager) Reconnect() {
	m.manual = false
	m.attempt = 0
	m.exhausted = false
	m.dropLink()
	m.dial()
}

// Disconnect closes the connection and suppresses automatic retries until the
// next Connect, Reconnect or Resume.
func (m *Manager) Disconnect() {
	m.manual = true
	m.stopRetry()
	m.dropLink()
	m.epoch++
	m.setState(model.StateDisconnected)
}

// Close tears the manager down. It is Disconnect under another name so callers
// can express intent.
func (m *Manager) Close() { m.Disconnect() }

// Resume handles the host becoming visible again. A closed connection is dialed
// at once, bypassing backoff. An open one that has been quiet past StaleAfter
// gets a resize ping; if even that cannot be queued the link is dropped and
// normal recovery takes over.
func (m *Manager) Resume() {
	switch m.state {
	case model.StateConnected:
		if m.sched.Now().Sub(m.lastActivity) <= m.cfg.StaleAfter {
			return
		}
		ping, err := frame.Resize(m.cfg.AuthToken, m.cfg.Columns, m.cfg.Rows)
		if err == nil && m.live.enqueue(ping) {
			m.log.Debug("stale ping sent", "conn_id", m.live.id, "idle", m.sched.Now().Sub(m.lastActivity))
			return
		}
		m.log.Warn("stale ping failed, forcing close", "conn_id", m.live.id)
		m.handleClose(m.epoch, errStale)
	case model.StateConnecting:
		return
	default:
		m.manual = false
		m.attempt = 0
		m.exhausted = false
		m.dial()
	}
}

// Send queues an already-encoded frame. It returns model.ErrNotConnected when
// nothing is open; a full queue tears the link down and the bytes are lost.
func (m *Manager) Send(msg []byte) error {
	if m.state != model.StateConnected || m.live == nil {
		return model.ErrNotConnected
	}
	if !m.live.enqueue(msg) {
		m.log.Warn("send queue full, forcing close", "conn_id", m.live.id)
		m.handleClose(m.epoch, fmt.Errorf("%w: send queue full", model.ErrTransport))
		return model.ErrNotConnected
	}
	return nil
}

// SendInput sends keystroke bytes.
func (m *Manager) SendInput(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return m.Send(frame.Input(data))
}

// SendControl sends a single-byte out-of-band frame such as pause or resume.
func (m *Manager) SendControl(op byte) error {
	return m.Send([]byte{op})
}

// Resize records the new size and sends it when connected. The size is also
// used for the next init message.
func (m *Manager) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("%w: invalid size %dx%d", model.ErrProtocol, cols, rows)
	}
	m.cfg.Columns, m.cfg.Rows = cols, rows
	if m.state != model.StateConnected {
		return nil
	}
	msg, err := frame.Resize(m.cfg.AuthToken, cols, rows)
	if err != nil {
		return err
	}
	return m.Send(msg)
}

func (m *Manager) dial() {
	m.stopRetry()
	m.epoch++
	epoch := m.epoch
	m.setState(model.StateConnecting)

	target := m.cfg.URL
	header := m.cfg.Header
	m.log.Debug("ws dialing", "url", target, "attempt", m.attempt, "epoch", epoch)

	go func() {
		ctx, cancel := context.WithTimeout(m.ctx, m.cfg.DialTimeout)
		defer cancel()
		ws, _, err := m.dialer.DialContext(ctx, target, header)
		posted := m.sched.Post(func() { m.dialed(epoch, ws, err) })
		if !posted && ws != nil {
			ws.Close()
		}
	}()
}

func (m *Manager) dialed(epoch uint64, ws *websocket.Conn, err error) {
	if epoch != m.epoch || m.state != model.StateConnecting {
		if ws != nil {
			ws.Close()
		}
		return
	}
	if err != nil {
		m.handleClose(epoch, fmt.Errorf("%w: dial: %v", model.ErrTransport, err))
		return
	}

	init, err := frame.Init(m.cfg.AuthToken, m.cfg.Columns, m.cfg.Rows)
	if err != nil {
		ws.Close()
		m.handleClose(epoch, err)
		return
	}

	l := newLink(uuid.NewString(), epoch, ws, m.cfg)
	l.enqueue(init)
	m.live = l

	reconnected := m.opens > 0
	m.opens++
	m.attempt = 0
	m.exhausted = false
	now := m.sched.Now()
	m.lastConnectedAt = now
	m.lastActivity = now

	go l.writePump()
	go l.readPump(
		func(msg []byte) { m.sched.Post(func() { m.receive(l, msg) }) },
		func(err error) { m.sched.Post(func() { m.handleClose(l.epoch, err) }) },
	)

	m.log.Info("ws connected", "conn_id", l.id, "epoch", epoch, "reconnected", reconnected)
	m.setState(model.StateConnected)
	if m.events.OnOpen != nil {
		m.events.OnOpen(reconnected)
	}
}

func (m *Manager) receive(l *link, msg []byte) {
	if l != m.live {
		return
	}
	m.lastActivity = m.sched.Now()
	f, ok, err := frame.DecodeServer(msg)
	if err != nil {
		m.log.Warn("frame dropped", "conn_id", l.id, "err", err)
		return
	}
	if !ok {
		return
	}
	if m.events.OnFrame != nil {
		m.events.OnFrame(f)
	}
}

// handleClose runs for dial failures and for closes of an open link. Stale
// notifications from earlier epochs are ignored.
func (m *Manager) handleClose(epoch uint64, err error) {
	if epoch != m.epoch {
		return
	}
	if m.state != model.StateConnected && m.state != model.StateConnecting {
		return
	}
	if m.live != nil {
		m.log.Info("ws closed", "conn_id", m.live.id, "err", err)
	} else {
		m.log.Warn("ws dial failed", "attempt", m.attempt, "err", err)
	}
	m.dropLink()
	m.setState(model.StateDisconnected)

	if m.manual {
		return
	}
	if m.attempt >= m.cfg.MaxAttempts {
		m.exhausted = true
		m.log.Error("ws giving up", "attempts", m.attempt, "err", model.ErrReconnectExhausted)
		return
	}

	delay := Delay(m.attempt)
	m.attempt++
	m.setState(model.StateReconnecting)
	m.retry = m.sched.After(delay, m.retryFired)
}

func (m *Manager) retryFired() {
	m.retry = nil
	if m.state != model.StateReconnecting {
		return
	}
	m.dial()
}

func (m *Manager) stopRetry() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *Manager) dropLink() {
	if m.live != nil {
		m.live.close()
		m.live = nil
	}
}

func (m *Manager) setState(s model.ConnectionState) {
	if m.state == s {
		return
	}
	m.state = s
	if m.events.OnState != nil {
		m.events.OnState(s)
	}
}

// WebSocketURL maps an http(s) endpoint to its ttyd socket: the scheme becomes
// ws(s) and "/ws" is appended to the path.
func WebSocketURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid endpoint %q: missing host", endpoint)
	}
	if !strings.HasSuffix(u.Path, "/ws") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
