// Package terminal is the client facade. It owns every core component and runs
// them on one dispatch loop: keystrokes go through the echo predictor to the
// connection, inbound output goes through the coalescer to the render
// subscribers, the activity classifier and the history ring.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/FL-Penly/mobile-terminal/internal/activity"
	"github.com/FL-Penly/mobile-terminal/internal/coalesce"
	"github.com/FL-Penly/mobile-terminal/internal/conn"
	"github.com/FL-Penly/mobile-terminal/internal/dispatch"
	"github.com/FL-Penly/mobile-terminal/internal/echo"
	"github.com/FL-Penly/mobile-terminal/internal/frame"
	"github.com/FL-Penly/mobile-terminal/internal/history"
	"github.com/FL-Penly/mobile-terminal/internal/model"
	"github.com/FL-Penly/mobile-terminal/internal/prefs"
	"github.com/FL-Penly/mobile-terminal/internal/restore"
)

// DefaultPollInterval is how often the collaborator status is refreshed.
const DefaultPollInterval = 5 * time.Second

// Collaborator is the session/status REST service next to ttyd.
type Collaborator interface {
	Status(ctx context.Context) (model.SessionStatus, error)
	Sessions(ctx context.Context) (model.SessionList, error)
	Switch(ctx context.Context, session string) error
	Kill(ctx context.Context, session string) error
}

// Preferences is the persisted client state the facade reads and updates.
// Implementations must be safe for concurrent use.
type Preferences interface {
	LastSession() string
	SetLastSession(name string)
	ClearLastSession()
	SetPredictiveEcho(enabled bool)
	DisplayScale() float64
	SetDisplayScale(scale float64) error
}

// Config describes the endpoint and client behaviour.
type Config struct {
	// Endpoint is the ttyd page URL, http(s)://host[:port]/base.
	Endpoint     string
	AuthToken    string
	Columns      int
	Rows         int
	MaxAttempts  int
	StaleAfter   time.Duration
	PingInterval time.Duration
	PongWait     time.Duration

	PredictiveEcho bool

	// RendererAcks makes the render surface responsible for calling Ack once
	// per delivered unit. Otherwise units count as rendered once handed over.
	RendererAcks bool

	// PollInterval for the collaborator status poller; negative disables it.
	PollInterval time.Duration
	HistorySize  int
	// DisabledRules names activity rules switched off at start.
	DisabledRules []string
}

// Deps are the collaborators a Client is built with. Collaborator and
// Preferences may be nil.
type Deps struct {
	Scheduler    dispatch.Scheduler
	Collaborator Collaborator
	Preferences  Preferences
}

// Snapshot is the externally visible client state.
type Snapshot struct {
	State           model.ConnectionState `json:"state"`
	Attempt         int                   `json:"attempt"`
	Exhausted       bool                  `json:"exhausted"`
	Epoch           uint64                `json:"epoch"`
	ConnID          string                `json:"connId,omitempty"`
	Columns         int                   `json:"columns"`
	Rows            int                   `json:"rows"`
	Title           string                `json:"title,omitempty"`
	PredictiveEcho  bool                  `json:"predictiveEcho"`
	EchoConfirmed   uint64                `json:"echoConfirmed"`
	EchoRejected    uint64                `json:"echoRejected"`
	Paused          bool                  `json:"paused"`
	LastConnectedAt time.Time             `json:"lastConnectedAt"`
	DisplayScale    float64               `json:"displayScale"`
}

// Client is safe for concurrent use. Mutating calls are posted to the dispatch
// loop and return before they run; observers are called on the loop.
type Client struct {
	ctx    context.Context
	cfg    Config
	sched  dispatch.Scheduler
	log    pslog.Logger
	collab Collaborator
	prefs  Preferences

	conn     *conn.Manager
	out      *coalesce.Coalescer
	echo     *echo.Predictor
	activity *activity.Classifier
	restorer *restore.Restorer
	history  *history.Ring

	// Loop-owned.
	prev    model.ConnectionState
	title   string
	poll    dispatch.Timer
	polling bool
	started bool
	closed  bool

	mu         sync.RWMutex
	snap       Snapshot
	activities []model.Activity
	status     model.Status

	output       observers[Render]
	stateObs     observers[Snapshot]
	activityObs  observers[[]model.Activity]
	statusObs    observers[model.Status]
	shutdownDone chan struct{}
	doneOnce     sync.Once
}

// New builds a Client. Nothing is dialed until Start.
func New(ctx context.Context, cfg Config, deps Deps) (*Client, error) {
	if deps.Scheduler == nil {
		return nil, errors.New("terminal: scheduler is required")
	}
	wsURL, err := conn.WebSocketURL(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = history.DefaultCapacity
	}

	c := &Client{
		ctx:          ctx,
		cfg:          cfg,
		sched:        deps.Scheduler,
		log:          pslog.Ctx(ctx).With("component", "terminal"),
		collab:       deps.Collaborator,
		prefs:        deps.Preferences,
		echo:         echo.New(cfg.PredictiveEcho),
		history:      history.NewRing(cfg.HistorySize),
		prev:         model.StateDisconnected,
		shutdownDone: make(chan struct{}),
	}
	if c.collab == nil {
		c.collab = offline{}
	}
	if c.prefs == nil {
		c.prefs = &memoryPrefs{}
	}

	c.conn = conn.New(ctx, c.sched, conn.Config{
		URL:          wsURL,
		AuthToken:    cfg.AuthToken,
		Columns:      cfg.Columns,
		Rows:         cfg.Rows,
		MaxAttempts:  cfg.MaxAttempts,
		StaleAfter:   cfg.StaleAfter,
		PingInterval: cfg.PingInterval,
		PongWait:     cfg.PongWait,
	}, conn.Events{
		OnState: c.onState,
		OnOpen:  c.onOpen,
		OnFrame: c.onFrame,
	})
	c.out = coalesce.New(coalesce.Config{
		Scheduler: c.sched,
		Deliver:   c.deliver,
		Control:   c.sendFlowControl,
	})
	c.activity = activity.New(c.sched, c.onActivities)
	for _, name := range cfg.DisabledRules {
		c.activity.SetRuleEnabled(name, false)
	}
	c.restorer = restore.New(ctx, restore.Config{
		Scheduler: c.sched,
		Lister:    c.collab,
		Store:     c.prefs,
		Send:      c.conn.SendInput,
		Epoch:     c.conn.Epoch,
	})

	cols, rows := c.conn.Size()
	c.snap = Snapshot{
		State:          model.StateDisconnected,
		Columns:        cols,
		Rows:           rows,
		PredictiveEcho: cfg.PredictiveEcho,
		DisplayScale:   c.prefs.DisplayScale(),
	}
	return c, nil
}

// Start dials the endpoint and starts the status poller.
func (c *Client) Start() error {
	return c.post(func() {
		if c.started {
			return
		}
		c.started = true
		c.conn.Connect()
		if c.cfg.PollInterval > 0 {
			c.pollStatus()
		}
	})
}

// Connect dials unless a connection is already open or being dialed.
func (c *Client) Connect() error { return c.post(c.conn.Connect) }

// Reconnect drops the connection and dials again with a fresh attempt counter.
func (c *Client) Reconnect() error { return c.post(c.conn.Reconnect) }

// Disconnect closes the connection and suppresses automatic retries.
func (c *Client) Disconnect() error { return c.post(c.conn.Disconnect) }

// Resume tells the client the host became active again.
func (c *Client) Resume() error { return c.post(c.conn.Resume) }

// SendInput sends keystrokes. Input while not connected is dropped.
func (c *Client) SendInput(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	buf := append([]byte(nil), data...)
	return c.post(func() { c.sendInput(buf) })
}

// SendKey sends one of the named keys in Keys.
func (c *Client) SendKey(name string) error {
	seq, ok := Keys[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, name)
	}
	return c.SendInput([]byte(seq))
}

// SendControl sends a single-byte out-of-band frame.
func (c *Client) SendControl(op byte) error {
	return c.post(func() {
		if err := c.conn.SendControl(op); err != nil {
			c.log.Debug("control frame dropped", "op", op, "err", err)
		}
	})
}

// Resize changes the remote terminal size.
func (c *Client) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("%w: invalid size %dx%d", model.ErrProtocol, cols, rows)
	}
	return c.post(func() {
		if err := c.conn.Resize(cols, rows); err != nil {
			c.log.Debug("resize not sent", "cols", cols, "rows", rows, "err", err)
		}
		c.publish()
	})
}

// Ack acknowledges one delivered output unit. Only meaningful with
// Config.RendererAcks.
func (c *Client) Ack() error { return c.post(c.out.Ack) }

// SetPredictiveEcho toggles local echo and persists the choice.
func (c *Client) SetPredictiveEcho(enabled bool) error {
	return c.post(func() {
		c.render(c.echo.SetEnabled(enabled))
		c.prefs.SetPredictiveEcho(enabled)
		c.publish()
	})
}

// SetDisplayScale persists the presentation scale factor, which must lie in
// [prefs.MinDisplayScale, prefs.MaxDisplayScale].
func (c *Client) SetDisplayScale(scale float64) error {
	if scale < prefs.MinDisplayScale || scale > prefs.MaxDisplayScale {
		return fmt.Errorf("%w: display scale %.2f out of range [%.1f, %.1f]", model.ErrProtocol, scale, prefs.MinDisplayScale, prefs.MaxDisplayScale)
	}
	if err := c.prefs.SetDisplayScale(scale); err != nil {
		return fmt.Errorf("%w: %v", model.ErrProtocol, err)
	}
	return c.post(c.publish)
}

// SetRuleEnabled toggles an activity rule by name.
func (c *Client) SetRuleEnabled(name string, enabled bool) error {
	return c.post(func() { c.activity.SetRuleEnabled(name, enabled) })
}

// ClearActivities empties the activity list and the classifier buffer.
func (c *Client) ClearActivities() error {
	return c.post(func() {
		c.activity.Clear()
		c.onActivities(nil)
	})
}

// Render is one piece of the render stream. Unit marks a delivered output
// unit; with Config.RendererAcks the render surface calls Ack once for each
// Render that has Unit set, and never for local predictions or erasures.
type Render struct {
	Data []byte
	Unit bool
}

// SubscribeOutput registers fn for everything the render surface should
// paint: reconciled output, local predictions and their erasures.
func (c *Client) SubscribeOutput(fn func([]byte)) (unsubscribe func()) {
	return c.output.add(func(r Render) { fn(r.Data) })
}

// SubscribeRender is SubscribeOutput with unit tagging, for the single render
// surface that acknowledges units when Config.RendererAcks is set.
func (c *Client) SubscribeRender(fn func(Render)) (unsubscribe func()) {
	return c.output.add(fn)
}

// SubscribeState registers fn for snapshot changes.
func (c *Client) SubscribeState(fn func(Snapshot)) (unsubscribe func()) {
	return c.stateObs.add(fn)
}

// SubscribeActivities registers fn for activity list changes.
func (c *Client) SubscribeActivities(fn func([]model.Activity)) (unsubscribe func()) {
	return c.activityObs.add(fn)
}

// SubscribeStatus registers fn for collaborator status updates.
func (c *Client) SubscribeStatus(fn func(model.Status)) (unsubscribe func()) {
	return c.statusObs.add(fn)
}

// Snapshot returns the latest published state.
func (c *Client) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Activities returns the newest-first activity list.
func (c *Client) Activities() []model.Activity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.Activity(nil), c.activities...)
}

// Status returns the latest collaborator status.
func (c *Client) Status() model.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := c.status
	st.Sessions = append([]model.RemoteSession(nil), st.Sessions...)
	return st
}

// History returns the most recent authoritative output.
func (c *Client) History() []byte { return c.history.Snapshot() }

// Sessions lists the remote tmux sessions.
func (c *Client) Sessions(ctx context.Context) (model.SessionList, error) {
	return c.collab.Sessions(ctx)
}

// SwitchSession moves the shell to another tmux session. When the
// collaborator cannot do it, the switch command is typed into the shell.
func (c *Client) SwitchSession(ctx context.Context, name string) error {
	if name == "" {
		return errors.New("session name is required")
	}
	if err := c.collab.Switch(ctx, name); err != nil {
		c.log.Warn("session switch via collaborator failed, typing command", "session", name, "err", err)
		if err := c.post(func() { c.sendRaw(restore.SwitchCommand(name)) }); err != nil {
			return err
		}
	}
	c.prefs.SetLastSession(name)
	return nil
}

// KillSession asks the collaborator to kill a tmux session.
func (c *Client) KillSession(ctx context.Context, name string) error {
	if name == "" {
		return errors.New("session name is required")
	}
	if err := c.collab.Kill(ctx, name); err != nil {
		return err
	}
	if c.prefs.LastSession() == name {
		c.prefs.ClearLastSession()
	}
	return nil
}

// Close flushes buffered output, cancels every timer and closes the
// connection. The returned channel is closed once that has run.
func (c *Client) Close() <-chan struct{} {
	if err := c.post(c.shutdown); err != nil {
		c.markDone()
	}
	return c.shutdownDone
}

func (c *Client) shutdown() {
	if c.closed {
		return
	}
	c.out.Close()
	c.activity.Close()
	c.restorer.Cancel()
	if c.poll != nil {
		c.poll.Stop()
		c.poll = nil
	}
	c.conn.Close()
	c.closed = true
	c.log.Info("terminal closed")
	c.markDone()
}

func (c *Client) markDone() {
	c.doneOnce.Do(func() { close(c.shutdownDone) })
}

func (c *Client) post(fn func()) error {
	if !c.sched.Post(func() {
		if c.closed {
			return
		}
		fn()
	}) {
		return dispatch.ErrStopped
	}
	return nil
}

func (c *Client) sendInput(data []byte) {
	if c.conn.State() != model.StateConnected {
		c.log.Debug("input dropped while not connected", "bytes", len(data))
		return
	}
	c.render(c.echo.Predict(data))
	c.sendRaw(data)
}

func (c *Client) sendRaw(data []byte) {
	if err := c.conn.SendInput(data); err != nil {
		c.log.Debug("input not sent", "bytes", len(data), "err", err)
	}
}

func (c *Client) sendFlowControl(op byte) {
	if err := c.conn.SendControl(op); err != nil {
		c.log.Debug("flow control not sent", "op", op, "err", err)
	}
}

func (c *Client) onFrame(f frame.Frame) {
	switch f.Op {
	case frame.OpOutput:
		c.out.Push(f.Payload)
	case frame.OpTitle:
		c.title = string(f.Payload)
		c.publish()
	case frame.OpPreferences:
		c.log.Debug("server preferences ignored", "bytes", len(f.Payload))
	}
}

// deliver hands one coalesced unit to the render surface. Each unit is
// acknowledged exactly once: here, unless a renderer acks it.
func (c *Client) deliver(data []byte) {
	c.history.Write(data)
	c.activity.Push(data)
	paint := c.echo.Reconcile(data)
	if !c.cfg.RendererAcks || len(paint) == 0 || c.output.len() == 0 {
		c.render(paint)
		c.out.Ack()
		return
	}
	c.output.notify(Render{Data: paint, Unit: true})
}

// render paints locally generated bytes. They are never acknowledged.
func (c *Client) render(data []byte) {
	if len(data) == 0 {
		return
	}
	c.output.notify(Render{Data: data})
}

func (c *Client) onState(s model.ConnectionState) {
	if c.prev == model.StateConnected && s != model.StateConnected {
		c.out.Flush()
		c.render(c.echo.Reset())
		c.out.Reset()
		c.restorer.Cancel()
	}
	c.prev = s
	c.publish()
}

func (c *Client) onOpen(reconnected bool) {
	if reconnected {
		c.restorer.Start()
	}
	c.publish()
}

func (c *Client) onActivities(list []model.Activity) {
	c.mu.Lock()
	c.activities = append([]model.Activity(nil), list...)
	c.mu.Unlock()
	c.activityObs.notify(list)
}

func (c *Client) publish() {
	cols, rows := c.conn.Size()
	confirmed, rejected := c.echo.Stats()
	snap := Snapshot{
		State:           c.conn.State(),
		Attempt:         c.conn.Attempt(),
		Exhausted:       c.conn.Exhausted(),
		Epoch:           c.conn.Epoch(),
		ConnID:          c.conn.ConnID(),
		Columns:         cols,
		Rows:            rows,
		Title:           c.title,
		PredictiveEcho:  c.echo.Enabled(),
		EchoConfirmed:   confirmed,
		EchoRejected:    rejected,
		Paused:          c.out.Paused(),
		LastConnectedAt: c.conn.LastConnectedAt(),
		DisplayScale:    c.prefs.DisplayScale(),
	}
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	c.stateObs.notify(snap)
}

// observers is a set of callbacks that can be changed from any goroutine.
type observers[T any] struct {
	mu   sync.Mutex
	next uint64
	fns  map[uint64]func(T)
}

func (o *observers[T]) add(fn func(T)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fns == nil {
		o.fns = make(map[uint64]func(T))
	}
	o.next++
	id := o.next
	o.fns[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.fns, id)
	}
}

func (o *observers[T]) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.fns)
}

func (o *observers[T]) notify(v T) {
	o.mu.Lock()
	fns := make([]func(T), 0, len(o.fns))
	for _, fn := range o.fns {
		fns = append(fns, fn)
	}
	o.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}
