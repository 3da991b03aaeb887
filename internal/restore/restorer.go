// Package restore reattaches the remote shell to the last tmux session after
// the connection comes back.
package restore

import (
	"context"
	"time"

	"pkt.systems/pslog"

	"github.com/FL-Penly/mobile-terminal/internal/dispatch"
	"github.com/FL-Penly/mobile-terminal/internal/model"
)

const (
	// DefaultGrace is how long ttyd gets to spawn the new shell.
	DefaultGrace = 500 * time.Millisecond

	// DefaultQueryTimeout bounds the inventory query.
	DefaultQueryTimeout = 3 * time.Second
)

// Outcome is how a restore attempt ended.
type Outcome string

const (
	OutcomeAttached  Outcome = "attached"
	OutcomeCleared   Outcome = "cleared"
	OutcomeFallback  Outcome = "fallback"
	OutcomeAbandoned Outcome = "abandoned"
)

// Lister queries the remote session inventory. It is called off the loop.
type Lister interface {
	Sessions(ctx context.Context) (model.SessionList, error)
}

// Store holds the remembered session name. It is called on the loop.
type Store interface {
	LastSession() string
	ClearLastSession()
}

// Config wires a Restorer. Send and Epoch are called on the loop.
type Config struct {
	Scheduler    dispatch.Scheduler
	Lister       Lister
	Store        Store
	Send         func([]byte) error
	Epoch        func() uint64
	Grace        time.Duration
	QueryTimeout time.Duration
	OnOutcome    func(session string, outcome Outcome)
}

// Restorer runs at most one restore at a time.
type Restorer struct {
	ctx     context.Context
	cfg     Config
	log     pslog.Logger
	pending dispatch.Timer
}

// New creates a Restorer. ctx bounds the inventory queries.
func New(ctx context.Context, cfg Config) *Restorer {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	return &Restorer{
		ctx: ctx,
		cfg: cfg,
		log: pslog.Ctx(ctx).With("component", "restore"),
	}
}

// Start schedules a restore for the current epoch if a session is remembered.
// A restore already waiting out its grace period is replaced.
func (r *Restorer) Start() {
	r.Cancel()
	name := r.cfg.Store.LastSession()
	if name == "" {
		return
	}
	epoch := r.cfg.Epoch()
	r.log.Debug("restore scheduled", "session", name, "epoch", epoch)
	r.pending = r.cfg.Scheduler.After(r.cfg.Grace, func() {
		r.pending = nil
		r.query(epoch, name)
	})
}

// Cancel drops a restore still in its grace period. A query already in flight
// is abandoned by the epoch check when it returns.
func (r *Restorer) Cancel() {
	if r.pending != nil {
		r.pending.Stop()
		r.pending = nil
	}
}

func (r *Restorer) query(epoch uint64, name string) {
	if r.cfg.Epoch() != epoch {
		r.done(name, OutcomeAbandoned)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(r.ctx, r.cfg.QueryTimeout)
		defer cancel()
		list, err := r.cfg.Lister.Sessions(ctx)
		r.cfg.Scheduler.Post(func() { r.finish(epoch, name, list, err) })
	}()
}

func (r *Restorer) finish(epoch uint64, name string, list model.SessionList, err error) {
	if r.cfg.Epoch() != epoch {
		r.done(name, OutcomeAbandoned)
		return
	}

	switch {
	case err != nil:
		r.log.Warn("session inventory unavailable, sending guarded attach", "session", name, "err", err)
		r.send(name, FallbackCommand(name))
		r.done(name, OutcomeFallback)
	case list.Has(name):
		r.send(name, AttachCommand(name))
		r.done(name, OutcomeAttached)
	default:
		r.log.Info("remembered session is gone", "session", name)
		r.cfg.Store.ClearLastSession()
		r.done(name, OutcomeCleared)
	}
}

func (r *Restorer) send(name string, cmd []byte) {
	if err := r.cfg.Send(cmd); err != nil {
		r.log.Warn("restore command not sent", "session", name, "err", err)
	}
}

func (r *Restorer) done(name string, outcome Outcome) {
	r.log.Info("restore finished", "session", name, "outcome", outcome)
	if r.cfg.OnOutcome != nil {
		r.cfg.OnOutcome(name, outcome)
	}
}
