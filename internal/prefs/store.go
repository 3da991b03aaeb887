// Package prefs keeps the small set of client preferences that survive
// restarts. Reads come from an in-memory copy; writes update the copy at once
// and reach sqlite through a single background writer.
package prefs

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"pkt.systems/pslog"

	"github.com/FL-Penly/mobile-terminal/internal/repository"
)

// Persisted keys.
const (
	KeyLastSession    = "last_tmux_session"
	KeyPredictiveEcho = "predictive_echo"
	KeyDisplayScale   = "display_scale"
)

const (
	MinDisplayScale = 0.5
	MaxDisplayScale = 3.0
)

// Preferences is a snapshot of every persisted value.
type Preferences struct {
	LastSession    string  `json:"lastSession"`
	PredictiveEcho bool    `json:"predictiveEcho"`
	DisplayScale   float64 `json:"displayScale"`
}

// Defaults returns the values used for keys that were never stored.
func Defaults() Preferences {
	return Preferences{DisplayScale: 1.0}
}

// Repository is the storage the Store writes through to.
type Repository interface {
	All(ctx context.Context) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

var _ Repository = (*repository.PreferenceRepository)(nil)

type write struct {
	key    string
	value  string
	delete bool
	done   chan struct{}
}

// Store is safe for concurrent use.
type Store struct {
	repo Repository
	log  pslog.Logger

	mu  sync.RWMutex
	cur Preferences

	writes chan write
	closed chan struct{}
	once   sync.Once
}

// Open loads the stored values over the defaults and starts the writer.
// Unparseable values fall back to their default.
func Open(ctx context.Context, repo Repository) (*Store, error) {
	stored, err := repo.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}

	log := pslog.Ctx(ctx).With("component", "prefs")
	cur := Defaults()
	if v, ok := stored[KeyLastSession]; ok {
		cur.LastSession = v
	}
	if v, ok := stored[KeyPredictiveEcho]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			log.Warn("ignoring stored preference", "key", KeyPredictiveEcho, "value", v)
		} else {
			cur.PredictiveEcho = b
		}
	}
	if v, ok := stored[KeyDisplayScale]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < MinDisplayScale || f > MaxDisplayScale {
			log.Warn("ignoring stored preference", "key", KeyDisplayScale, "value", v)
		} else {
			cur.DisplayScale = f
		}
	}

	s := &Store{
		repo:   repo,
		log:    log,
		cur:    cur,
		writes: make(chan write, 64),
		closed: make(chan struct{}),
	}
	go s.writer(context.WithoutCancel(ctx))
	return s, nil
}

// Get returns the current values.
func (s *Store) Get() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// LastSession returns the remembered tmux session, or "".
func (s *Store) LastSession() string {
	return s.Get().LastSession
}

// SetLastSession remembers name. An empty name clears it.
func (s *Store) SetLastSession(name string) {
	s.mu.Lock()
	if s.cur.LastSession == name {
		s.mu.Unlock()
		return
	}
	s.cur.LastSession = name
	s.mu.Unlock()

	if name == "" {
		s.enqueue(write{key: KeyLastSession, delete: true})
		return
	}
	s.enqueue(write{key: KeyLastSession, value: name})
}

// ClearLastSession forgets the remembered session.
func (s *Store) ClearLastSession() { s.SetLastSession("") }

// DisplayScale returns the presentation scale factor.
func (s *Store) DisplayScale() float64 {
	return s.Get().DisplayScale
}

// SetPredictiveEcho persists the echo toggle.
func (s *Store) SetPredictiveEcho(enabled bool) {
	s.mu.Lock()
	s.cur.PredictiveEcho = enabled
	s.mu.Unlock()
	s.enqueue(write{key: KeyPredictiveEcho, value: strconv.FormatBool(enabled)})
}

// SetDisplayScale persists the presentation scale factor.
func (s *Store) SetDisplayScale(scale float64) error {
	if scale < MinDisplayScale || scale > MaxDisplayScale {
		return fmt.Errorf("display scale %.2f out of range [%.1f, %.1f]", scale, MinDisplayScale, MaxDisplayScale)
	}
	s.mu.Lock()
	s.cur.DisplayScale = scale
	s.mu.Unlock()
	s.enqueue(write{key: KeyDisplayScale, value: strconv.FormatFloat(scale, 'f', -1, 64)})
	return nil
}

// Flush blocks until every write queued so far has been attempted.
func (s *Store) Flush() {
	done := make(chan struct{})
	if !s.enqueue(write{done: done}) {
		return
	}
	<-done
}

// Close drains pending writes and stops the writer.
func (s *Store) Close() {
	s.once.Do(func() {
		s.Flush()
		close(s.closed)
	})
}

func (s *Store) enqueue(w write) bool {
	select {
	case <-s.closed:
		s.log.Warn("preference write after close", "key", w.key)
		return false
	default:
	}
	select {
	case s.writes <- w:
		return true
	case <-s.closed:
		return false
	}
}

func (s *Store) writer(ctx context.Context) {
	for {
		select {
		case w := <-s.writes:
			s.apply(ctx, w)
		case <-s.closed:
			return
		}
	}
}

func (s *Store) apply(ctx context.Context, w write) {
	if w.done != nil {
		close(w.done)
		return
	}
	var err error
	if w.delete {
		err = s.repo.Delete(ctx, w.key)
	} else {
		err = s.repo.Set(ctx, w.key, w.value)
	}
	if err != nil {
		s.log.Error("preference write failed", "key", w.key, "err", err)
	}
}
