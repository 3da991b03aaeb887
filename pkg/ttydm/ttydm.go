// Package ttydm exposes the terminal client for use outside this module.
package ttydm

import (
	"context"
	"errors"

	"github.com/FL-Penly/mobile-terminal/internal/dispatch"
	"github.com/FL-Penly/mobile-terminal/internal/model"
	"github.com/FL-Penly/mobile-terminal/internal/terminal"
)

// Re-export types from internal packages for external use
type (
	Config          = terminal.Config
	Snapshot        = terminal.Snapshot
	Collaborator    = terminal.Collaborator
	Preferences     = terminal.Preferences
	Activity        = model.Activity
	Status          = model.Status
	SessionList     = model.SessionList
	ConnectionState = model.ConnectionState
)

const (
	StateConnecting   = model.StateConnecting
	StateConnected    = model.StateConnected
	StateDisconnected = model.StateDisconnected
	StateReconnecting = model.StateReconnecting
)

// ErrUnknownKey is returned by SendKey for names outside KeyNames.
var ErrUnknownKey = terminal.ErrUnknownKey

// Options are the optional collaborators of a Session.
type Options struct {
	Collaborator Collaborator
	Preferences  Preferences
}

// Session is a terminal client running on its own dispatch loop.
type Session struct {
	*terminal.Client
	loop *dispatch.Loop
}

// Open builds a client on a new dispatch loop and starts connecting.
func Open(ctx context.Context, cfg Config, opts Options) (*Session, error) {
	loop := dispatch.NewLoop(dispatch.Options{})
	go loop.Run(context.WithoutCancel(ctx))

	client, err := terminal.New(ctx, cfg, terminal.Deps{
		Scheduler:    loop,
		Collaborator: opts.Collaborator,
		Preferences:  opts.Preferences,
	})
	if err != nil {
		loop.Stop()
		return nil, err
	}
	if err := client.Start(); err != nil {
		loop.Stop()
		return nil, err
	}
	return &Session{Client: client, loop: loop}, nil
}

// Close shuts the client down and stops its loop. It blocks until the
// connection is closed or ctx ends.
func (s *Session) Close(ctx context.Context) error {
	defer s.loop.Stop()
	select {
	case <-s.Client.Close():
		return nil
	case <-ctx.Done():
		return errors.Join(ctx.Err(), dispatch.ErrStopped)
	}
}

// KeyNames lists the names SendKey accepts.
func KeyNames() []string {
	return terminal.KeyNames()
}
