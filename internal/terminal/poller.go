package terminal

import (
	"context"

	"github.com/FL-Penly/mobile-terminal/internal/model"
)

// pollStatus refreshes the collaborator status and re-arms itself. At most one
// poll is in flight.
func (c *Client) pollStatus() {
	c.poll = nil
	if c.closed {
		return
	}
	if !c.polling {
		c.polling = true
		go func() {
			status, statusErr := c.collab.Status(c.ctx)
			list, listErr := c.collab.Sessions(c.ctx)
			c.sched.Post(func() { c.polled(status, statusErr, list, listErr) })
		}()
	}
	c.poll = c.sched.After(c.cfg.PollInterval, c.pollStatus)
}

func (c *Client) polled(status model.SessionStatus, statusErr error, list model.SessionList, listErr error) {
	c.polling = false
	if c.closed {
		return
	}

	c.mu.Lock()
	prev := c.status
	next := prev
	next.Offline = statusErr != nil
	next.UpdatedAt = c.sched.Now()
	if statusErr == nil {
		next.SessionStatus = status
	}
	if listErr == nil {
		next.Sessions = list.Sessions
		next.CurrentSession = list.CurrentSession
	}
	c.status = next
	c.mu.Unlock()

	if next.Offline && !prev.Offline {
		c.log.Warn("collaborator offline", "err", statusErr)
	} else if !next.Offline && prev.Offline {
		c.log.Info("collaborator back online")
	}
	if next.CurrentSession != "" {
		c.prefs.SetLastSession(next.CurrentSession)
	}
	c.statusObs.notify(next)
}

// offline stands in when no collaborator is configured.
type offline struct{}

func (offline) Status(context.Context) (model.SessionStatus, error) {
	return model.SessionStatus{}, model.ErrCollaboratorUnavailable
}

func (offline) Sessions(context.Context) (model.SessionList, error) {
	return model.SessionList{}, model.ErrCollaboratorUnavailable
}

func (offline) Switch(context.Context, string) error { return model.ErrCollaboratorUnavailable }

func (offline) Kill(context.Context, string) error { return model.ErrCollaboratorUnavailable }
