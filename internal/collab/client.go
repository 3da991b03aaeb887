// Package collab talks to the session/status REST service that runs next to
// ttyd on the remote host. Every call is bounded by a short timeout and every
// failure to reach the service is reported as model.ErrCollaboratorUnavailable.
package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/FL-Penly/mobile-terminal/internal/model"
)

const (
	// DefaultPort is where the service listens on the endpoint host.
	DefaultPort = "7683"

	// ListTimeout bounds inventory and status queries.
	ListTimeout = 3 * time.Second

	// ActionTimeout bounds switch and kill requests.
	ActionTimeout = 5 * time.Second
)

// StatusError is a non-2xx response that did reach the service.
type StatusError struct {
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: status %d", e.Path, e.Code)
}

// Client is safe for concurrent use.
type Client struct {
	base          string
	http          *http.Client
	listTimeout   time.Duration
	actionTimeout time.Duration
}

// New creates a client for the service rooted at base (scheme://host:port).
// A nil httpClient uses one with no overall timeout; each call sets its own.
func New(base string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		base:          base,
		http:          httpClient,
		listTimeout:   ListTimeout,
		actionTimeout: ActionTimeout,
	}
}

// BaseURL derives the service root from the terminal endpoint: same host,
// DefaultPort, plain http or https following the endpoint scheme.
func BaseURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("invalid endpoint %q: missing host", endpoint)
	}
	scheme := "http"
	if u.Scheme == "https" || u.Scheme == "wss" {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(host, DefaultPort), nil
}

type diffResponse struct {
	Branch  string `json:"branch"`
	GitRoot string `json:"git_root"`
	Cwd     string `json:"cwd"`
}

// Status returns the branch and working path of the remote shell. A service
// that answers with an error (for example outside a git repository) yields
// whatever it did report rather than failing.
func (c *Client) Status(ctx context.Context) (model.SessionStatus, error) {
	var resp diffResponse
	err := c.get(ctx, c.listTimeout, "/api/diff", nil, &resp)
	var se *StatusError
	if err != nil && !errors.As(err, &se) {
		return model.SessionStatus{}, err
	}
	path := resp.GitRoot
	if path == "" {
		path = resp.Cwd
	}
	return model.SessionStatus{Branch: resp.Branch, Path: path}, nil
}

// Sessions lists the tmux sessions on the remote host. Any failure, including
// an error status, is ErrCollaboratorUnavailable: the caller cannot tell
// whether a session exists.
func (c *Client) Sessions(ctx context.Context) (model.SessionList, error) {
	var list model.SessionList
	if err := c.get(ctx, c.listTimeout, "/api/tmux/list", nil, &list); err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return model.SessionList{}, fmt.Errorf("%w: %v", model.ErrCollaboratorUnavailable, err)
		}
		return model.SessionList{}, err
	}
	return list, nil
}

// Switch asks the service to move the attached client to session.
func (c *Client) Switch(ctx context.Context, session string) error {
	return c.get(ctx, c.actionTimeout, "/api/tmux/switch", url.Values{"session": {session}}, nil)
}

// Kill destroys session on the remote host.
func (c *Client) Kill(ctx context.Context, session string) error {
	err := c.get(ctx, c.actionTimeout, "/api/tmux/kill", url.Values{"name": {session}}, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %s", model.ErrSessionNotFound, session)
	}
	return err
}

func (c *Client) get(ctx context.Context, timeout time.Duration, path string, query url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrCollaboratorUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", model.ErrCollaboratorUnavailable, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &e)
		se := &StatusError{Path: path, Code: resp.StatusCode, Message: e.Message}
		if out != nil {
			_ = json.Unmarshal(body, out)
		}
		return se
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", model.ErrCollaboratorUnavailable, path, err)
	}
	return nil
}
