package collab

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/FL-Penly/mobile-terminal/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newFakeService serves the subset of the diff server the client uses.
func newFakeService(t *testing.T, configure func(r *gin.Engine)) *Client {
	t.Helper()
	r := gin.New()
	configure(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return New(srv.URL, srv.Client())
}

func TestClient_Status(t *testing.T) {
	c := newFakeService(t, func(r *gin.Engine) {
		r.GET("/api/diff", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"branch": "main", "git_root": "/home/u/repo", "cwd": "/home/u/repo/sub"})
		})
	})

	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.Branch != "main" || st.Path != "/home/u/repo" {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestClient_StatusOutsideRepository(t *testing.T) {
	c := newFakeService(t, func(r *gin.Engine) {
		r.GET("/api/diff", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"error": "not_git_repo", "cwd": "/tmp"})
		})
	})

	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.Branch != "" || st.Path != "/tmp" {
		t.Errorf("expected cwd fallback, got %+v", st)
	}
}

func TestClient_Sessions(t *testing.T) {
	c := newFakeService(t, func(r *gin.Engine) {
		r.GET("/api/tmux/list", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{
				"sessions": []gin.H{
					{"name": "main", "windows": 2, "attached": true},
					{"name": "build", "windows": 1, "attached": false},
				},
				"currentSession": "main",
			})
		})
	})

	list, err := c.Sessions(context.Background())
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(list.Sessions) != 2 || list.CurrentSession != "main" {
		t.Fatalf("unexpected list %+v", list)
	}
	if !list.Has("build") || list.Has("missing") {
		t.Error("Has reported the wrong membership")
	}
	if list.Sessions[0].Windows != 2 || !list.Sessions[0].Attached {
		t.Errorf("unexpected first session %+v", list.Sessions[0])
	}
}

func TestClient_SessionsErrorStatusIsUnavailable(t *testing.T) {
	c := newFakeService(t, func(r *gin.Engine) {
		r.GET("/api/tmux/list", func(ctx *gin.Context) {
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "boom"})
		})
	})

	if _, err := c.Sessions(context.Background()); !errors.Is(err, model.ErrCollaboratorUnavailable) {
		t.Errorf("expected ErrCollaboratorUnavailable, got %v", err)
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()
	c := New(base, nil)

	if _, err := c.Sessions(context.Background()); !errors.Is(err, model.ErrCollaboratorUnavailable) {
		t.Errorf("Sessions: expected ErrCollaboratorUnavailable, got %v", err)
	}
	if _, err := c.Status(context.Background()); !errors.Is(err, model.ErrCollaboratorUnavailable) {
		t.Errorf("Status: expected ErrCollaboratorUnavailable, got %v", err)
	}
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	c := newFakeService(t, func(r *gin.Engine) {
		r.GET("/api/tmux/list", func(ctx *gin.Context) {
			select {
			case <-release:
			case <-ctx.Request.Context().Done():
			}
		})
	})
	defer close(release)
	c.listTimeout = 50 * time.Millisecond

	start := time.Now()
	_, err := c.Sessions(context.Background())
	if !errors.Is(err, model.ErrCollaboratorUnavailable) {
		t.Errorf("expected ErrCollaboratorUnavailable, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout not enforced, took %v", time.Since(start))
	}
}

func TestClient_SwitchAndKill(t *testing.T) {
	var switched, killed string
	c := newFakeService(t, func(r *gin.Engine) {
		r.GET("/api/tmux/switch", func(ctx *gin.Context) {
			switched = ctx.Query("session")
			ctx.JSON(http.StatusOK, gin.H{"success": true})
		})
		r.GET("/api/tmux/kill", func(ctx *gin.Context) {
			killed = ctx.Query("name")
			if killed == "gone" {
				ctx.JSON(http.StatusInternalServerError, gin.H{"error": "kill_failed", "message": "Failed to kill session 'gone'"})
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"success": true})
		})
	})

	if err := c.Switch(context.Background(), "my session"); err != nil {
		t.Fatalf("Switch failed: %v", err)
	}
	if switched != "my session" {
		t.Errorf("session name not encoded correctly, server saw %q", switched)
	}

	if err := c.Kill(context.Background(), "old"); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}
	if killed != "old" {
		t.Errorf("server saw %q", killed)
	}

	err := c.Kill(context.Background(), "gone")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusInternalServerError {
		t.Fatalf("expected StatusError 500, got %v", err)
	}
	if se.Message != "Failed to kill session 'gone'" {
		t.Errorf("unexpected message %q", se.Message)
	}
}

func TestClient_SwitchNotServed(t *testing.T) {
	c := newFakeService(t, func(r *gin.Engine) {})

	err := c.Switch(context.Background(), "main")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Errorf("expected 404 StatusError, got %v", err)
	}
	if err := c.Kill(context.Background(), "main"); !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "http://devbox:7681", want: "http://devbox:7683"},
		{in: "https://term.example.com/base", want: "https://term.example.com:7683"},
		{in: "ws://10.0.0.2:7681/ws", want: "http://10.0.0.2:7683"},
		{in: "http://[::1]:7681", want: "http://[::1]:7683"},
	}
	for _, tt := range tests {
		got, err := BaseURL(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("BaseURL(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
	if _, err := BaseURL("not a url"); err == nil {
		t.Error("expected error for a URL without host")
	}
}
