package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/FL-Penly/mobile-terminal/internal/dispatch"
	"github.com/FL-Penly/mobile-terminal/internal/model"
	"github.com/FL-Penly/mobile-terminal/internal/terminal"
)

type fakeTerminal struct {
	snap       terminal.Snapshot
	activities []model.Activity
	inputs     []string
	keys       []string
	size       [2]int
	calls      []string
	echo       *bool
	scale      float64
	rules      map[string]bool
	sessions   model.SessionList
	sessErr    error
	switched   string
	killErr    error
	closed     bool
}

func (f *fakeTerminal) queued(name string) error {
	if f.closed {
		return dispatch.ErrStopped
	}
	f.calls = append(f.calls, name)
	return nil
}

func (f *fakeTerminal) Snapshot() terminal.Snapshot  { return f.snap }
func (f *fakeTerminal) Activities() []model.Activity { return f.activities }
func (f *fakeTerminal) Status() model.Status {
	return model.Status{SessionStatus: model.SessionStatus{Branch: "main", Path: "/repo"}}
}

func (f *fakeTerminal) SendInput(data []byte) error {
	f.inputs = append(f.inputs, string(data))
	return f.queued("input")
}

func (f *fakeTerminal) SendKey(name string) error {
	if _, ok := terminal.Keys[name]; !ok {
		return fmt.Errorf("%w: %q", terminal.ErrUnknownKey, name)
	}
	f.keys = append(f.keys, name)
	return f.queued("key")
}

func (f *fakeTerminal) Resize(cols, rows int) error {
	f.size = [2]int{cols, rows}
	return f.queued("resize")
}

func (f *fakeTerminal) Reconnect() error  { return f.queued("reconnect") }
func (f *fakeTerminal) Disconnect() error { return f.queued("disconnect") }
func (f *fakeTerminal) Resume() error     { return f.queued("resume") }

func (f *fakeTerminal) SetPredictiveEcho(enabled bool) error {
	f.echo = &enabled
	return f.queued("echo")
}

func (f *fakeTerminal) SetDisplayScale(scale float64) error {
	if scale < 0.5 || scale > 3 {
		return fmt.Errorf("%w: scale %v", model.ErrProtocol, scale)
	}
	f.scale = scale
	return f.queued("scale")
}

func (f *fakeTerminal) SetRuleEnabled(name string, enabled bool) error {
	if f.rules == nil {
		f.rules = map[string]bool{}
	}
	f.rules[name] = enabled
	return f.queued("rule")
}

func (f *fakeTerminal) ClearActivities() error { return f.queued("clear") }

func (f *fakeTerminal) Sessions(context.Context) (model.SessionList, error) {
	return f.sessions, f.sessErr
}

func (f *fakeTerminal) SwitchSession(_ context.Context, name string) error {
	f.switched = name
	return nil
}

func (f *fakeTerminal) KillSession(context.Context, string) error { return f.killErr }

func newTestRouter(term *fakeTerminal) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(NewTerminalHandler(term), nil)
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad error body %q: %v", w.Body.String(), err)
	}
	return resp.Error.Code
}

func TestState(t *testing.T) {
	term := &fakeTerminal{snap: terminal.Snapshot{State: model.StateReconnecting, Attempt: 3}}
	w := do(newTestRouter(term), http.MethodGet, "/api/state", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var snap terminal.Snapshot
	json.Unmarshal(w.Body.Bytes(), &snap)
	if snap.State != model.StateReconnecting || snap.Attempt != 3 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestActivities_EmptyListIsArray(t *testing.T) {
	w := do(newTestRouter(&fakeTerminal{}), http.MethodGet, "/api/activities", "")
	if strings.TrimSpace(w.Body.String()) != `{"activities":[]}` {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestInputAndKeys(t *testing.T) {
	term := &fakeTerminal{}
	r := newTestRouter(term)

	if w := do(r, http.MethodPost, "/api/input", `{"data":"ls\r"}`); w.Code != http.StatusAccepted {
		t.Fatalf("input status = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/api/input", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing data status = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/api/keys/ARROW_UP", ""); w.Code != http.StatusAccepted {
		t.Errorf("key status = %d", w.Code)
	}
	w := do(r, http.MethodPost, "/api/keys/F99", "")
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "UNKNOWN_KEY" {
		t.Errorf("unknown key: %d %s", w.Code, w.Body.String())
	}

	if len(term.inputs) != 1 || term.inputs[0] != "ls\r" || len(term.keys) != 1 {
		t.Errorf("inputs=%q keys=%q", term.inputs, term.keys)
	}

	w = do(r, http.MethodGet, "/api/keys", "")
	if !strings.Contains(w.Body.String(), "CTRL_C") {
		t.Errorf("key list missing CTRL_C: %s", w.Body.String())
	}
}

func TestResizeValidation(t *testing.T) {
	term := &fakeTerminal{}
	r := newTestRouter(term)

	if w := do(r, http.MethodPost, "/api/resize", `{"cols":0,"rows":10}`); w.Code != http.StatusBadRequest {
		t.Errorf("zero cols status = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/api/resize", `{"cols":132,"rows":43}`); w.Code != http.StatusAccepted {
		t.Fatalf("resize status = %d", w.Code)
	}
	if term.size != [2]int{132, 43} {
		t.Errorf("size = %v", term.size)
	}
}

func TestConnectionControls(t *testing.T) {
	term := &fakeTerminal{}
	r := newTestRouter(term)

	for _, path := range []string{"/api/reconnect", "/api/disconnect", "/api/resume"} {
		if w := do(r, http.MethodPost, path, ""); w.Code != http.StatusAccepted {
			t.Errorf("%s status = %d", path, w.Code)
		}
	}
	if strings.Join(term.calls, ",") != "reconnect,disconnect,resume" {
		t.Errorf("calls = %v", term.calls)
	}

	term.closed = true
	w := do(r, http.MethodPost, "/api/reconnect", "")
	if w.Code != http.StatusServiceUnavailable || errorCode(t, w) != "TERMINAL_CLOSED" {
		t.Errorf("closed terminal: %d %s", w.Code, w.Body.String())
	}
}

func TestToggles(t *testing.T) {
	term := &fakeTerminal{}
	r := newTestRouter(term)

	if w := do(r, http.MethodPut, "/api/echo", `{"enabled":true}`); w.Code != http.StatusAccepted {
		t.Fatalf("echo status = %d", w.Code)
	}
	if term.echo == nil || !*term.echo {
		t.Error("echo not enabled")
	}
	if w := do(r, http.MethodPut, "/api/echo", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing enabled status = %d", w.Code)
	}
	if w := do(r, http.MethodPut, "/api/rules/thinking", `{"enabled":false}`); w.Code != http.StatusAccepted {
		t.Fatalf("rule status = %d", w.Code)
	}
	if enabled, ok := term.rules["thinking"]; !ok || enabled {
		t.Errorf("rules = %v", term.rules)
	}
}

func TestDisplayScale(t *testing.T) {
	term := &fakeTerminal{}
	r := newTestRouter(term)

	if w := do(r, http.MethodPut, "/api/display-scale", `{"scale":1.5}`); w.Code != http.StatusAccepted {
		t.Fatalf("scale status = %d", w.Code)
	}
	if term.scale != 1.5 {
		t.Errorf("scale = %v, want 1.5", term.scale)
	}
	if w := do(r, http.MethodPut, "/api/display-scale", `{"scale":9}`); w.Code != http.StatusBadRequest {
		t.Errorf("out of range scale status = %d", w.Code)
	}
	if w := do(r, http.MethodPut, "/api/display-scale", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing scale status = %d", w.Code)
	}
}

func TestSessions(t *testing.T) {
	term := &fakeTerminal{sessions: model.SessionList{Sessions: []model.RemoteSession{{Name: "main", Windows: 3}}}}
	r := newTestRouter(term)

	w := do(r, http.MethodGet, "/api/sessions", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"name":"main"`) {
		t.Errorf("sessions: %d %s", w.Code, w.Body.String())
	}

	term.sessErr = fmt.Errorf("list: %w", model.ErrCollaboratorUnavailable)
	w = do(r, http.MethodGet, "/api/sessions", "")
	if w.Code != http.StatusServiceUnavailable || errorCode(t, w) != "COLLABORATOR_UNAVAILABLE" {
		t.Errorf("unavailable: %d %s", w.Code, w.Body.String())
	}

	if w := do(r, http.MethodPost, "/api/sessions/dev/switch", ""); w.Code != http.StatusNoContent || term.switched != "dev" {
		t.Errorf("switch: %d %q", w.Code, term.switched)
	}

	term.killErr = model.ErrSessionNotFound
	w = do(r, http.MethodDelete, "/api/sessions/gone", "")
	if w.Code != http.StatusNotFound || errorCode(t, w) != "SESSION_NOT_FOUND" {
		t.Errorf("kill missing: %d %s", w.Code, w.Body.String())
	}
}

func TestHealthAndCORS(t *testing.T) {
	r := newTestRouter(&fakeTerminal{})

	w := do(r, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("health: %d %v", w.Code, w.Header())
	}
	if w := do(r, http.MethodOptions, "/api/state", ""); w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", w.Code)
	}
}
