package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/FL-Penly/mobile-terminal/internal/model"
	"github.com/FL-Penly/mobile-terminal/internal/terminal"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootRegistersCommands(t *testing.T) {
	root := newRootCmd()
	want := map[string]bool{"attach": false, "serve": false, "classify": false, "config": false, "version": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "ttydm ") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	if _, err := execute(t, "config", "init", "--config", path); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if _, err := execute(t, "config", "init", "--config", path); err == nil {
		t.Fatal("expected second init without --force to fail")
	}
	if _, err := execute(t, "config", "init", "--config", path, "--force"); err != nil {
		t.Fatalf("config init --force failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	data = []byte(strings.Replace(string(data), `auth_token: ""`, "auth_token: secret", 1))
	if !strings.Contains(string(data), "auth_token: secret") {
		t.Fatalf("default config has no auth_token line:\n%s", data)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out, err := execute(t, "config", "show", "--config", path)
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if !strings.Contains(out, "endpoint: https://localhost:7681") {
		t.Errorf("endpoint missing from %q", out)
	}
	if strings.Contains(out, "secret") || !strings.Contains(out, "<redacted>") {
		t.Errorf("token not redacted in %q", out)
	}
}

func TestConnectionFlagsOverrideConfig(t *testing.T) {
	var flags connectionFlags
	cmd := &cobra.Command{Use: "x"}
	flags.register(cmd)
	missing := filepath.Join(t.TempDir(), "none.yaml")
	if err := cmd.ParseFlags([]string{"--config", missing, "--endpoint", "https://box:7681/tty", "--token", "tok", "--api-addr", "127.0.0.1:0"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := flags.load(cmd)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Endpoint != "https://box:7681/tty" || cfg.AuthToken != "tok" || cfg.API.Addr != "127.0.0.1:0" {
		t.Errorf("flags not applied: %+v", cfg)
	}

	tcfg := clientConfig(cfg, 100, 30, true)
	if tcfg.Columns != 100 || tcfg.Rows != 30 || !tcfg.PredictiveEcho {
		t.Errorf("unexpected client config %+v", tcfg)
	}
	if tcfg.StaleAfter != seconds(cfg.Reconnect.StaleAfterSeconds) || tcfg.MaxAttempts != cfg.Reconnect.MaxAttempts {
		t.Errorf("reconnect settings not mapped: %+v", tcfg)
	}
}

func TestConnectionFlagsRequireEndpoint(t *testing.T) {
	var flags connectionFlags
	cmd := &cobra.Command{Use: "x"}
	flags.register(cmd)
	if err := cmd.ParseFlags([]string{"--config", filepath.Join(t.TempDir(), "none.yaml")}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if os.Getenv("TTYDM_ENDPOINT") != "" {
		t.Skip("TTYDM_ENDPOINT set in environment")
	}
	if _, err := flags.load(cmd); err == nil {
		t.Fatal("expected missing endpoint to fail validation")
	}
}

func TestClassifyStream(t *testing.T) {
	src := strings.NewReader("\x1b[1mReading\x1b[0m main.go\nplain text\nRunning go test ./...\nWrote out.txt")
	var out, report bytes.Buffer

	n, err := classifyStream(context.Background(), src, &out, &report, []string{"running"})
	if err != nil {
		t.Fatalf("classifyStream failed: %v", err)
	}
	if !strings.Contains(out.String(), "plain text") {
		t.Errorf("output not passed through: %q", out.String())
	}
	if n != 2 {
		t.Fatalf("activities = %d, want 2 (report %q)", n, report.String())
	}
	lines := strings.Split(strings.TrimSpace(report.String()), "\n")
	if !strings.Contains(lines[0], "[reading] main.go") {
		t.Errorf("first activity = %q", lines[0])
	}
	if !strings.Contains(lines[1], "[writing] out.txt") {
		t.Errorf("second activity = %q", lines[1])
	}
}

type fakeSink struct {
	sent    [][]byte
	snap    terminal.Snapshot
	resumed int
}

func (f *fakeSink) SendInput(data []byte) error {
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeSink) Snapshot() terminal.Snapshot { return f.snap }

func (f *fakeSink) Resume() error {
	f.resumed++
	return nil
}

func TestForwardInputStopsAtDetachKey(t *testing.T) {
	sink := &fakeSink{snap: terminal.Snapshot{State: model.StateConnected}}
	err := forwardInput(strings.NewReader("ls\r\x1dignored"), sink, nil)
	if err != nil {
		t.Fatalf("forwardInput failed: %v", err)
	}
	if len(sink.sent) != 1 || string(sink.sent[0]) != "ls\r" {
		t.Errorf("sent = %q", sink.sent)
	}
}

func TestForwardInputResumesWhenExhausted(t *testing.T) {
	sink := &fakeSink{snap: terminal.Snapshot{State: model.StateDisconnected, Exhausted: true}}
	err := forwardInput(strings.NewReader("x"), sink, nil)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
	if sink.resumed != 1 || len(sink.sent) != 0 {
		t.Errorf("resumed=%d sent=%q", sink.resumed, sink.sent)
	}
}
