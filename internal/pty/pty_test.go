//go:build !windows

package pty

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"syscall"
	"testing"
)

func TestStartCapturesOutput(t *testing.T) {
	p, err := Start(StartOptions{Command: "sh", Args: []string{"-c", "printf 'Reading main.go\\n'; exit 3"}})
	if err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	defer p.Close()

	var out bytes.Buffer
	_, err = io.Copy(&out, p.Output())
	if err != nil && !errors.Is(err, syscall.EIO) && !errors.Is(err, os.ErrClosed) {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.Contains(out.String(), "Reading main.go") {
		t.Errorf("output = %q", out.String())
	}

	code, err := p.Wait()
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
}

func TestStartRequiresCommand(t *testing.T) {
	if _, err := Start(StartOptions{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}
