// Package pty runs a local command on a pseudo-terminal so its output can be
// fed through the same classifier the remote stream uses.
package pty

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// StartOptions describes the command to run. A nil Env inherits ours; a zero
// size means 80x24.
type StartOptions struct {
	Command string
	Args    []string
	Env     []string
	Dir     string
	Rows    uint16
	Cols    uint16
}

// Process is a command attached to the slave side of a pty.
type Process struct {
	ptmx *os.File
	cmd  *exec.Cmd
}

// Start starts opts.Command attached to a new pseudo-terminal.
func Start(opts StartOptions) (*Process, error) {
	if opts.Command == "" {
		return nil, errors.New("command is required")
	}
	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Env = opts.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Dir = opts.Dir

	size := &pty.Winsize{Rows: opts.Rows, Cols: opts.Cols}
	if size.Rows == 0 || size.Cols == 0 {
		size = &pty.Winsize{Rows: 24, Cols: 80}
	}
	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s on a pty: %w", opts.Command, err)
	}
	return &Process{ptmx: ptmx, cmd: cmd}, nil
}

// Output returns the pty master for reading the command's output.
func (p *Process) Output() io.Reader { return p.ptmx }

// Write sends bytes to the command's input.
func (p *Process) Write(b []byte) (int, error) { return p.ptmx.Write(b) }

// Resize changes the window size.
func (p *Process) Resize(rows, cols uint16) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

// Wait returns the exit status, or -1 when the command could not be waited on.
func (p *Process) Wait() (int, error) {
	err := p.cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

// Kill sends SIGKILL.
func (p *Process) Kill() error {
	if p.cmd.Process != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}

// Close closes the pty master.
func (p *Process) Close() error {
	return p.ptmx.Close()
}
