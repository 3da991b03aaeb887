package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pkt.systems/pslog"

	"github.com/FL-Penly/mobile-terminal/internal/model"
	"github.com/FL-Penly/mobile-terminal/internal/recorder"
	"github.com/FL-Penly/mobile-terminal/internal/terminal"
)

// detachKey (Ctrl-]) ends an attach session without sending anything.
const detachKey = 0x1d

func newAttachCmd() *cobra.Command {
	var flags connectionFlags
	var recordPath string
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Attach this terminal to a ttyd endpoint (Ctrl-] detaches)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			return runAttach(cmd.Context(), cfg.API.Addr, recordPath, func(cols, rows int) (*stack, error) {
				return openStack(cmd.Context(), cfg, cols, rows, true)
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&recordPath, "record", "", "write an asciinema v2 cast of the session to this file")
	return cmd
}

func runAttach(ctx context.Context, apiAddr, recordPath string, open func(cols, rows int) (*stack, error)) error {
	logger := pslog.Ctx(ctx).With("component", "attach")
	stdin := int(os.Stdin.Fd())
	stdout := int(os.Stdout.Fd())
	if !term.IsTerminal(stdin) {
		return errors.New("attach needs an interactive terminal on stdin")
	}

	cols, rows, err := term.GetSize(stdout)
	if err != nil {
		cols, rows = 80, 24
	}

	s, err := open(cols, rows)
	if err != nil {
		return err
	}
	defer s.close(ctx)

	var rec *recorder.Recorder
	if recordPath != "" {
		rec, err = recorder.Create(recordPath, cols, rows, "ttydm attach")
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				logger.Warn("recording close failed", "err", err)
			}
		}()
	}

	if apiAddr != "" {
		if err := s.serveAPI(ctx, apiAddr); err != nil {
			return err
		}
	}

	queue := newRenderQueue()
	unsubOutput := s.client.SubscribeRender(func(r terminal.Render) {
		queue.Push(r.Data, r.Unit)
	})
	defer unsubOutput()
	title := ""
	exhausted := false
	unsubState := s.client.SubscribeState(func(snap terminal.Snapshot) {
		if snap.Title != title {
			title = snap.Title
			queue.Push([]byte("\x1b]0;"+title+"\x07"), false)
		}
		if snap.Exhausted && !exhausted {
			logger.Warn("reconnect attempts exhausted; press any key to retry")
		}
		exhausted = snap.Exhausted
	})
	defer unsubState()

	go queue.Run(os.Stdout, func() {
		if err := s.client.Ack(); err != nil {
			logger.Debug("ack dropped", "err", err)
		}
	}, func(data []byte) {
		if rec != nil {
			_ = rec.Output(data)
		}
	})
	defer func() {
		queue.Close()
		<-queue.Done()
	}()

	oldState, err := term.MakeRaw(stdin)
	if err != nil {
		return fmt.Errorf("failed to enter raw mode: %w", err)
	}
	defer func() {
		if err := term.Restore(stdin, oldState); err != nil {
			logger.Warn("failed to restore terminal", "err", err)
		}
	}()

	stopResize := watchResize(ctx, func() {
		c, r, err := term.GetSize(stdout)
		if err != nil {
			return
		}
		if err := s.client.Resize(c, r); err != nil {
			logger.Debug("resize rejected", "cols", c, "rows", r, "err", err)
			return
		}
		if rec != nil {
			_ = rec.Resize(c, r)
		}
	})
	defer stopResize()

	if err := s.client.Start(); err != nil {
		return err
	}
	logger.Debug("attached", "cols", cols, "rows", rows)

	detached := make(chan error, 1)
	go func() {
		detached <- forwardInput(os.Stdin, s.client, rec)
	}()

	select {
	case <-ctx.Done():
	case err := <-detached:
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
	}
	return nil
}

// inputSink is the part of the client forwardInput drives.
type inputSink interface {
	SendInput(data []byte) error
	Snapshot() terminal.Snapshot
	Resume() error
}

// forwardInput copies keystrokes to the client until r fails or the detach
// key is read. Input typed once reconnect attempts are exhausted resumes instead.
func forwardInput(r io.Reader, sink inputSink, rec *recorder.Recorder) error {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := buf[:n]
			detach := false
			if i := bytes.IndexByte(data, detachKey); i >= 0 {
				data = data[:i]
				detach = true
			}
			snap := sink.Snapshot()
			if snap.Exhausted && snap.State == model.StateDisconnected {
				if err := sink.Resume(); err != nil {
					return err
				}
			} else if len(data) > 0 {
				if rec != nil {
					_ = rec.Input(data)
				}
				if err := sink.SendInput(data); err != nil {
					return err
				}
			}
			if detach {
				return nil
			}
		}
		if err != nil {
			return err
		}
	}
}
