package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pkt.systems/pslog"

	"github.com/FL-Penly/mobile-terminal/internal/activity"
	"github.com/FL-Penly/mobile-terminal/internal/dispatch"
	"github.com/FL-Penly/mobile-terminal/internal/model"
	"github.com/FL-Penly/mobile-terminal/internal/pty"
)

func newClassifyCmd() *cobra.Command {
	var quiet bool
	var disabled []string
	cmd := &cobra.Command{
		Use:   "classify -- command [args...]",
		Short: "Run a local command on a pty and print the activities seen in its output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if quiet {
				out = io.Discard
			}
			cols, rows := 80, 24
			if c, r, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
				cols, rows = c, r
			}
			proc, err := pty.Start(pty.StartOptions{
				Command: args[0],
				Args:    args[1:],
				Cols:    uint16(cols),
				Rows:    uint16(rows),
			})
			if err != nil {
				return err
			}
			defer proc.Close()

			seen, err := classifyStream(cmd.Context(), proc.Output(), out, cmd.ErrOrStderr(), disabled)
			if err != nil {
				_ = proc.Kill()
				return err
			}
			exit, err := proc.Wait()
			if err != nil {
				return err
			}
			pslog.Ctx(cmd.Context()).Debug("command exited", "code", exit, "activities", seen)
			if exit != 0 {
				return fmt.Errorf("%s exited with status %d", args[0], exit)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not echo the command's output")
	cmd.Flags().StringSliceVar(&disabled, "disable-rule", nil, "activity rule to switch off (repeatable)")
	return cmd
}

// classifyStream copies src to out while classifying it, printing each new
// activity to report. It returns the number of activities seen.
func classifyStream(ctx context.Context, src io.Reader, out, report io.Writer, disabled []string) (int, error) {
	loop := dispatch.NewLoop(dispatch.Options{})
	go loop.Run(context.WithoutCancel(ctx))
	defer loop.Stop()

	var lastID uint64
	seen := 0
	classifier := activity.New(loop, func(list []model.Activity) {
		for i := len(list) - 1; i >= 0; i-- {
			a := list[i]
			if a.ID <= lastID {
				continue
			}
			lastID = a.ID
			seen++
			fmt.Fprintln(report, formatActivity(a))
		}
	})
	if err := loop.Call(ctx, func() {
		for _, name := range disabled {
			classifier.SetRuleEnabled(name, false)
		}
	}); err != nil {
		return 0, err
	}

	buf := make([]byte, 32*1024)
	var readErr error
	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if _, werr := out.Write(chunk); werr != nil {
				return 0, werr
			}
			loop.Post(func() { classifier.Push(chunk) })
		}
		if err != nil {
			readErr = err
			break
		}
	}
	// A pty master reports EIO once the child side has closed.
	if !errors.Is(readErr, io.EOF) && !errors.Is(readErr, syscall.EIO) && !errors.Is(readErr, os.ErrClosed) {
		return 0, readErr
	}

	// Unterminated trailing text still counts as a line.
	if err := loop.Call(ctx, func() { classifier.Push([]byte("\n")) }); err != nil {
		return 0, err
	}
	for {
		var buffered string
		if err := loop.Call(ctx, func() { buffered = classifier.Buffered() }); err != nil {
			return 0, err
		}
		if buffered == "" {
			break
		}
		if err := sleepCtx(ctx, dispatch.DefaultIdleDelay); err != nil {
			return 0, err
		}
	}
	var count int
	err := loop.Call(ctx, func() {
		classifier.Close()
		count = seen
	})
	return count, err
}

func formatActivity(a model.Activity) string {
	line := fmt.Sprintf("%s [%s] %s", a.Timestamp.Format("15:04:05"), a.Type, a.Message)
	if a.File != "" && a.File != a.Message {
		line += " (" + a.File + ")"
	}
	return line
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
