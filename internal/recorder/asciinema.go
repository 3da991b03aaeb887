// Package recorder writes the session to an asciinema v2 cast file.
package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"
)

// Header is the first line of an asciinema v2 recording.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event kinds.
const (
	KindOutput = "o"
	KindInput  = "i"
	KindResize = "r"
	KindMarker = "m"
)

// Event is one [offset, kind, data] line.
type Event struct {
	Offset float64
	Kind   string
	Data   string
}

// MarshalJSON encodes the event as a three element array.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Offset, e.Kind, e.Data})
}

// UnmarshalJSON decodes a three element array.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 3 {
		return fmt.Errorf("invalid event: expected 3 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &e.Offset); err != nil {
		return fmt.Errorf("invalid event offset: %w", err)
	}
	if err := json.Unmarshal(raw[1], &e.Kind); err != nil {
		return fmt.Errorf("invalid event kind: %w", err)
	}
	if err := json.Unmarshal(raw[2], &e.Data); err != nil {
		return fmt.Errorf("invalid event data: %w", err)
	}
	return nil
}

// Recorder appends events to a cast. Methods are safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	start  time.Time
	now    func() time.Time
	err    error
}

// Create opens path for writing and writes the header.
func Create(path string, cols, rows int, title string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}
	r := newRecorder(f, f, time.Now)
	if err := r.writeHeader(cols, rows, title); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// New records to w with the given clock; the caller owns w.
func New(w io.Writer, cols, rows int, title string, now func() time.Time) (*Recorder, error) {
	if now == nil {
		now = time.Now
	}
	r := newRecorder(w, nil, now)
	if err := r.writeHeader(cols, rows, title); err != nil {
		return nil, err
	}
	return r, nil
}

func newRecorder(w io.Writer, c io.Closer, now func() time.Time) *Recorder {
	return &Recorder{w: bufio.NewWriter(w), closer: c, start: now(), now: now}
}

func (r *Recorder) writeHeader(cols, rows int, title string) error {
	env := map[string]string{"TERM": "xterm-256color"}
	if shell := os.Getenv("SHELL"); shell != "" {
		env["SHELL"] = shell
	}
	data, err := json.Marshal(Header{
		Version:   2,
		Width:     cols,
		Height:    rows,
		Timestamp: r.start.Unix(),
		Title:     title,
		Env:       env,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeLine(data)
}

// Output records bytes shown to the user.
func (r *Recorder) Output(data []byte) error { return r.event(KindOutput, string(data)) }

// Input records bytes typed by the user.
func (r *Recorder) Input(data []byte) error { return r.event(KindInput, string(data)) }

// Resize records a terminal size change.
func (r *Recorder) Resize(cols, rows int) error {
	return r.event(KindResize, strconv.Itoa(cols)+"x"+strconv.Itoa(rows))
}

// Marker records a named point, e.g. a reconnect.
func (r *Recorder) Marker(label string) error { return r.event(KindMarker, label) }

func (r *Recorder) event(kind, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	line, err := json.Marshal(Event{Offset: r.now().Sub(r.start).Seconds(), Kind: kind, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return r.writeLine(line)
}

func (r *Recorder) writeLine(line []byte) error {
	if _, err := r.w.Write(append(line, '\n')); err != nil {
		r.err = fmt.Errorf("failed to write recording: %w", err)
		return r.err
	}
	return nil
}

// Close flushes buffered events and closes the file if the Recorder owns it.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.w.Flush()
	if r.closer != nil {
		if cerr := r.closer.Close(); err == nil {
			err = cerr
		}
		r.closer = nil
	}
	return err
}
