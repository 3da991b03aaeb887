// Package echo renders typed characters before the server echoes them and
// reconciles those guesses against the authoritative output.
package echo

// Status is the lifecycle of a single prediction.
type Status int

const (
	StatusPending Status = iota
	StatusConfirmed
	StatusRejected
)

// Entry is one speculatively rendered byte.
type Entry struct {
	Byte   byte
	Seq    uint64
	Status Status
}

// erase moves the cursor back over one predicted cell and blanks it.
const erase = "\b \b"

// Predictor holds the FIFO of outstanding predictions for the current
// connection epoch. It must only be used from the dispatch loop.
type Predictor struct {
	enabled  bool
	maxQueue int
	queue    []Entry
	seq      uint64

	confirmed uint64
	rejected  uint64
}

// DefaultMaxQueue bounds how far predictions may run ahead of the server.
const DefaultMaxQueue = 64

// New creates a Predictor.
func New(enabled bool) *Predictor {
	return &Predictor{enabled: enabled, maxQueue: DefaultMaxQueue}
}

// Enabled reports whether predictions are being made.
func (p *Predictor) Enabled() bool { return p.enabled }

// SetEnabled toggles prediction. Turning it off discards outstanding guesses and
// returns the bytes that erase them from the screen.
func (p *Predictor) SetEnabled(enabled bool) []byte {
	p.enabled = enabled
	if !enabled {
		return p.Reset()
	}
	return nil
}

// Predict records the keystroke and returns what to render locally right now.
// Only plain printable ASCII is predicted; anything else (control bytes,
// escape sequences, UTF-8) returns nil and leaves the queue alone.
func (p *Predictor) Predict(input []byte) []byte {
	if !p.enabled || !printable(input) {
		return nil
	}
	if len(p.queue)+len(input) > p.maxQueue {
		return nil
	}
	for _, b := range input {
		p.seq++
		p.queue = append(p.queue, Entry{Byte: b, Seq: p.seq, Status: StatusPending})
	}
	return append([]byte(nil), input...)
}

// Reconcile consumes authoritative output and returns what the renderer should
// actually paint. Bytes matching the head prediction are already on screen and
// are dropped; the first mismatch rolls back every outstanding prediction and
// the rest of the output passes through untouched.
func (p *Predictor) Reconcile(output []byte) []byte {
	if len(p.queue) == 0 {
		return output
	}

	i := 0
	for i < len(output) && len(p.queue) > 0 {
		if output[i] != p.queue[0].Byte {
			rollback := p.rollback()
			render := make([]byte, 0, len(rollback)+len(output)-i)
			render = append(render, rollback...)
			return append(render, output[i:]...)
		}
		p.queue[0].Status = StatusConfirmed
		p.queue = p.queue[1:]
		p.confirmed++
		i++
	}
	return output[i:]
}

// Reset discards all predictions, e.g. when the connection leaves Connected,
// and returns the bytes that erase them from the screen.
func (p *Predictor) Reset() []byte {
	if len(p.queue) == 0 {
		return nil
	}
	return p.rollback()
}

// Pending returns a copy of the outstanding predictions, oldest first.
func (p *Predictor) Pending() []Entry {
	out := make([]Entry, len(p.queue))
	copy(out, p.queue)
	return out
}

// Stats returns how many predictions were confirmed and rejected.
func (p *Predictor) Stats() (confirmed, rejected uint64) {
	return p.confirmed, p.rejected
}

func (p *Predictor) rollback() []byte {
	n := len(p.queue)
	for i := range p.queue {
		p.queue[i].Status = StatusRejected
	}
	p.rejected += uint64(n)
	p.queue = nil

	out := make([]byte, 0, n*len(erase))
	for i := 0; i < n; i++ {
		out = append(out, erase...)
	}
	return out
}

func printable(input []byte) bool {
	if len(input) == 0 {
		return false
	}
	for _, b := range input {
		if b < 0x20 || b > 0x7e {
			return false
		}
	}
	return true
}
