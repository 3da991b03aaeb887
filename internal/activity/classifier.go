// Package activity turns a stream of terminal output into a short list of
// semantic events (an agent reading a file, running a command, failing).
package activity

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"

	"github.com/FL-Penly/mobile-terminal/internal/dispatch"
	"github.com/FL-Penly/mobile-terminal/internal/model"
)

const (
	// MaxBufferRunes bounds the unconsumed text kept between idle ticks.
	MaxBufferRunes = 1000

	// MaxLinesPerTick bounds the work done in one idle tick.
	MaxLinesPerTick = 50

	// MaxActivities is the size of the newest-first activity list.
	MaxActivities = 10
)

// Rule maps one line pattern to an activity type. Capture is the submatch used
// as the message and reported as the activity's File; zero means the whole
// trimmed line and no File.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Type    model.ActivityType
	Capture int
}

func rule(name, expr string, typ model.ActivityType, capture int) Rule {
	return Rule{
		Name:    name,
		Pattern: regexp.MustCompile(`(?i)` + expr),
		Type:    typ,
		Capture: capture,
	}
}

// DefaultRules is the ordered rule table; the first match wins.
func DefaultRules() []Rule {
	return []Rule{
		rule("reading", `^Reading\s+(.+)$`, model.ActivityReading, 1),
		rule("wrote", `^Wrote\s+(.+?)(?:\s+\(.*\))?$`, model.ActivityWriting, 1),
		rule("created", `^Created\s+(.+)$`, model.ActivityWriting, 1),
		rule("edited", `^Edited\s+(.+)$`, model.ActivityWriting, 1),
		rule("running", `^Running\s+(.+)$`, model.ActivityExecuting, 1),
		rule("executing", `^Executing\s+(.+)$`, model.ActivityExecuting, 1),
		rule("thinking", `^Thinking\.{3}$`, model.ActivityThinking, 0),
		rule("analyzing", `^Analyzing\s+(.+)`, model.ActivityThinking, 1),
		rule("tag-read", `^\[read\]\s+(.+)$`, model.ActivityReading, 1),
		rule("tag-write", `^\[write\]\s+(.+)$`, model.ActivityWriting, 1),
		rule("tag-exec", `^\[exec\]\s+(.+)$`, model.ActivityExecuting, 1),
		rule("check", `^✓\s+(.+)$`, model.ActivityComplete, 1),
		rule("cross", `^✗\s+(.+)$`, model.ActivityError, 1),
		rule("error", `^Error:\s+(.+)`, model.ActivityError, 1),
	}
}

var lineBreak = regexp.MustCompile(`\r?\n`)

// Classifier accumulates output and classifies complete lines on idle ticks.
// It must only be used from the dispatch loop.
type Classifier struct {
	sched    dispatch.Scheduler
	rules    []Rule
	disabled map[string]bool
	onChange func([]model.Activity)

	buffer string
	tick   dispatch.Timer

	activities []model.Activity
	nextID     uint64
}

// New creates a Classifier using DefaultRules. onChange, when set, receives
// the newest-first list after every tick that produced activities.
func New(sched dispatch.Scheduler, onChange func([]model.Activity)) *Classifier {
	return &Classifier{
		sched:    sched,
		rules:    DefaultRules(),
		disabled: make(map[string]bool),
		onChange: onChange,
	}
}

// SetRuleEnabled toggles a rule by name. Unknown names are ignored.
func (c *Classifier) SetRuleEnabled(name string, enabled bool) {
	if enabled {
		delete(c.disabled, name)
		return
	}
	c.disabled[name] = true
}

// Push strips escape sequences from text and queues it for classification.
func (c *Classifier) Push(text []byte) {
	clean := ansi.Strip(string(text))
	if clean == "" {
		return
	}
	c.buffer = truncateFront(c.buffer+clean, MaxBufferRunes)
	c.schedule()
}

// Activities returns a copy of the newest-first list.
func (c *Classifier) Activities() []model.Activity {
	out := make([]model.Activity, len(c.activities))
	copy(out, c.activities)
	return out
}

// Buffered returns the text not yet classified.
func (c *Classifier) Buffered() string { return c.buffer }

// Clear drops the buffer and the activity list and cancels a pending tick.
func (c *Classifier) Clear() {
	c.stopTick()
	c.buffer = ""
	c.activities = nil
}

// Close cancels a pending tick.
func (c *Classifier) Close() { c.stopTick() }

// Classify runs the rule table against a single line.
func (c *Classifier) Classify(line string) (model.Activity, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return model.Activity{}, false
	}
	for _, r := range c.rules {
		if c.disabled[r.Name] {
			continue
		}
		m := r.Pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		a := model.Activity{Type: r.Type, Message: line}
		if r.Capture > 0 && r.Capture < len(m) && m[r.Capture] != "" {
			a.Message = strings.TrimSpace(m[r.Capture])
			a.File = a.Message
		}
		return a, true
	}
	return model.Activity{}, false
}

func (c *Classifier) schedule() {
	if c.tick != nil {
		return
	}
	c.tick = c.sched.WhenIdle(c.process)
}

func (c *Classifier) stopTick() {
	if c.tick != nil {
		c.tick.Stop()
		c.tick = nil
	}
}

func (c *Classifier) process() {
	c.tick = nil

	parts := lineBreak.Split(c.buffer, -1)
	carry := parts[len(parts)-1]
	lines := parts[:len(parts)-1]

	var rest []string
	if len(lines) > MaxLinesPerTick {
		rest = lines[MaxLinesPerTick:]
		lines = lines[:MaxLinesPerTick]
	}

	added := 0
	for _, line := range lines {
		a, ok := c.Classify(line)
		if !ok {
			continue
		}
		c.nextID++
		a.ID = c.nextID
		a.Timestamp = c.sched.Now()
		c.record(a)
		added++
	}

	if len(rest) > 0 {
		c.buffer = strings.Join(rest, "\n") + "\n" + carry
		c.schedule()
	} else {
		c.buffer = carry
	}

	if added > 0 && c.onChange != nil {
		c.onChange(c.Activities())
	}
}

func (c *Classifier) record(a model.Activity) {
	c.activities = append([]model.Activity{a}, c.activities...)
	if len(c.activities) > MaxActivities {
		c.activities = c.activities[:MaxActivities]
	}
}

func truncateFront(s string, limit int) string {
	n := utf8.RuneCountInString(s)
	if n <= limit {
		return s
	}
	drop := n - limit
	for i := range s {
		if drop == 0 {
			return s[i:]
		}
		drop--
	}
	return ""
}
