package model

import "time"

// ActivityType classifies what an agent in the remote terminal is doing.
type ActivityType string

const (
	ActivityReading   ActivityType = "reading"
	ActivityWriting   ActivityType = "writing"
	ActivityThinking  ActivityType = "thinking"
	ActivityExecuting ActivityType = "executing"
	ActivityComplete  ActivityType = "complete"
	ActivityError     ActivityType = "error"
)

// Activity is one semantic event extracted from terminal output. Activities are
// immutable once created.
type Activity struct {
	ID        uint64       `json:"id"`
	Type      ActivityType `json:"type"`
	Message   string       `json:"message"`
	File      string       `json:"file,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
