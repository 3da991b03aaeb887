package model

import "time"

// ConnectionState is the observable state of the terminal connection.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateReconnecting ConnectionState = "reconnecting"
)

// RemoteSession is one multiplexed session as reported by the collaborator.
type RemoteSession struct {
	Name     string `json:"name"`
	Windows  int    `json:"windows"`
	Attached bool   `json:"attached"`
}

// SessionList is the collaborator's session inventory.
type SessionList struct {
	Sessions       []RemoteSession `json:"sessions"`
	CurrentSession string          `json:"currentSession,omitempty"`
}

// Has reports whether a session with the given name is present.
func (l SessionList) Has(name string) bool {
	for _, s := range l.Sessions {
		if s.Name == name {
			return true
		}
	}
	return false
}

// SessionStatus is the working-copy summary reported by the collaborator.
type SessionStatus struct {
	Branch string `json:"branch"`
	Path   string `json:"path"`
}

// Status is the latest collaborator snapshot as seen by the client.
type Status struct {
	SessionStatus
	Sessions       []RemoteSession `json:"sessions"`
	CurrentSession string          `json:"currentSession,omitempty"`
	Offline        bool            `json:"offline"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}
