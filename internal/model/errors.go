package model

import "errors"

var (
	// ErrTransport covers refused, reset or timed-out connections and abnormal closes.
	// It drives the reconnect loop and is never returned to input or output callers.
	ErrTransport = errors.New("transport error")

	// ErrProtocol is returned for frames that cannot be understood. The frame is
	// dropped; the connection stays up.
	ErrProtocol = errors.New("protocol error")

	// ErrCollaboratorUnavailable is returned when the session/status REST service
	// cannot be reached in time.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

	// ErrReconnectExhausted is logged when automatic retries stop.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrNotConnected is returned when input is sent while no connection is open.
	ErrNotConnected = errors.New("not connected")

	// ErrSessionNotFound is returned when a remote session does not exist.
	ErrSessionNotFound = errors.New("session not found")
)
