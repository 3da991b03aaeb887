package restore

import "al.essio.dev/pkg/shellescape"

// AttachCommand attaches the remote shell to session.
func AttachCommand(session string) []byte {
	return []byte("tmux attach -t " + shellescape.Quote(session) + "\r")
}

// FallbackCommand attaches only when the shell is outside tmux and the session
// exists, so it is harmless to send when the inventory is unknown.
func FallbackCommand(session string) []byte {
	q := shellescape.Quote(session)
	return []byte(`[ -z "$TMUX" ] && tmux has-session -t ` + q + ` 2>/dev/null && tmux attach -t ` + q + "\r")
}

// SwitchCommand moves an existing tmux client to session, or attaches when the
// shell is not inside tmux.
func SwitchCommand(session string) []byte {
	q := shellescape.Quote(session)
	return []byte(`[ -n "$TMUX" ] && tmux switch-client -t ` + q + ` || tmux attach -t ` + q + "\r")
}
