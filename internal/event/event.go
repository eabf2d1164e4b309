package event

// SessionState is what the UI needs to decide whether to show the
// re-authentication prompt.
type SessionState struct {
	Visible bool   `json:"visible"`
	Message string `json:"message,omitempty"`
}

type Listener func(SessionState)

// Broadcaster decouples the layer that detects an invalid session from the
// layer that prompts the user. It is built once at startup and injected into
// both.
type Broadcaster interface {
	Publish(visible bool, message string)
	Subscribe(listener Listener) (unsubscribe func())
	State() SessionState
	Dismiss()
}

const (
	MessageSessionExpired  = "Your session has expired. Please sign in again."
	MessageSessionTimedOut = "You were signed out after a period of inactivity."
	MessageRefreshFailed   = "We could not renew your session. Please sign in again."
)
