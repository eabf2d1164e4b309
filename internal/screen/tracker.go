package screen

import (
	"sync"
)

const (
	SignIn = "sign-in"
	SignUp = "sign-up"
)

// Tracker records which screen the UI is showing. The UI layer calls
// SetCurrent on every navigation; the transport reads it per response.
type Tracker struct {
	mu          sync.RWMutex
	current     string
	authScreens map[string]struct{}
}

// NewTracker treats the given screens as authentication screens. With no
// arguments the sign-in and sign-up screens are used.
func NewTracker(authScreens ...string) *Tracker {
	if len(authScreens) == 0 {
		authScreens = []string{SignIn, SignUp}
	}

	set := make(map[string]struct{}, len(authScreens))
	for _, name := range authScreens {
		set[name] = struct{}{}
	}

	return &Tracker{authScreens: set}
}

func (t *Tracker) SetCurrent(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = name
}

func (t *Tracker) Current() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

func (t *Tracker) OnAuthScreen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.authScreens[t.current]
	return ok
}
