package service

import (
	"sync"
	"time"

	"marketplace-client/internal/config"
)

// SessionTimer is the single local session timeout of the process. Arming
// it again cancels the previous timer.
type SessionTimer struct {
	mode    string
	timeout time.Duration

	mu         sync.Mutex
	timer      *time.Timer
	generation uint64
	onFire     func()
}

func NewSessionTimer(mode string, timeout time.Duration) *SessionTimer {
	if mode == "" {
		mode = config.TimeoutOff
	}
	return &SessionTimer{mode: mode, timeout: timeout}
}

func (t *SessionTimer) Enabled() bool {
	return t.mode != config.TimeoutOff && t.timeout > 0
}

func (t *SessionTimer) Mode() string {
	return t.mode
}

// OnFire sets the callback run when the timer expires. It runs on the
// timer goroutine.
func (t *SessionTimer) OnFire(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFire = fn
}

// Start arms the configured timeout at sign-in. It is a no-op when the
// timeout is off.
func (t *SessionTimer) Start() {
	if !t.Enabled() {
		return
	}
	t.Arm(t.timeout)
}

// Touch records authenticated activity. Only idle mode re-arms, and only
// while a session timer is running.
func (t *SessionTimer) Touch() {
	if !t.Enabled() || t.mode != config.TimeoutIdle {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer == nil {
		return
	}
	t.arm(t.timeout)
}

func (t *SessionTimer) Arm(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.arm(d)
}

func (t *SessionTimer) arm(d time.Duration) {
	if t.timer != nil {
		t.timer.Stop()
	}

	t.generation++
	generation := t.generation
	t.timer = time.AfterFunc(d, func() { t.fire(generation) })
}

func (t *SessionTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.generation++
}

func (t *SessionTimer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

func (t *SessionTimer) fire(generation uint64) {
	t.mu.Lock()
	// A timer that lost the race against Arm or Stop must not fire.
	if generation != t.generation {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	callback := t.onFire
	t.mu.Unlock()

	if callback != nil {
		callback()
	}
}
