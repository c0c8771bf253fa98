package chat

import (
	"sync"
	"time"
)

// WaitTimeMonitor owns the single "this is taking longer than usual"
// timer for a session. It only ever surfaces a notice; it never cancels
// or retries anything on its own.
type WaitTimeMonitor struct {
	mu    sync.Mutex
	timer *time.Timer
}

// NewWaitTimeMonitor creates a disarmed monitor.
func NewWaitTimeMonitor() *WaitTimeMonitor {
	return &WaitTimeMonitor{}
}

// Arm schedules onExceeded to fire once after d. Arming while already
// armed replaces the previous timer, so at most one warning can be
// pending.
func (m *WaitTimeMonitor) Arm(d time.Duration, onExceeded func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(d, func() {
		// Clear first so a disarm racing the callback stays a no-op.
		m.mu.Lock()
		m.timer = nil
		m.mu.Unlock()
		onExceeded()
	})
}

// Disarm cancels the pending timer. Safe to call when not armed.
func (m *WaitTimeMonitor) Disarm() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Armed reports whether a warning is pending.
func (m *WaitTimeMonitor) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}
