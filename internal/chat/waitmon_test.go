package chat

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitMonitorFires(t *testing.T) {
	m := NewWaitTimeMonitor()
	fired := make(chan struct{})

	m.Arm(5*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("warning never fired")
	}
	assert.False(t, m.Armed())
}

func TestWaitMonitorDisarm(t *testing.T) {
	m := NewWaitTimeMonitor()
	var fired atomic.Bool

	m.Arm(10*time.Millisecond, func() { fired.Store(true) })
	m.Disarm()

	time.Sleep(30 * time.Millisecond)
	assert.False(t, fired.Load())
	assert.False(t, m.Armed())

	// Disarming when not armed is a no-op.
	m.Disarm()
}

func TestWaitMonitorRearmReplacesTimer(t *testing.T) {
	m := NewWaitTimeMonitor()
	var fires atomic.Int32

	m.Arm(10*time.Millisecond, func() { fires.Add(1) })
	m.Arm(10*time.Millisecond, func() { fires.Add(1) })
	m.Arm(10*time.Millisecond, func() { fires.Add(1) })

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), fires.Load(), "re-arm must replace, not stack")
}
