package service

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-client/internal/config"
)

func TestSessionTimerArmReplacesPrevious(t *testing.T) {
	timer := NewSessionTimer(config.TimeoutIdle, time.Minute)
	var fired atomic.Int32
	timer.OnFire(func() { fired.Add(1) })

	for i := 0; i < 5; i++ {
		timer.Arm(30 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
	assert.False(t, timer.Active())
}

func TestSessionTimerStop(t *testing.T) {
	timer := NewSessionTimer(config.TimeoutIdle, time.Minute)
	var fired atomic.Int32
	timer.OnFire(func() { fired.Add(1) })

	timer.Arm(20 * time.Millisecond)
	require.True(t, timer.Active())
	timer.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
	assert.False(t, timer.Active())
}

func TestSessionTimerModes(t *testing.T) {
	off := NewSessionTimer(config.TimeoutOff, time.Minute)
	off.Start()
	off.Touch()
	assert.False(t, off.Active())
	assert.False(t, off.Enabled())

	absolute := NewSessionTimer(config.TimeoutAbsolute, time.Minute)
	absolute.Touch()
	assert.False(t, absolute.Active(), "absolute mode ignores activity")
	absolute.Start()
	assert.True(t, absolute.Active())
	absolute.Stop()

	idle := NewSessionTimer(config.TimeoutIdle, time.Minute)
	idle.Touch()
	assert.False(t, idle.Active(), "activity does not start a timer")
	idle.Start()
	idle.Touch()
	assert.True(t, idle.Active())
	idle.Stop()
}

func TestSessionTimerTouchAfterStopDoesNotRearm(t *testing.T) {
	timer := NewSessionTimer(config.TimeoutIdle, 20*time.Millisecond)
	var fired atomic.Int32
	timer.OnFire(func() { fired.Add(1) })

	timer.Start()
	timer.Stop()
	timer.Touch()

	assert.False(t, timer.Active())
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestSessionTimerIdleTouchPostponesFire(t *testing.T) {
	timer := NewSessionTimer(config.TimeoutIdle, 80*time.Millisecond)
	var fired atomic.Int32
	timer.OnFire(func() { fired.Add(1) })
	t.Cleanup(timer.Stop)

	timer.Start()
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		timer.Touch()
	}
	assert.Equal(t, int32(0), fired.Load())

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
}
