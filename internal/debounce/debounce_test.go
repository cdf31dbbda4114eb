package debounce

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const window = 20 * time.Millisecond

func TestBurstFiresOnce(t *testing.T) {
	var calls int32
	d := New(window, func() { atomic.AddInt32(&calls, 1) })

	assert.True(t, d.Trigger())
	for i := 0; i < 10; i++ {
		assert.False(t, d.Trigger())
	}
	assert.True(t, d.Pending())

	require.Eventually(t, func() bool { return !d.Pending() }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	time.Sleep(3 * window)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTriggerAfterFireRearms(t *testing.T) {
	var calls int32
	d := New(window, func() { atomic.AddInt32(&calls, 1) })

	d.Trigger()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 && !d.Pending() }, time.Second, time.Millisecond)

	assert.True(t, d.Trigger())
	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, time.Second, time.Millisecond)
}

func TestTriggersDuringCallAreAbsorbed(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	d := New(window, func() {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
			<-release
		}
	})

	d.Trigger()
	<-started
	assert.False(t, d.Trigger(), "pending until the call returns")
	close(release)

	require.Eventually(t, func() bool { return !d.Pending() }, time.Second, time.Millisecond)
	time.Sleep(3 * window)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestStopCancelsPendingCall(t *testing.T) {
	var calls int32
	d := New(window, func() { atomic.AddInt32(&calls, 1) })

	d.Trigger()
	d.Stop()
	assert.False(t, d.Pending())
	assert.False(t, d.Trigger())

	time.Sleep(3 * window)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestConcurrentTriggers(t *testing.T) {
	var calls int32
	d := New(10*window, func() { atomic.AddInt32(&calls, 1) })

	var armed int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.Trigger() {
				atomic.AddInt32(&armed, 1)
			}
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&armed))
}

func TestDefaultWindow(t *testing.T) {
	d := New(0, func() {})
	assert.Equal(t, 2*time.Second, d.window)
}
