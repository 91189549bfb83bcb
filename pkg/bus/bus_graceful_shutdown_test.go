package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/goowbus/pkg/device"
)

// TestBus_GracefulShutdown verifies that Stop waits for the loop to exit and
// that no pass completes afterwards.
func TestBus_GracefulShutdown(t *testing.T) {
	b := newTestBus(fullSim())
	require.NoError(t, b.SearchDevices())

	passes := make(chan struct{}, 100)
	b.Subscribe(device.Funcs{Pass: func() {
		select {
		case passes <- struct{}{}:
		default:
		}
	}})

	b.Start()
	assert.True(t, b.Running())
	for i := 0; i < 3; i++ {
		select {
		case <-passes:
		case <-time.After(5 * time.Second):
			t.Fatal("no pass completed")
		}
	}

	stopped := make(chan struct{})
	go func() {
		b.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.False(t, b.Running())

	done := b.Stats().Passes
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, done, b.Stats().Passes)
}

func TestBus_StartStopIdempotent(t *testing.T) {
	b := newTestBus(fullSim())
	require.NoError(t, b.SearchDevices())

	b.Stop()
	b.Start()
	b.Start()
	assert.True(t, b.Running())
	b.Stop()
	b.Stop()
	assert.False(t, b.Running())
}

func TestBus_StopEmptyBus(t *testing.T) {
	b := newTestBus(fullSim())
	b.Start()
	time.Sleep(5 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		b.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestBus_Paused(t *testing.T) {
	b := newTestBus(fullSim())
	require.NoError(t, b.SearchDevices())
	b.Start()
	defer b.Stop()

	err := b.Paused(func() error {
		assert.False(t, b.Running())
		return nil
	})
	require.NoError(t, err)
	assert.True(t, b.Running())

	b.Stop()
	require.NoError(t, b.Paused(func() error { return nil }))
	assert.False(t, b.Running())
}

func TestBus_SearchStopsPolling(t *testing.T) {
	b := newTestBus(fullSim())
	require.NoError(t, b.SearchDevices())
	b.Start()
	require.NoError(t, b.SearchDevices())
	assert.False(t, b.Running())
	assert.NoError(t, b.Close())
}
