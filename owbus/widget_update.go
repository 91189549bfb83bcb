package main

import (
	"fmt"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/theme"

	"github.com/itohio/goowbus/pkg/device"
	"github.com/itohio/goowbus/pkg/history"
)

const (
	listUpdateInterval  = 200 * time.Millisecond
	scopeUpdateInterval = 16 * time.Millisecond // ~60 FPS
)

// throttle drops events arriving sooner than interval after the last one let through.
type throttle struct {
	mu       *sync.Mutex
	last     time.Time
	interval time.Duration
}

func newThrottle(interval time.Duration) throttle {
	return throttle{mu: &sync.Mutex{}, interval: interval}
}

func (t *throttle) allow(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}

// scheduleListUpdate refreshes the device views on the main thread.
// Called from the polling goroutine.
func scheduleListUpdate(state *appState) {
	if !state.listThrottle.allow(time.Now()) {
		return
	}
	fyne.Do(func() {
		refreshDevices(state)
		updateStatus(state)
	})
}

// scheduleScopeUpdate hands new trends to the scope on the main thread.
// The scope downsamples internally, so full series are passed.
func scheduleScopeUpdate(state *appState, series []history.Series) {
	if !state.scopeThrottle.allow(time.Now()) {
		return
	}
	fyne.Do(func() {
		state.scopeWidget.UpdateData(series)
	})
}

// refreshDevices copies device snapshots for the lists. Main thread only.
func refreshDevices(state *appState) {
	devices := state.svc.bus.Devices()
	snaps := make([]device.Snapshot, len(devices))
	for i, d := range devices {
		snaps[i] = d.Snapshot()
	}
	if len(devices) != len(state.devices) || (state.selected >= 0 && state.selected < len(devices) &&
		devices[state.selected] != state.devices[state.selected]) {
		state.selected = -1
		state.deviceList.UnselectAll()
	}
	state.devices, state.snaps = devices, snaps
	state.deviceList.Refresh()
	state.channelList.Refresh()
}

// updateStatus shows polling state, pass period and the last error.
func updateStatus(state *appState) {
	st := state.svc.bus.Stats()
	text := fmt.Sprintf("%s: %d devices", state.svc.bus.Port(), st.Devices)
	if st.Running {
		text += fmt.Sprintf(", polling, pass %v", st.LastPass.Round(time.Millisecond))
		state.runBtn.SetIcon(theme.MediaStopIcon())
	} else {
		text += ", stopped"
		state.runBtn.SetIcon(theme.MediaPlayIcon())
	}
	if st.LastSearchError != nil {
		text += " | search: " + st.LastSearchError.Error()
	}
	state.errMu.Lock()
	if state.lastError != "" {
		text += " | last error: " + state.lastError
	}
	state.errMu.Unlock()
	state.status.SetText(text)
}
