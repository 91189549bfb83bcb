package main

import (
	"fmt"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/dialog"

	"github.com/itohio/goowbus/pkg/device"
	"github.com/itohio/goowbus/pkg/history"
)

// handleChannelTap shows the channel trend and toggles its output, if any.
func handleChannelTap(state *appState, ch int) {
	d, ok := state.selectedDevice()
	if !ok {
		return
	}
	id := state.snaps[state.selected].ID
	key := history.Key{ID: id, Channel: ch}
	state.scopeWidget.Select(&key)

	o, ok := d.(device.Outputs)
	if !ok {
		return
	}
	go func() {
		err := toggleOutput(state, id, d, o, ch)
		fyne.Do(func() {
			if err != nil {
				dialog.ShowError(fmt.Errorf("failed to toggle output %d: %w", ch, err), state.window)
			}
			refreshDevices(state)
		})
	}()
}

// toggleOutput flips one output with polling paused. The in-memory state is
// restored if the device rejects the write.
func toggleOutput(state *appState, id string, d device.Device, o device.Outputs, ch int) error {
	return state.svc.bus.Paused(func() error {
		prev := o.OutputActivated(ch)
		if err := o.SetOutputActivated(ch, !prev); err != nil {
			return err
		}
		if err := d.WriteConfiguration(); err != nil {
			o.SetOutputActivated(ch, prev)
			return err
		}
		state.log.Info().
			Str("device", id).
			Int("channel", ch).
			Bool("active", !prev).
			Msg("output changed")
		return nil
	})
}
