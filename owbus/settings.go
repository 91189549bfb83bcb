package main

import (
	"fmt"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/goowbus/pkg/dallas"
	"github.com/itohio/goowbus/pkg/device"
	"github.com/itohio/goowbus/pkg/ds2480"
	"github.com/itohio/goowbus/pkg/filter"
)

var filterKinds = []string{
	string(filter.KindNone),
	string(filter.KindAverage),
	string(filter.KindLowPass),
	string(filter.KindMedian),
	string(filter.KindAdaptive),
	string(filter.KindHysteresis),
}

// showSettingsDialog displays a settings dialog with tabs for the bus options.
func showSettingsDialog(state *appState) {
	tabs := container.NewAppTabs(
		createPortTab(state),
		createPollingTab(state),
		createFilterTab(state),
	)

	content := container.NewBorder(nil, nil, nil, nil, tabs)
	d := dialog.NewCustom("Settings", "Close", content, state.window)
	d.Resize(fyne.NewSize(600, 500))
	d.Show()
}

func saveConfig(state *appState) {
	if err := state.cfg.Save(state.configPath); err != nil {
		dialog.ShowError(fmt.Errorf("failed to save config: %w", err), state.window)
	}
}

// createPortTab lists serial ports; the new port is used by the next search.
func createPortTab(state *appState) *container.TabItem {
	ports, err := ds2480.Ports()
	portOptions := []string{}
	portMap := make(map[string]string) // display name -> port name

	if err == nil {
		for _, port := range ports {
			displayName := port.Name
			if port.Description != "" && port.Description != port.Name {
				displayName = fmt.Sprintf("%s (%s)", port.Name, port.Description)
			}
			portOptions = append(portOptions, displayName)
			portMap[displayName] = port.Name
		}
	}

	currentPort := state.svc.bus.Port()
	currentDisplay := currentPort
	found := false
	for _, opt := range portOptions {
		if portMap[opt] == currentPort {
			currentDisplay = opt
			found = true
			break
		}
	}
	if !found && currentPort != "" {
		portOptions = append(portOptions, currentPort)
		portMap[currentPort] = currentPort
	}

	portSelect := widget.NewSelectEntry(portOptions)
	portSelect.SetText(currentDisplay)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Port", Widget: portSelect, HintText: "Serial device, port number or I2C bus"},
			{Text: "Adapter", Widget: widget.NewLabel(state.cfg.Serial.Adapter)},
		},
		OnSubmit: func() {
			selected := portMap[portSelect.Text]
			if selected == "" {
				selected = portSelect.Text
			}
			if selected == "" || selected == state.svc.bus.Port() {
				return
			}
			state.svc.bus.SetPort(selected)
			state.cfg.Serial.Port = selected
			saveConfig(state)
			handleSearch(state)
		},
	}

	return container.NewTabItem("Port", form)
}

// createPollingTab edits the ADC series length and the pause between devices.
func createPollingTab(state *appState) *container.TabItem {
	seriesEntry := widget.NewEntry()
	seriesEntry.SetText(strconv.Itoa(state.svc.bus.SeriesLength()))

	yieldEntry := widget.NewEntry()
	yieldEntry.SetText(state.cfg.Polling.Yield.String())

	windowEntry := widget.NewEntry()
	windowEntry.SetText(fmt.Sprintf("%.1f", state.cfg.History.WindowSeconds))

	autoStart := widget.NewCheck("", nil)
	autoStart.SetChecked(state.cfg.Polling.AutoStart)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Sampling Series Length", Widget: seriesEntry},
			{Text: "Yield (restart to apply)", Widget: yieldEntry},
			{Text: "Trend Window (seconds)", Widget: windowEntry},
			{Text: "Start After Search", Widget: autoStart},
		},
		OnSubmit: func() {
			if n, err := strconv.Atoi(seriesEntry.Text); err == nil && n > 0 {
				state.cfg.Polling.SamplingSeriesLength = n
				state.svc.bus.SetSeriesLength(n)
			}
			if y, err := time.ParseDuration(yieldEntry.Text); err == nil && y >= 0 {
				state.cfg.Polling.Yield = y
			}
			if ws, err := strconv.ParseFloat(windowEntry.Text, 64); err == nil && ws > 0 {
				state.cfg.History.WindowSeconds = ws
				state.svc.history.SetWindow(windowDuration(ws))
			}
			state.cfg.Polling.AutoStart = autoStart.Checked
			saveConfig(state)
		},
	}

	return container.NewTabItem("Polling", form)
}

// filterForm builds the editors of one filter spec.
type filterForm struct {
	kind         *widget.Select
	logWindow    *widget.Entry
	medianWindow *widget.Entry
	noiseBits    *widget.Entry
	discreteness *widget.Entry
}

func newFilterForm(spec filter.Spec, discreteness float64) *filterForm {
	f := &filterForm{
		kind:         widget.NewSelect(filterKinds, nil),
		logWindow:    widget.NewEntry(),
		medianWindow: widget.NewEntry(),
		noiseBits:    widget.NewEntry(),
		discreteness: widget.NewEntry(),
	}
	kind := spec.Kind
	if kind == "" {
		kind = filter.KindNone
	}
	f.kind.SetSelected(string(kind))
	f.logWindow.SetText(strconv.Itoa(int(spec.LogWindow)))
	f.medianWindow.SetText(strconv.Itoa(spec.MedianWindow))
	f.noiseBits.SetText(strconv.Itoa(int(spec.NoiseBits)))
	f.discreteness.SetText(strconv.FormatFloat(discreteness, 'g', -1, 64))
	return f
}

func (f *filterForm) items(prefix string) []*widget.FormItem {
	return []*widget.FormItem{
		{Text: prefix + "Filter", Widget: f.kind},
		{Text: prefix + "Log2 Window", Widget: f.logWindow, HintText: "average, lowpass"},
		{Text: prefix + "Median Window", Widget: f.medianWindow, HintText: "median, adaptive"},
		{Text: prefix + "Noise Bits", Widget: f.noiseBits, HintText: "adaptive, hysteresis"},
		{Text: prefix + "Discreteness (V)", Widget: f.discreteness, HintText: "0 disables"},
	}
}

// values parses the editors; the result is checked by filter.New.
func (f *filterForm) values() (filter.Spec, float64, error) {
	logWindow, err := strconv.ParseUint(f.logWindow.Text, 10, 8)
	if err != nil {
		return filter.Spec{}, 0, fmt.Errorf("log window: %w", err)
	}
	medianWindow, err := strconv.Atoi(f.medianWindow.Text)
	if err != nil {
		return filter.Spec{}, 0, fmt.Errorf("median window: %w", err)
	}
	noiseBits, err := strconv.ParseUint(f.noiseBits.Text, 10, 8)
	if err != nil {
		return filter.Spec{}, 0, fmt.Errorf("noise bits: %w", err)
	}
	discreteness, err := strconv.ParseFloat(f.discreteness.Text, 64)
	if err != nil {
		return filter.Spec{}, 0, fmt.Errorf("discreteness: %w", err)
	}
	spec := filter.Spec{
		Kind:         filter.Kind(f.kind.Selected),
		LogWindow:    uint(logWindow),
		MedianWindow: medianWindow,
		NoiseBits:    uint(noiseBits),
	}
	if _, err := filter.New(spec); err != nil {
		return filter.Spec{}, 0, err
	}
	return spec, discreteness, nil
}

// createFilterTab edits the filter given to ADC channels found by later searches.
func createFilterTab(state *appState) *container.TabItem {
	f := newFilterForm(state.cfg.Adc.Filter, state.cfg.Adc.Discreteness)

	form := &widget.Form{
		Items: f.items(""),
		OnSubmit: func() {
			spec, discreteness, err := f.values()
			if err != nil {
				dialog.ShowError(err, state.window)
				return
			}
			state.cfg.Adc.Filter = spec
			state.cfg.Adc.Discreteness = discreteness
			saveConfig(state)
		},
	}

	return container.NewTabItem("ADC Filter", form)
}

// showDeviceSettings edits the selected device on a copy and writes it with
// polling paused.
func showDeviceSettings(state *appState) {
	d, ok := state.selectedDevice()
	if !ok {
		dialog.ShowInformation("Device Settings", "Select a device first.", state.window)
		return
	}
	switch dev := d.(type) {
	case *device.Adc:
		showAdcSettings(state, dev)
	case *device.Thermometer:
		showThermometerSettings(state, dev)
	default:
		dialog.ShowInformation("Device Settings", d.Family().String()+" has no settings.", state.window)
	}
}

func showThermometerSettings(state *appState, th *device.Thermometer) {
	options := []string{"9", "10", "11", "12"}
	res := widget.NewSelect(options, nil)
	res.SetSelected(strconv.Itoa(int(th.Resolution())))

	items := []*widget.FormItem{
		{Text: "Resolution (bits)", Widget: res},
		{Text: "Step", Widget: widget.NewLabel(fmt.Sprintf("%.4f °C", th.StepSize()))},
		{Text: "Conversion", Widget: widget.NewLabel(th.ConversionTime().String())},
	}
	dialog.ShowForm(dallas.RomString(th.Address()), "Write", "Cancel", items, func(ok bool) {
		if !ok {
			return
		}
		bits, err := strconv.Atoi(res.Selected)
		if err != nil {
			return
		}
		applyDeviceSettings(state, func() error {
			prev := th.Resolution()
			if err := th.SetResolution(uint8(bits)); err != nil {
				return err
			}
			if err := th.WriteConfiguration(); err != nil {
				th.SetResolution(prev)
				return err
			}
			return nil
		})
	}, state.window)
}

func showAdcSettings(state *appState, adc *device.Adc) {
	edit := adc.Settings()
	tabs := container.NewAppTabs()
	forms := make([]*filterForm, len(edit))
	ranges := make([]*widget.Select, len(edit))
	resolutions := make([]*widget.Entry, len(edit))

	for ch, c := range edit {
		ranges[ch] = widget.NewSelect([]string{dallas.Range2V56.String(), dallas.Range5V12.String()}, nil)
		ranges[ch].SetSelected(c.Range.String())
		resolutions[ch] = widget.NewEntry()
		resolutions[ch].SetText(strconv.Itoa(int(c.Resolution)))
		forms[ch] = newFilterForm(c.Filter, c.Discreteness)

		items := []*widget.FormItem{
			{Text: "Range", Widget: ranges[ch]},
			{Text: "Resolution (bits)", Widget: resolutions[ch], HintText: "1-16, 9 and up are noisy"},
		}
		items = append(items, forms[ch].items("")...)
		tabs.Append(container.NewTabItem(fmt.Sprintf("Channel %d", ch), widget.NewForm(items...)))
	}

	d := dialog.NewCustomConfirm(dallas.RomString(adc.Address()), "Write", "Cancel", tabs, func(ok bool) {
		if !ok {
			return
		}
		prev := edit
		for ch := range edit {
			bits, err := strconv.Atoi(resolutions[ch].Text)
			if err != nil {
				dialog.ShowError(fmt.Errorf("channel %d resolution: %w", ch, err), state.window)
				return
			}
			spec, discreteness, err := forms[ch].values()
			if err != nil {
				dialog.ShowError(fmt.Errorf("channel %d: %w", ch, err), state.window)
				return
			}
			edit[ch].Resolution = uint8(bits)
			edit[ch].Range = dallas.Range2V56
			if ranges[ch].Selected == dallas.Range5V12.String() {
				edit[ch].Range = dallas.Range5V12
			}
			edit[ch].Filter = spec
			edit[ch].Discreteness = discreteness
		}
		applyDeviceSettings(state, func() error {
			if err := adc.Apply(edit); err != nil {
				return err
			}
			if err := adc.WriteConfiguration(); err != nil {
				adc.Apply(prev)
				return err
			}
			return nil
		})
	}, state.window)
	d.Resize(fyne.NewSize(500, 450))
	d.Show()
}

// applyDeviceSettings runs fn with polling paused off the main thread.
func applyDeviceSettings(state *appState, fn func() error) {
	go func() {
		err := state.svc.bus.Paused(fn)
		fyne.Do(func() {
			if err != nil {
				dialog.ShowError(fmt.Errorf("failed to write settings: %w", err), state.window)
			}
			refreshDevices(state)
		})
	}()
}
