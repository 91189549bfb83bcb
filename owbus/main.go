package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/onewire"

	"github.com/itohio/goowbus/pkg/config"
	"github.com/itohio/goowbus/pkg/dallas"
	"github.com/itohio/goowbus/pkg/device"
	"github.com/itohio/goowbus/pkg/history"
	"github.com/itohio/goowbus/pkg/logging"
	"github.com/itohio/goowbus/pkg/scope"
)

func main() {
	var (
		portFlag     = flag.String("p", "", "Port override: serial device, port number or I2C bus (e.g., COM3, 1, /dev/ttyUSB0)")
		configFlag   = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag     = flag.Bool("mock", false, "Use a simulated bus instead of an adapter")
		seriesFlag   = flag.Int("series", 0, "ADC conversions per poll pass (overrides config)")
		headlessFlag = flag.Bool("headless", false, "Poll without the GUI until interrupted")
		listenFlag   = flag.String("listen", "", "HTTP API listen address (overrides config, e.g. :8080)")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *mockFlag {
		cfg.Serial.Adapter = config.AdapterSim
	}
	if *seriesFlag > 0 {
		cfg.Polling.SamplingSeriesLength = *seriesFlag
	}
	if *listenFlag != "" {
		cfg.HTTP.Listen = *listenFlag
	}

	log, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	svc, err := newService(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create bus")
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *headlessFlag {
		if err := svc.runHeadless(ctx); err != nil {
			log.Error().Err(err).Msg("stopped")
		}
		return
	}

	runGUI(ctx, cfg, *configFlag, svc, log)
}

// appState holds the application state.
type appState struct {
	cfg        *config.Config
	configPath string
	svc        *service
	log        zerolog.Logger
	window     fyne.Window

	deviceList  *widget.List
	channelList *widget.List
	scopeWidget *scope.ScopeWidget
	status      *widget.Label
	runBtn      *widget.Button

	// Presentation copies refreshed on the main thread.
	devices  []device.Device
	snaps    []device.Snapshot
	selected int

	errMu     sync.Mutex
	lastError string

	listThrottle  throttle
	scopeThrottle throttle
}

func runGUI(ctx context.Context, cfg *config.Config, configPath string, svc *service, log zerolog.Logger) {
	application := app.NewWithID("com.itohio.goowbus")

	window := application.NewWindow("1-Wire Bus")
	window.Resize(fyne.NewSize(1200, 800))
	window.CenterOnScreen()

	state := &appState{
		cfg:           cfg,
		configPath:    configPath,
		svc:           svc,
		log:           log,
		window:        window,
		selected:      -1,
		listThrottle:  newThrottle(listUpdateInterval),
		scopeThrottle: newThrottle(scopeUpdateInterval),
	}

	toolbar := createToolbar(state)
	state.scopeWidget = scope.New(windowDuration(cfg.History.WindowSeconds))
	state.deviceList = createDeviceList(state)
	state.channelList = createChannelList(state)
	state.status = widget.NewLabel("Not connected")

	svc.bus.Subscribe(device.Funcs{
		Error: func(addr onewire.Address, err error) { handleDeviceError(state, addr, err) },
		Pass:  func() { scheduleListUpdate(state) },
	})
	svc.history.OnUpdate(func(series []history.Series) { scheduleScopeUpdate(state, series) })

	if svc.api != nil {
		go func() {
			if err := svc.serve(ctx); err != nil {
				log.Error().Err(err).Msg("http api stopped")
			}
		}()
	}
	go func() {
		<-ctx.Done()
		fyne.Do(application.Quit)
	}()

	left := container.NewVSplit(state.deviceList, state.channelList)
	split := container.NewHSplit(left, state.scopeWidget)
	split.Offset = 0.3

	window.SetContent(container.NewBorder(toolbar, state.status, nil, nil, split))
	window.ShowAndRun()
}

// createToolbar creates the toolbar with Search, Start/Stop, Settings and
// Device Settings buttons.
func createToolbar(state *appState) fyne.CanvasObject {
	searchBtn := widget.NewButtonWithIcon("", theme.SearchIcon(), func() {
		handleSearch(state)
	})

	runBtn := widget.NewButtonWithIcon("", theme.MediaPlayIcon(), func() {
		handleStartStop(state)
	})
	runBtn.Disable()
	state.runBtn = runBtn

	settingsBtn := widget.NewButtonWithIcon("", theme.SettingsIcon(), func() {
		showSettingsDialog(state)
	})

	deviceBtn := widget.NewButtonWithIcon("", theme.DocumentCreateIcon(), func() {
		showDeviceSettings(state)
	})

	clearBtn := widget.NewButtonWithIcon("", theme.ContentClearIcon(), func() {
		state.svc.history.Clear()
	})

	return container.NewBorder(
		nil,
		nil,
		container.NewHBox(searchBtn, runBtn, settingsBtn),
		container.NewHBox(deviceBtn, clearBtn),
		nil,
	)
}

func createDeviceList(state *appState) *widget.List {
	l := widget.NewList(
		func() int { return len(state.snaps) },
		func() fyne.CanvasObject { return widget.NewLabel("00-000000000000-00 DS18B20") },
		func(id widget.ListItemID, o fyne.CanvasObject) {
			if id < len(state.snaps) {
				s := state.snaps[id]
				o.(*widget.Label).SetText(s.ID + " " + s.Family)
			}
		},
	)
	l.OnSelected = func(id widget.ListItemID) {
		state.selected = id
		state.scopeWidget.Select(nil)
		state.channelList.UnselectAll()
		state.channelList.Refresh()
	}
	l.OnUnselected = func(widget.ListItemID) {
		state.selected = -1
		state.channelList.Refresh()
	}
	return l
}

func createChannelList(state *appState) *widget.List {
	l := widget.NewList(
		func() int {
			if s, ok := state.selectedSnapshot(); ok {
				return len(s.Channels)
			}
			return 0
		},
		func() fyne.CanvasObject { return widget.NewLabel("ch 0: 0.0000 °C [output active]") },
		func(id widget.ListItemID, o fyne.CanvasObject) {
			s, ok := state.selectedSnapshot()
			if !ok || id >= len(s.Channels) {
				return
			}
			o.(*widget.Label).SetText(channelText(s.Channels[id]))
		},
	)
	l.OnSelected = func(id widget.ListItemID) {
		handleChannelTap(state, id)
		l.Unselect(id)
	}
	return l
}

func channelText(c device.ChannelSnapshot) string {
	text := fmt.Sprintf("ch %d: %s", c.Channel, c.Text)
	if c.Range != "" {
		text += fmt.Sprintf(" (%s, %d bit)", c.Range, c.Resolution)
	}
	if c.Output != nil && *c.Output {
		text += " [output active]"
	}
	return text
}

func (state *appState) selectedSnapshot() (device.Snapshot, bool) {
	if state.selected < 0 || state.selected >= len(state.snaps) {
		return device.Snapshot{}, false
	}
	return state.snaps[state.selected], true
}

func (state *appState) selectedDevice() (device.Device, bool) {
	if state.selected < 0 || state.selected >= len(state.devices) {
		return nil, false
	}
	return state.devices[state.selected], true
}

// handleSearch runs a device search off the main thread.
func handleSearch(state *appState) {
	state.status.SetText("Searching " + state.svc.bus.Port() + "...")
	state.runBtn.Disable()
	go func() {
		err := state.svc.search(state.cfg.Polling.AutoStart)
		fyne.Do(func() {
			refreshDevices(state)
			if err != nil && len(state.devices) == 0 {
				dialog.ShowError(fmt.Errorf("search on %s failed: %w", state.svc.bus.Port(), err), state.window)
			}
			if len(state.devices) > 0 {
				state.runBtn.Enable()
			}
			updateStatus(state)
		})
	}()
}

// handleStartStop toggles polling.
func handleStartStop(state *appState) {
	if state.svc.bus.Running() {
		state.svc.bus.Stop()
	} else {
		state.svc.bus.Start()
	}
	updateStatus(state)
}

func handleDeviceError(state *appState, addr onewire.Address, err error) {
	state.errMu.Lock()
	state.lastError = fmt.Sprintf("%s: %s", dallas.RomString(addr), dallas.CodeOf(err))
	state.errMu.Unlock()
	scheduleListUpdate(state)
}
