package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/itohio/goowbus/pkg/adapter"
	"github.com/itohio/goowbus/pkg/api"
	"github.com/itohio/goowbus/pkg/bus"
	"github.com/itohio/goowbus/pkg/config"
	"github.com/itohio/goowbus/pkg/history"
	"github.com/itohio/goowbus/pkg/logging"
	"github.com/itohio/goowbus/pkg/mqtt"
)

// service wires the bus to its observers and outer surfaces.
type service struct {
	cfg     *config.Config
	log     zerolog.Logger
	bus     *bus.Bus
	history *history.History
	api     *api.Server

	closers []io.Closer
}

// newService builds the bus described by cfg. Nothing touches the hardware
// until the first search.
func newService(cfg *config.Config, log zerolog.Logger) (*service, error) {
	t, err := adapter.New(cfg, log)
	if err != nil {
		return nil, err
	}

	b := bus.New(t, cfg.Serial.Port,
		bus.WithLogger(log.With().Str("component", "bus").Logger()),
		bus.WithYield(cfg.Polling.Yield),
		bus.WithSeriesLength(cfg.Polling.SamplingSeriesLength),
		bus.WithFilter(cfg.Adc.Filter, cfg.Adc.Discreteness),
	)

	s := &service{cfg: cfg, log: log, bus: b}
	s.closers = append(s.closers, b)

	s.history = history.New(windowDuration(cfg.History.WindowSeconds), b.Devices)
	b.Subscribe(s.history)

	if cfg.Log.Activity != "" {
		a, err := logging.OpenActivity(cfg.Log.Activity)
		if err != nil {
			s.Close()
			return nil, err
		}
		b.Subscribe(a)
		s.closers = append(s.closers, a)
	}

	if cfg.MQTT.Broker != "" {
		p, err := mqtt.Connect(cfg.MQTT, log.With().Str("component", "mqtt").Logger())
		if err != nil {
			s.Close()
			return nil, err
		}
		s.addPublisher(p)
	}

	if cfg.HTTP.Listen != "" {
		s.api = api.New(b, log.With().Str("component", "api").Logger())
	}

	return s, nil
}

// addPublisher subscribes p to the bus. It is closed before the bus so the
// offline status goes last.
func (s *service) addPublisher(p *mqtt.Publisher) {
	s.bus.Subscribe(p)
	s.closers = append([]io.Closer{p}, s.closers...)
}

func windowDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// search enumerates the bus and optionally starts polling.
func (s *service) search(start bool) error {
	err := s.bus.SearchDevices()
	if start && len(s.bus.Devices()) > 0 {
		s.bus.Start()
	}
	return err
}

// serve runs the HTTP API until ctx is done. It returns at once without one.
func (s *service) serve(ctx context.Context) error {
	if s.api == nil {
		return nil
	}
	err := s.api.ListenAndServe(ctx, s.cfg.HTTP.Listen)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http: %w", err)
	}
	return nil
}

// runHeadless searches once, polls and serves until ctx is done.
func (s *service) runHeadless(ctx context.Context) error {
	if err := s.search(true); err != nil {
		s.log.Warn().Err(err).Msg("initial search reported errors")
	}
	if len(s.bus.Devices()) == 0 {
		s.log.Warn().Str("port", s.bus.Port()).Msg("no devices found")
	}

	if s.api != nil {
		return s.serve(ctx)
	}
	<-ctx.Done()
	return nil
}

// Close stops polling and releases everything newService opened.
func (s *service) Close() error {
	s.bus.Stop()
	var err error
	for _, c := range s.closers {
		err = multierr.Append(err, c.Close())
	}
	s.closers = nil
	return err
}
