// Package api exposes the bus over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/onewire"

	"github.com/itohio/goowbus/pkg/bus"
	"github.com/itohio/goowbus/pkg/dallas"
	"github.com/itohio/goowbus/pkg/device"
	"github.com/itohio/goowbus/pkg/filter"
)

// Bus is the part of *bus.Bus served over HTTP.
type Bus interface {
	Devices() []device.Device
	Device(addr onewire.Address) (device.Device, bool)
	Start()
	Stop()
	SearchDevices() error
	Paused(fn func() error) error
	Stats() bus.Stats
}

var _ Bus = (*bus.Bus)(nil)

// Server routes HTTP requests to a Bus.
type Server struct {
	router chi.Router
	bus    Bus
	log    zerolog.Logger
}

// New creates the server and its routes.
func New(b Bus, log zerolog.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		bus:    b,
		log:    log,
	}

	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/health", s.health)
	r.Get("/stats", s.stats)

	r.Route("/bus", func(r chi.Router) {
		r.Post("/start", s.start)
		r.Post("/stop", s.stop)
		r.Post("/search", s.search)
	})

	r.Route("/devices", func(r chi.Router) {
		r.Get("/", s.devices)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.device)
			r.Put("/outputs/{ch}", s.setOutput)
			r.Put("/resolution", s.setResolution)
			r.Put("/adc/{ch}", s.setAdcChannel)
		})
	})

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("starting to listen for connections")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statsResponse struct {
	Running         bool    `json:"running"`
	Devices         int     `json:"devices"`
	Passes          uint64  `json:"passes"`
	LastPassSeconds float64 `json:"last_pass_seconds"`
	LastPassAt      string  `json:"last_pass_at,omitempty"`
	LastSearchError string  `json:"last_search_error,omitempty"`
}

type searchResponse struct {
	Devices []device.Snapshot `json:"devices"`
	Error   string            `json:"error,omitempty"`
}

type outputRequest struct {
	Active bool `json:"active"`
}

type resolutionRequest struct {
	Bits uint8 `json:"bits"`
}

type adcChannelRequest struct {
	Resolution   *uint8       `json:"resolution,omitempty"`
	Range        *string      `json:"range,omitempty"`
	Filter       *filter.Spec `json:"filter,omitempty"`
	Discreteness *float64     `json:"discreteness,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st := s.bus.Stats()
	resp := statsResponse{
		Running:         st.Running,
		Devices:         st.Devices,
		Passes:          st.Passes,
		LastPassSeconds: st.LastPass.Seconds(),
	}
	if !st.LastPassAt.IsZero() {
		resp.LastPassAt = st.LastPassAt.Format(time.RFC3339Nano)
	}
	if st.LastSearchError != nil {
		resp.LastSearchError = st.LastSearchError.Error()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	s.bus.Start()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	s.bus.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	err := s.bus.SearchDevices()
	resp := searchResponse{Devices: snapshots(s.bus.Devices())}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		if len(resp.Devices) == 0 {
			status = http.StatusBadGateway
		}
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) devices(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, snapshots(s.bus.Devices()))
}

func (s *Server) device(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, d.Snapshot())
}

func (s *Server) setOutput(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookup(w, r)
	if !ok {
		return
	}
	o, ok := d.(device.Outputs)
	if !ok {
		s.writeError(w, http.StatusConflict, errors.New("device has no outputs"))
		return
	}
	ch, err := strconv.Atoi(chi.URLParam(r, "ch"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req outputRequest
	if !s.decode(w, r, &req) {
		return
	}

	err = s.bus.Paused(func() error {
		prev := o.OutputActivated(ch)
		if err := o.SetOutputActivated(ch, req.Active); err != nil {
			return err
		}
		if err := d.WriteConfiguration(); err != nil {
			o.SetOutputActivated(ch, prev)
			return err
		}
		return nil
	})
	s.respond(w, d, err)
}

func (s *Server) setResolution(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookup(w, r)
	if !ok {
		return
	}
	th, ok := d.(*device.Thermometer)
	if !ok {
		s.writeError(w, http.StatusConflict, errors.New("device is not a thermometer"))
		return
	}
	var req resolutionRequest
	if !s.decode(w, r, &req) {
		return
	}

	err := s.bus.Paused(func() error {
		prev := th.Resolution()
		if err := th.SetResolution(req.Bits); err != nil {
			return err
		}
		if err := th.WriteConfiguration(); err != nil {
			th.SetResolution(prev)
			return err
		}
		return nil
	})
	s.respond(w, d, err)
}

func (s *Server) setAdcChannel(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookup(w, r)
	if !ok {
		return
	}
	adc, ok := d.(*device.Adc)
	if !ok {
		s.writeError(w, http.StatusConflict, errors.New("device is not an ADC"))
		return
	}
	ch, err := strconv.Atoi(chi.URLParam(r, "ch"))
	if err != nil || ch < 0 || ch >= dallas.AdcChannels {
		s.writeError(w, http.StatusBadRequest, device.ErrInvalidChannel)
		return
	}
	var req adcChannelRequest
	if !s.decode(w, r, &req) {
		return
	}

	var rng *dallas.Range
	if req.Range != nil {
		var v dallas.Range
		switch *req.Range {
		case dallas.Range2V56.String():
			v = dallas.Range2V56
		case dallas.Range5V12.String():
			v = dallas.Range5V12
		default:
			s.writeError(w, http.StatusBadRequest, device.ErrInvalidRange)
			return
		}
		rng = &v
	}

	err = s.bus.Paused(func() error {
		prev := adc.Settings()
		next := prev
		c := &next[ch]
		if req.Resolution != nil {
			c.Resolution = *req.Resolution
		}
		if rng != nil {
			c.Range = *rng
		}
		if req.Filter != nil {
			c.Filter = *req.Filter
		}
		if req.Discreteness != nil {
			c.Discreteness = *req.Discreteness
		}
		if err := adc.Apply(next); err != nil {
			return err
		}
		if err := adc.WriteConfiguration(); err != nil {
			adc.Apply(prev)
			return err
		}
		return nil
	})
	s.respond(w, d, err)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (device.Device, bool) {
	addr, err := dallas.ParseRom(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	d, ok := s.bus.Device(addr)
	if !ok {
		s.writeError(w, http.StatusNotFound, errors.New("device not found"))
		return nil, false
	}
	return d, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

// respond maps a configuration error to a status or returns the snapshot.
func (s *Server) respond(w http.ResponseWriter, d device.Device, err error) {
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, d.Snapshot())
	case errors.Is(err, device.ErrProtocol):
		s.writeError(w, http.StatusBadRequest, err)
	default:
		s.writeError(w, http.StatusBadGateway, err)
	}
}

func snapshots(devs []device.Device) []device.Snapshot {
	out := make([]device.Snapshot, len(devs))
	for i, d := range devs {
		out[i] = d.Snapshot()
	}
	return out
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.log.Debug().Err(err).Int("status", status).Msg("request failed")
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
