package device

import (
	"sync"
	"testing"

	"github.com/itohio/goowbus/pkg/dallas"
	"github.com/itohio/goowbus/pkg/filter"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/onewire"
)

type recorder struct {
	mu      sync.Mutex
	changes []Change
	errs    []error
	passes  int
}

func (r *recorder) ChannelChanged(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) ErrorOccurred(_ onewire.Address, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) PassCompleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passes++
}

func (r *recorder) take() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.changes
	r.changes = nil
	return c
}

func newEnv(t *testing.T, sim *dallas.Sim) (Env, *recorder) {
	t.Helper()
	require.NoError(t, sim.Init("sim"))
	rec := &recorder{}
	return Env{
		Lock:         &sync.Mutex{},
		Transport:    sim,
		Observer:     rec,
		SeriesLength: 4,
		Filter:       filter.Spec{Kind: filter.KindNone},
	}, rec
}
