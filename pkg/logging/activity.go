package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/onewire"

	"github.com/itohio/goowbus/pkg/dallas"
	"github.com/itohio/goowbus/pkg/device"
)

// Activity records channel changes and device errors as JSON lines.
type Activity struct {
	log zerolog.Logger
	c   io.Closer
}

var _ device.Observer = (*Activity)(nil)

// NewActivity writes the activity log to w.
func NewActivity(w io.Writer) *Activity {
	a := &Activity{log: zerolog.New(w).With().Timestamp().Logger()}
	if c, ok := w.(io.Closer); ok {
		a.c = c
	}
	return a
}

// OpenActivity appends the activity log to the named file.
func OpenActivity(name string) (*Activity, error) {
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open activity log: %w", err)
	}
	return NewActivity(f), nil
}

func (a *Activity) ChannelChanged(c device.Change) {
	a.log.Log().
		Str("event", "change").
		Str("rom", dallas.RomString(c.Addr)).
		Stringer("family", c.Family).
		Int("channel", c.Channel).
		Uint16("old", c.Old).
		Uint16("new", c.New).
		Send()
}

func (a *Activity) ErrorOccurred(addr onewire.Address, err error) {
	a.log.Log().
		Str("event", "error").
		Str("rom", dallas.RomString(addr)).
		Stringer("code", dallas.CodeOf(err)).
		Err(err).
		Send()
}

func (a *Activity) PassCompleted() {}

// Close closes the underlying file.
func (a *Activity) Close() error {
	if a.c == nil {
		return nil
	}
	return a.c.Close()
}
