package device

import (
	"errors"
	"fmt"
)

// ErrProtocol is the root of configuration values rejected by a device.
var ErrProtocol = errors.New("protocol error")

var (
	ErrInvalidChannel    = fmt.Errorf("%w: invalid channel", ErrProtocol)
	ErrInvalidResolution = fmt.Errorf("%w: invalid resolution", ErrProtocol)
	ErrInvalidRange      = fmt.Errorf("%w: invalid range", ErrProtocol)
	ErrInvalidFilter     = fmt.Errorf("%w: invalid filter", ErrProtocol)
	ErrUnknownFamily     = fmt.Errorf("%w: unknown family", ErrProtocol)
)
