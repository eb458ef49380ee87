// Package radio abstracts the short-range broadcast medium. The core only
// ever talks to the Radio interface; the concrete medium (an MQTT bridge on
// development LANs, or an in-process loopback) is selected at runtime.
package radio

import (
	"context"
	"errors"
	"time"
)

var ErrUnavailable = errors.New("radio medium unavailable")

// State describes the power/availability of the radio medium.
type State int

const (
	StateUnknown State = iota
	StatePoweredOff
	StatePoweredOn
)

func (s State) String() string {
	switch s {
	case StatePoweredOff:
		return "powered_off"
	case StatePoweredOn:
		return "powered_on"
	default:
		return "unknown"
	}
}

// Event is one observed advertisement, delivered in the order the medium
// reports them.
type Event struct {
	DeviceID         string
	Name             string
	ServiceUUID      string
	RSSI             int
	ManufacturerData []byte
	At               time.Time
}

// Options control an outgoing advertisement.
type Options struct {
	DeviceName  string
	ServiceUUID string
}

// Filter narrows an incoming scan.
type Filter struct {
	ServiceUUID     string
	AllowDuplicates bool
}

// Radio is the external broadcast medium. Implementations must be safe for
// concurrent use and must stop delivering events once StopScan returns.
type Radio interface {
	// Advertise begins (or refreshes) broadcasting the payload. Calling it
	// again while advertising replaces the current advertisement.
	Advertise(ctx context.Context, payload []byte, opts Options) error

	// StopAdvertise ends the broadcast. Safe to call when not advertising.
	StopAdvertise(ctx context.Context) error

	// Scan starts listening and returns the event stream for this scan
	// session. The channel is closed by StopScan.
	Scan(ctx context.Context, filter Filter) (<-chan Event, error)

	// StopScan ends listening and closes the event channel. Safe to call
	// when not scanning.
	StopScan(ctx context.Context) error

	// State reports the current power/availability state.
	State() State
}
