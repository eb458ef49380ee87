package radio

import (
	"context"
	"sync"
	"time"
)

// Loopback is an in-process Radio used by tests and as a fallback when no
// real medium is reachable. Advertisements from the same process are
// delivered straight to any active scan, and tests can inject arbitrary
// observations with Deliver.
type Loopback struct {
	mu        sync.Mutex
	state     State
	deviceID  string
	advert    []byte
	advertOpt Options
	scanning  bool
	events    chan Event
	rssi      int
}

var _ Radio = (*Loopback)(nil)

// NewLoopback creates a powered-on loopback radio identified by deviceID.
func NewLoopback(deviceID string) *Loopback {
	return &Loopback{
		state:    StatePoweredOn,
		deviceID: deviceID,
		rssi:     -48,
	}
}

// SetState overrides the reported power state. Used by tests to simulate a
// disabled radio.
func (l *Loopback) SetState(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = s
}

func (l *Loopback) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loopback) Advertise(ctx context.Context, payload []byte, opts Options) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StatePoweredOn {
		return ErrUnavailable
	}

	l.advert = append([]byte(nil), payload...)
	l.advertOpt = opts

	// A scan running in the same process observes the broadcast directly.
	if l.scanning {
		l.deliverLocked(Event{
			DeviceID:         l.deviceID,
			Name:             opts.DeviceName,
			ServiceUUID:      opts.ServiceUUID,
			RSSI:             l.rssi,
			ManufacturerData: append([]byte(nil), payload...),
			At:               time.Now(),
		})
	}
	return nil
}

func (l *Loopback) StopAdvertise(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.advert = nil
	return nil
}

func (l *Loopback) Scan(ctx context.Context, filter Filter) (<-chan Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StatePoweredOn {
		return nil, ErrUnavailable
	}
	if l.scanning {
		return l.events, nil
	}

	l.scanning = true
	l.events = make(chan Event, 32)

	// Replay our own standing advertisement, mirroring how a real medium
	// surfaces an already-broadcasting device to a fresh scan.
	if l.advert != nil {
		l.deliverLocked(Event{
			DeviceID:         l.deviceID,
			Name:             l.advertOpt.DeviceName,
			ServiceUUID:      l.advertOpt.ServiceUUID,
			RSSI:             l.rssi,
			ManufacturerData: append([]byte(nil), l.advert...),
			At:               time.Now(),
		})
	}
	return l.events, nil
}

func (l *Loopback) StopScan(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.scanning {
		return nil
	}
	l.scanning = false
	close(l.events)
	l.events = nil
	return nil
}

// Deliver injects an observation into the active scan. A no-op when no scan
// is running, matching a real medium discarding events with no listener.
func (l *Loopback) Deliver(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.scanning {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	l.deliverLocked(ev)
}

func (l *Loopback) deliverLocked(ev Event) {
	select {
	case l.events <- ev:
	default:
		// Scan consumer is saturated; drop rather than block the medium.
	}
}
