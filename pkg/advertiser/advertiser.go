// Package advertiser owns the receiving device's broadcast lifecycle:
// start emitting discoverable presence carrying the encoded payload,
// periodically refresh visibility, and enforce a bounded session duration.
package advertiser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kabili207/flume-pay/pkg/codec"
	"github.com/kabili207/flume-pay/pkg/models"
	"github.com/kabili207/flume-pay/pkg/radio"
)

const (
	// DefaultDuration bounds one advertising session.
	DefaultDuration = 300 * time.Second

	// DefaultRefreshInterval re-asserts discoverability; visibility on some
	// radio stacks decays without periodic re-announcement.
	DefaultRefreshInterval = 15 * time.Second

	opTimeout = 3 * time.Second
)

var (
	ErrProfileUnavailable = errors.New("no current user profile")
	ErrAlreadyAdvertising = errors.New("advertising session already running")
)

// State of the advertiser lifecycle.
type State int

const (
	StateIdle State = iota
	StateAdvertising
)

func (s State) String() string {
	if s == StateAdvertising {
		return "advertising"
	}
	return "idle"
}

// Options configure an Advertiser.
type Options struct {
	Radio           radio.Radio
	Duration        time.Duration
	RefreshInterval time.Duration
}

// Advertiser manages one advertising session at a time. All timers are
// owned by the instance and cancelled on Stop; there is no ambient global
// state.
type Advertiser struct {
	radio           radio.Radio
	duration        time.Duration
	refreshInterval time.Duration
	log             *slog.Logger

	mu          sync.Mutex
	state       State
	session     uint64
	countdown   *time.Timer
	stopRefresh chan struct{}

	expired chan struct{}
}

func New(opts Options) *Advertiser {
	a := &Advertiser{
		radio:           opts.Radio,
		duration:        opts.Duration,
		refreshInterval: opts.RefreshInterval,
		log:             slog.With("component", "advertiser"),
		expired:         make(chan struct{}, 1),
	}
	if a.duration <= 0 {
		a.duration = DefaultDuration
	}
	if a.refreshInterval <= 0 {
		a.refreshInterval = DefaultRefreshInterval
	}
	return a
}

// State reports the current lifecycle state.
func (a *Advertiser) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Expired signals that a session ended because its countdown elapsed.
func (a *Advertiser) Expired() <-chan struct{} {
	return a.expired
}

// Start encodes the profile and begins broadcasting it. The session ends on
// Stop or when the countdown elapses, whichever comes first.
func (a *Advertiser) Start(profile *models.UserProfile) error {
	if profile == nil || profile.UserID == "" || profile.UserName == "" {
		return ErrProfileUnavailable
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == StateAdvertising {
		return ErrAlreadyAdvertising
	}
	if a.radio.State() != radio.StatePoweredOn {
		return radio.ErrUnavailable
	}

	encoded, err := codec.Encode(profile)
	if err != nil {
		return fmt.Errorf("encoding advertisement: %w", err)
	}
	payload := codec.ManufacturerBlock(encoded)

	opts := radio.Options{
		DeviceName:  codec.NamePrefix + profile.UserName,
		ServiceUUID: codec.ServiceUUID,
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := a.radio.Advertise(ctx, payload, opts); err != nil {
		return fmt.Errorf("%w: %v", radio.ErrUnavailable, err)
	}

	a.state = StateAdvertising
	a.session++
	session := a.session
	a.stopRefresh = make(chan struct{})

	// The countdown is armed once per session; refreshes never reset it.
	a.countdown = time.AfterFunc(a.duration, func() {
		a.expire(session)
	})

	go a.refreshLoop(session, payload, opts, a.stopRefresh)

	a.log.Info("advertising started",
		"username", profile.UserName,
		"device_name", opts.DeviceName,
		"duration", a.duration,
		"payload_len", len(payload))
	return nil
}

// refreshLoop periodically re-broadcasts the advertisement until the
// session stops.
func (a *Advertiser) refreshLoop(session uint64, payload []byte, opts radio.Options, stop <-chan struct{}) {
	ticker := time.NewTicker(a.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.mu.Lock()
			live := a.state == StateAdvertising && a.session == session
			a.mu.Unlock()
			if !live {
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			err := a.radio.Advertise(ctx, payload, opts)
			cancel()
			if err != nil {
				a.log.Warn("advertisement refresh failed", "error", err)
				continue
			}
			a.log.Debug("advertisement refreshed")
		}
	}
}

// Stop ends the session, cancels the countdown and releases the radio.
// Idempotent: calling Stop on an idle advertiser is a no-op.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

func (a *Advertiser) stopLocked() {
	if a.state != StateAdvertising {
		return
	}

	a.state = StateIdle
	a.session++
	a.countdown.Stop()
	close(a.stopRefresh)

	// The state transition above already happened; a late stop confirmation
	// from the radio layer is a no-op.
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := a.radio.StopAdvertise(ctx); err != nil {
		a.log.Warn("stopping advertisement failed", "error", err)
	}

	a.log.Info("advertising stopped")
}

// expire handles the countdown firing: identical to Stop, plus an expiry
// notification to the caller.
func (a *Advertiser) expire(session uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateAdvertising || a.session != session {
		return // stopped or restarted in the meantime
	}

	a.stopLocked()
	a.log.Info("advertising session expired")

	select {
	case a.expired <- struct{}{}:
	default:
	}
}
