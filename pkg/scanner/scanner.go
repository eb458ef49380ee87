// Package scanner owns the sending device's discovery lifecycle: run a
// bounded radio scan, decode incoming advertisements into candidate peer
// records, and feed the peer registry.
package scanner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kabili207/flume-pay/pkg/codec"
	"github.com/kabili207/flume-pay/pkg/models"
	"github.com/kabili207/flume-pay/pkg/peers"
	"github.com/kabili207/flume-pay/pkg/radio"
)

const (
	// DefaultDuration bounds one scan session.
	DefaultDuration = 20 * time.Second

	opTimeout = 3 * time.Second
)

var ErrAlreadyScanning = errors.New("scan session already running")

// State of the scanner lifecycle.
type State int

const (
	StateIdle State = iota
	StateScanning
)

func (s State) String() string {
	if s == StateScanning {
		return "scanning"
	}
	return "idle"
}

// Reason explains why a scan session ended.
type Reason int

const (
	ReasonStopped Reason = iota
	ReasonTimeout
	ReasonNoPeers
)

func (r Reason) String() string {
	switch r {
	case ReasonTimeout:
		return "timeout"
	case ReasonNoPeers:
		return "no_peers_found"
	default:
		return "stopped"
	}
}

// Result summarizes a finished scan session.
type Result struct {
	Reason Reason `json:"reason"`
	Peers  int    `json:"peers"`
}

// Options configure a Scanner.
type Options struct {
	Radio    radio.Radio
	Registry *peers.Registry
	Duration time.Duration
}

// Scanner runs one scan session at a time. The registry it feeds survives
// Stop so the user can still pick a peer from the last snapshot.
type Scanner struct {
	radio    radio.Radio
	registry *peers.Registry
	duration time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	state   State
	session uint64
	timer   *time.Timer
	done    chan Result
}

func New(opts Options) *Scanner {
	s := &Scanner{
		radio:    opts.Radio,
		registry: opts.Registry,
		duration: opts.Duration,
		log:      slog.With("component", "scanner"),
	}
	if s.duration <= 0 {
		s.duration = DefaultDuration
	}
	if s.registry == nil {
		s.registry = peers.NewRegistry()
	}
	return s
}

// Registry exposes the peer table fed by this scanner.
func (s *Scanner) Registry() *peers.Registry {
	return s.registry
}

// State reports the current lifecycle state.
func (s *Scanner) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done returns the completion channel for the current (or last started)
// session. One Result is delivered per session.
func (s *Scanner) Done() <-chan Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Start clears the registry and begins a new scan session bounded by the
// configured duration.
func (s *Scanner) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateScanning {
		return ErrAlreadyScanning
	}
	if s.radio.State() != radio.StatePoweredOn {
		return radio.ErrUnavailable
	}

	s.registry.Clear()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	events, err := s.radio.Scan(ctx, radio.Filter{
		ServiceUUID:     codec.ServiceUUID,
		AllowDuplicates: true,
	})
	if err != nil {
		return err
	}

	s.state = StateScanning
	s.session++
	session := s.session
	s.done = make(chan Result, 1)

	s.timer = time.AfterFunc(s.duration, func() {
		s.finish(session, ReasonTimeout)
	})

	go s.dispatch(session, events)

	s.log.Info("scan started", "duration", s.duration)
	return nil
}

// Stop ends the session; the registry keeps its last snapshot. Idempotent.
func (s *Scanner) Stop() {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	s.finish(session, ReasonStopped)
}

// dispatch is the single consumer of the radio event stream. Observations
// are applied in delivery order; events for a stale session are discarded.
func (s *Scanner) dispatch(session uint64, events <-chan radio.Event) {
	for ev := range events {
		s.handleEvent(session, ev)
	}
}

func (s *Scanner) handleEvent(session uint64, ev radio.Event) {
	s.mu.Lock()
	live := s.state == StateScanning && s.session == session
	s.mu.Unlock()
	if !live {
		return // late event after stop/timeout
	}

	match := codec.MatchesName(ev.Name) || (ev.ServiceUUID != "" && ev.ServiceUUID == codec.ServiceUUID)

	obs := models.DiscoveredPeer{
		DeviceID:       ev.DeviceID,
		Name:           ev.Name,
		UserName:       models.PlaceholderName,
		SignalStrength: ev.RSSI,
		ProtocolMatch:  match,
		LastSeen:       ev.At,
	}
	if obs.LastSeen.IsZero() {
		obs.LastSeen = time.Now()
	}

	if match {
		// The name marker alone identifies the peer when no payload (or an
		// undecodable one) is carried.
		if name := codec.UserNameFromDevice(ev.Name); name != "" {
			obs.UserName = name
			obs.FullName = name
		}
	}

	if len(ev.ManufacturerData) > 0 {
		payload, err := codec.Decode(ev.ManufacturerData)
		switch {
		case err != nil:
			// Keep the device visible for diagnostics, but never as a
			// payment target.
			s.log.Debug("discarding undecodable advertisement",
				"device", ev.DeviceID, "name", ev.Name, "error", err)
			obs.ProtocolMatch = false
			obs.UserName = models.PlaceholderName
			obs.FullName = ""
		default:
			if payload.UserName != "" {
				obs.UserName = payload.UserName
			}
			if payload.FullName != "" {
				obs.FullName = payload.FullName
			} else if obs.FullName == "" {
				obs.FullName = obs.UserName
			}
			obs.UserID = payload.UserID
			obs.Balance = payload.Balance
		}
	}

	s.registry.Upsert(obs)

	s.log.Debug("advertisement observed",
		"device", ev.DeviceID,
		"name", ev.Name,
		"rssi", ev.RSSI,
		"match", obs.ProtocolMatch,
		"username", obs.UserName)
}

// finish ends the named session exactly once. The countdown firing always
// wins over in-flight radio operations; a late stop confirmation from the
// radio layer is a no-op.
func (s *Scanner) finish(session uint64, reason Reason) {
	s.mu.Lock()

	if s.state != StateScanning || s.session != session {
		s.mu.Unlock()
		return
	}

	s.state = StateIdle
	s.session++
	s.timer.Stop()
	done := s.done
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := s.radio.StopScan(ctx); err != nil {
		s.log.Warn("stopping scan failed", "error", err)
	}

	result := Result{Reason: reason, Peers: s.registry.Len()}
	if reason == ReasonTimeout && s.registry.MatchingLen() == 0 {
		result.Reason = ReasonNoPeers
	}

	select {
	case done <- result:
	default:
	}

	s.log.Info("scan finished", "reason", result.Reason.String(), "peers", result.Peers)
}
