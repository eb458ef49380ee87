// Package peers holds the in-memory table of candidate peers accumulated
// during one scan session.
package peers

import (
	"sort"
	"sync"

	"github.com/kabili207/flume-pay/pkg/models"
)

// Registry is the scan-session peer table. It is keyed by radio-layer
// device ID, but once a real username has been decoded that username is the
// identity of record: the same username under a different device ID is a
// duplicate sighting, not a new peer.
type Registry struct {
	mu       sync.RWMutex
	byDevice map[string]*models.DiscoveredPeer
	onChange func()
}

func NewRegistry() *Registry {
	return &Registry{
		byDevice: make(map[string]*models.DiscoveredPeer),
	}
}

// SetOnChange registers a callback invoked after every mutation. Used to
// drive the SSE peer stream.
func (r *Registry) SetOnChange(fn func()) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Upsert records an observation, merging into an existing entry when the
// device or identity is already known. Merge rule: newly decoded
// non-placeholder fields overwrite placeholders; signal strength and
// last-seen always take the latest observation.
func (r *Registry) Upsert(obs models.DiscoveredPeer) {
	r.mu.Lock()

	target := r.byDevice[obs.DeviceID]
	if obs.UserName != "" && obs.UserName != models.PlaceholderName {
		// Dedup by identity: another device ID already claiming this
		// username is the same peer seen through a different radio handle.
		for _, p := range r.byDevice {
			if p == target || p.UserName != obs.UserName {
				continue
			}
			if target != nil {
				// The observing device was first recorded as a placeholder
				// and its identity only now resolved to a peer already
				// tracked under another device ID. Collapse the sightings.
				delete(r.byDevice, target.DeviceID)
			}
			target = p
			break
		}
	}

	if target == nil {
		p := obs
		if p.UserName == "" {
			p.UserName = models.PlaceholderName
		}
		if p.FullName == "" {
			p.FullName = models.PlaceholderName
		}
		r.byDevice[p.DeviceID] = &p
	} else {
		merge(target, &obs)
	}

	fn := r.onChange
	r.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func merge(dst, src *models.DiscoveredPeer) {
	dst.SignalStrength = src.SignalStrength
	dst.LastSeen = src.LastSeen
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.HasIdentity() {
		if src.UserName != "" && src.UserName != models.PlaceholderName {
			dst.UserName = src.UserName
		}
		if src.UserID != "" {
			dst.UserID = src.UserID
		}
	}
	if src.FullName != "" && src.FullName != models.PlaceholderName {
		dst.FullName = src.FullName
	}
	if src.Balance != nil {
		b := *src.Balance
		dst.Balance = &b
	}
	if src.ProtocolMatch {
		dst.ProtocolMatch = true
	}
}

// Get returns a copy of the entry for a device ID.
func (r *Registry) Get(deviceID string) (models.DiscoveredPeer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byDevice[deviceID]
	if !ok {
		return models.DiscoveredPeer{}, false
	}
	return *p, true
}

// List returns an ordered snapshot: protocol-matching peers first, then by
// signal strength descending within each group.
func (r *Registry) List() []models.DiscoveredPeer {
	r.mu.RLock()
	out := make([]models.DiscoveredPeer, 0, len(r.byDevice))
	for _, p := range r.byDevice {
		out = append(out, *p)
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ProtocolMatch != out[j].ProtocolMatch {
			return out[i].ProtocolMatch
		}
		return out[i].SignalStrength > out[j].SignalStrength
	})
	return out
}

// Len reports the number of tracked peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byDevice)
}

// MatchingLen reports the number of protocol-matching peers.
func (r *Registry) MatchingLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, p := range r.byDevice {
		if p.ProtocolMatch {
			n++
		}
	}
	return n
}

// Clear evicts every entry. Called at the start of each scan session.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.byDevice = make(map[string]*models.DiscoveredPeer)
	fn := r.onChange
	r.mu.Unlock()

	if fn != nil {
		fn()
	}
}
