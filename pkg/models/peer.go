package models

import "time"

// PlaceholderName is used for peers whose advertisement carried no decodable
// identity. Radio device IDs are not stable identities; once a real username
// is known it becomes the identity of record.
const PlaceholderName = "Unknown"

// DiscoveredPeer is a candidate receiver observed during one scan session.
type DiscoveredPeer struct {
	DeviceID       string    `json:"deviceId"`
	Name           string    `json:"deviceName"`
	UserName       string    `json:"username"`
	FullName       string    `json:"fullName"`
	UserID         string    `json:"userId,omitempty"`
	Balance        *Amount   `json:"balance,omitempty"`
	SignalStrength int       `json:"rssi"`
	ProtocolMatch  bool      `json:"protocolMatch"`
	LastSeen       time.Time `json:"lastSeen"`
}

// HasIdentity reports whether the peer carries enough decoded identity to be
// a payment target.
func (p *DiscoveredPeer) HasIdentity() bool {
	if p == nil {
		return false
	}
	if p.UserID != "" {
		return true
	}
	return p.UserName != "" && p.UserName != PlaceholderName
}
