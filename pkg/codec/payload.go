package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kabili207/flume-pay/pkg/models"
)

const (
	// MaxPayloadBytes is the hard ceiling for an encoded advertisement
	// payload. Extended advertising frames leave roughly this much room
	// after the flags and name fields.
	MaxPayloadBytes = 64

	// NamePrefix marks a device name as belonging to this application.
	NamePrefix = "Flume-"

	// ServiceUUID identifies advertisements from this application at the
	// radio layer.
	ServiceUUID = "13333333-3333-3333-3333-333333333337"

	// CompanyID is the manufacturer ID used for the manufacturer-specific
	// data block carrying the payload.
	CompanyID = 0x4C
)

var (
	ErrMalformedPayload = errors.New("malformed advertisement payload")
	ErrPayloadTooLarge  = errors.New("payload exceeds advertisement size limit")
)

// AdvertisedPayload is the decoded identity+balance record a receiving
// device embeds in its advertisements.
type AdvertisedPayload struct {
	UserID     string
	UserName   string
	FullName   string
	DeviceName string
	Balance    *models.Amount
}

// wirePayload is the canonical compact schema: a UTF-8 JSON object with
// single-letter keys. Field order here fixes the marshalled key order.
type wirePayload struct {
	UserID     string   `json:"u"`
	UserName   string   `json:"n"`
	FullName   string   `json:"f,omitempty"`
	Balance    *float64 `json:"b,omitempty"`
	DeviceName string   `json:"d,omitempty"`
}

// decodedPayload additionally accepts the legacy long-form device-name key
// emitted by early builds.
type decodedPayload struct {
	wirePayload
	LegacyDeviceName string `json:"deviceName,omitempty"`
}

// Encode serializes a profile into the compact advertisement payload. When
// the full record exceeds MaxPayloadBytes the optional fields are dropped in
// priority order (fullName first, then the device-name hint) before the
// encode fails outright.
func Encode(profile *models.UserProfile) ([]byte, error) {
	if profile == nil {
		return nil, fmt.Errorf("%w: nil profile", ErrMalformedPayload)
	}

	balance := profile.Balance.Dollars()
	wire := wirePayload{
		UserID:     profile.UserID,
		UserName:   profile.UserName,
		FullName:   profile.FullName(),
		Balance:    &balance,
		DeviceName: NamePrefix + profile.UserName,
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}
	if len(data) <= MaxPayloadBytes {
		return data, nil
	}

	// Too big: drop fullName, then the device-name hint.
	wire.FullName = ""
	if data, err = json.Marshal(wire); err != nil {
		return nil, err
	}
	if len(data) <= MaxPayloadBytes {
		return data, nil
	}

	wire.DeviceName = ""
	if data, err = json.Marshal(wire); err != nil {
		return nil, err
	}
	if len(data) <= MaxPayloadBytes {
		return data, nil
	}

	return nil, fmt.Errorf("%w: required fields need %d bytes, limit is %d",
		ErrPayloadTooLarge, len(data), MaxPayloadBytes)
}

// Decode parses advertisement bytes into an AdvertisedPayload. The input may
// carry surrounding junk (manufacturer ID bytes, padding); the first JSON
// object span is extracted. Malformed input yields ErrMalformedPayload,
// never a panic, so one bad advertisement cannot abort a scan.
func Decode(data []byte) (*AdvertisedPayload, error) {
	start := bytes.IndexByte(data, '{')
	end := bytes.LastIndexByte(data, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no JSON object found", ErrMalformedPayload)
	}

	var wire decodedPayload
	if err := json.Unmarshal(data[start:end+1], &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	p := &AdvertisedPayload{
		UserID:     wire.UserID,
		UserName:   wire.UserName,
		FullName:   wire.FullName,
		DeviceName: wire.DeviceName,
	}

	// First structurally valid device-name variant wins.
	if p.DeviceName == "" {
		p.DeviceName = wire.LegacyDeviceName
	}

	if wire.Balance != nil {
		amt, err := models.AmountFromDollars(*wire.Balance)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		p.Balance = &amt
	}

	// A device-name hint can stand in for a missing username field.
	if p.UserName == "" {
		p.UserName = UserNameFromDevice(p.DeviceName)
	}

	if p.UserID == "" && p.UserName == "" {
		return nil, fmt.Errorf("%w: no identity fields present", ErrMalformedPayload)
	}

	return p, nil
}

// ManufacturerBlock frames an encoded payload as a manufacturer-specific
// data block: the 16-bit company identifier, little endian, followed by the
// payload bytes. Decode tolerates the prefix via its brace-span extraction.
func ManufacturerBlock(payload []byte) []byte {
	block := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(block, CompanyID)
	copy(block[2:], payload)
	return block
}

// UserNameFromDevice extracts the username embedded in a "Flume-" device
// name, or returns "" when the name does not carry one.
func UserNameFromDevice(deviceName string) string {
	if rest, ok := strings.CutPrefix(deviceName, NamePrefix); ok {
		return rest
	}
	return ""
}

// MatchesName reports whether an advertised device name carries the
// application's identifying marker.
func MatchesName(deviceName string) bool {
	return strings.Contains(deviceName, strings.TrimSuffix(NamePrefix, "-"))
}

// WrapBase64 encodes a payload for carriage inside a characteristic-style
// field, which transports text rather than raw bytes.
func WrapBase64(payload []byte) string {
	return base64.StdEncoding.EncodeToString(payload)
}

// UnwrapBase64 reverses WrapBase64.
func UnwrapBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: bad base64 wrapping: %v", ErrMalformedPayload, err)
	}
	return data, nil
}
