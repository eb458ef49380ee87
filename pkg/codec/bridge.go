package codec

import (
	"encoding/json"
	"fmt"
)

// BridgeFrame is the JSON frame carried on the MQTT bridge topic. The
// advertisement payload is base64-wrapped, matching characteristic-style
// carriage.
type BridgeFrame struct {
	DeviceID    string `json:"id"`
	Name        string `json:"name"`
	ServiceUUID string `json:"uuid,omitempty"`
	Payload     string `json:"md,omitempty"`
	RSSI        *int   `json:"rssi,omitempty"`
}

// ParseBridgeFrame decodes one bridge frame.
func ParseBridgeFrame(data []byte) (*BridgeFrame, error) {
	var frame BridgeFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return &frame, nil
}
