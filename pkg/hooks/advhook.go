// Package hooks contains broker-side hooks for the embedded MQTT broker
// used by the advertisement bridge.
package hooks

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/kabili207/flume-pay/pkg/codec"
)

const advTopicPrefix = "flume/adv/"

// BridgedDevice is one device currently publishing through the bridge.
type BridgedDevice struct {
	DeviceID string
	ClientID string
	LastSeen time.Time
}

// AdvHookOptions contains configuration settings for the hook.
type AdvHookOptions struct {
	Server *mqtt.Server
}

// AdvHook polices the flume/adv tree: frames must be well-formed and a
// client may only publish under its own device ID. It also tracks which
// devices are currently bridged, for diagnostics.
type AdvHook struct {
	mqtt.HookBase
	config     *AdvHookOptions
	devices    map[string]*BridgedDevice
	deviceLock sync.RWMutex
}

func (h *AdvHook) ID() string {
	return "flume-adv-hook"
}

func (h *AdvHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnect,
		mqtt.OnDisconnect,
		mqtt.OnPublish,
	}, []byte{b})
}

func (h *AdvHook) Init(config any) error {
	h.devices = make(map[string]*BridgedDevice)
	if config == nil {
		h.config = &AdvHookOptions{}
		return nil
	}
	opts, ok := config.(*AdvHookOptions)
	if !ok {
		return mqtt.ErrInvalidConfigType
	}
	h.config = opts
	return nil
}

func (h *AdvHook) OnConnect(cl *mqtt.Client, pk packets.Packet) error {
	h.Log.Info("client connected", "client", cl.ID)
	return nil
}

func (h *AdvHook) OnDisconnect(cl *mqtt.Client, err error, expire bool) {
	h.deviceLock.Lock()
	for id, d := range h.devices {
		if d.ClientID == cl.ID {
			delete(h.devices, id)
		}
	}
	h.deviceLock.Unlock()
	if err != nil {
		h.Log.Info("client disconnected", "client", cl.ID, "expire", expire, "error", err)
	} else {
		h.Log.Info("client disconnected", "client", cl.ID, "expire", expire)
	}
}

func (h *AdvHook) OnPublish(cl *mqtt.Client, pk packets.Packet) (packets.Packet, error) {
	if !strings.HasPrefix(pk.TopicName, advTopicPrefix) {
		return pk, nil
	}

	deviceID := strings.TrimPrefix(pk.TopicName, advTopicPrefix)
	if deviceID == "" || strings.ContainsAny(deviceID, "/#+") {
		h.Log.Warn("rejecting publish to malformed bridge topic", "client", cl.ID, "topic", pk.TopicName)
		return pk, packets.ErrTopicNameInvalid
	}

	// A device owns exactly one topic, keyed by the client ID the radio
	// layer connects with.
	if cl.ID != "flume-"+deviceID {
		h.Log.Warn("rejecting publish to foreign device topic", "client", cl.ID, "topic", pk.TopicName)
		return pk, packets.ErrNotAuthorized
	}

	// An empty payload clears the retained frame on stop.
	if len(pk.Payload) == 0 {
		h.deviceLock.Lock()
		delete(h.devices, deviceID)
		h.deviceLock.Unlock()
		return pk, nil
	}

	if err := validateFrame(pk.Payload); err != nil {
		h.Log.Error("rejecting malformed bridge frame", "client", cl.ID, "error", err)
		return pk, packets.ErrPayloadFormatInvalid
	}

	h.deviceLock.Lock()
	h.devices[deviceID] = &BridgedDevice{
		DeviceID: deviceID,
		ClientID: cl.ID,
		LastSeen: time.Now(),
	}
	h.deviceLock.Unlock()

	return pk, nil
}

// BridgedDevices lists the devices with a live advertisement frame.
func (h *AdvHook) BridgedDevices() []BridgedDevice {
	h.deviceLock.RLock()
	defer h.deviceLock.RUnlock()
	out := make([]BridgedDevice, 0, len(h.devices))
	for _, d := range h.devices {
		out = append(out, *d)
	}
	return out
}

func validateFrame(payload []byte) error {
	frame, err := codec.ParseBridgeFrame(payload)
	if err != nil {
		return err
	}
	if frame.DeviceID == "" {
		return fmt.Errorf("frame is missing the device ID")
	}
	if frame.Payload != "" {
		if _, err := codec.UnwrapBase64(frame.Payload); err != nil {
			return fmt.Errorf("frame payload is not valid base64: %w", err)
		}
	}
	return nil
}
