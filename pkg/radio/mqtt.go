package radio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kabili207/flume-pay/pkg/codec"
)

const (
	advTopicPrefix = "flume/adv/"
	advQoS         = 0

	// RSSI reported for adverts observed over the bridge. The bridge has no
	// physical signal measurement, so every peer ranks equally.
	bridgeRSSI = -50

	connectTimeout = 5 * time.Second
)

// MQTTRadio bridges advertisements over an MQTT broker so devices on one
// LAN can discover each other without a physical short-range radio. Each
// device publishes its advert frame to flume/adv/{deviceID}; a scan
// subscribes to flume/adv/+.
type MQTTRadio struct {
	client   mqtt.Client
	deviceID string
	log      *slog.Logger

	mu       sync.Mutex
	scanning bool
	events   chan Event
}

var _ Radio = (*MQTTRadio)(nil)

// NewMQTT connects to the broker and returns a bridge radio for deviceID.
func NewMQTT(brokerURL, deviceID string) (*MQTTRadio, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID("flume-" + deviceID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); !token.WaitTimeout(connectTimeout) || token.Error() != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("%w: broker %s: %v", ErrUnavailable, brokerURL, token.Error())
	}

	return &MQTTRadio{
		client:   client,
		deviceID: deviceID,
		log:      slog.With("component", "mqtt-radio", "device_id", deviceID),
	}, nil
}

func (r *MQTTRadio) State() State {
	if r.client.IsConnectionOpen() {
		return StatePoweredOn
	}
	return StatePoweredOff
}

func (r *MQTTRadio) Advertise(ctx context.Context, payload []byte, opts Options) error {
	if !r.client.IsConnectionOpen() {
		return ErrUnavailable
	}

	frame := codec.BridgeFrame{
		DeviceID:    r.deviceID,
		Name:        opts.DeviceName,
		ServiceUUID: opts.ServiceUUID,
		Payload:     codec.WrapBase64(payload),
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	token := r.client.Publish(advTopicPrefix+r.deviceID, advQoS, true, data)
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("%w: publish timed out", ErrUnavailable)
	}
	return token.Error()
}

func (r *MQTTRadio) StopAdvertise(ctx context.Context) error {
	if !r.client.IsConnectionOpen() {
		return nil
	}
	// Clear the retained frame so stopped devices vanish from fresh scans.
	token := r.client.Publish(advTopicPrefix+r.deviceID, advQoS, true, []byte{})
	token.WaitTimeout(connectTimeout)
	return token.Error()
}

func (r *MQTTRadio) Scan(ctx context.Context, filter Filter) (<-chan Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.client.IsConnectionOpen() {
		return nil, ErrUnavailable
	}
	if r.scanning {
		return r.events, nil
	}

	events := make(chan Event, 32)
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		if len(msg.Payload()) == 0 {
			return // cleared retained frame
		}

		frame, err := codec.ParseBridgeFrame(msg.Payload())
		if err != nil {
			r.log.Debug("dropping malformed bridge frame", "topic", msg.Topic(), "error", err)
			return
		}
		if frame.DeviceID == r.deviceID {
			return // our own advertisement
		}
		if filter.ServiceUUID != "" && frame.ServiceUUID != "" && frame.ServiceUUID != filter.ServiceUUID {
			return
		}

		ev := Event{
			DeviceID:    frame.DeviceID,
			Name:        frame.Name,
			ServiceUUID: frame.ServiceUUID,
			RSSI:        bridgeRSSI,
			At:          time.Now(),
		}
		if frame.RSSI != nil {
			ev.RSSI = *frame.RSSI
		}
		if frame.Payload != "" {
			data, err := codec.UnwrapBase64(frame.Payload)
			if err != nil {
				r.log.Debug("dropping frame with bad payload wrapping", "device", frame.DeviceID, "error", err)
				return
			}
			ev.ManufacturerData = data
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if !r.scanning {
			return
		}
		select {
		case r.events <- ev:
		default:
			r.log.Debug("scan consumer saturated, dropping event", "device", frame.DeviceID)
		}
	}

	token := r.client.Subscribe(advTopicPrefix+"+", advQoS, handler)
	if !token.WaitTimeout(connectTimeout) || token.Error() != nil {
		return nil, fmt.Errorf("%w: subscribe failed: %v", ErrUnavailable, token.Error())
	}

	r.scanning = true
	r.events = events
	return events, nil
}

func (r *MQTTRadio) StopScan(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.scanning {
		return nil
	}

	token := r.client.Unsubscribe(advTopicPrefix + "+")
	token.WaitTimeout(connectTimeout)

	r.scanning = false
	close(r.events)
	r.events = nil
	return token.Error()
}

// Close tears down the broker connection.
func (r *MQTTRadio) Close() {
	r.client.Disconnect(250)
}
