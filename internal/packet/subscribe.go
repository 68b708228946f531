package packet

import (
	"fmt"

	"github.com/nas-panel/telemetry-publisher/internal/mqtt"
)

// SubscribeReturnCode is one byte of a SUBACK's payload (MQTT 3.1.1 §3.9.3).
type SubscribeReturnCode byte

const (
	GrantedQoS0      SubscribeReturnCode = 0x00
	GrantedQoS1      SubscribeReturnCode = 0x01
	SubscribeFailure SubscribeReturnCode = 0x80
)

// SubscribePacket is a fully decoded SUBSCRIBE control packet.
type SubscribePacket struct {
	PacketID      uint16
	Subscriptions []Subscription
}

// ParseSubscribe decodes a SUBSCRIBE packet. §3.8.3 requires at least one
// topic filter; zero is a protocol error, not an empty subscription list.
func ParseSubscribe(pkt *mqtt.Packet) (*SubscribePacket, error) {
	r := mqtt.NewReader(pkt.Body)
	result := &SubscribePacket{}

	packetID, err := r.Uint16()
	if err != nil {
		return nil, fmt.Errorf("packet identifier: %w", err)
	}
	result.PacketID = packetID

	for r.Remaining() > 0 {
		topicFilter, err := r.String()
		if err != nil {
			return nil, fmt.Errorf("topic filter: %w", err)
		}
		qosByte, err := r.Byte()
		if err != nil {
			return nil, fmt.Errorf("requested QoS: %w", err)
		}
		qos := qosByte & 0x03
		if qos == 3 {
			return nil, fmt.Errorf("%w: requested QoS must not be 3", mqtt.ErrProtocol)
		}
		result.Subscriptions = append(result.Subscriptions, Subscription{
			TopicFilter:  topicFilter,
			RequestedQoS: qos,
		})
	}

	if len(result.Subscriptions) == 0 {
		return nil, fmt.Errorf("%w: SUBSCRIBE must carry at least one topic filter", mqtt.ErrProtocol)
	}

	return result, nil
}

// BuildSubAck encodes a SUBACK carrying one return code per requested
// subscription, in the order they were requested.
func BuildSubAck(packetID uint16, codes []SubscribeReturnCode) []byte {
	w := (&mqtt.Writer{}).Uint16(packetID)
	for _, c := range codes {
		w.Byte(byte(c))
	}
	return mqtt.Encode(mqtt.SUBACK, 0x00, w.Build())
}
