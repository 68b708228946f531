package packet

import (
	"fmt"

	"github.com/nas-panel/telemetry-publisher/internal/mqtt"
)

// PublishPacket is a fully decoded PUBLISH control packet.
type PublishPacket struct {
	Duplicate bool
	QoS       byte
	Retain    bool
	TopicName string
	PacketID  uint16
	Payload   []byte
}

// ParsePublish decodes a PUBLISH packet's variable header and payload. QoS
// is read straight off the fixed header flags; QoS 3 is a reserved
// combination and is rejected here rather than silently degraded (MQTT
// 3.1.1 §4.8). This broker does not implement the QoS-2 PUBREC/PUBREL/
// PUBCOMP handshake, so QoS 2 is rejected the same way rather than being
// silently downgraded or routed without acknowledgement.
func ParsePublish(pkt *mqtt.Packet) (*PublishPacket, error) {
	result := &PublishPacket{
		Duplicate: pkt.Header.Flags&0x08 != 0,
		QoS:       (pkt.Header.Flags & 0x06) >> 1,
		Retain:    pkt.Header.Flags&0x01 != 0,
	}

	if result.QoS == 3 {
		return nil, fmt.Errorf("%w: PUBLISH QoS must not be 3", mqtt.ErrProtocol)
	}
	if result.QoS == 2 {
		return nil, fmt.Errorf("%w: PUBLISH QoS 2 is not supported by this broker", mqtt.ErrProtocol)
	}
	if result.QoS == 0 && result.Duplicate {
		return nil, fmt.Errorf("%w: DUP must be 0 when QoS is 0", mqtt.ErrProtocol)
	}

	r := mqtt.NewReader(pkt.Body)

	topicName, err := r.String()
	if err != nil {
		return nil, fmt.Errorf("topic name: %w", err)
	}
	if len(topicName) == 0 {
		return nil, fmt.Errorf("%w: topic name must not be empty", mqtt.ErrProtocol)
	}
	result.TopicName = topicName

	if result.QoS > 0 {
		packetID, err := r.Uint16()
		if err != nil {
			return nil, fmt.Errorf("packet identifier: %w", err)
		}
		result.PacketID = packetID
	}

	result.Payload = r.Rest()
	return result, nil
}

// BuildPublish encodes a PUBLISH packet for delivery to a subscriber.
// packetID is ignored when qos is 0.
func BuildPublish(topic string, packetID uint16, qos byte, retain bool, duplicate bool, payload []byte) []byte {
	var flags byte
	if duplicate {
		flags |= 0x08
	}
	flags |= qos << 1
	if retain {
		flags |= 0x01
	}

	w := (&mqtt.Writer{}).String(topic)
	if qos > 0 {
		w.Uint16(packetID)
	}
	w.Bytes(payload)

	return mqtt.Encode(mqtt.PUBLISH, flags, w.Build())
}

// BuildPubAck encodes a PUBACK packet acknowledging a QoS 1 PUBLISH.
func BuildPubAck(packetID uint16) []byte {
	body := (&mqtt.Writer{}).Uint16(packetID).Build()
	return mqtt.Encode(mqtt.PUBACK, 0x00, body)
}

// ParsePubAck decodes an inbound PUBACK's packet identifier, acknowledging
// one of this session's in-flight QoS-1 deliveries.
func ParsePubAck(pkt *mqtt.Packet) (uint16, error) {
	r := mqtt.NewReader(pkt.Body)
	packetID, err := r.Uint16()
	if err != nil {
		return 0, fmt.Errorf("packet identifier: %w", err)
	}
	return packetID, nil
}
