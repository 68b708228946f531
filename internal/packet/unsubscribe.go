package packet

import (
	"fmt"

	"github.com/nas-panel/telemetry-publisher/internal/mqtt"
)

// UnsubscribePacket is a fully decoded UNSUBSCRIBE control packet.
type UnsubscribePacket struct {
	PacketID     uint16
	TopicFilters []string
}

// ParseUnsubscribe decodes an UNSUBSCRIBE packet.
func ParseUnsubscribe(pkt *mqtt.Packet) (*UnsubscribePacket, error) {
	r := mqtt.NewReader(pkt.Body)
	result := &UnsubscribePacket{}

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
		result.TopicFilters = append(result.TopicFilters, topicFilter)
	}

	if len(result.TopicFilters) == 0 {
		return nil, fmt.Errorf("%w: UNSUBSCRIBE must carry at least one topic filter", mqtt.ErrProtocol)
	}

	return result, nil
}

// BuildUnsubAck encodes an UNSUBACK (MQTT 3.1.1 §3.11, no payload beyond
// the packet identifier).
func BuildUnsubAck(packetID uint16) []byte {
	body := (&mqtt.Writer{}).Uint16(packetID).Build()
	return mqtt.Encode(mqtt.UNSUBACK, 0x00, body)
}
