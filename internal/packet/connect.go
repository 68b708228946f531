package packet

import (
	"fmt"

	"github.com/nas-panel/telemetry-publisher/internal/mqtt"
)

// ConnectReturnCode is the CONNACK return code (MQTT 3.1.1 §3.2.2.3).
type ConnectReturnCode byte

const (
	Accepted ConnectReturnCode = iota
	UnacceptableProtocolVersion
	IdentifierRejected
	ServerUnavailable
	BadUsernameOrPassword
	NotAuthorized
)

// ConnectFlags is the CONNECT variable header's connect flags byte
// (MQTT 3.1.1 §3.1.2.3), decoded into its constituent bits.
type ConnectFlags struct {
	UsernameFlag bool
	PasswordFlag bool
	WillRetain   bool
	WillQoS      byte
	WillFlag     bool
	CleanSession bool
}

// ConnectPacket is a fully decoded CONNECT control packet.
type ConnectPacket struct {
	Flags       ConnectFlags
	KeepAlive   int
	ClientID    string
	WillTopic   string
	WillMessage []byte
	Username    string
	Password    []byte
}

// ParseConnect decodes a CONNECT packet's body. MQTT 3.1.1 §3.1.3.3: the
// Will flag gates whether WillRetain/WillQoS are even present, and when the
// Will flag is clear both must be zero — that invariant is enforced here,
// before any broker-level semantics run.
func ParseConnect(pkt *mqtt.Packet) (*ConnectPacket, error) {
	r := mqtt.NewReader(pkt.Body)
	result := &ConnectPacket{}

	protocolName, err := r.String()
	if err != nil {
		return nil, fmt.Errorf("protocol name: %w", err)
	}
	if protocolName != "MQTT" {
		return nil, fmt.Errorf("%w: unexpected protocol name %q", mqtt.ErrProtocol, protocolName)
	}

	protocolLevel, err := r.Byte()
	if err != nil {
		return nil, fmt.Errorf("protocol level: %w", err)
	}
	if protocolLevel != 0x04 {
		return nil, fmt.Errorf("%w: unsupported protocol level %d", ErrUnacceptableProtocol, protocolLevel)
	}

	connectFlags, err := r.Byte()
	if err != nil {
		return nil, fmt.Errorf("connect flags: %w", err)
	}
	result.Flags = ConnectFlags{
		UsernameFlag: connectFlags&0x80 != 0,
		PasswordFlag: connectFlags&0x40 != 0,
		WillRetain:   connectFlags&0x20 != 0,
		WillQoS:      (connectFlags & 0x18) >> 3,
		WillFlag:     connectFlags&0x04 != 0,
		CleanSession: connectFlags&0x02 != 0,
	}
	if connectFlags&0x01 != 0 {
		return nil, fmt.Errorf("%w: connect flags reserved bit is set", mqtt.ErrProtocol)
	}
	if !result.Flags.WillFlag && (result.Flags.WillRetain || result.Flags.WillQoS != 0) {
		return nil, fmt.Errorf("%w: will retain/QoS set without will flag", mqtt.ErrProtocol)
	}
	if result.Flags.WillQoS == 3 {
		return nil, fmt.Errorf("%w: will QoS must not be 3", mqtt.ErrProtocol)
	}

	keepAlive, err := r.Uint16()
	if err != nil {
		return nil, fmt.Errorf("keep alive: %w", err)
	}
	result.KeepAlive = int(keepAlive)

	clientID, err := r.String()
	if err != nil {
		return nil, fmt.Errorf("client identifier: %w", err)
	}
	result.ClientID = clientID

	if result.Flags.WillFlag {
		willTopic, err := r.String()
		if err != nil {
			return nil, fmt.Errorf("will topic: %w", err)
		}
		result.WillTopic = willTopic

		willMessage, err := r.Bytes16()
		if err != nil {
			return nil, fmt.Errorf("will message: %w", err)
		}
		result.WillMessage = willMessage
	}

	if result.Flags.UsernameFlag {
		username, err := r.String()
		if err != nil {
			return nil, fmt.Errorf("username: %w", err)
		}
		result.Username = username
	}

	if result.Flags.PasswordFlag {
		password, err := r.Bytes16()
		if err != nil {
			return nil, fmt.Errorf("password: %w", err)
		}
		result.Password = password
	}

	return result, nil
}

// BuildConnAck encodes a CONNACK packet (MQTT 3.1.1 §3.2).
func BuildConnAck(sessionPresent bool, code ConnectReturnCode) []byte {
	var flags byte
	if sessionPresent {
		flags = 0x01
	}
	body := (&mqtt.Writer{}).Byte(flags).Byte(byte(code)).Build()
	return mqtt.Encode(mqtt.CONNACK, 0x00, body)
}
