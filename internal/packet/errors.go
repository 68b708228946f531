package packet

import "errors"

// ErrUnacceptableProtocol signals a CONNECT naming a protocol level this
// broker doesn't speak (only MQTT 3.1.1 / level 0x04 is supported). The
// broker's connection handler maps this to a CONNACK carrying UnacceptableProtocolVersion
// before closing the connection (MQTT 3.1.1 §3.2.2.3).
var ErrUnacceptableProtocol = errors.New("packet: unacceptable protocol version")
