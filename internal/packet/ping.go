package packet

// BuildPingResp encodes a PINGRESP packet (MQTT 3.1.1 §3.13).
func BuildPingResp() []byte {
	return []byte{0xD0, 0x00}
}
