package packet

// BuildDisconnect encodes a DISCONNECT packet (MQTT 3.1.1 §3.14). The
// broker never sends one to a client — MQTT 3.1.1 defines DISCONNECT as
// client-to-server only — and the External Client mode disconnects through
// the paho library instead, so nothing in this repository sends it.
func BuildDisconnect() []byte {
	return []byte{0xE0, 0x00}
}
