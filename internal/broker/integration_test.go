package broker

import (
	"net"
	"testing"
	"time"

	"github.com/nas-panel/telemetry-publisher/internal/mqtt"
	"github.com/nas-panel/telemetry-publisher/internal/packet"
)

// startTestBroker launches a Broker on an ephemeral loopback port and
// returns its address, polling Addr() until ListenAndServe has bound it.
func startTestBroker(t *testing.T) (*Broker, string) {
	t.Helper()
	b := New()
	go func() {
		if err := b.ListenAndServe(0); err != nil {
			t.Logf("ListenAndServe: %v", err)
		}
	}()
	t.Cleanup(b.Shutdown)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if addr := b.Addr(); addr != nil {
			return b, addr.String()
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("broker never bound a listener")
	return nil, ""
}

func buildConnect(clientID string, cleanSession bool, keepAlive uint16) []byte {
	var flags byte
	if cleanSession {
		flags |= 0x02
	}
	body := (&mqtt.Writer{}).String("MQTT").Byte(0x04).Byte(flags).Uint16(keepAlive).String(clientID).Build()
	return mqtt.Encode(mqtt.CONNECT, 0x00, body)
}

func buildSubscribe(packetID uint16, topicFilter string, qos byte) []byte {
	body := (&mqtt.Writer{}).Uint16(packetID).String(topicFilter).Byte(qos).Build()
	return mqtt.Encode(mqtt.SUBSCRIBE, 0x02, body)
}

func readPacket(t *testing.T, conn net.Conn) *mqtt.Packet {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	pkt, err := mqtt.Decode(conn)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return pkt
}

// TestHandshakeAndSubscribe drives scenario 1/2 of the testable-properties
// list over a real socket: CONNECT gets a CONNACK, and SUBSCRIBE gets a
// SUBACK with the granted QoS.
func TestHandshakeAndSubscribe(t *testing.T) {
	_, addr := startTestBroker(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write(buildConnect("itest-handshake", true, 60)); err != nil {
		t.Fatalf("write CONNECT: %v", err)
	}
	connack := readPacket(t, conn)
	if connack.Header.Type != mqtt.CONNACK {
		t.Fatalf("got %s, want CONNACK", connack.Header.Type)
	}
	if connack.Body[1] != byte(packet.Accepted) {
		t.Fatalf("CONNACK return code = %d, want Accepted", connack.Body[1])
	}

	if _, err := conn.Write(buildSubscribe(1, "nas/panel/data", 1)); err != nil {
		t.Fatalf("write SUBSCRIBE: %v", err)
	}
	suback := readPacket(t, conn)
	if suback.Header.Type != mqtt.SUBACK {
		t.Fatalf("got %s, want SUBACK", suback.Header.Type)
	}
	if len(suback.Body) != 3 || suback.Body[2] != byte(packet.GrantedQoS1) {
		t.Fatalf("SUBACK body = %x, want packetID=1 with granted QoS 1", suback.Body)
	}
}

// TestQoS1PublishAckRoundTrip exercises scenario 2's tail and the PUBACK
// handling the review flagged as missing: a subscriber that correctly
// PUBACKs a QoS-1 delivery must stay connected, not get disconnected for
// sending an "unsupported" packet type.
func TestQoS1PublishAckRoundTrip(t *testing.T) {
	b, addr := startTestBroker(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write(buildConnect("itest-qos1", true, 60)); err != nil {
		t.Fatalf("write CONNECT: %v", err)
	}
	readPacket(t, conn) // CONNACK

	if _, err := conn.Write(buildSubscribe(1, "nas/panel/data", 1)); err != nil {
		t.Fatalf("write SUBSCRIBE: %v", err)
	}
	readPacket(t, conn) // SUBACK

	if err := b.Publish("nas/panel/data", []byte(`{"n":1}`), 1, false); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	pub := readPacket(t, conn)
	if pub.Header.Type != mqtt.PUBLISH {
		t.Fatalf("got %s, want PUBLISH", pub.Header.Type)
	}
	got, err := packet.ParsePublish(pub)
	if err != nil {
		t.Fatalf("ParsePublish: %v", err)
	}

	if _, err := conn.Write(packet.BuildPubAck(got.PacketID)); err != nil {
		t.Fatalf("write PUBACK: %v", err)
	}

	// A second publish must still arrive: acking the first did not get
	// this connection disconnected.
	if err := b.Publish("nas/panel/data", []byte(`{"n":2}`), 1, false); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	second := readPacket(t, conn)
	if second.Header.Type != mqtt.PUBLISH {
		t.Fatalf("got %s after PUBACK, want PUBLISH (connection should stay up)", second.Header.Type)
	}
}

// TestEmptyClientIDWithPersistentSessionRejected drives spec.md §8's
// boundary case: an empty client identifier is only auto-assignable when
// CleanSession is set. A persistent session with no client identifier
// must be rejected with IdentifierRejected, not silently given a UUID.
func TestEmptyClientIDWithPersistentSessionRejected(t *testing.T) {
	_, addr := startTestBroker(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write(buildConnect("", false, 60)); err != nil {
		t.Fatalf("write CONNECT: %v", err)
	}
	connack := readPacket(t, conn)
	if connack.Header.Type != mqtt.CONNACK {
		t.Fatalf("got %s, want CONNACK", connack.Header.Type)
	}
	if connack.Body[1] != byte(packet.IdentifierRejected) {
		t.Fatalf("CONNACK return code = %d, want IdentifierRejected", connack.Body[1])
	}

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("expected the connection to be closed after IdentifierRejected")
	}
}

// TestTakeOverClosesPriorConnection drives scenario 5: a second CONNECT
// with the same client identifier forces the first connection closed.
func TestTakeOverClosesPriorConnection(t *testing.T) {
	_, addr := startTestBroker(t)

	first, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer first.Close()
	if _, err := first.Write(buildConnect("itest-takeover", true, 60)); err != nil {
		t.Fatalf("write CONNECT: %v", err)
	}
	readPacket(t, first) // CONNACK

	second, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer second.Close()
	if _, err := second.Write(buildConnect("itest-takeover", true, 60)); err != nil {
		t.Fatalf("write CONNECT: %v", err)
	}
	readPacket(t, second) // CONNACK

	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := first.Read(buf); err == nil {
		t.Fatal("expected the superseded connection to be closed, read succeeded instead")
	}
}

// TestTakeOverPreservesNewSubscriptions guards against the stale-teardown
// race: the superseded connection's own teardown must not run after the
// new connection has subscribed and strip its subscriptions out of the
// router.
func TestTakeOverPreservesNewSubscriptions(t *testing.T) {
	b, addr := startTestBroker(t)

	first, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if _, err := first.Write(buildConnect("itest-takeover-subs", true, 60)); err != nil {
		t.Fatalf("write CONNECT: %v", err)
	}
	readPacket(t, first) // CONNACK

	second, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer second.Close()
	if _, err := second.Write(buildConnect("itest-takeover-subs", true, 60)); err != nil {
		t.Fatalf("write CONNECT: %v", err)
	}
	readPacket(t, second) // CONNACK

	if _, err := second.Write(buildSubscribe(1, "nas/panel/data", 1)); err != nil {
		t.Fatalf("write SUBSCRIBE: %v", err)
	}
	readPacket(t, second) // SUBACK

	// Give the superseded first connection's read loop time to observe
	// its Close() and run teardown before publishing.
	time.Sleep(200 * time.Millisecond)

	if err := b.Publish("nas/panel/data", []byte(`{"n":1}`), 1, false); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	pub := readPacket(t, second)
	if pub.Header.Type != mqtt.PUBLISH {
		t.Fatalf("got %s, want PUBLISH delivered to the session that took over", pub.Header.Type)
	}
}
