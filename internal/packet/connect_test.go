package packet

import (
	"bytes"
	"errors"
	"testing"

	"github.com/nas-panel/telemetry-publisher/internal/mqtt"
)

func buildConnectBody(clientID string, flags byte, keepAlive uint16, extra func(w *mqtt.Writer)) []byte {
	w := (&mqtt.Writer{}).String("MQTT").Byte(0x04).Byte(flags).Uint16(keepAlive).String(clientID)
	if extra != nil {
		extra(w)
	}
	return w.Build()
}

func TestParseConnectMinimal(t *testing.T) {
	body := buildConnectBody("probe-1", 0x02, 60, nil)
	pkt := &mqtt.Packet{Header: &mqtt.FixedHeader{Type: mqtt.CONNECT}, Body: body}

	got, err := ParseConnect(pkt)
	if err != nil {
		t.Fatalf("ParseConnect: %v", err)
	}
	if got.ClientID != "probe-1" {
		t.Errorf("ClientID = %q, want probe-1", got.ClientID)
	}
	if got.KeepAlive != 60 {
		t.Errorf("KeepAlive = %d, want 60", got.KeepAlive)
	}
	if !got.Flags.CleanSession {
		t.Error("CleanSession = false, want true")
	}
	if got.Flags.WillFlag {
		t.Error("WillFlag = true, want false")
	}
}

func TestParseConnectWithWill(t *testing.T) {
	flags := byte(0x02 | 0x04 | 0x08) // clean session, will flag, will QoS 1
	body := buildConnectBody("probe-2", flags, 30, func(w *mqtt.Writer) {
		w.String("nas/probe-2/status").Bytes16([]byte("offline"))
	})
	pkt := &mqtt.Packet{Header: &mqtt.FixedHeader{Type: mqtt.CONNECT}, Body: body}

	got, err := ParseConnect(pkt)
	if err != nil {
		t.Fatalf("ParseConnect: %v", err)
	}
	if !got.Flags.WillFlag {
		t.Fatal("WillFlag = false, want true")
	}
	if got.WillTopic != "nas/probe-2/status" {
		t.Errorf("WillTopic = %q", got.WillTopic)
	}
	if !bytes.Equal(got.WillMessage, []byte("offline")) {
		t.Errorf("WillMessage = %q", got.WillMessage)
	}
	if got.Flags.WillQoS != 1 {
		t.Errorf("WillQoS = %d, want 1", got.Flags.WillQoS)
	}
}

func TestParseConnectRejectsBadProtocolName(t *testing.T) {
	body := (&mqtt.Writer{}).String("MQXX").Byte(0x04).Byte(0x02).Uint16(60).String("x").Build()
	pkt := &mqtt.Packet{Header: &mqtt.FixedHeader{Type: mqtt.CONNECT}, Body: body}

	if _, err := ParseConnect(pkt); !errors.Is(err, mqtt.ErrProtocol) {
		t.Errorf("err = %v, want ErrProtocol", err)
	}
}

func TestParseConnectRejectsBadProtocolLevel(t *testing.T) {
	body := (&mqtt.Writer{}).String("MQTT").Byte(0x03).Byte(0x02).Uint16(60).String("x").Build()
	pkt := &mqtt.Packet{Header: &mqtt.FixedHeader{Type: mqtt.CONNECT}, Body: body}

	if _, err := ParseConnect(pkt); !errors.Is(err, ErrUnacceptableProtocol) {
		t.Errorf("err = %v, want ErrUnacceptableProtocol", err)
	}
}

func TestParseConnectRejectsWillBitsWithoutWillFlag(t *testing.T) {
	body := buildConnectBody("x", 0x02|0x20, 60, nil) // will retain set, will flag clear
	pkt := &mqtt.Packet{Header: &mqtt.FixedHeader{Type: mqtt.CONNECT}, Body: body}

	if _, err := ParseConnect(pkt); !errors.Is(err, mqtt.ErrProtocol) {
		t.Errorf("err = %v, want ErrProtocol", err)
	}
}

func TestBuildConnAck(t *testing.T) {
	wire := BuildConnAck(true, Accepted)
	want := []byte{0x20, 0x02, 0x01, 0x00}
	if !bytes.Equal(wire, want) {
		t.Errorf("BuildConnAck = %x, want %x", wire, want)
	}
}
