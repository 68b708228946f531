package broker

import (
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/nas-panel/telemetry-publisher/internal/logger"
	"github.com/nas-panel/telemetry-publisher/internal/mqtt"
	"github.com/nas-panel/telemetry-publisher/internal/packet"
	"github.com/nas-panel/telemetry-publisher/internal/session"
	uuid "github.com/satori/go.uuid"
)

// connectionHandler drives one accepted TCP connection through its CONNECT
// handshake and then its steady-state read loop, mirroring the teacher's
// ConnectionHandler split between handleFirstPacket and handlePacket.
type connectionHandler struct {
	broker *Broker
	conn   net.Conn
	connID string

	sess *session.Session
}

func newConnectionHandler(b *Broker, conn net.Conn) *connectionHandler {
	return &connectionHandler{
		broker: b,
		conn:   conn,
		connID: conn.RemoteAddr().String(),
	}
}

func isNetClosedError(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Timeout()
}

func (c *connectionHandler) handleReadError(err error) {
	switch {
	case errors.Is(err, io.EOF):
		logger.InfoF("[%s] client closed connection", c.connID)
	case os.IsTimeout(err):
		logger.WarnF("[%s] read timeout", c.connID)
	default:
		logger.ErrorF("[%s] error reading packet: %v", c.connID, err)
	}
}

func (c *connectionHandler) run() {
	defer func() {
		if err := c.conn.Close(); err != nil && !isNetClosedError(err) {
			logger.WarnF("[%s] error closing connection: %v", c.connID, err)
		}
	}()

	if !c.handleFirstPacket() {
		return
	}
	defer c.teardown()

	c.handlePackets()
}

// handleFirstPacket runs the CONNECT handshake. MQTT 3.1.1 §3.1: the first
// packet on a new connection must be CONNECT, or the connection is
// worthless and gets dropped without a response.
func (c *connectionHandler) handleFirstPacket() bool {
	_ = c.conn.SetReadDeadline(time.Now().Add(30 * time.Second))

	pkt, err := mqtt.Decode(c.conn)
	if err != nil {
		logger.WarnF("[%s] failed to read first packet: %v", c.connID, err)
		return false
	}
	if pkt.Header.Type != mqtt.CONNECT {
		logger.ErrorF("[%s] expected CONNECT, got %s", c.connID, pkt.Header.Type)
		return false
	}

	conn, err := packet.ParseConnect(pkt)
	if err != nil {
		logger.ErrorF("[%s] malformed CONNECT: %v", c.connID, err)
		if errors.Is(err, packet.ErrUnacceptableProtocol) {
			c.writeRaw(packet.BuildConnAck(false, packet.UnacceptableProtocolVersion))
		}
		return false
	}

	clientID := conn.ClientID
	if clientID == "" {
		// MQTT 3.1.1 §3.1.3.1 allows a zero-length client identifier only
		// when CleanSession is set, and requires the server to assign one
		// in that case. A persistent session (CleanSession=false) has
		// nowhere to persist a subscription state to without a stable id
		// the client can reconnect with, so it is rejected instead.
		if !conn.Flags.CleanSession {
			logger.WarnF("[%s] empty client id with CleanSession=false", c.connID)
			c.writeRaw(packet.BuildConnAck(false, packet.IdentifierRejected))
			return false
		}
		clientID = uuid.NewV4().String()
	}
	c.connID = clientID

	keepAlive := time.Duration(conn.KeepAlive) * time.Second
	sess := session.New(c.conn, clientID, keepAlive)
	if conn.Flags.WillFlag {
		sess.Will = &session.WillMessage{
			Topic:   conn.WillTopic,
			Payload: conn.WillMessage,
			QoS:     conn.Flags.WillQoS,
			Retain:  conn.Flags.WillRetain,
		}
	}
	c.sess = sess

	if prior := c.broker.register(clientID, sess); prior != nil {
		logger.InfoF("[%s] new CONNECT takes over existing session", clientID)
		_ = prior.Close()
	}

	c.send(packet.BuildConnAck(false, packet.Accepted))
	logger.InfoF("[%s] connected, keep-alive %s", clientID, keepAlive)
	return true
}

// handlePackets is the steady-state read loop after a successful CONNECT.
func (c *connectionHandler) handlePackets() {
	for {
		// MQTT 3.1.1 §3.1.2.10: the server closes the connection once
		// 1.5x the negotiated keep-alive has elapsed with nothing read.
		var deadline time.Duration
		if c.sess.KeepAlive > 0 {
			deadline = c.sess.KeepAlive + c.sess.KeepAlive/2
		}
		if deadline > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
		} else {
			_ = c.conn.SetReadDeadline(time.Time{})
		}

		pkt, err := mqtt.Decode(c.conn)
		if err != nil {
			c.handleReadError(err)
			return
		}

		switch pkt.Header.Type {
		case mqtt.CONNECT:
			logger.ErrorF("[%s] duplicate CONNECT", c.connID)
			return
		case mqtt.PUBLISH:
			if !c.handlePublish(pkt) {
				return
			}
		case mqtt.PUBACK:
			if !c.handlePubAck(pkt) {
				return
			}
		case mqtt.SUBSCRIBE:
			if !c.handleSubscribe(pkt) {
				return
			}
		case mqtt.UNSUBSCRIBE:
			if !c.handleUnsubscribe(pkt) {
				return
			}
		case mqtt.PINGREQ:
			c.send(packet.BuildPingResp())
		case mqtt.DISCONNECT:
			logger.InfoF("[%s] client disconnected cleanly", c.connID)
			c.sess.MarkCleanClose()
			return
		default:
			logger.WarnF("[%s] unsupported packet type %s", c.connID, pkt.Header.Type)
			return
		}
	}
}

func (c *connectionHandler) handlePublish(pkt *mqtt.Packet) bool {
	pub, err := packet.ParsePublish(pkt)
	if err != nil {
		logger.ErrorF("[%s] malformed PUBLISH: %v", c.connID, err)
		return false
	}

	c.broker.Publish(pub.TopicName, pub.Payload, pub.QoS, pub.Retain)

	if pub.QoS == 1 {
		c.send(packet.BuildPubAck(pub.PacketID))
	}
	return true
}

// handlePubAck retires one of this session's in-flight QoS-1 PUBLISH
// deliveries (spec §4.2: "on PUBACK, remove [from pending-ack map]").
func (c *connectionHandler) handlePubAck(pkt *mqtt.Packet) bool {
	packetID, err := packet.ParsePubAck(pkt)
	if err != nil {
		logger.ErrorF("[%s] malformed PUBACK: %v", c.connID, err)
		return false
	}
	c.sess.Ack(packetID)
	return true
}

func (c *connectionHandler) handleSubscribe(pkt *mqtt.Packet) bool {
	sub, err := packet.ParseSubscribe(pkt)
	if err != nil {
		logger.ErrorF("[%s] malformed SUBSCRIBE: %v", c.connID, err)
		return false
	}

	codes := make([]packet.SubscribeReturnCode, len(sub.Subscriptions))
	for i, s := range sub.Subscriptions {
		c.broker.router.Subscribe(s.TopicFilter, c.connID, s.RequestedQoS)
		if s.RequestedQoS == 1 {
			codes[i] = packet.GrantedQoS1
		} else {
			codes[i] = packet.GrantedQoS0
		}
	}
	c.send(packet.BuildSubAck(sub.PacketID, codes))

	for _, s := range sub.Subscriptions {
		for _, retained := range c.broker.router.MatchRetained(s.TopicFilter) {
			qos := retained.QoS
			if s.RequestedQoS < qos {
				qos = s.RequestedQoS
			}

			var packetID uint16
			if qos == 1 {
				packetID = c.sess.NextPacketID()
			}
			c.send(packet.BuildPublish(retained.Topic, packetID, qos, true, false, retained.Payload))
			if qos == 1 {
				c.sess.TrackPublish(packetID, retained.Topic, retained.Payload, qos, true)
			}
		}
	}
	return true
}

func (c *connectionHandler) handleUnsubscribe(pkt *mqtt.Packet) bool {
	unsub, err := packet.ParseUnsubscribe(pkt)
	if err != nil {
		logger.ErrorF("[%s] malformed UNSUBSCRIBE: %v", c.connID, err)
		return false
	}
	for _, filter := range unsub.TopicFilters {
		c.broker.router.Unsubscribe(filter, c.connID)
	}
	c.send(packet.BuildUnsubAck(unsub.PacketID))
	return true
}

func (c *connectionHandler) send(data []byte) {
	if err := c.sess.Enqueue(data); err != nil {
		logger.WarnF("[%s] failed to enqueue response: %v", c.connID, err)
	}
}

// writeRaw writes directly to the connection, bypassing the session's
// outbound queue. Used only for CONNACK rejections sent before a Session
// exists to enqueue through.
func (c *connectionHandler) writeRaw(data []byte) {
	if _, err := c.conn.Write(data); err != nil {
		logger.WarnF("[%s] failed to write CONNACK: %v", c.connID, err)
	}
}

// teardown runs once handlePackets returns, clean or not: it drops the
// session from the registry and the router, and publishes its Will
// message unless the client disconnected cleanly (MQTT 3.1.1 §3.1.3.3).
func (c *connectionHandler) teardown() {
	c.broker.unregister(c.connID, c.sess)

	if will := c.sess.Will; will != nil && !c.sess.CleanClose() {
		logger.InfoF("[%s] publishing will message on %s", c.connID, will.Topic)
		c.broker.Publish(will.Topic, will.Payload, will.QoS, will.Retain)
	}

	_ = c.sess.Close()
}
