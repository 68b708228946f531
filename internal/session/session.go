// Package session owns the per-connection state of one connected MQTT
// client: its outbound write queue, keep-alive deadline, and any Will
// message registered at CONNECT time. It knows nothing about topic
// matching or other clients — that is internal/broker's job.
package session

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/nas-panel/telemetry-publisher/internal/logger"
	"github.com/nas-panel/telemetry-publisher/internal/packet"
)

// outboundQueueSize bounds how far a slow reader can lag before the
// broker gives up on it. The teacher sent synchronously from whichever
// goroutine had a message to deliver; routing through a bounded queue
// here means one slow subscriber can't stall the goroutine publishing to
// everyone else.
const outboundQueueSize = 256

// pubRetransmitInterval is how long a QoS-1 PUBLISH waits for a PUBACK
// before it is resent with DUP=1. maxPubRetries bounds how many times
// that happens before the session is considered unresponsive and closed
// (spec: bounded retries, then close).
const (
	pubRetransmitInterval = 5 * time.Second
	maxPubRetries         = 3
)

// pendingAck is one QoS-1 PUBLISH awaiting acknowledgement.
type pendingAck struct {
	topic    string
	payload  []byte
	qos      byte
	retain   bool
	deadline time.Time
	retries  int
}

// ErrQueueFull is returned by Enqueue when a session's outbound buffer is
// saturated — the caller should treat this client as unresponsive.
var ErrQueueFull = errors.New("session: outbound queue full")

// WillMessage is the message a Session asks the broker to publish if its
// connection terminates without a clean DISCONNECT (MQTT 3.1.1 §3.1.3.3).
type WillMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Session is one connected client's state.
type Session struct {
	ClientID  string
	KeepAlive time.Duration
	Will      *WillMessage

	conn     net.Conn
	outbound chan []byte

	mu         sync.Mutex
	closed     bool
	cleanClose bool
	doneCh     chan struct{}

	pendingMu sync.Mutex
	pending   map[uint16]pendingAck
	lastID    uint16
}

// New starts a Session's writer and PUBACK-retransmit goroutines over
// conn. The read loop is not part of Session: the caller (internal/broker's
// connection handler) drives it in its own goroutine. Close stops both
// goroutines.
func New(conn net.Conn, clientID string, keepAlive time.Duration) *Session {
	s := &Session{
		ClientID:  clientID,
		KeepAlive: keepAlive,
		conn:      conn,
		outbound:  make(chan []byte, outboundQueueSize),
		doneCh:    make(chan struct{}),
		pending:   make(map[uint16]pendingAck),
	}
	go s.writeLoop()
	go s.retransmitLoop()
	return s
}

func (s *Session) writeLoop() {
	for {
		select {
		case data := <-s.outbound:
			total := 0
			for total < len(data) {
				n, err := s.conn.Write(data[total:])
				if err != nil {
					logger.WarnF("[%s] write failed, closing: %v", s.ClientID, err)
					_ = s.Close()
					return
				}
				total += n
			}
		case <-s.doneCh:
			return
		}
	}
}

// Enqueue hands data to the writer goroutine without blocking the caller
// (the broker's publish fan-out). A full queue marks this client
// unresponsive rather than stalling delivery to everyone else. Holding
// the lock across the non-blocking send keeps this from racing Close,
// which needs the same lock to mark the session closed.
func (s *Session) Enqueue(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return net.ErrClosed
	}

	select {
	case s.outbound <- data:
		return nil
	default:
		logger.WarnF("[%s] outbound queue full, closing", s.ClientID)
		s.closeLocked()
		return ErrQueueFull
	}
}

// NextPacketID hands out a nonzero, session-local QoS-1 packet identifier
// that isn't already awaiting a PUBACK, wrapping around 16 bits (MQTT
// 3.1.1 §2.3.1; spec's in-flight identifiers are pairwise distinct per
// session).
func (s *Session) NextPacketID() uint16 {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	for {
		s.lastID++
		if s.lastID == 0 {
			s.lastID = 1
		}
		if _, inUse := s.pending[s.lastID]; !inUse {
			return s.lastID
		}
	}
}

// TrackPublish records a QoS-1 PUBLISH sent under packetID as awaiting
// acknowledgement, arming its first retransmit deadline.
func (s *Session) TrackPublish(packetID uint16, topic string, payload []byte, qos byte, retain bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pending[packetID] = pendingAck{
		topic:    topic,
		payload:  payload,
		qos:      qos,
		retain:   retain,
		deadline: time.Now().Add(pubRetransmitInterval),
	}
}

// Ack removes packetID from the pending-ack map on PUBACK receipt.
func (s *Session) Ack(packetID uint16) {
	s.pendingMu.Lock()
	delete(s.pending, packetID)
	s.pendingMu.Unlock()
}

// retransmitLoop periodically resends any QoS-1 PUBLISH past its
// deadline with DUP=1, closing the session once one of them has
// exhausted maxPubRetries.
func (s *Session) retransmitLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.checkPendingAcks() {
				logger.WarnF("[%s] exhausted PUBACK retries, closing", s.ClientID)
				_ = s.Close()
				return
			}
		case <-s.doneCh:
			return
		}
	}
}

// checkPendingAcks retransmits every expired entry and reports whether
// any of them has now exhausted maxPubRetries.
func (s *Session) checkPendingAcks() bool {
	now := time.Now()
	type due struct {
		id  uint16
		ack pendingAck
	}
	var retransmits []due
	exhausted := false

	s.pendingMu.Lock()
	for id, ack := range s.pending {
		if now.Before(ack.deadline) {
			continue
		}
		if ack.retries >= maxPubRetries {
			exhausted = true
			continue
		}
		ack.retries++
		ack.deadline = now.Add(pubRetransmitInterval)
		s.pending[id] = ack
		retransmits = append(retransmits, due{id, ack})
	}
	s.pendingMu.Unlock()

	for _, r := range retransmits {
		data := packet.BuildPublish(r.ack.topic, r.id, r.ack.qos, r.ack.retain, true, r.ack.payload)
		if err := s.Enqueue(data); err != nil {
			exhausted = true
		}
	}
	return exhausted
}

// Conn exposes the underlying connection for the broker's read loop.
func (s *Session) Conn() net.Conn {
	return s.conn
}

// MarkCleanClose records that this session ended via a voluntary
// DISCONNECT, so the broker must not publish its Will message.
func (s *Session) MarkCleanClose() {
	s.mu.Lock()
	s.cleanClose = true
	s.mu.Unlock()
}

// CleanClose reports whether MarkCleanClose was called before Close.
func (s *Session) CleanClose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanClose
}

// Close shuts down the writer goroutine and the underlying connection.
// Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

// closeLocked is Close's body, callable from paths that already hold mu
// (Enqueue, on a saturated queue).
func (s *Session) closeLocked() error {
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.doneCh)
	return s.conn.Close()
}

// Done is closed once this session has been torn down.
func (s *Session) Done() <-chan struct{} {
	return s.doneCh
}
