// Package broker is the embedded MQTT 3.1.1 server: it accepts TCP
// connections, runs the CONNECT handshake, and dispatches every later
// packet against internal/router's subscription trie and internal/session's
// per-client outbound queues. It is the "builtin" half of the mqtt.type
// choice in internal/config; the "external" half is internal/externalclient.
package broker

import (
	"net"
	"strconv"
	"sync"

	"github.com/nas-panel/telemetry-publisher/internal/logger"
	"github.com/nas-panel/telemetry-publisher/internal/packet"
	"github.com/nas-panel/telemetry-publisher/internal/router"
	"github.com/nas-panel/telemetry-publisher/internal/session"
)

// maxConnections bounds how many connection-handling goroutines may run at
// once, the same semaphore-channel shape the teacher used.
const maxConnections = 10000

// Broker holds the subscription trie and the registry of connected
// sessions. The zero value is not usable; use New.
type Broker struct {
	router *router.Router

	mu       sync.Mutex
	sessions map[string]*session.Session

	sem      chan struct{}
	listener net.Listener
}

func New() *Broker {
	return &Broker{
		router:   router.New(),
		sessions: make(map[string]*session.Session),
		sem:      make(chan struct{}, maxConnections),
	}
}

// ListenAndServe binds port and accepts connections until the listener is
// closed by Shutdown. It blocks the calling goroutine.
func (b *Broker) ListenAndServe(port int) error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.listener = ln
	b.mu.Unlock()
	logger.InfoF("MQTT broker listening on %s", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if b.isShuttingDown() {
				return nil
			}
			logger.ErrorF("accept connection: %v", err)
			continue
		}

		b.sem <- struct{}{}
		go func(c net.Conn) {
			defer func() { <-b.sem }()
			newConnectionHandler(b, c).run()
		}(conn)
	}
}

// Addr returns the address ListenAndServe bound, or nil before it has
// bound one (or after Shutdown). Exists so tests can dial a broker
// started on an ephemeral port without a race on the listener field.
func (b *Broker) Addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

func (b *Broker) isShuttingDown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listener == nil
}

// Shutdown closes the listener and every active session, then returns. It
// does not wait for in-flight connection handlers to finish, and it has no
// grace period: sessions are closed at once, without draining their
// outbound queues.
func (b *Broker) Shutdown() {
	b.mu.Lock()
	ln := b.listener
	b.listener = nil
	sessions := make([]*session.Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, s := range sessions {
		_ = s.Close()
	}
}

// register adds sess under clientID and returns any previous session
// already registered under the same ID, which the caller then closes
// (MQTT 3.1.1 §3.1.3.2: a second CONNECT with the same client identifier
// takes over the first).
func (b *Broker) register(clientID string, sess *session.Session) *session.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	prior := b.sessions[clientID]
	b.sessions[clientID] = sess
	return prior
}

// unregister removes clientID from the registry, but only if sess is still
// the session registered there — a later CONNECT may already have taken
// over and installed a new one. RemoveClient must stay inside the same
// guard: a superseded session's teardown running after take-over must
// never strip the subscriptions the new session has already installed
// under that client ID.
func (b *Broker) unregister(clientID string, sess *session.Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sessions[clientID] == sess {
		delete(b.sessions, clientID)
		b.router.RemoveClient(clientID)
	}
}

func (b *Broker) sessionFor(clientID string) *session.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions[clientID]
}

// Publish fans payload out to every subscriber matching topic, and updates
// the retained-message store when retain is set. It is exported so
// internal/scheduler can publish telemetry payloads without going through
// a loopback TCP connection to its own broker, and always returns nil: a
// slow or gone subscriber is that subscriber's problem, never the
// publisher's (spec: per-client errors never affect other clients).
func (b *Broker) Publish(topic string, payload []byte, qos byte, retain bool) error {
	if retain {
		b.router.SetRetained(topic, payload, qos)
	}

	for _, sub := range b.router.Match(topic) {
		deliverQoS := qos
		if sub.QoS < deliverQoS {
			deliverQoS = sub.QoS
		}
		sess := b.sessionFor(sub.ClientID)
		if sess == nil {
			continue
		}

		var packetID uint16
		if deliverQoS == 1 {
			packetID = sess.NextPacketID()
		}
		data := packet.BuildPublish(topic, packetID, deliverQoS, retain, false, payload)
		if deliverQoS == 1 {
			sess.TrackPublish(packetID, topic, payload, deliverQoS, retain)
		}
		if err := sess.Enqueue(data); err != nil {
			logger.WarnF("[%s] dropping publish on %s: %v", sub.ClientID, topic, err)
		}
	}
	return nil
}
