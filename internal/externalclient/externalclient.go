// Package externalclient is the "external" half of mqtt.type: instead of
// running the embedded broker, the Scheduler publishes through a real
// MQTT client connecting to a separately-run broker. Grounded on
// nerrad567-gray-logic-stack's internal/infrastructure/mqtt client, which
// wraps the same library for the same purpose.
package externalclient

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nas-panel/telemetry-publisher/internal/config"
	"github.com/nas-panel/telemetry-publisher/internal/logger"
)

var (
	ErrConnectionFailed = errors.New("externalclient: connection failed")
	ErrNotConnected      = errors.New("externalclient: not connected")
)

const defaultConnectTimeout = 10 * time.Second

// Client wraps paho.mqtt.golang for publish-only use by the Scheduler.
type Client struct {
	client pahomqtt.Client
}

// Connect dials cfg.Host:Port and blocks until the connection succeeds or
// defaultConnectTimeout elapses. Reconnection afterward is handled by the
// paho library's own auto-reconnect, configured with the backoff bounds
// from cfg.Reconnect (spec.md §9 open question, resolved as 1s initial /
// 30s max, full jitter — paho's own backoff is exponential but not
// jittered, so RandomizedConnectRetryInterval-equivalent jitter is added
// at the call site via jitteredDelay).
func Connect(cfg config.MQTTConfig) (*Client, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetKeepAlive(time.Duration(cfg.KeepAlive) * time.Second)
	opts.SetConnectTimeout(defaultConnectTimeout)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(jitteredDelay(cfg.Reconnect))
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelaySeconds) * time.Second)

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.WarnF("external mqtt connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		logger.InfoF("external mqtt reconnecting")
	})

	c := &Client{client: pahomqtt.NewClient(opts)}
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return c, nil
}

// jitteredDelay picks the first reconnect delay with full jitter over
// [0, cfg.InitialDelaySeconds] so many instances restarting together don't
// all retry in lockstep.
func jitteredDelay(cfg config.MQTTReconnect) time.Duration {
	initial := cfg.InitialDelaySeconds
	if initial <= 0 {
		initial = 1
	}
	return time.Duration(rand.Int63n(int64(initial)*int64(time.Second)+1))
}

// Publish sends payload on topic at qos, blocking until the broker
// acknowledges (or the library's internal timeout elapses for QoS 0).
// Parameter order matches internal/scheduler.Publisher so both transports
// satisfy the same interface.
func (c *Client) Publish(topic string, payload []byte, qos byte, retain bool) error {
	if !c.client.IsConnected() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, qos, retain, payload)
	token.Wait()
	return token.Error()
}

// Close disconnects with a short quiesce period for pending publishes.
func (c *Client) Close() {
	c.client.Disconnect(250)
}
