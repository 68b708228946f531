// Package scheduler drives probe sampling at a fixed cadence, assembles
// the JSON telemetry payload, and hands it off for publication — either
// to the embedded Broker Core or to an External Client — without letting
// publication failure or History Store bookkeeping stall the next tick.
package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nas-panel/telemetry-publisher/internal/history"
	"github.com/nas-panel/telemetry-publisher/internal/logger"
	"github.com/nas-panel/telemetry-publisher/internal/probe"
)

// Publisher is the narrow surface the Scheduler needs from whichever
// transport is active: the embedded Broker Core's Publish, or the
// External Client's Publish (their signatures already match, so either
// satisfies this interface as-is).
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retain bool) error
}

// Scheduler ticks every interval, assembling and publishing one payload
// per tick.
type Scheduler struct {
	registry *probe.Registry
	pub      Publisher
	history  *history.Store

	interval time.Duration
	topic    string
	qos      byte
	hostname string
	ip       string
}

func New(registry *probe.Registry, pub Publisher, hist *history.Store, interval time.Duration, topic string, qos byte, hostname, ip string) *Scheduler {
	return &Scheduler{
		registry: registry,
		pub:      pub,
		history:  hist,
		interval: interval,
		topic:    topic,
		qos:      qos,
		hostname: hostname,
		ip:       ip,
	}
}

// Run blocks, ticking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// RunOnce performs exactly one collection cycle and returns the assembled
// payload without publishing it — the CLI's --test flag.
func (s *Scheduler) RunOnce() ([]byte, error) {
	snap := s.registry.Collect()
	payload := buildPayload(s.hostname, s.ip, snap)
	return json.Marshal(payload)
}

func (s *Scheduler) tick() {
	snap := s.registry.Collect()
	payload := buildPayload(s.hostname, s.ip, snap)

	data, err := json.Marshal(payload)
	if err != nil {
		logger.ErrorF("scheduler: failed to marshal payload: %v", err)
		return
	}

	if err := s.pub.Publish(s.topic, data, s.qos, false); err != nil {
		logger.WarnF("scheduler: publish failed: %v", err)
	}

	if s.history != nil {
		s.history.Record(history.Entry{
			Topic:       s.topic,
			Payload:     data,
			QoS:         s.qos,
			PublishedAt: snap.SampledAt,
		})
	}
}
