package main

import (
	"context"
	"time"

	"github.com/nas-panel/telemetry-publisher/internal/broker"
	"github.com/nas-panel/telemetry-publisher/internal/externalclient"
	"github.com/nas-panel/telemetry-publisher/internal/history"
)

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// brokerCloser, historyCloser and externalClientCloser adapt each
// subsystem's shutdown to event.Callable so event.Cleaner can sequence
// them alongside the logger's own shutdown hook.

type brokerCloser struct{ b *broker.Broker }

func (c brokerCloser) Invoke(_ context.Context) error {
	c.b.Shutdown()
	return nil
}

type historyCloser struct{ h *history.Store }

func (c historyCloser) Invoke(_ context.Context) error {
	return c.h.Close()
}

type externalClientCloser struct{ c *externalclient.Client }

func (c externalClientCloser) Invoke(_ context.Context) error {
	c.c.Close()
	return nil
}
