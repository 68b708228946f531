// Package event provides a process-wide graceful shutdown hook: register
// cleanup callables, and they run in registration order when SIGINT or
// SIGTERM arrives, each under its own timeout.
package event

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nas-panel/telemetry-publisher/internal/logger"
)

// Callable is anything a subsystem closes over to expose a ctx-bounded
// shutdown step to the Cleaner — internal/broker.Shutdown, internal/
// history.Close, internal/externalclient.Close.
type Callable interface {
	Invoke(ctx context.Context) error
}

// perCleanerTimeout bounds how long any single registered Callable may
// block during shutdown. A broker with many open sessions to close, or a
// stalled Mongo mirror connection, must not hang the rest of the
// cleanup sequence.
const perCleanerTimeout = 10 * time.Second

type Cleaner struct {
	cleaners       []Callable
	mu             sync.Mutex
	initOnce       sync.Once
	cleaning       bool
	loggerShutdown Callable
}

var cleanerInstance = &Cleaner{}

func NewCleaner() *Cleaner {
	return cleanerInstance
}

// Add registers a callable to run on shutdown. Ignored once shutdown has
// already started.
func (c *Cleaner) Add(callable Callable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cleaning {
		logger.Debug("cleaner is already shutting down, ignoring new cleaner")
		return
	}
	c.cleaners = append(c.cleaners, callable)
}

// Init arms the signal handler. On SIGINT or SIGTERM it runs runShutdown
// and exits the process. loggerShutdown runs last, after every
// registered cleaner, so log lines from the cleanup pass are flushed.
func (c *Cleaner) Init(loggerShutdown Callable) {
	c.initOnce.Do(func() {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		c.loggerShutdown = loggerShutdown

		go func() {
			<-ctx.Done()
			stop()
			logger.Info("received interrupt signal, shutting down telemetry publisher")
			c.runShutdown()
			syscall.Exit(0)
		}()
	})
}

// runShutdown invokes every registered cleaner in registration order,
// then the logger's own shutdown hook. Split out of Init so the same
// sequence can be driven without waiting on a real OS signal; Init's
// signal goroutine is currently its only caller.
func (c *Cleaner) runShutdown() {
	start := time.Now()

	c.mu.Lock()
	c.cleaning = true
	cleanersCopy := make([]Callable, len(c.cleaners))
	copy(cleanersCopy, c.cleaners)
	c.mu.Unlock()

	logger.DebugF("starting cleanup of %d registered functions", len(cleanersCopy))

	var errs []error
	for idx, cleaner := range cleanersCopy {
		logger.DebugF("invoking cleaner #%d (%T)", idx+1, cleaner)
		timeoutCtx, cancel := context.WithTimeout(context.Background(), perCleanerTimeout)
		if err := cleaner.Invoke(timeoutCtx); err != nil {
			logger.ErrorF("cleaner #%d (%T) failed: %v", idx+1, cleaner, err)
			errs = append(errs, err)
		}
		cancel()
	}

	if len(errs) > 0 {
		logger.ErrorF("%d errors occurred during cleanup:", len(errs))
		for i, err := range errs {
			logger.ErrorF("error %d: %v", i+1, err)
		}
	} else {
		logger.Debug("all cleaners executed successfully")
	}
	logger.InfoF("cleanup finished in %s, telemetry publisher offline", time.Since(start).Round(time.Millisecond))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.loggerShutdown.Invoke(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "logger shutdown error: %v\n", err)
	}
}
