// Package shutdown translates SIGTERM/SIGINT and SIGUSR1 into the
// controller's cancel/drain primitives. The os/signal handler only ever
// sends on a channel; all reaction to a signal happens on the
// Coordinator's own goroutine, never in the handler itself.
package shutdown

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/chainworker/chainworker/internal/logger"
)

// Canceller is the narrow view the Coordinator needs onto the Controller:
// an idempotent, concurrency-safe cancel. *controller.Controller satisfies
// this without the Coordinator importing the controller package directly.
type Canceller interface {
	Cancel()
}

// Coordinator listens for SIGTERM/SIGINT (cancel the Controller, then drain
// the main loop) and SIGUSR1 (drain without cancelling any in-flight
// claim). Re-entrant delivery of either signal is coalesced: a second
// SIGTERM while shutdown is already underway is a no-op, since both Cancel
// and setting the drain flag are themselves idempotent.
type Coordinator struct {
	ctrl  Canceller
	sigCh chan os.Signal
	drain atomic.Bool
	done  chan struct{}
}

// New builds a Coordinator for ctrl. Call Start to begin handling signals.
func New(ctrl Canceller) *Coordinator {
	return &Coordinator{
		ctrl:  ctrl,
		sigCh: make(chan os.Signal, 4),
		done:  make(chan struct{}),
	}
}

// Start installs the signal trampoline and begins the Coordinator's
// reaction goroutine. Safe to call once.
func (c *Coordinator) Start() {
	signal.Notify(c.sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR1)
	go c.run()
}

// Stop removes the signal handlers and stops the reaction goroutine.
func (c *Coordinator) Stop() {
	signal.Stop(c.sigCh)
	close(c.sigCh)
	<-c.done
}

func (c *Coordinator) run() {
	defer close(c.done)
	for sig := range c.sigCh {
		switch sig {
		case syscall.SIGTERM, syscall.SIGINT:
			logger.Info().Str("signal", sig.String()).Msg("shutdown: cancelling and draining")
			c.drain.Store(true)
			c.ctrl.Cancel()
		case syscall.SIGUSR1:
			logger.Info().Str("signal", sig.String()).Msg("shutdown: draining without cancelling in-flight task")
			c.drain.Store(true)
		}
	}
}

// Drain reports whether the main loop should stop claiming new work after
// its current iteration. Intended as the drain callback passed to
// Controller.Run.
func (c *Coordinator) Drain() bool {
	return c.drain.Load()
}
