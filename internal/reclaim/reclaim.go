// Package reclaim periodically extends the lease on the current task,
// running concurrently with the controller's execute phase.
package reclaim

import (
	"context"
	"errors"
	"time"

	"github.com/chainworker/chainworker/internal/logger"
	"github.com/chainworker/chainworker/internal/metrics"
	"github.com/chainworker/chainworker/internal/queueclient"
)

// ClaimHandle is the narrow view the reclaim loop gets onto the
// Controller's claim state: read credentials, swap credentials, stop the
// child. Exposing nothing else enforces the single-writer discipline at
// the type level. The Controller is the sole implementer.
type ClaimHandle interface {
	TaskID() string
	RunID() int
	Credentials() queueclient.Credentials
	SwapCredentials(queueclient.Credentials)
	StopChild()
	// StillActive reports whether the claim captured when the loop started
	// is still the Controller's current claim. The loop exits quietly
	// once that stops being true.
	StillActive() bool
}

// Loop renews the lease on a claim every interval until the claim is no
// longer active, the context is cancelled, or reclaimTask fails.
type Loop struct {
	client   queueclient.Client
	handle   ClaimHandle
	interval time.Duration
}

// New creates a Loop that reclaims handle's task through client every
// interval.
func New(client queueclient.Client, handle ClaimHandle, interval time.Duration) *Loop {
	return &Loop{client: client, handle: handle, interval: interval}
}

// Run blocks until the claim it was given stops being current, the context
// is cancelled, or a reclaim call fails. A nil return means one of the
// first two (nothing for the Controller to react to); a non-nil return is
// either queueclient.ErrLeaseLost (the child has already been stopped) or
// some other error the Controller must translate into an exception for
// the current run.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	log := logger.WithRun(l.handle.TaskID(), l.handle.RunID())

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !l.handle.StillActive() {
				return nil
			}

			resp, err := l.client.ReclaimTask(ctx, l.handle.TaskID(), l.handle.RunID(), l.handle.Credentials())
			if err != nil {
				if errors.Is(err, queueclient.ErrLeaseLost) {
					metrics.RecordReclaimAttempt("lease_lost")
					log.Warn().Msg("reclaim: lease lost, stopping task process")
					l.handle.StopChild()
					return queueclient.ErrLeaseLost
				}

				metrics.RecordReclaimAttempt("transient_error")
				log.Error().Err(err).Msg("reclaim: failed")
				return err
			}

			metrics.RecordReclaimAttempt("ok")
			l.handle.SwapCredentials(resp.Credentials)
		}
	}
}
