package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/chainworker/chainworker/internal/config"
	"github.com/chainworker/chainworker/internal/cot"
	"github.com/chainworker/chainworker/internal/logger"
	"github.com/chainworker/chainworker/internal/metrics"
	"github.com/chainworker/chainworker/internal/queueclient"
	"github.com/chainworker/chainworker/internal/reclaim"
	"github.com/chainworker/chainworker/internal/statusmap"
	"github.com/chainworker/chainworker/internal/taskproc"
)

// runVerify drives the verifying state. The bool return is false whenever
// no further stage should run: either the verdict decided the terminal
// report, or cancellation interrupted the verify and the caller reports
// worker-shutdown instead.
func (c *Controller) runVerify(claim *queueclient.Claim) (statusmap.Report, bool) {
	err := c.verifier.Verify(c.ctx, claim)
	if err == nil {
		metrics.RecordChainOfTrustVerification("pass")
		return statusmap.Report{}, true
	}

	if c.ctx.Err() != nil {
		// Cancelled mid-verify: not a verdict on the chain. The caller
		// turns this into a worker-shutdown report.
		return statusmap.Report{}, false
	}

	metrics.RecordChainOfTrustVerification("fail")
	if errors.Is(err, cot.ErrTransient) {
		logger.Warn().Err(err).Msg("controller: chain-of-trust verification inconclusive")
		return statusmap.Report{Verb: statusmap.VerbException, Reason: statusmap.ReasonIntermittentTask}, false
	}
	logger.Warn().Err(err).Msg("controller: chain-of-trust verification rejected claim")
	return statusmap.Report{Verb: statusmap.VerbException, Reason: statusmap.ReasonMalformedPayload}, false
}

// executeOutcome is the result of the executing state plus its concurrent
// reclaim loop, folded into the cases runClaim needs to distinguish.
type executeOutcome struct {
	exitCode   int
	leaseLost  bool
	shutdown   bool
	reclaimErr error // set when the loop failed for a reason other than lease loss
	fatalErr   error // set when the child process could not even be spawned
}

// execute spawns the task's child process, runs the reclaim loop alongside
// it, and races the child's exit against the watchdog timer, the reclaim
// loop's failure, and the Controller's own cancellation.
func (c *Controller) execute(claim *queueclient.Claim) executeOutcome {
	c.setState("executing")

	env := buildEnv(c.cfg, claim)
	proc, err := taskproc.Start(c.cfg.TaskScript, env, c.cfg.WorkDir, c.liveLogPath())
	if err != nil {
		return executeOutcome{fatalErr: fmt.Errorf("controller: spawn task process: %w", err)}
	}

	c.mu.Lock()
	c.proc = proc
	c.mu.Unlock()
	c.publish("executing", claim)

	reclaimCtx, cancelReclaim := context.WithCancel(context.Background())
	defer cancelReclaim()

	loop := reclaim.New(c.client, c, c.cfg.ReclaimInterval)
	reclaimDone := make(chan error, 1)
	go func() { reclaimDone <- loop.Run(reclaimCtx) }()

	var watchdogC <-chan time.Time
	if c.cfg.TaskMaxTimeout > 0 {
		watchdog := time.NewTimer(c.cfg.TaskMaxTimeout)
		defer watchdog.Stop()
		watchdogC = watchdog.C
	}

	for {
		select {
		case res := <-proc.Done():
			cancelReclaim()
			return executeOutcome{exitCode: res.Code}

		case <-watchdogC:
			metrics.RecordChildTimeout()
			metrics.RecordChildKill("watchdog")
			proc.WorkerShutdownStop()
			<-proc.Done()
			cancelReclaim()
			return executeOutcome{exitCode: c.cfg.TaskMaxTimeoutStatus}

		case <-c.ctx.Done():
			metrics.RecordChildKill("shutdown")
			proc.WorkerShutdownStop()
			<-proc.Done()
			cancelReclaim()
			return executeOutcome{shutdown: true}

		case rerr := <-reclaimDone:
			if errors.Is(rerr, queueclient.ErrLeaseLost) {
				<-proc.Done()
				return executeOutcome{leaseLost: true}
			}
			if rerr != nil {
				logger.Error().Err(rerr).Msg("controller: reclaim loop failed")
				proc.WorkerShutdownStop()
				<-proc.Done()
				return executeOutcome{reclaimErr: rerr}
			}
			// A nil error means the loop exited quietly (claim no longer
			// current, or its own context cancelled). Nothing to react to:
			// disable this case and keep waiting on the child.
			reclaimDone = nil
		}
	}
}

func buildEnv(cfg *config.RunConfig, claim *queueclient.Claim) []string {
	base := os.Environ()
	env := make([]string, 0, len(base)+len(claim.Task.Payload.Env)+3)
	env = append(env, base...)
	env = append(env,
		"TASK_ID="+claim.TaskID,
		"RUN_ID="+strconv.Itoa(claim.RunID),
		"TASKCLUSTER_ROOT_URL="+cfg.TaskClusterRootURL,
	)
	for k, v := range claim.Task.Payload.Env {
		env = append(env, k+"="+v)
	}
	return env
}
