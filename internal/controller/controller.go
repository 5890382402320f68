// Package controller is the worker's top-level state machine: claim,
// prepare, verify chain, execute under timeout, upload, report —
// interleaved with a concurrent reclaim loop and cancellable at every
// suspension point.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chainworker/chainworker/internal/config"
	"github.com/chainworker/chainworker/internal/cot"
	"github.com/chainworker/chainworker/internal/logger"
	"github.com/chainworker/chainworker/internal/metrics"
	"github.com/chainworker/chainworker/internal/queueclient"
	"github.com/chainworker/chainworker/internal/reclaim"
	"github.com/chainworker/chainworker/internal/statusmap"
	"github.com/chainworker/chainworker/internal/taskproc"
	"github.com/chainworker/chainworker/internal/uploader"
)

const markerFileName = "current_task_info.json"
const liveLogFileName = "live_backing.log"

// EventPublisher is the narrow, observer-only hook the telemetry publisher
// uses to mirror run-loop transitions. A nil EventPublisher is valid and
// simply means nothing observes the loop.
type EventPublisher interface {
	PublishLifecycle(eventType string, data map[string]interface{})
}

// Snapshot is a read-only view of the Controller's current state, used by
// the admin surface and telemetry publisher. Never drives behavior — both
// only ever read it.
type Snapshot struct {
	State  string
	TaskID string
	RunID  int
	Active bool
}

// Controller is the single owner of the run loop's mutable state: the
// current claim and the current task process. The reclaim loop never
// touches this struct directly — it is handed a narrow
// reclaim.ClaimHandle view (see handle.go) instead.
type Controller struct {
	cfg       *config.RunConfig
	client    queueclient.Client
	verifier  cot.Verifier
	uploader  uploader.Uploader
	publisher EventPublisher

	ctx        context.Context
	cancelFunc context.CancelFunc
	shutdown   bool // set true once Cancel() has been called; read under mu

	mu       sync.RWMutex
	claim    *queueclient.Claim
	proc     *taskproc.TaskProcess
	state    string
	lastExit int
}

// New builds a Controller. Call Run to start the claim/execute/report loop
// and Cancel to request cooperative shutdown.
func New(cfg *config.RunConfig, client queueclient.Client, verifier cot.Verifier, up uploader.Uploader, publisher EventPublisher) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:        cfg,
		client:     client,
		verifier:   verifier,
		uploader:   up,
		publisher:  publisher,
		ctx:        ctx,
		cancelFunc: cancel,
		state:      "idle",
	}
}

// Cancel requests cooperative shutdown. It is idempotent and safe to call
// concurrently with Run — context.CancelFunc is itself idempotent, which is
// what makes this safe without extra locking around the cancel call.
func (c *Controller) Cancel() {
	c.mu.Lock()
	c.shutdown = true
	c.mu.Unlock()
	c.cancelFunc()
}

// Cancelled reports whether Cancel has been called.
func (c *Controller) Cancelled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.shutdown
}

// Snapshot returns the Controller's current state for observers.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Snapshot{State: c.state}
	if c.claim != nil {
		s.Active = true
		s.TaskID = c.claim.TaskID
		s.RunID = c.claim.RunID
	}
	return s
}

// Run repeatedly invokes one claim/execute/report cycle until drain
// reports true between cycles or Cancel has been called. It always returns
// only after the current in-flight cycle (if any) completes, for both
// SIGTERM and SIGUSR1 shutdowns.
func (c *Controller) Run(drain func() bool) {
	for {
		if drain != nil && drain() {
			return
		}
		c.invoke()
		if c.ctx.Err() != nil {
			return
		}
	}
}

// invoke runs exactly one idle→…→idle cycle of the state machine.
func (c *Controller) invoke() {
	c.setState("idle")

	if c.ctx.Err() != nil {
		return // cancelled before claimWork: no claim was taken, no report owed
	}

	resp, err := c.client.ClaimWork(c.ctx, c.cfg.WorkerType, c.cfg.WorkerID)
	if err != nil {
		if c.ctx.Err() != nil {
			return
		}
		logger.Error().Err(err).Msg("controller: claimWork failed")
		c.sleepInterruptible(c.cfg.PollInterval)
		return
	}

	if len(resp.Tasks) == 0 {
		c.setState("empty")
		c.sleepInterruptible(c.cfg.PollInterval)
		return
	}

	claim := resp.Tasks[0]
	c.runClaim(&claim)
}

func (c *Controller) sleepInterruptible(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-c.ctx.Done():
	}
}

// runClaim drives one accepted claim through prepare, optional verify,
// execute, upload, and report. Every path out of this function either
// issues exactly one terminal report or determines that the server has
// already closed the run (lease lost).
func (c *Controller) runClaim(claim *queueclient.Claim) {
	start := time.Now()
	c.setClaim(claim)
	defer c.cleanup()

	log := logger.WithRun(claim.TaskID, claim.RunID)

	if err := c.prepare(claim); err != nil {
		log.Error().Err(err).Msg("controller: prepare failed")
		c.report(claim, statusmap.Report{Verb: statusmap.VerbException, Reason: statusmap.ReasonInternalError}, start)
		return
	}

	metrics.RecordRunClaimed(c.cfg.WorkerType)
	c.publish("claimed", claim)

	if c.ctx.Err() != nil {
		c.finishShutdown(claim, start, false)
		return
	}

	if c.cfg.VerifyChainOfTrust {
		c.setState("verifying")
		if report, ok := c.runVerify(claim); !ok {
			// A cancelled verify is a shutdown, not a verdict on the
			// chain: the verifier's error just reflects its torn-down
			// context.
			if c.ctx.Err() != nil {
				c.finishShutdown(claim, start, false)
				return
			}
			// Rejected chain: no execute, no task artifacts — but the
			// live log, if present, still goes up.
			c.uploadAndReport(claim, report, start, false)
			return
		}
	}

	if c.ctx.Err() != nil {
		c.finishShutdown(claim, start, false)
		return
	}

	outcome := c.execute(claim)

	switch {
	case outcome.leaseLost:
		// The server already closed this run; no report is attempted.
		log.Debug().Msg("controller: lease lost, skipping report")
		c.publish("shutdown", claim)
		return
	case outcome.shutdown:
		c.finishShutdown(claim, start, true)
		return
	case outcome.fatalErr != nil:
		log.Error().Err(outcome.fatalErr).Msg("controller: execute failed")
		c.uploadAndReport(claim, statusmap.Report{Verb: statusmap.VerbException, Reason: statusmap.ReasonMalformedPayload}, start, false)
		return
	case outcome.reclaimErr != nil:
		log.Error().Err(outcome.reclaimErr).Msg("controller: reclaim loop failed")
		c.uploadAndReport(claim, statusmap.Report{Verb: statusmap.VerbException, Reason: statusmap.ReasonIntermittentTask}, start, true)
		return
	}

	c.mu.Lock()
	c.lastExit = outcome.exitCode
	c.mu.Unlock()

	report := statusmap.Map(outcome.exitCode, false, c.cfg.ReversedStatuses)
	c.uploadAndReport(claim, report, start, true)
}

// finishShutdown reports worker-shutdown, uploading whatever artifacts
// exist (the live log, plus anything the child wrote if it ran).
func (c *Controller) finishShutdown(claim *queueclient.Claim, start time.Time, childRan bool) {
	c.uploadAndReport(claim, statusmap.Report{Verb: statusmap.VerbException, Reason: statusmap.ReasonWorkerShutdown}, start, childRan)
}

// uploadAndReport runs the uploading stage then the reporting stage. A
// transient upload failure overrides the report to intermittent-task; a
// rejected upload overrides it to internal-error; an unclassified upload
// error propagates by panicking the calling goroutine — the one error
// class that is allowed to crash the worker.
func (c *Controller) uploadAndReport(claim *queueclient.Claim, report statusmap.Report, start time.Time, fullArtifactSet bool) {
	c.setState("uploading")
	c.publish("uploading", claim)

	// The automation-error line must land in the live log before the log
	// is collected, so the uploaded copy carries it too.
	if report.LogLine != "" {
		c.appendLiveLog(report.LogLine)
	}

	files, err := c.collectArtifacts(claim, fullArtifactSet)
	if err != nil {
		logger.Error().Err(err).Msg("controller: collecting artifacts failed")
	}

	if uerr := c.uploader.Upload(c.ctx, claim, files); uerr != nil {
		switch {
		case errors.Is(uerr, uploader.ErrTransient):
			metrics.RecordArtifactUpload("error")
			report = statusmap.Report{Verb: statusmap.VerbException, Reason: statusmap.ReasonIntermittentTask}
		case errors.Is(uerr, uploader.ErrRejected):
			metrics.RecordArtifactUpload("error")
			report = statusmap.Report{Verb: statusmap.VerbException, Reason: statusmap.ReasonInternalError}
		default:
			// An unclassified OS-level error in upload: the worker
			// process crashes rather than reports.
			panic(fmt.Sprintf("controller: fatal upload error: %v", uerr))
		}
	}

	c.report(claim, report, start)
}

func (c *Controller) collectArtifacts(claim *queueclient.Claim, fullSet bool) ([]string, error) {
	logPath := c.liveLogPath()
	if !fullSet {
		if _, err := os.Stat(logPath); err == nil {
			return []string{logPath}, nil
		}
		return nil, nil
	}
	return uploader.CollectFiles(c.cfg.WorkDir, logPath)
}

// report issues the single terminal Queue call for this claim and records
// metrics. The Controller never calls this more than once per claim.
func (c *Controller) report(claim *queueclient.Claim, rep statusmap.Report, start time.Time) {
	c.setState("reporting:" + rep.Verb)

	creds := c.Credentials()
	// report context is deliberately derived from context.Background, not
	// c.ctx: the terminal report must still go out for a claim even when
	// shutdown cancelled c.ctx.
	reportCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch rep.Verb {
	case statusmap.VerbCompleted:
		err = c.client.ReportCompleted(reportCtx, claim.TaskID, claim.RunID, creds)
	case statusmap.VerbFailed:
		err = c.client.ReportFailed(reportCtx, claim.TaskID, claim.RunID, creds)
	default:
		err = c.client.ReportException(reportCtx, claim.TaskID, claim.RunID, rep.Reason, creds)
	}

	if err != nil {
		logger.Error().Err(err).Str("task_id", claim.TaskID).Int("run_id", claim.RunID).Msg("controller: report call failed")
	}

	status := rep.Verb
	if rep.Reason != "" {
		status = rep.Reason
	}
	metrics.RecordRunCompleted(status, time.Since(start).Seconds())
	c.publish("reporting:"+rep.Verb, claim)
}

func (c *Controller) appendLiveLog(line string) {
	f, err := os.OpenFile(c.liveLogPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logger.Warn().Err(err).Msg("controller: could not append to live log")
		return
	}
	defer f.Close()
	f.WriteString(line)
}

func (c *Controller) prepare(claim *queueclient.Claim) error {
	if err := os.MkdirAll(c.cfg.WorkDir, 0o755); err != nil {
		return fmt.Errorf("controller: prepare work dir: %w", err)
	}

	data, err := json.Marshal(map[string]interface{}{"taskId": claim.TaskID, "runId": claim.RunID})
	if err != nil {
		return fmt.Errorf("controller: marshal marker: %w", err)
	}

	markerPath := c.markerPath()
	tmp := markerPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("controller: write marker: %w", err)
	}
	if err := os.Rename(tmp, markerPath); err != nil {
		return fmt.Errorf("controller: rename marker: %w", err)
	}
	return nil
}

func (c *Controller) cleanup() {
	os.Remove(c.markerPath())
	c.clearClaim()
	c.setState("idle")
}

func (c *Controller) markerPath() string {
	return filepath.Join(c.cfg.WorkDir, markerFileName)
}

func (c *Controller) liveLogPath() string {
	return filepath.Join(c.cfg.WorkDir, liveLogFileName)
}

func (c *Controller) publish(eventType string, claim *queueclient.Claim) {
	if c.publisher == nil {
		return
	}
	c.publisher.PublishLifecycle("run."+eventType, map[string]interface{}{
		"task_id": claim.TaskID,
		"run_id":  claim.RunID,
	})
}

func (c *Controller) setState(s string) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) setClaim(claim *queueclient.Claim) {
	c.mu.Lock()
	c.claim = claim
	c.mu.Unlock()
}

func (c *Controller) clearClaim() {
	c.mu.Lock()
	c.claim = nil
	c.proc = nil
	c.mu.Unlock()
}

// LastExitCode returns the exit status of the last task whose child
// process ran to an exit (the configured TaskMaxTimeoutStatus when the
// watchdog killed it), or 0 when no task has executed. The
// worker process itself exits with this value on graceful drain.
func (c *Controller) LastExitCode() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastExit
}

// Credentials returns the current claim's credential bag, or the zero
// value if there is no active claim.
func (c *Controller) Credentials() queueclient.Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.claim == nil {
		return queueclient.Credentials{}
	}
	return c.claim.Credentials
}

var _ reclaim.ClaimHandle = (*Controller)(nil)
