package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainworker/chainworker/internal/config"
	"github.com/chainworker/chainworker/internal/cot"
	"github.com/chainworker/chainworker/internal/queueclient"
	"github.com/chainworker/chainworker/internal/statusmap"
)

type fakeClient struct {
	mu         sync.Mutex
	claims     []queueclient.Claim
	claimIdx   int
	claimCalls int
	reclaimErr error

	verbs   []string
	reasons []string
}

func (f *fakeClient) ClaimWork(ctx context.Context, workerType, workerID string) (*queueclient.ClaimWorkResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimCalls++
	if f.claimIdx < len(f.claims) {
		c := f.claims[f.claimIdx]
		f.claimIdx++
		return &queueclient.ClaimWorkResponse{Tasks: []queueclient.Claim{c}}, nil
	}
	return &queueclient.ClaimWorkResponse{}, nil
}

func (f *fakeClient) ReclaimTask(ctx context.Context, taskID string, runID int, creds queueclient.Credentials) (*queueclient.ReclaimResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reclaimErr != nil {
		return nil, f.reclaimErr
	}
	return &queueclient.ReclaimResponse{Credentials: creds}, nil
}

func (f *fakeClient) ReportCompleted(ctx context.Context, taskID string, runID int, creds queueclient.Credentials) error {
	f.record("completed", "")
	return nil
}

func (f *fakeClient) ReportFailed(ctx context.Context, taskID string, runID int, creds queueclient.Credentials) error {
	f.record("failed", "")
	return nil
}

func (f *fakeClient) ReportException(ctx context.Context, taskID string, runID int, reason string, creds queueclient.Credentials) error {
	f.record("exception", reason)
	return nil
}

func (f *fakeClient) GetTask(ctx context.Context, taskID string) (*queueclient.TaskDocument, error) {
	return &queueclient.TaskDocument{}, nil
}

func (f *fakeClient) record(verb, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verbs = append(f.verbs, verb)
	f.reasons = append(f.reasons, reason)
}

func (f *fakeClient) reportedVerbs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.verbs...)
}

func (f *fakeClient) reportedReasons() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reasons...)
}

func (f *fakeClient) claimCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.claimCalls
}

type fakeVerifier struct{ err error }

func (v *fakeVerifier) Verify(ctx context.Context, claim *queueclient.Claim) error { return v.err }

// blockingVerifier honors its context the way a network-backed verifier
// would: it suspends until cancelled.
type blockingVerifier struct{}

func (v *blockingVerifier) Verify(ctx context.Context, claim *queueclient.Claim) error {
	<-ctx.Done()
	return ctx.Err()
}

type fakeUploader struct {
	mu       sync.Mutex
	err      error
	uploaded [][]string
}

func (u *fakeUploader) Upload(ctx context.Context, claim *queueclient.Claim, files []string) error {
	u.mu.Lock()
	u.uploaded = append(u.uploaded, files)
	u.mu.Unlock()
	return u.err
}

func baseConfig(t *testing.T, argv []string) *config.RunConfig {
	return &config.RunConfig{
		WorkerType:           "test-worker",
		WorkerID:             "w1",
		PollInterval:         10 * time.Millisecond,
		ReclaimInterval:      time.Hour,
		TaskMaxTimeout:       5 * time.Second,
		TaskMaxTimeoutStatus: 2,
		TaskScript:           argv,
		WorkDir:              t.TempDir(),
	}
}

func runOnce(ctrl *Controller) {
	var invocations int
	ctrl.Run(func() bool {
		done := invocations > 0
		invocations++
		return done
	})
}

func TestController_ClaimExecuteReport_Completed(t *testing.T) {
	cfg := baseConfig(t, []string{"/bin/sh", "-c", "exit 0"})
	client := &fakeClient{claims: []queueclient.Claim{{TaskID: "t1", RunID: 0}}}
	up := &fakeUploader{}

	ctrl := New(cfg, client, &fakeVerifier{}, up, nil)
	runOnce(ctrl)

	require.Equal(t, []string{"completed"}, client.reportedVerbs())
	assert.False(t, ctrl.Snapshot().Active)
}

func TestController_ClaimExecuteReport_Failed(t *testing.T) {
	cfg := baseConfig(t, []string{"/bin/sh", "-c", "exit 1"})
	client := &fakeClient{claims: []queueclient.Claim{{TaskID: "t1", RunID: 0}}}
	up := &fakeUploader{}

	ctrl := New(cfg, client, &fakeVerifier{}, up, nil)
	runOnce(ctrl)

	require.Equal(t, []string{"failed"}, client.reportedVerbs())
	assert.Equal(t, 1, ctrl.LastExitCode())
}

func TestController_EmptyClaim_Sleeps(t *testing.T) {
	cfg := baseConfig(t, nil)
	client := &fakeClient{}
	up := &fakeUploader{}

	ctrl := New(cfg, client, &fakeVerifier{}, up, nil)
	runOnce(ctrl)

	assert.Empty(t, client.reportedVerbs())
}

func TestController_VerifyChainOfTrust_Rejected(t *testing.T) {
	cfg := baseConfig(t, []string{"/bin/sh", "-c", "exit 0"})
	cfg.VerifyChainOfTrust = true
	client := &fakeClient{claims: []queueclient.Claim{{TaskID: "t1", RunID: 0}}}
	up := &fakeUploader{}
	verifier := &fakeVerifier{err: cot.ErrVerificationFailed}

	ctrl := New(cfg, client, verifier, up, nil)
	runOnce(ctrl)

	require.Equal(t, []string{"exception"}, client.reportedVerbs())
	assert.Equal(t, []string{statusmap.ReasonMalformedPayload}, client.reportedReasons())
	// The live-log-only upload still runs even though nothing executed.
	assert.Len(t, up.uploaded, 1)
}

func TestController_CancelDuringVerify_ReportsWorkerShutdown(t *testing.T) {
	cfg := baseConfig(t, []string{"/bin/sh", "-c", "exit 0"})
	cfg.VerifyChainOfTrust = true
	client := &fakeClient{claims: []queueclient.Claim{{TaskID: "t1", RunID: 0}}}
	up := &fakeUploader{}

	ctrl := New(cfg, client, &blockingVerifier{}, up, nil)

	done := make(chan struct{})
	go func() {
		runOnce(ctrl)
		close(done)
	}()

	require.Eventually(t, func() bool { return ctrl.Snapshot().State == "verifying" }, time.Second, 5*time.Millisecond)
	ctrl.Cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not finish after cancel during verify")
	}

	require.Equal(t, []string{"exception"}, client.reportedVerbs())
	assert.Equal(t, []string{statusmap.ReasonWorkerShutdown}, client.reportedReasons())
}

func TestController_VerifyChainOfTrust_Transient(t *testing.T) {
	cfg := baseConfig(t, []string{"/bin/sh", "-c", "exit 0"})
	cfg.VerifyChainOfTrust = true
	client := &fakeClient{claims: []queueclient.Claim{{TaskID: "t1", RunID: 0}}}
	up := &fakeUploader{}
	verifier := &fakeVerifier{err: cot.ErrTransient}

	ctrl := New(cfg, client, verifier, up, nil)
	runOnce(ctrl)

	require.Equal(t, []string{"exception"}, client.reportedVerbs())
	assert.Equal(t, []string{statusmap.ReasonIntermittentTask}, client.reportedReasons())
}

func TestController_CancelBeforeClaim(t *testing.T) {
	cfg := baseConfig(t, []string{"/bin/sh", "-c", "exit 0"})
	client := &fakeClient{claims: []queueclient.Claim{{TaskID: "t1", RunID: 0}}}
	up := &fakeUploader{}

	ctrl := New(cfg, client, &fakeVerifier{}, up, nil)
	ctrl.Cancel()
	runOnce(ctrl)

	assert.Equal(t, 0, client.claimCallCount())
	assert.Empty(t, client.reportedVerbs())
}

func TestController_WorkerShutdownDuringExecute(t *testing.T) {
	cfg := baseConfig(t, []string{"/bin/sh", "-c", "sleep 5"})
	client := &fakeClient{claims: []queueclient.Claim{{TaskID: "t1", RunID: 0}}}
	up := &fakeUploader{}

	ctrl := New(cfg, client, &fakeVerifier{}, up, nil)

	done := make(chan struct{})
	go func() {
		runOnce(ctrl)
		close(done)
	}()

	require.Eventually(t, func() bool { return ctrl.Snapshot().Active }, time.Second, 5*time.Millisecond)
	ctrl.Cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("controller did not shut down within grace window")
	}

	require.Equal(t, []string{"exception"}, client.reportedVerbs())
	assert.Equal(t, []string{statusmap.ReasonWorkerShutdown}, client.reportedReasons())
}

func TestController_LeaseLost_NoReport(t *testing.T) {
	cfg := baseConfig(t, []string{"/bin/sh", "-c", "sleep 2"})
	cfg.ReclaimInterval = 20 * time.Millisecond
	client := &fakeClient{
		claims:     []queueclient.Claim{{TaskID: "t1", RunID: 0}},
		reclaimErr: queueclient.ErrLeaseLost,
	}
	up := &fakeUploader{}

	ctrl := New(cfg, client, &fakeVerifier{}, up, nil)
	runOnce(ctrl)

	assert.Empty(t, client.reportedVerbs())
}

func TestController_TaskMaxTimeout_MapsConfiguredStatus(t *testing.T) {
	cfg := baseConfig(t, []string{"/bin/sh", "-c", "sleep 5"})
	cfg.TaskMaxTimeout = 50 * time.Millisecond
	cfg.TaskMaxTimeoutStatus = 77
	cfg.ReversedStatuses = map[int]string{77: statusmap.ReasonSuperseded}
	client := &fakeClient{claims: []queueclient.Claim{{TaskID: "t1", RunID: 0}}}
	up := &fakeUploader{}

	ctrl := New(cfg, client, &fakeVerifier{}, up, nil)
	runOnce(ctrl)

	require.Equal(t, []string{"exception"}, client.reportedVerbs())
	assert.Equal(t, []string{statusmap.ReasonSuperseded}, client.reportedReasons())
}
