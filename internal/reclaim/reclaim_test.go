package reclaim

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainworker/chainworker/internal/queueclient"
)

type fakeClient struct {
	queueclient.Client
	mu       sync.Mutex
	reclaims int
	err      error
	creds    queueclient.Credentials
}

func (f *fakeClient) ReclaimTask(ctx context.Context, taskID string, runID int, creds queueclient.Credentials) (*queueclient.ReclaimResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reclaims++
	if f.err != nil {
		return nil, f.err
	}
	return &queueclient.ReclaimResponse{Credentials: f.creds}, nil
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reclaims
}

type fakeHandle struct {
	mu         sync.Mutex
	creds      queueclient.Credentials
	active     bool
	stoppedN   int32
	swapCalled int32
}

func (h *fakeHandle) TaskID() string { return "task-1" }
func (h *fakeHandle) RunID() int     { return 0 }
func (h *fakeHandle) Credentials() queueclient.Credentials {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.creds
}
func (h *fakeHandle) SwapCredentials(c queueclient.Credentials) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.creds = c
	atomic.AddInt32(&h.swapCalled, 1)
}
func (h *fakeHandle) StopChild() { atomic.AddInt32(&h.stoppedN, 1) }
func (h *fakeHandle) StillActive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

func TestLoop_SwapsCredentialsOnSuccess(t *testing.T) {
	client := &fakeClient{creds: queueclient.Credentials{AccessToken: "new-token"}}
	handle := &fakeHandle{active: true}

	loop := New(client, handle, 10*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()

	err := loop.Run(ctx)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, client.callCount(), 2)
	assert.Equal(t, "new-token", handle.Credentials().AccessToken)
}

func TestLoop_ExitsWhenClaimNoLongerActive(t *testing.T) {
	client := &fakeClient{}
	handle := &fakeHandle{active: false}

	loop := New(client, handle, 5*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := loop.Run(ctx)
	assert.NoError(t, err)
	assert.LessOrEqual(t, client.callCount(), 1)
}

func TestLoop_LeaseLostStopsChild(t *testing.T) {
	client := &fakeClient{err: queueclient.ErrLeaseLost}
	handle := &fakeHandle{active: true}

	loop := New(client, handle, 5*time.Millisecond)
	err := loop.Run(context.Background())

	require.ErrorIs(t, err, queueclient.ErrLeaseLost)
	assert.Equal(t, int32(1), atomic.LoadInt32(&handle.stoppedN))
}

func TestLoop_OtherFailurePropagates(t *testing.T) {
	transientErr := errors.New("boom")
	client := &fakeClient{err: transientErr}
	handle := &fakeHandle{active: true}

	loop := New(client, handle, 5*time.Millisecond)
	err := loop.Run(context.Background())

	require.Error(t, err)
	assert.Equal(t, transientErr, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&handle.stoppedN))
}

func TestLoop_CancelExitsCleanly(t *testing.T) {
	client := &fakeClient{creds: queueclient.Credentials{AccessToken: "x"}}
	handle := &fakeHandle{active: true}

	loop := New(client, handle, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := loop.Run(ctx)
	assert.NoError(t, err)
}
