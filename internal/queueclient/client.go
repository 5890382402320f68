package queueclient

import "context"

// Client is the Queue RPC surface the controller and reclaim loop consume.
// HTTPClient below is the one concrete implementation wired into
// cmd/worker; tests substitute fakes.
type Client interface {
	// ClaimWork asks the Queue for work. An empty Tasks slice means the
	// Controller should sleep for the poll interval and retry.
	ClaimWork(ctx context.Context, workerType, workerID string) (*ClaimWorkResponse, error)

	// ReclaimTask extends the lease on (taskID, runID). A 409 response
	// surfaces as ErrLeaseLost; 5xx/connection failures surface as
	// ErrTransportTransient.
	ReclaimTask(ctx context.Context, taskID string, runID int, creds Credentials) (*ReclaimResponse, error)

	ReportCompleted(ctx context.Context, taskID string, runID int, creds Credentials) error
	ReportFailed(ctx context.Context, taskID string, runID int, creds Credentials) error
	ReportException(ctx context.Context, taskID string, runID int, reason string, creds Credentials) error

	// GetTask is used only by configuration/validation glue, but the
	// bounded-retry wrapper lives here because it is part of the Queue
	// RPC surface's contract.
	GetTask(ctx context.Context, taskID string) (*TaskDocument, error)
}
