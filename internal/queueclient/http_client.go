package queueclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v4"

	"github.com/chainworker/chainworker/internal/config"
	"github.com/chainworker/chainworker/internal/logger"
	"github.com/chainworker/chainworker/internal/metrics"
)

// HTTPClient is the concrete Queue RPC client, built on net/http and
// encoding/json rather than a generated SDK: this worker consumes an
// externally-owned Queue API it does not own a schema for.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	retry      config.QueueConfig
}

// New creates an HTTPClient dialing cfg.BaseURL.
func New(cfg config.QueueConfig) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retry: cfg,
	}
}

func (c *HTTPClient) ClaimWork(ctx context.Context, workerType, workerID string) (*ClaimWorkResponse, error) {
	var out ClaimWorkResponse
	body := map[string]string{"workerType": workerType, "workerId": workerID}
	if err := c.do(ctx, http.MethodPost, "/claim-work", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ReclaimTask(ctx context.Context, taskID string, runID int, creds Credentials) (*ReclaimResponse, error) {
	path := fmt.Sprintf("/task/%s/runs/%d/reclaim", taskID, runID)
	var out ReclaimResponse
	err := c.do(ctx, http.MethodPost, path, creds, nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ReportCompleted(ctx context.Context, taskID string, runID int, creds Credentials) error {
	path := fmt.Sprintf("/task/%s/runs/%d/completed", taskID, runID)
	return c.doReport(ctx, path, creds, nil)
}

func (c *HTTPClient) ReportFailed(ctx context.Context, taskID string, runID int, creds Credentials) error {
	path := fmt.Sprintf("/task/%s/runs/%d/failed", taskID, runID)
	return c.doReport(ctx, path, creds, nil)
}

func (c *HTTPClient) ReportException(ctx context.Context, taskID string, runID int, reason string, creds Credentials) error {
	path := fmt.Sprintf("/task/%s/runs/%d/exception", taskID, runID)
	return c.doReport(ctx, path, creds, map[string]string{"reason": reason})
}

// GetTask retries once with a bounded exponential backoff.
func (c *HTTPClient) GetTask(ctx context.Context, taskID string) (*TaskDocument, error) {
	var out TaskDocument
	attempt := 0

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retry.RetryInitialBackoff
	bo.MaxInterval = c.retry.RetryMaxBackoff
	bo.MaxElapsedTime = 0
	boCtx := backoff.WithContext(bo, ctx)

	maxAttempts := c.retry.RetryMaxAttempts + 1 // one retry => two attempts total
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	op := func() error {
		attempt++
		if attempt > 1 {
			metrics.RecordQueueGetTaskRetry()
		}
		err := c.do(ctx, http.MethodGet, "/task/"+taskID, nil, nil, &out)
		if err == nil {
			return nil
		}
		if attempt >= maxAttempts {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(op, boCtx); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) doReport(ctx context.Context, path string, creds Credentials, body interface{}) error {
	err := c.do(ctx, http.MethodPost, path, creds, body, nil)
	if err == nil {
		return nil
	}
	// A 409 on the report call itself means the server already closed the
	// run, which counts as success. do() surfaces every 409 as
	// ErrLeaseLost, which on a report path means exactly that.
	if errors.Is(err, ErrLeaseLost) {
		logger.Debug().Str("path", path).Msg("report call returned 409, treating as already-closed")
		return nil
	}
	return err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, creds interface{}, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("queueclient: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("queueclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if creds, ok := creds.(Credentials); ok && creds.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransportTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return ErrLeaseLost
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrTransportTransient, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return &ReportError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("queueclient: decode response: %w", err)
	}
	return nil
}

var _ Client = (*HTTPClient)(nil)
