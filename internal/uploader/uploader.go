// Package uploader pushes a run's collected artifact files to the Queue's
// artifact store. The controller translates its errors: transient
// network-class failures map to "intermittent-task", rejections to
// "internal-error", and unclassified OS errors are left uncaught so
// the worker crashes rather than mask them.
package uploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/chainworker/chainworker/internal/logger"
	"github.com/chainworker/chainworker/internal/metrics"
	"github.com/chainworker/chainworker/internal/queueclient"
)

// ErrTransient marks a network-class failure uploading an artifact; the
// Controller maps this to the "intermittent-task" exception reason.
var ErrTransient = errors.New("uploader: transient network error")

// ErrRejected marks a non-retryable rejection by the artifact store (e.g. a
// 4xx response); it is not retried, and the Controller maps it to the
// "internal-error" exception reason.
var ErrRejected = errors.New("uploader: artifact rejected")

// Uploader uploads a run's collected artifact files.
type Uploader interface {
	Upload(ctx context.Context, claim *queueclient.Claim, files []string) error
}

// HTTPUploader PUTs each file to baseURL/task/{taskId}/runs/{runId}/artifacts/{name}.
type HTTPUploader struct {
	baseURL    string
	httpClient *http.Client
}

// New builds an HTTPUploader against baseURL (typically the same Queue
// deployment's artifact endpoint).
func New(baseURL string, timeout time.Duration) *HTTPUploader {
	return &HTTPUploader{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Upload uploads every file in order, stopping at the first failure.
// Transient per-file failures are retried with bounded exponential backoff
// before being surfaced as ErrTransient.
func (u *HTTPUploader) Upload(ctx context.Context, claim *queueclient.Claim, files []string) error {
	for _, f := range files {
		if err := u.uploadOneWithRetry(ctx, claim, f); err != nil {
			metrics.RecordArtifactUpload("error")
			return err
		}
	}
	metrics.RecordArtifactUpload("ok")
	return nil
}

func (u *HTTPUploader) uploadOneWithRetry(ctx context.Context, claim *queueclient.Claim, path string) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 30 * time.Second
	boCtx := backoff.WithContext(bo, ctx)

	op := func() error {
		err := u.uploadOne(ctx, claim, path)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrTransient) {
			return err // retryable
		}
		return backoff.Permanent(err)
	}

	return backoff.Retry(op, boCtx)
}

func (u *HTTPUploader) uploadOne(ctx context.Context, claim *queueclient.Claim, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		// A missing/unreadable artifact file is an OS-level error: left
		// unclassified so the controller treats it as fatal.
		return fmt.Errorf("uploader: read %s: %w", path, err)
	}

	name := filepath.Base(path)
	url := fmt.Sprintf("%s/task/%s/runs/%d/artifacts/%s", u.baseURL, claim.TaskID, claim.RunID, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("uploader: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+claim.Credentials.AccessToken)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		logger.Debug().Err(err).Str("file", name).Msg("uploader: transient error")
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	return nil
}

var _ Uploader = (*HTTPUploader)(nil)
