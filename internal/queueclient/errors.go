package queueclient

import (
	"errors"
	"strconv"
)

// ErrLeaseLost means reclaimTask returned 409: the server already closed
// the run, so no report should follow. ErrTransportTransient covers
// network/5xx/connection-reset failures and is mapped to the
// "intermittent-task" reason at report time.
var (
	ErrLeaseLost          = errors.New("queueclient: lease lost (409)")
	ErrTransportTransient = errors.New("queueclient: transient transport error")
)

// ReportError wraps a non-2xx, non-409 response from a report-status call.
// A 409 on the report call itself is treated as success (the server
// already knows); everything else propagates.
type ReportError struct {
	StatusCode int
	Body       string
}

func (e *ReportError) Error() string {
	return "queueclient: report call failed with status " + strconv.Itoa(e.StatusCode) + ": " + e.Body
}
