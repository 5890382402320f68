// Package statusmap translates a child exit code (plus whether shutdown
// was requested) into one of the Queue's report-verbs with a reason.
package statusmap

import "fmt"

// Report-verb constants, matching the Queue RPC surface's
// reportCompleted/reportFailed/reportException.
const (
	VerbCompleted = "completed"
	VerbFailed    = "failed"
	VerbException = "exception"
)

// Well-known exception reasons the Queue accepts.
const (
	ReasonWorkerShutdown   = "worker-shutdown"
	ReasonIntermittentTask = "intermittent-task"
	ReasonMalformedPayload = "malformed-payload"
	ReasonSuperseded       = "superseded"
	ReasonInternalError    = "internal-error"
)

// sigsegv is the negative exit code surfaced for a child killed by SIGSEGV.
const sigsegv = -11

// Report is the outcome of mapping one run's terminal exit code. LogLine
// is non-empty only for the -11 case, where it is written to the live log
// verbatim before the exception is reported.
type Report struct {
	Verb    string
	Reason  string
	LogLine string
}

// Map is a total, deterministic function: for a given (exitCode,
// shutdownRequested, reversedStatuses) it always returns the same Report.
// Idempotence of the report call itself — preventing a duplicate Queue
// call for the same claim — is the Controller's job, not this function's.
func Map(exitCode int, shutdownRequested bool, reversedStatuses map[int]string) Report {
	if shutdownRequested {
		return Report{Verb: VerbException, Reason: ReasonWorkerShutdown}
	}

	switch exitCode {
	case 0:
		return Report{Verb: VerbCompleted}
	case 1:
		return Report{Verb: VerbFailed}
	case 2:
		// Legacy convention: exit code 2 has historically meant
		// worker-shutdown. Kept to stay in sync with the rest of the
		// fleet.
		return Report{Verb: VerbException, Reason: ReasonWorkerShutdown}
	case sigsegv:
		return Report{
			Verb:    VerbException,
			Reason:  ReasonMalformedPayload,
			LogLine: fmt.Sprintf("Automation Error: python exited with signal %d\n", exitCode),
		}
	}

	if reason, ok := reversedStatuses[exitCode]; ok {
		return Report{Verb: VerbException, Reason: reason}
	}

	return Report{Verb: VerbFailed}
}
