// Package queueclient talks to the remote job-dispatch service: claimWork,
// reclaimTask, reportCompleted, reportFailed, reportException, and task.
// The run loop only ever talks to the Client interface; HTTPClient is the
// one concrete implementation this repository ships.
package queueclient

import "time"

// Credentials is the opaque token bag a claim carries. Every Queue call for
// a run after claimWork uses the most recently swapped-in Credentials.
type Credentials struct {
	ClientID    string `json:"clientId"`
	AccessToken string `json:"accessToken"`
	Certificate string `json:"certificate,omitempty"`
}

// TaskDocument is the task definition carried inside a claim. Treated as
// immutable once claimed.
type TaskDocument struct {
	Payload struct {
		Env map[string]string `json:"env"`
	} `json:"payload"`
	Extra        map[string]interface{} `json:"extra,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Scopes       []string               `json:"scopes,omitempty"`
	SchedulerID  string                 `json:"schedulerId,omitempty"`
	WorkerType   string                  `json:"workerType,omitempty"`
	Dependencies []string                `json:"dependencies,omitempty"`
}

// RunStatus is the server-side run metadata accompanying a claim.
type RunStatus struct {
	State          string    `json:"state"`
	ReasonResolved string    `json:"reasonResolved,omitempty"`
	Started        time.Time `json:"started,omitempty"`
}

// Claim is the object returned by ClaimWork. Once accepted, every
// subsequent Queue call for this run must use its Credentials and
// identifiers; mixing claims is a bug this package refuses to make possible
// by always taking (taskID, runID) explicitly rather than caching them.
type Claim struct {
	TaskID      string       `json:"taskId"`
	RunID       int          `json:"runId"`
	Credentials Credentials  `json:"credentials"`
	Task        TaskDocument `json:"task"`
	Status      RunStatus    `json:"status"`
}

// ClaimWorkResponse is the body of a claimWork call.
type ClaimWorkResponse struct {
	Tasks []Claim `json:"tasks"`
}

// ReclaimResponse is the body of a reclaimTask call: only credentials are
// replaced on the caller's claim, no other field changes.
type ReclaimResponse struct {
	Credentials Credentials `json:"credentials"`
}
