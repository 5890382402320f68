package controller

import "github.com/chainworker/chainworker/internal/queueclient"

// The methods below implement reclaim.ClaimHandle. The Controller is the
// single writer of claim state; the Reclaim Loop only ever sees this narrow
// view, never the Controller itself.

func (c *Controller) TaskID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.claim == nil {
		return ""
	}
	return c.claim.TaskID
}

func (c *Controller) RunID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.claim == nil {
		return 0
	}
	return c.claim.RunID
}

// SwapCredentials installs freshly reclaimed credentials onto the current
// claim. No other claim field ever changes after prepare.
func (c *Controller) SwapCredentials(creds queueclient.Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claim != nil {
		c.claim.Credentials = creds
	}
}

// StopChild stops the current task process, if any is running.
func (c *Controller) StopChild() {
	c.mu.RLock()
	proc := c.proc
	c.mu.RUnlock()
	if proc != nil {
		proc.Stop()
	}
}

// StillActive reports whether a claim is currently owned by the
// Controller. Since the Controller only ever drives one claim at a time,
// this is equivalent to "is this the claim the Reclaim Loop was started
// for" for the whole lifetime of that loop.
func (c *Controller) StillActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.claim != nil
}
