package agent

import "errors"

// ErrAlreadyRunning is reported when Execute or Resume is called while a run
// is in flight. Calls are rejected, never queued.
var ErrAlreadyRunning = errors.New("already running")

// ErrNoCheckpoint is reported when a resume finds nothing to restore.
var ErrNoCheckpoint = errors.New("no checkpoint to resume from")

var errEmptyDecision = errors.New("reasoner returned neither an action nor a completion")

// Termination reasons surfaced in ExecuteResult.Error.
const (
	reasonStopped          = "Stopped by user"
	reasonTooManyFailures  = "Too many consecutive failures"
	reasonMaxIterations    = "Max iterations reached"
	reasonLoopDetected     = "Loop detected"
	reasonCancelled        = "Cancelled"
	reasonReasonerFailed   = "Reasoner failed"
	reasonControllerPanics = "Controller panic"
)
