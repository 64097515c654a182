package recorder

import "errors"

// Sentinel errors for the capture state machine and the export path.
// Callers classify failures with [errors.Is]; every failure is also
// mirrored into [Recorder.LastError] for the status surface.
var (
	// ErrAlreadyRunning is returned by Start and Initialize while a
	// capture run is in progress. No state changes.
	ErrAlreadyRunning = errors.New("capture already running")

	// ErrNotInitialized is returned by Start before a capture session has
	// been opened.
	ErrNotInitialized = errors.New("capture device not initialized")

	// ErrNothingCaptured is returned by the export path when the
	// accumulation buffer is empty. No file is created.
	ErrNothingCaptured = errors.New("nothing captured")
)
