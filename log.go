package capturefile

import "github.com/rs/zerolog"

// NewDisabledLogger returns a zerolog.Logger that discards everything, the
// default used when CaptureFileOpts.Logger is nil. Exported so callers that
// build a CaptureFile indirectly (tests, the inspector CLI) can compare
// against it without reaching into package internals.
func NewDisabledLogger() zerolog.Logger {
	return zerolog.Nop()
}
