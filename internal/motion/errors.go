package motion

import "errors"

// Sentinel errors for the session and scoring pipeline. Transport and HTTP
// layers match these with errors.Is to pick the outbound message shape.
var (
	ErrTemplateMissing   = errors.New("template file not found")
	ErrTemplateMalformed = errors.New("template malformed")
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrNotInitialized    = errors.New("not initialized")
	ErrNoFeatures        = errors.New("no features extracted")
	ErrDimMismatch       = errors.New("live and reference dimensions differ")
	ErrBandInfeasible    = errors.New("sakoe-chiba band excludes the alignment endpoints")
	ErrWriterUnavailable = errors.New("no video writer available")
	ErrSessionEnded      = errors.New("session already ended")
)
