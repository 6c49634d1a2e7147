package errors

import "errors"

// Error messages.
var (
	ErrInvalidLanguageType       = errors.New("invalid language type")
	ErrFailedToGetFreeWorker     = errors.New("failed to get free worker")
	ErrUnknownMessageType        = errors.New("unknown message type")
	ErrContainerTimeout          = errors.New("container runtime timed out")
	ErrContainerFailed           = errors.New("container failed to execute")
	ErrSandbox                   = errors.New("sandbox infrastructure failure")
	ErrConfiguration             = errors.New("invalid question configuration")
	ErrGradingCancelled          = errors.New("grading cancelled")
	ErrUnknownValidator          = errors.New("unknown validator")
	ErrCacheMiss                 = errors.New("outcome not cached")
	ErrUnsupportedOutcomeVersion = errors.New("unsupported outcome version")
	ErrResponderClosed           = errors.New("responder is closed")
)
