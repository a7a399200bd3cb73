package common

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Sentinel Errors
// --------------------------------------------------------------------------

var (
	// transport lifecycle
	ErrTransportClosed = errors.New("transport closed")

	// protocol errors (fatal to the connection)
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMalformedMessage   = errors.New("malformed message")
	ErrUnexpectedMessage  = errors.New("unexpected message")
	ErrStreamOutOfOrder   = errors.New("stream message out of order")

	// registry contract violations
	ErrDuplicateListener = errors.New("listener already registered")
	ErrMissingListener   = errors.New("listener not registered")
	ErrDuplicateModule   = errors.New("module already registered")

	// lookups, reported to the peer as remote errors
	ErrModuleNotRegistered = errors.New("module not registered")
	ErrUnknownProcedure    = errors.New("unknown procedure")
	ErrUnknownPort         = errors.New("unknown port")
	ErrPortClosed          = errors.New("port closed")
	ErrPortInitFailed      = errors.New("port initialization failed")
)

// --------------------------------------------------------------------------
// Remote Errors
// --------------------------------------------------------------------------

// Error codes carried by RemoteError messages
const (
	ErrCodeInternal            uint32 = 0
	ErrCodeUnknownPort         uint32 = 1
	ErrCodeUnknownProcedure    uint32 = 2
	ErrCodeModuleNotRegistered uint32 = 3
	ErrCodePortInitFailed      uint32 = 4
)

// RemoteError is the error a caller receives when the peer answered with a RemoteError message
type RemoteError struct {
	Code    uint32
	Message string
}

// Error returns the remote error text unchanged
func (e *RemoteError) Error() string {
	return e.Message
}

// Unwrap maps the error code back to its sentinel, so callers can match remote
// errors with errors.Is
func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case ErrCodeUnknownPort:
		return ErrUnknownPort
	case ErrCodeUnknownProcedure:
		return ErrUnknownProcedure
	case ErrCodeModuleNotRegistered:
		return ErrModuleNotRegistered
	case ErrCodePortInitFailed:
		return ErrPortInitFailed
	default:
		return nil
	}
}

// NewRemoteError converts a RemoteError message into an error
func NewRemoteError(msg *Message) *RemoteError {
	return &RemoteError{Code: msg.ErrorCode, Message: msg.ErrorMessage}
}

// ErrorCodeOf maps a server side error to the code sent to the peer
func ErrorCodeOf(err error) uint32 {
	switch {
	case errors.Is(err, ErrUnknownPort), errors.Is(err, ErrPortClosed):
		return ErrCodeUnknownPort
	case errors.Is(err, ErrUnknownProcedure):
		return ErrCodeUnknownProcedure
	case errors.Is(err, ErrModuleNotRegistered):
		return ErrCodeModuleNotRegistered
	case errors.Is(err, ErrPortInitFailed):
		return ErrCodePortInitFailed
	default:
		var remote *RemoteError
		if errors.As(err, &remote) {
			return remote.Code
		}
		return ErrCodeInternal
	}
}

// UnexpectedMessage builds the error for a reply of the wrong type
func UnexpectedMessage(msg *Message, expected MessageType) error {
	return fmt.Errorf("%w: got %s, expected %s", ErrUnexpectedMessage, msg.Type, expected)
}
