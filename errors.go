package snapserver

import (
	"errors"

	"github.com/Atheer-Ganayem/snapserver/internal/frame"
)

// FatalError marks an error that ended a session or listener.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func IsFatalErr(err error) bool {
	if err == nil {
		return false
	}
	var fe *FatalError
	return errors.As(err, &fe)
}

func Fatal(err error) error {
	if err == nil {
		return nil
	}
	if IsFatalErr(err) {
		return err
	}
	return &FatalError{Err: err}
}

// Protocol violations reported by the frame decoder.
var (
	ErrUnmaskedFrame        = frame.ErrUnmaskedFrame
	ErrLengthNotImplemented = frame.ErrLengthNotImplemented
	ErrReservedBits         = frame.ErrReservedBits
)

var (
	ErrEndpointBusy           = errors.New("endpoint already has an active listener")
	ErrAlreadyRunning         = errors.New("already running")
	ErrInvalidAddress         = errors.New("invalid listen address")
	ErrInvalidPort            = errors.New("invalid listen port")
	ErrListenerNotFound       = errors.New("no listener registered for endpoint")
	ErrMissingSecKey          = errors.New("mssing Sec-WebSocket-Key header")
	ErrHandshakeTooLarge      = errors.New("handshake request too large")
	ErrMessageTooLarge        = errors.New("message received from client was too large")
	ErrInvalidOPCODE          = errors.New("invalid OPCODE")
	ErrExpectedContinuation   = errors.New("invalid frame sequence: expected continuation")
	ErrUnexpectedContinuation = errors.New("continuation frame without a message in progress")
	ErrConnClosed             = errors.New("connection is closed")
	ErrRateLimited            = errors.New("rate limited")
)

// IsProtocolErr reports whether err is a violation of the framing rules by the peer.
func IsProtocolErr(err error) bool {
	return errors.Is(err, ErrUnmaskedFrame) ||
		errors.Is(err, ErrLengthNotImplemented) ||
		errors.Is(err, ErrReservedBits) ||
		errors.Is(err, ErrMessageTooLarge) ||
		errors.Is(err, ErrInvalidOPCODE) ||
		errors.Is(err, ErrExpectedContinuation) ||
		errors.Is(err, ErrUnexpectedContinuation)
}
