package websocket

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// Server side handshake rejection.
	ErrInvalidHandshakeRequest = errors.New("invalid handshake request")
	// Client side handshake rejection.
	ErrHandshakeFailure = errors.New("handshake failure")

	ErrProtocol      = errors.New("protocol error")
	ErrTransport     = errors.New("transport error")
	ErrClosed        = errors.New("connection closed")
	ErrMessageTooBig = errors.New("message too big")
	ErrCloseTimeout  = errors.New("timed out waiting for close frame")
)

// HandshakeError is returned when an upgrade request cannot be accepted.
// No WebSocket connection exists yet, so it maps to an HTTP status instead of a close code.
type HandshakeError struct {
	Status int
	Reason string
	Header http.Header
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidHandshakeRequest, e.Reason)
}

func (e *HandshakeError) Unwrap() error {
	return ErrInvalidHandshakeRequest
}

func handshakeErrorf(format string, args ...any) *HandshakeError {
	return &HandshakeError{
		Status: http.StatusBadRequest,
		Reason: fmt.Sprintf(format, args...),
	}
}

// ProtocolError is a fatal violation of the framing rules. Code is the close
// code sent to the peer before the connection is torn down.
type ProtocolError struct {
	Code   CloseCode
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: [%s]", ErrProtocol, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrProtocol, e.Reason)
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func protocolErrorf(code CloseCode, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// TransportError wraps an I/O failure of the underlying byte stream.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: [%s]", ErrTransport, e.Op, e.Err)
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
