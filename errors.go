package oscipc

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errors returned by connection and server operations.
var (
	// ErrConnectionClosed is returned when operating on a lost connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrServerClosed is returned by Serve after Shutdown has been called.
	ErrServerClosed = errors.New("server closed")
	// ErrUnknownConnection is returned when no live connection has the given ID.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrTooManyConnections is returned when the connection limit is reached.
	ErrTooManyConnections = errors.New("too many connections")
	// ErrMessageTooLarge is returned when a frame exceeds the maximum allowed size.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrBadMagic is returned when a frame header does not start with the expected magic number.
	ErrBadMagic = errors.New("bad frame magic")
	// ErrBufferFull is returned when the send queue cannot accept more messages.
	ErrBufferFull = errors.New("send buffer full")
	// ErrInvalidBackend is returned when no backend is provided.
	ErrInvalidBackend = errors.New("invalid backend")
)

// BindError reports that the listening address could not be acquired.
type BindError struct {
	Network string
	Address string
	Err     error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s %s: %v", e.Network, e.Address, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// DecodeError reports a received block that is not a well-formed message.
// It never closes the connection that produced it.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "decode: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err is, or wraps, a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
