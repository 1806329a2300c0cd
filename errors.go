package humphrey

import "errors"

// Errors reported by the codec and the server engine.
var (
	// ErrBadRequest is returned when a request cannot be parsed.
	ErrBadRequest = errors.New("humphrey: bad request")

	// ErrTimeout is returned when a read or write stalls past the
	// connection deadline.
	ErrTimeout = errors.New("humphrey: stream timed out")

	// ErrDisconnected is returned when the peer closes the stream before
	// a complete message has been read.
	ErrDisconnected = errors.New("humphrey: stream disconnected")

	// ErrBadGateway is returned when an upstream target cannot be
	// reached.
	ErrBadGateway = errors.New("humphrey: bad gateway")

	// ErrBindFailure is returned when the listener cannot bind to the
	// configured address.
	ErrBindFailure = errors.New("humphrey: bind failure")
)
