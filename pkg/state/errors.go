package state

import "errors"

var (
	// ErrUnauthenticated means no verified identity is attached to the connection.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden means the identity is known but lacks the required capability.
	ErrForbidden = errors.New("forbidden")

	ErrUnknownConnection = errors.New("unknown connection")
)
