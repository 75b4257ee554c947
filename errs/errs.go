// Package errs declares the sentinel error kinds shared by every layer of
// the peer control plane. Callers wrap these with github.com/pkg/errors to
// attach operation context; errors.Cause (or errors.Is) recovers the
// sentinel for dispatch-level classification.
package errs

import "errors"

var (
	// InvalidArg means a parameter failed validation (bad size, bad flag
	// combination, malformed name blob, ...).
	InvalidArg = errors.New("bus1: invalid argument")

	// NotPermitted means the caller lacks the capability required for the
	// requested operation (e.g. claiming names without admin capability).
	NotPermitted = errors.New("bus1: operation not permitted")

	// AlreadyShutDown means the peer or domain active-ref could not be
	// acquired because it has already been deactivated.
	AlreadyShutDown = errors.New("bus1: already shut down")

	// AlreadyConnected means new-connect was called on a peer whose
	// existing connection parameters match the request exactly.
	AlreadyConnected = errors.New("bus1: already connected")

	// NotConnected means an operation that requires an activated peer was
	// attempted on a peer still in NEW state.
	NotConnected = errors.New("bus1: not connected")

	// NameExists means a requested name collided with an existing entry
	// in the domain's name index.
	NameExists = errors.New("bus1: name exists")

	// RemoteChanged means new-connect was called on an already-connected
	// peer with parameters that do not match the existing connection.
	RemoteChanged = errors.New("bus1: remote changed")

	// NotFound means resolve found no active peer bearing the requested
	// name.
	NotFound = errors.New("bus1: not found")

	// NotSupported means the control dispatch received an unrecognized
	// command.
	NotSupported = errors.New("bus1: not supported")

	// WouldBlock means a non-blocking receive found nothing queued.
	WouldBlock = errors.New("bus1: would block")

	// OutOfMemory means an allocation (pool slice, fd array, ...) failed.
	OutOfMemory = errors.New("bus1: out of memory")

	// MsgTooBig means a message or name exceeded a configured bound.
	MsgTooBig = errors.New("bus1: message too big")

	// Fault means a user-space buffer could not be read or written.
	Fault = errors.New("bus1: fault")

	// Interrupted means a blocking wait was interrupted by signal
	// delivery.
	Interrupted = errors.New("bus1: interrupted")
)
