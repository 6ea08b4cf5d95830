package domain

import "errors"

var (
	// ErrNotFound is returned by registry lookups that miss. It is an expected
	// outcome, not a failure of the registry.
	ErrNotFound = errors.New("not found")

	ErrUnknownStreamer   = errors.New("unknown streamer")
	ErrNodeStartFailure  = errors.New("node start failure")
	ErrDialFailure       = errors.New("dial failure")
	ErrAlreadyStarted    = errors.New("node already started")
	ErrNotStarted        = errors.New("node not started")
	ErrNotInRoom         = errors.New("connection is not in a room")
	ErrTargetUnavailable = errors.New("target connection unavailable")
	ErrInvalidMessage    = errors.New("invalid message")
	ErrQueueFull         = errors.New("send queue full")
	ErrInvalidIdentity   = errors.New("invalid identity")
	ErrRelayDisconnected = errors.New("relay connection lost")

	// ErrRegistryUnavailable means the backing store has been failing and
	// calls are being shed until it recovers.
	ErrRegistryUnavailable = errors.New("registry unavailable")
)
