package common

import "golang.org/x/xerrors"

var (
	// ErrInvalidTag is returned when a tag violates the charset or emptiness rules.
	// Concrete occurrences wrap it with the violated rule, naming the offending
	// character or byte where there is one.
	ErrInvalidTag = xerrors.New("invalid tag")

	// ErrStorageIsFull is returned when the storage backend signals capacity exhaustion,
	// or when a value exceeds the configured size limit.
	ErrStorageIsFull = xerrors.New("storage is full")

	// ErrLeaderTimeout is returned to a waiter whose leader did not complete within the flight timeout.
	ErrLeaderTimeout = xerrors.New("thundering herd leader timed out")

	// ErrLeaderFailed signals a waiter that the leader's producer failed.
	// The waiter does not inherit the leader's error and is free to retry.
	ErrLeaderFailed = xerrors.New("thundering herd leader failed")

	// ErrClosed is returned by operations on a closed cache or bus.
	ErrClosed = xerrors.New("already closed")

	ErrNotAllBytesConsumed = xerrors.New("serialization error: not all bytes were consumed")
)
