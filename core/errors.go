package core

import "errors"

var (
	// ErrRejected reports that the account holder refused to sign an action.
	ErrRejected = errors.New("action rejected by user")
	// ErrNotConnected is returned for signing actions while no wallet is bound.
	ErrNotConnected = errors.New("wallet not connected")
	// ErrNoSigner is returned by Connect when no signer is configured.
	ErrNoSigner = errors.New("no signer configured")
	// ErrEmptyPlayerID is returned when a player id is blank.
	ErrEmptyPlayerID = errors.New("empty player id")
	// ErrInvalidRange is returned for ranges with from > to.
	ErrInvalidRange = errors.New("invalid block range")
	// ErrRangeTooWide is returned when a range exceeds the query width.
	ErrRangeTooWide = errors.New("block range too wide")
)

// ErrNotFound is returned by storage adapters for unknown keys.
var ErrNotFound = errors.New("not found")
