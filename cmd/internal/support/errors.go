package support

import "errors"

var (
	// ErrInvalidInput is returned for malformed or missing fields. Not retryable.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned for an unknown room id. Not retryable.
	ErrNotFound = errors.New("room not found")

	// ErrAlreadyClaimed is returned to every loser of a claim race.
	// Callers should refresh their room list, not retry blindly.
	ErrAlreadyClaimed = errors.New("room already claimed")

	// ErrInvalidState is returned when an operation is not valid for the room's
	// current state, e.g. rating a room that was never claimed.
	ErrInvalidState = errors.New("operation invalid for room state")

	// ErrRoomClosed is returned for appends after close (beyond the grace window).
	ErrRoomClosed = errors.New("room closed")
)

// IsInvalidInput reports whether err represents ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsAlreadyClaimed reports whether err represents ErrAlreadyClaimed.
func IsAlreadyClaimed(err error) bool { return errors.Is(err, ErrAlreadyClaimed) }

// IsInvalidState reports whether err represents ErrInvalidState.
func IsInvalidState(err error) bool { return errors.Is(err, ErrInvalidState) }

// IsRoomClosed reports whether err represents ErrRoomClosed.
func IsRoomClosed(err error) bool { return errors.Is(err, ErrRoomClosed) }
