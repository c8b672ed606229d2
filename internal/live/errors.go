package live

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound: the id or join code resolves to nothing. Terminal
	// for a join attempt; the user must re-enter a code.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionEnded: the session exists but isActive is false.
	ErrSessionEnded = errors.New("session has ended")
	// ErrAlreadyAnswered: a response for this slide exists. Benign no-op.
	ErrAlreadyAnswered = errors.New("slide already answered")
	// ErrForbiddenWrite: the caller's role does not own the target field.
	ErrForbiddenWrite = errors.New("write not permitted for role")
	// ErrSlideOutOfRange: navigation target outside the slide deck.
	ErrSlideOutOfRange = errors.New("slide index out of range")
)

// CreationError wraps a failed session creation. Creation is not idempotent
// and is never retried; the failure surfaces immediately.
type CreationError struct {
	Err error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("session creation failed: %v", e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }
