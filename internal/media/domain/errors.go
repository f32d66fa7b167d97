package domain

import (
	"errors"
	"fmt"
)

var ErrInvalidTransition = errors.New("invalid transition")

// TransitionError names the entity and the refused move. It matches ErrInvalidTransition.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s %s -> %s", ErrInvalidTransition, e.Entity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
