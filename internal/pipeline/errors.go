package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable means the mail store could not be read. Persisted
	// state is left untouched when it is returned.
	ErrSourceUnavailable = errors.New("mail source unavailable")

	// ErrNothingShown is returned by Done when no view preceded it.
	ErrNothingShown = errors.New("no batch has been shown yet; run without --done first")
)

// UnavailableError names the resource that could not be reached.
type UnavailableError struct {
	Resource string
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %v", e.Resource, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrSourceUnavailable }
