package main

import (
	"errors"

	"github.com/unieasy/places-cli/internal/config"
	"github.com/unieasy/places-cli/internal/seed"
	"github.com/unieasy/places-cli/internal/store"
)

// Process exit codes.
const (
	exitOK        = 0
	exitInvalid   = 1 // bad configuration or command-line input
	exitForbidden = 2 // Places API rejected the credentials
	exitStorage   = 3 // database unreachable at startup
	exitFailure   = 4
)

// inputError marks flag parsing and config loading failures.
type inputError struct {
	err error
}

func (e *inputError) Error() string { return e.err.Error() }

func (e *inputError) Unwrap() error { return e.err }

// exitCode maps a command error onto the process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var (
		inErr   *inputError
		valErr  *config.ValidationError
		connErr *store.ConnectError
	)
	switch {
	case errors.As(err, &inErr), errors.As(err, &valErr):
		return exitInvalid
	case errors.Is(err, seed.ErrUpstreamForbidden):
		return exitForbidden
	case errors.As(err, &connErr):
		return exitStorage
	default:
		return exitFailure
	}
}
