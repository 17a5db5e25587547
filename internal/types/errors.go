package types

import (
	"errors"
	"fmt"
)

var (
	// ErrPathConflict means a store was attempted for a Path that already has a
	// live entry. It signals corruption between the fetcher and storage and is
	// the only error that terminates a poll loop.
	ErrPathConflict = errors.New("live entry already exists for path")

	ErrInvalidPath  = errors.New("invalid config path")
	ErrBadResponse  = errors.New("malformed control-plane response")
	ErrTransport    = errors.New("transport failure")
	ErrInvalidInput = errors.New("invalid client input")
)

func Err(typedError error, innerErr error, msgTemplate string, args ...any) error {
	if msgTemplate == "" {
		return errors.Join(typedError, innerErr)
	} else {
		return errors.Join(typedError, innerErr, fmt.Errorf(msgTemplate, args...))
	}
}
