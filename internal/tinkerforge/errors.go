package tinkerforge

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected     = errors.New("tinkerforge: not connected")
	ErrAlreadyConnected = errors.New("tinkerforge: already connected")
	ErrTimeout          = errors.New("tinkerforge: request timed out")
	ErrInvalidParameter = errors.New("tinkerforge: invalid parameter")
	ErrNotSupported     = errors.New("tinkerforge: function not supported")
	ErrUnknownErrorCode = errors.New("tinkerforge: unknown error code")
	ErrShortResponse    = errors.New("tinkerforge: response too short")
)

func errorFromCode(code uint8) error {
	switch code {
	case 0:
		return nil
	case 1:
		return ErrInvalidParameter
	case 2:
		return ErrNotSupported
	}
	return fmt.Errorf("%w: %d", ErrUnknownErrorCode, code)
}
