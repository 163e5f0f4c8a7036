// Package radioerr holds the small error taxonomy shared by the tuner
// facade and the audio bridge, mirroring the Result/ProgramListResult
// enums the host broadcast-radio and audio HALs expect back.
package radioerr

import "errors"

var (
	// ErrNotInitialized is returned for any operation attempted before
	// configuration, or after close.
	ErrNotInitialized = errors.New("radioerr: not initialized")

	// ErrInvalidState is returned when an operation doesn't match the
	// tuner's class (e.g. an AM/FM-only operation on a SAT/DT tuner).
	ErrInvalidState = errors.New("radioerr: invalid state")

	// ErrInvalidArguments is returned for malformed configuration, an
	// out-of-band frequency, or a program selector missing a required id.
	ErrInvalidArguments = errors.New("radioerr: invalid arguments")

	// ErrUnavailable marks a feature that's deliberately not implemented,
	// such as background scan.
	ErrUnavailable = errors.New("radioerr: unavailable")
)
