package main

import (
	"context"
	"errors"

	"github.com/srg/blews/internal/station"
)

// FormatUserError turns internal errors into messages suitable for the
// terminal, without stack traces or wrapped error chains.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "operation timed out"
	case errors.Is(err, station.ErrNotConnected):
		return "not connected to a weather station"
	case errors.Is(err, station.ErrAlreadyConnected):
		return "already connected to a weather station"
	case errors.Is(err, station.ErrNoData):
		return "the station sent no measurement data (is it in range?)"
	default:
		return err.Error()
	}
}
