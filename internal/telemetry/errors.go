package telemetry

import "errors"

var (
	ErrUnavailable = errors.New("telemetry provider unavailable")
	ErrBadPayload  = errors.New("telemetry payload malformed")
	ErrNoData      = errors.New("telemetry provider returned no data")
)
