package pipeline

import "errors"

var (
	ErrUnavailable  = errors.New("pipeline unavailable")
	ErrUnauthorized = errors.New("unauthorized")
)
