package task

import "errors"

var (
	ErrUnknownStatus  = errors.New("unknown task status")
	ErrInvalidPayload = errors.New("invalid task payload")
)
