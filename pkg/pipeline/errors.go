package pipeline

import "errors"

var (
	ErrNoBackend         = errors.New("no audio backend configured")
	ErrNoPrimarySource   = errors.New("no primary capture source specified")
	ErrInvalidDevice     = errors.New("invalid device id")
	ErrCaptureNotStarted = errors.New("capture was not started")
	ErrBackendStarved    = errors.New("backend produced no frames within the timeout")
	ErrAlreadyCapturing  = errors.New("capture already started")
)
