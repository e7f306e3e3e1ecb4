package crawler

import "errors"

var (
	// ErrNoProcessingAssigned is returned when no route matches a resource
	// and the router has no fallback step.
	ErrNoProcessingAssigned = errors.New("no processing assigned")
	// ErrNoStepBound is returned when a resource is expanded while detached.
	ErrNoStepBound = errors.New("resource has no processing step bound")
	// ErrRunInProgress is returned when Run is called on a busy engine.
	ErrRunInProgress = errors.New("run already in progress")
)
