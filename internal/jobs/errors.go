package jobs

import "errors"

var (
	ErrJobExists      = errors.New("job already exists")
	ErrJobNotFound    = errors.New("job not found")
	ErrFuncNotFound   = errors.New("job function not found")
	ErrInvalidTrigger = errors.New("invalid trigger")

	// ErrPersistence means an added job could not be observed in the store
	// after the verification retries, i.e. a silent commit failure.
	ErrPersistence = errors.New("job persistence could not be verified")
)
