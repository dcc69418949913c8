package domain

import (
	"errors"
	"fmt"
)

// ErrStorageUnavailable signals that the durable store cannot be reached.
// It is batch-fatal.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ErrBatchCancelled marks candidates that were never started because the
// batch was cancelled or aborted.
var ErrBatchCancelled = errors.New("batch cancelled before candidate was processed")

// EncodingError reports text that is not valid UTF-8.
type EncodingError struct {
	Offset int
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("invalid utf-8 at byte %d", e.Offset)
}

// ResolutionError reports that the near-duplicate tier could not be
// evaluated (embedding or index unavailable).
type ResolutionError struct {
	Stage string
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Stage, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// AdmissionErrorKind classifies admission failures.
type AdmissionErrorKind string

const (
	AdmissionRaceDuplicate       AdmissionErrorKind = "race-duplicate"
	AdmissionConstraintViolation AdmissionErrorKind = "constraint-violation"
	AdmissionStorageUnavailable  AdmissionErrorKind = "storage-unavailable"
)

// AdmissionError is returned by the admission store when a resource could
// not be inserted.
type AdmissionError struct {
	Kind       AdmissionErrorKind
	Constraint string
	Err        error
}

func (e *AdmissionError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("admission %s (%s): %v", e.Kind, e.Constraint, e.Err)
	}
	return fmt.Sprintf("admission %s: %v", e.Kind, e.Err)
}

func (e *AdmissionError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrStorageUnavailable) match storage-unavailable
// admission errors.
func (e *AdmissionError) Is(target error) bool {
	return target == ErrStorageUnavailable && e.Kind == AdmissionStorageUnavailable
}

// IsStorageUnavailable reports whether err signals a store connectivity
// failure anywhere in its chain.
func IsStorageUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// IsRaceDuplicate reports whether err is a uniqueness conflict detected at
// write time.
func IsRaceDuplicate(err error) bool {
	var admErr *AdmissionError
	return errors.As(err, &admErr) && admErr.Kind == AdmissionRaceDuplicate
}
