package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned for a missing or malformed region or threshold.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRegionTooLarge is matched by RegionTooLargeError.
	ErrRegionTooLarge = errors.New("region too large")

	// ErrTotalFailure is matched by TotalFailureError.
	ErrTotalFailure = errors.New("all sub-region requests failed")

	// ErrNotFound is returned by repositories and job lookups for unknown IDs.
	ErrNotFound = errors.New("not found")
)

// InvalidInput wraps ErrInvalidInput with a human-readable reason.
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// RegionTooLargeError is returned when the undivided tile estimate exceeds
// the configured ceiling. No request has been sent when this is returned.
type RegionTooLargeError struct {
	Tiles int
	Limit int
}

func (e *RegionTooLargeError) Error() string {
	return fmt.Sprintf("region too large: %d tiles (limit %d)", e.Tiles, e.Limit)
}

func (e *RegionTooLargeError) Is(target error) bool { return target == ErrRegionTooLarge }

// SubRegionError records the failure of a single sub-region request.
type SubRegionError struct {
	Index    int
	Endpoint string
	Err      error
}

func (e *SubRegionError) Error() string {
	return fmt.Sprintf("sub-region %d via %s: %v", e.Index+1, e.Endpoint, e.Err)
}

func (e *SubRegionError) Unwrap() error { return e.Err }

// TotalFailureError is returned when every sub-region request failed.
//
// The individual failures can be inspected via errors.As on the
// *SubRegionError values returned by Unwrap.
type TotalFailureError struct {
	SubRegions int
	Failures   []error
}

func (e *TotalFailureError) Error() string {
	return fmt.Sprintf("all %d sub-region requests failed", e.SubRegions)
}

func (e *TotalFailureError) Is(target error) bool { return target == ErrTotalFailure }

func (e *TotalFailureError) Unwrap() []error { return e.Failures }
