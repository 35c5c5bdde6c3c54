package apperrors

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrImpactRadiusTooLarge is returned when an impact radius traversal would
	// exceed its node or edge cap. Results are never truncated.
	ErrImpactRadiusTooLarge = errors.New("impact radius too large")

	// ErrRiskRunInProgress is returned when another risk computation holds the
	// org's run lease.
	ErrRiskRunInProgress = errors.New("risk computation already in progress")
)
