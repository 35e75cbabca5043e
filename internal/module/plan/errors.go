package plan

import "errors"

// Module errors.
var (
	ErrPlanNotFound = errors.New("plan not found")
	ErrPlanInactive = errors.New("plan is not available for purchase")
)
