package planner

import "errors"

// Sentinel errors for plan generation failures. Callers that map planner
// failures onto an API surface can treat all of them as invalid input.
var (
	// ErrInput indicates a malformed workflow template or facts payload.
	ErrInput = errors.New("invalid planner input")

	// ErrRule indicates a malformed eligibility rule.
	ErrRule = errors.New("invalid planner rule")

	// ErrDependency indicates dependency data referencing unknown tasks.
	ErrDependency = errors.New("invalid planner dependency")

	// ErrCycle indicates a cycle among active tasks.
	ErrCycle = errors.New("planner cycle")
)

// IsPlannerError reports whether err originated from plan generation.
func IsPlannerError(err error) bool {
	return errors.Is(err, ErrInput) ||
		errors.Is(err, ErrRule) ||
		errors.Is(err, ErrDependency) ||
		errors.Is(err, ErrCycle)
}
