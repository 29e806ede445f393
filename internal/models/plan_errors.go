package models

import (
	"errors"
	"fmt"
)

// Sentinel and structured errors returned by Plan.Validate. Callers check
// membership with errors.Is; the structured variants also carry the
// offending section so the plan stage's repair prompt can name it.
var (
	errPlanEmpty           = errors.New("plan: no sections")
	errPlanSectionIDEmpty  = errors.New("plan: section with empty id")
	ErrPlanInvalid         = errors.New("plan: validation failed")
)

type planDuplicateIDError struct{ id string }

func (e *planDuplicateIDError) Error() string {
	return fmt.Sprintf("plan: duplicate section id %q", e.id)
}
func (e *planDuplicateIDError) Is(target error) bool { return target == ErrPlanInvalid }

type planUnknownDependencyError struct{ section, dependsOn string }

func (e *planUnknownDependencyError) Error() string {
	return fmt.Sprintf("plan: section %q depends on unknown section %q", e.section, e.dependsOn)
}
func (e *planUnknownDependencyError) Is(target error) bool { return target == ErrPlanInvalid }

type planCyclicDependencyError struct{ section, dependsOn string }

func (e *planCyclicDependencyError) Error() string {
	return fmt.Sprintf("plan: section %q depends on %q, which does not appear earlier in the section list", e.section, e.dependsOn)
}
func (e *planCyclicDependencyError) Is(target error) bool { return target == ErrPlanInvalid }
