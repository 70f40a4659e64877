// Package apierr defines the coded errors shared by the service layer and
// the HTTP API. Every Error carries a stable machine-readable code and the
// HTTP status it maps to at the edge.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Stable error codes surfaced in the HTTP error envelope.
const (
	CodeTemplateNotFound      = "TEMPLATE_NOT_FOUND"
	CodePlanNotFound          = "PLAN_NOT_FOUND"
	CodeTaskNotFound          = "TASK_NOT_FOUND"
	CodePlannerInputInvalid   = "PLANNER_INPUT_INVALID"
	CodeTaskBlocked           = "TASK_BLOCKED"
	CodeDecisionTaskForbidden = "TASK_DECISION_MANUAL_COMPLETE_FORBIDDEN"
	CodeRequestValidation     = "REQUEST_VALIDATION_ERROR"
	CodePersistence           = "PERSISTENCE_ERROR"
)

// Error is a failure that crosses the API boundary.
type Error struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds an Error from its parts.
func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// From extracts an *Error wrapped anywhere in err's chain.
func From(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// TemplateNotFound reports an unknown template key or a missing compiled
// artefact.
func TemplateNotFound(templateKey string) *Error {
	return New(http.StatusNotFound, CodeTemplateNotFound, fmt.Sprintf("Template '%s' not found", templateKey))
}

// PlanNotFound reports an unknown plan id.
func PlanNotFound(planID string) *Error {
	return New(http.StatusNotFound, CodePlanNotFound, fmt.Sprintf("Plan '%s' not found", planID))
}

// TaskNotFound reports a task that does not belong to the addressed plan.
func TaskNotFound(taskID, planID string) *Error {
	return New(http.StatusNotFound, CodeTaskNotFound, fmt.Sprintf("Task '%s' not found for plan '%s'", taskID, planID))
}

// PlannerInputInvalid reports a template or fact shape the planner rejects.
func PlannerInputInvalid(message string) *Error {
	return New(http.StatusBadRequest, CodePlannerInputInvalid, message)
}

// TaskBlocked reports a completion attempt against unresolved hard
// dependencies.
func TaskBlocked(taskKey string, unresolved []string) *Error {
	return New(http.StatusConflict, CodeTaskBlocked,
		fmt.Sprintf("Task '%s' is blocked by unresolved dependencies: %s", taskKey, strings.Join(unresolved, ", ")))
}

// DecisionTaskForbidden reports a manual completion attempt against a
// decision task.
func DecisionTaskForbidden(taskKey string) *Error {
	return New(http.StatusConflict, CodeDecisionTaskForbidden,
		fmt.Sprintf("Task '%s' is a decision task and cannot be completed manually", taskKey))
}

// RequestValidation reports a malformed request body. details carries the
// per-field failures.
func RequestValidation(details any) *Error {
	e := New(http.StatusUnprocessableEntity, CodeRequestValidation, "Request validation failed")
	e.Details = details
	return e
}

// Persistence reports a failed database transaction.
func Persistence(message string) *Error {
	return New(http.StatusInternalServerError, CodePersistence, message)
}
