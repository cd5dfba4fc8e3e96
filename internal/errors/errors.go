// Package errors provides structured error types for verity.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for verity.
const (
	// Validation errors
	CodeValidation Code = "VALIDATION_FAILED"

	// Lookup errors
	CodeTaskNotFound          Code = "TASK_NOT_FOUND"
	CodePhaseNotFound         Code = "PHASE_NOT_FOUND"
	CodeProjectNotFound       Code = "PROJECT_NOT_FOUND"
	CodeIncidentNotFound      Code = "INCIDENT_NOT_FOUND"
	CodeChangeRequestNotFound Code = "CHANGE_REQUEST_NOT_FOUND"

	// Concurrency and duplicate errors
	CodeAlreadySubmitted  Code = "ALREADY_SUBMITTED"
	CodeAlreadyAssigned   Code = "ALREADY_ASSIGNED"
	CodeVersionConflict   Code = "VERSION_CONFLICT"
	CodePendingConflict   Code = "PENDING_CONFLICT"
	CodeIncidentResolved  Code = "INCIDENT_RESOLVED"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeTxConflict        Code = "TRANSACTION_CONFLICT"

	// Authorization errors
	CodeNotAssigned    Code = "NOT_ASSIGNED"
	CodeRoleNotInGraph Code = "ROLE_NOT_IN_GRAPH"
	CodeNoActiveRole   Code = "NO_ACTIVE_ROLE"
	CodeNotApprover    Code = "NOT_APPROVER"

	// Config errors
	CodeConfigInvalid Code = "CONFIG_INVALID"

	CodeInternal Code = "INTERNAL"
)

// Category groups error codes for HTTP status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryForbidden
	CategoryInternal
)

// String returns the lowercase category name used in API envelopes.
func (c Category) String() string {
	switch c {
	case CategoryNotFound:
		return "not_found"
	case CategoryBadRequest:
		return "bad_request"
	case CategoryConflict:
		return "conflict"
	case CategoryForbidden:
		return "forbidden"
	case CategoryInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// codeCategories maps error codes to their categories.
var codeCategories = map[Code]Category{
	CodeValidation:            CategoryBadRequest,
	CodeTaskNotFound:          CategoryNotFound,
	CodePhaseNotFound:         CategoryNotFound,
	CodeProjectNotFound:       CategoryNotFound,
	CodeIncidentNotFound:      CategoryNotFound,
	CodeChangeRequestNotFound: CategoryNotFound,
	CodeAlreadySubmitted:      CategoryConflict,
	CodeAlreadyAssigned:       CategoryConflict,
	CodeVersionConflict:       CategoryConflict,
	CodePendingConflict:       CategoryConflict,
	CodeIncidentResolved:      CategoryConflict,
	CodeInvalidTransition:     CategoryConflict,
	CodeTxConflict:            CategoryConflict,
	CodeNotAssigned:           CategoryForbidden,
	CodeRoleNotInGraph:        CategoryForbidden,
	CodeNoActiveRole:          CategoryBadRequest,
	CodeNotApprover:           CategoryForbidden,
	CodeConfigInvalid:         CategoryBadRequest,
	CodeInternal:              CategoryInternal,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryConflict:
		return 409
	case CategoryForbidden:
		return 403
	default:
		return 500
	}
}

// VerityError is the structured error type for verity.
type VerityError struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *VerityError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *VerityError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a message safe to show to callers. The cause is never
// included so store details do not leak.
func (e *VerityError) UserMessage() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	return b.String()
}

// Category returns the error category for HTTP status mapping.
func (e *VerityError) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *VerityError) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// MarshalJSON implements json.Marshaler. The cause is omitted.
func (e *VerityError) MarshalJSON() ([]byte, error) {
	type alias VerityError
	return json.Marshal((*alias)(e))
}

// Is reports whether target is a VerityError with the same code.
func (e *VerityError) Is(target error) bool {
	t, ok := target.(*VerityError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *VerityError) WithCause(err error) *VerityError {
	return &VerityError{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Fix:   e.Fix,
		Cause: err,
	}
}

// --- Error constructors ---

// ErrValidation returns an error for a missing or malformed field.
func ErrValidation(field, reason string) *VerityError {
	return &VerityError{
		Code: CodeValidation,
		What: fmt.Sprintf("invalid %s", field),
		Why:  reason,
	}
}

// ErrTaskNotFound returns an error when a task doesn't exist.
func ErrTaskNotFound(id int64) *VerityError {
	return &VerityError{
		Code: CodeTaskNotFound,
		What: fmt.Sprintf("task %d not found", id),
	}
}

// ErrPhaseNotFound returns an error when a task's phase cannot be resolved.
func ErrPhaseNotFound(id int64) *VerityError {
	return &VerityError{
		Code: CodePhaseNotFound,
		What: fmt.Sprintf("phase %d not found", id),
		Why:  "The task-phase-project chain is broken",
	}
}

// ErrProjectNotFound returns an error when a phase's project cannot be resolved.
func ErrProjectNotFound(id int64) *VerityError {
	return &VerityError{
		Code: CodeProjectNotFound,
		What: fmt.Sprintf("project %d not found", id),
	}
}

// ErrIncidentNotFound returns an error when an incident doesn't exist.
func ErrIncidentNotFound(id int64) *VerityError {
	return &VerityError{
		Code: CodeIncidentNotFound,
		What: fmt.Sprintf("incident %d not found", id),
	}
}

// ErrChangeRequestNotFound returns an error when a change request doesn't exist.
func ErrChangeRequestNotFound(id int64) *VerityError {
	return &VerityError{
		Code: CodeChangeRequestNotFound,
		What: fmt.Sprintf("change request %d not found", id),
	}
}

// ErrAlreadySubmitted returns an error for a duplicate reviewer submission.
func ErrAlreadySubmitted(taskID int64, userID string) *VerityError {
	return &VerityError{
		Code: CodeAlreadySubmitted,
		What: fmt.Sprintf("reviewer %s already submitted task %d", userID, taskID),
		Fix:  "Wait for the remaining reviewers to submit",
	}
}

// ErrAlreadyAssigned returns an error when a reviewer is assigned twice.
func ErrAlreadyAssigned(taskID int64, userID string) *VerityError {
	return &VerityError{
		Code: CodeAlreadyAssigned,
		What: fmt.Sprintf("reviewer %s is already assigned to task %d", userID, taskID),
	}
}

// ErrVersionConflict returns an error when a concurrent writer claimed the
// same document version or latest slot.
func ErrVersionConflict(taskID int64) *VerityError {
	return &VerityError{
		Code: CodeVersionConflict,
		What: fmt.Sprintf("document for task %d was modified concurrently", taskID),
		Fix:  "Reload the latest document and retry",
	}
}

// ErrPendingConflict returns an error when two escalations race for the same
// pending role slot.
func ErrPendingConflict(incidentID int64, role string) *VerityError {
	return &VerityError{
		Code: CodePendingConflict,
		What: fmt.Sprintf("incident %d already has a pending step for role %s", incidentID, role),
	}
}

// ErrIncidentResolved returns an error when acting on a closed incident.
func ErrIncidentResolved(id int64) *VerityError {
	return &VerityError{
		Code: CodeIncidentResolved,
		What: fmt.Sprintf("incident %d is already resolved", id),
	}
}

// ErrInvalidTransition returns an error when an entity cannot move from its
// current status to the requested one.
func ErrInvalidTransition(entity string, id int64, from, to string) *VerityError {
	return &VerityError{
		Code: CodeInvalidTransition,
		What: fmt.Sprintf("%s %d cannot move from %s to %s", entity, id, from, to),
	}
}

// ErrTxConflict returns an error when op kept losing serialization races
// after every retry.
func ErrTxConflict(op string, attempts int) *VerityError {
	return &VerityError{
		Code: CodeTxConflict,
		What: fmt.Sprintf("%s conflicted with concurrent writers", op),
		Why:  fmt.Sprintf("gave up after %d attempts", attempts),
		Fix:  "Retry the request",
	}
}

// ErrNotAssigned returns an error when the caller is not a reviewer of the task.
func ErrNotAssigned(taskID int64, userID string) *VerityError {
	return &VerityError{
		Code: CodeNotAssigned,
		What: fmt.Sprintf("user %s is not an assigned reviewer of task %d", userID, taskID),
	}
}

// ErrRoleNotInGraph returns an error when the caller's role has no place in
// the escalation graph.
func ErrRoleNotInGraph(role string) *VerityError {
	return &VerityError{
		Code: CodeRoleNotInGraph,
		What: fmt.Sprintf("role %s is not part of the escalation chain", role),
	}
}

// ErrNoActiveRole returns an error when the caller has no active role.
func ErrNoActiveRole(userID string) *VerityError {
	return &VerityError{
		Code: CodeNoActiveRole,
		What: fmt.Sprintf("user %s has no active role", userID),
		Fix:  "Assign an active role to the user",
	}
}

// ErrNotApprover returns an error when the caller is not a designated approver.
func ErrNotApprover(changeRequestID int64, userID string) *VerityError {
	return &VerityError{
		Code: CodeNotApprover,
		What: fmt.Sprintf("user %s is not an approver of change request %d", userID, changeRequestID),
	}
}

// ErrApproverRole returns an error when a user's role may not approve
// change requests.
func ErrApproverRole(userID, role string) *VerityError {
	if role == "" {
		role = "none"
	}
	return &VerityError{
		Code: CodeNotApprover,
		What: fmt.Sprintf("user %s cannot approve change requests with role %s", userID, role),
	}
}

// ErrConfigInvalid returns an error for invalid configuration.
func ErrConfigInvalid(field, reason string) *VerityError {
	return &VerityError{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("invalid configuration: %s", field),
		Why:  reason,
		Fix:  "Check .verity/config.yaml and fix the invalid field",
	}
}

// ErrInternal returns a generic error for an unexpected failure in op.
func ErrInternal(op string, cause error) *VerityError {
	return &VerityError{
		Code:  CodeInternal,
		What:  fmt.Sprintf("%s failed", op),
		Why:   "An unexpected error occurred",
		Cause: cause,
	}
}

// AsVerityError attempts to convert an error to a VerityError.
// Returns nil if the error is not a VerityError.
func AsVerityError(err error) *VerityError {
	var ve *VerityError
	if stderrors.As(err, &ve) {
		return ve
	}
	return nil
}

// CategoryOf classifies any error. Errors that are not VerityErrors are internal.
func CategoryOf(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	if ve := AsVerityError(err); ve != nil {
		if cat := ve.Category(); cat != CategoryUnknown {
			return cat
		}
	}
	return CategoryInternal
}

// Wrap wraps a generic error into a VerityError with internal code.
func Wrap(err error, what string) *VerityError {
	return &VerityError{
		Code:  CodeInternal,
		What:  what,
		Cause: err,
	}
}
