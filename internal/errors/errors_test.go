package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestVerityErrorFormat(t *testing.T) {
	tests := []struct {
		name     string
		err      *VerityError
		wantErr  string
		wantUser string
	}{
		{
			name:     "what only",
			err:      &VerityError{What: "something broke"},
			wantErr:  "something broke",
			wantUser: "something broke",
		},
		{
			name:     "what and why",
			err:      &VerityError{What: "something broke", Why: "bad input"},
			wantErr:  "something broke: bad input",
			wantUser: "something broke: bad input",
		},
		{
			name: "cause is hidden from users",
			err: &VerityError{
				What:  "something broke",
				Cause: errors.New("pq: relation tasks does not exist"),
			},
			wantErr:  "something broke: pq: relation tasks does not exist",
			wantUser: "something broke",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantErr {
				t.Errorf("Error() = %q, want %q", got, tt.wantErr)
			}
			if got := tt.err.UserMessage(); got != tt.wantUser {
				t.Errorf("UserMessage() = %q, want %q", got, tt.wantUser)
			}
		})
	}
}

func TestVerityErrorJSONOmitsCause(t *testing.T) {
	err := ErrInternal("submit document", errors.New("disk I/O error"))

	data, marshalErr := json.Marshal(err)
	if marshalErr != nil {
		t.Fatalf("MarshalJSON failed: %v", marshalErr)
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if result["code"] != string(CodeInternal) {
		t.Errorf("code = %v, want %v", result["code"], CodeInternal)
	}
	if _, ok := result["cause"]; ok {
		t.Error("cause must not be serialized")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err        *VerityError
		wantStatus int
	}{
		{ErrValidation("content", "required"), 400},
		{ErrTaskNotFound(1), 404},
		{ErrPhaseNotFound(1), 404},
		{ErrProjectNotFound(1), 404},
		{ErrIncidentNotFound(1), 404},
		{ErrChangeRequestNotFound(1), 404},
		{ErrAlreadySubmitted(1, "u"), 409},
		{ErrAlreadyAssigned(1, "u"), 409},
		{ErrVersionConflict(1), 409},
		{ErrPendingConflict(1, "qa"), 409},
		{ErrIncidentResolved(1), 409},
		{ErrInvalidTransition("task", 1, "pending", "completed"), 409},
		{ErrTxConflict("submit document", 4), 409},
		{ErrNotAssigned(1, "u"), 403},
		{ErrRoleNotInGraph("x"), 403},
		{ErrNoActiveRole("u"), 400},
		{ErrNotApprover(1, "u"), 403},
		{ErrApproverRole("u", ""), 403},
		{ErrConfigInvalid("x", "y"), 400},
		{ErrInternal("op", nil), 500},
	}

	for _, tt := range tests {
		t.Run(string(tt.err.Code), func(t *testing.T) {
			if got := tt.err.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.wantStatus)
			}
		})
	}
}

func TestEveryCodeHasCategory(t *testing.T) {
	for code, cat := range codeCategories {
		if cat == CategoryUnknown {
			t.Errorf("code %s has no category", code)
		}
	}
}

func TestWithCause(t *testing.T) {
	original := ErrTaskNotFound(7)
	cause := errors.New("no rows")
	wrapped := original.WithCause(cause)

	if wrapped.Cause != cause {
		t.Error("WithCause should set the cause")
	}
	if original.Cause != nil {
		t.Error("Original should not be modified")
	}
	if wrapped.Code != original.Code || wrapped.What != original.What {
		t.Error("Code and What should be copied")
	}
	if errors.Unwrap(wrapped) != cause {
		t.Error("Unwrap should return the cause")
	}
}

func TestIs(t *testing.T) {
	err1 := ErrTaskNotFound(1)
	err2 := ErrTaskNotFound(2)
	err3 := ErrAlreadySubmitted(1, "alice")

	if !errors.Is(err1, err2) {
		t.Error("errors with same code should match with Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match")
	}
	if !errors.Is(fmt.Errorf("lookup: %w", err1), err2) {
		t.Error("Is should see through fmt wrapping")
	}
}

func TestAsVerityError(t *testing.T) {
	verr := ErrTaskNotFound(3)

	if AsVerityError(verr) == nil {
		t.Error("AsVerityError should return the error")
	}
	if AsVerityError(fmt.Errorf("context: %w", verr)) == nil {
		t.Error("AsVerityError should find a wrapped VerityError")
	}
	if AsVerityError(errors.New("regular error")) != nil {
		t.Error("AsVerityError should return nil for non-VerityError")
	}
	if AsVerityError(nil) != nil {
		t.Error("AsVerityError should return nil for nil error")
	}
}

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, CategoryUnknown},
		{"plain", errors.New("boom"), CategoryInternal},
		{"not found", ErrTaskNotFound(1), CategoryNotFound},
		{"wrapped conflict", fmt.Errorf("tx: %w", ErrVersionConflict(1)), CategoryConflict},
		{"unknown code", &VerityError{Code: "MADE_UP"}, CategoryInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategoryOf(tt.err); got != tt.want {
				t.Errorf("CategoryOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(cause, "operation failed")

	if err.What != "operation failed" {
		t.Errorf("What = %v, want 'operation failed'", err.What)
	}
	if err.Cause != cause {
		t.Error("Cause should be set")
	}
	if err.Code != CodeInternal {
		t.Errorf("Code = %v, want %v", err.Code, CodeInternal)
	}
}
