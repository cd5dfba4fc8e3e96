package engine

import (
	"context"

	"github.com/randalmurphal/verity/internal/changerequest"
	"github.com/randalmurphal/verity/internal/db"
	verrors "github.com/randalmurphal/verity/internal/errors"
	"github.com/randalmurphal/verity/internal/events"
)

// CreateChangeRequest opens revision 1 of a change request on a project.
func (e *Engine) CreateChangeRequest(ctx context.Context, projectID int64, title, createdBy string) (*changerequest.View, error) {
	return e.changeRequest(ctx, "create_change_request", createdBy, func(tx *db.TxOps) (*changerequest.View, error) {
		return e.changes.CreateTx(tx, projectID, title, createdBy)
	})
}

// ChangeRequest returns a change request with its approvers.
func (e *Engine) ChangeRequest(ctx context.Context, id int64) (*changerequest.View, error) {
	var v *changerequest.View
	err := e.view(ctx, "get_change_request", subject{}, func(tx *db.TxOps) error {
		var err error
		v, err = e.changes.GetTx(tx, id)
		return err
	})
	return v, err
}

// SetApprovers adds and removes designated approvers. Every added user must
// currently hold one of the configured approver roles.
func (e *Engine) SetApprovers(ctx context.Context, id int64, add, remove []string) (*changerequest.View, error) {
	withRoles := make(map[string]string, len(add))
	for _, u := range add {
		if u == "" {
			return nil, verrors.ErrValidation("approver", "user id required")
		}
		role, err := e.activeRole(ctx, "set_approvers", subject{userID: u})
		if err != nil {
			return nil, err
		}
		withRoles[u] = role
	}
	return e.changeRequest(ctx, "set_approvers", "", func(tx *db.TxOps) (*changerequest.View, error) {
		return e.changes.SetApproversTx(tx, id, withRoles, remove)
	})
}

// RecordApproverDecision stores userID's verification or rejection.
func (e *Engine) RecordApproverDecision(ctx context.Context, id int64, userID string, verified bool, reason string) (*changerequest.View, error) {
	return e.changeRequest(ctx, "record_approver_decision", userID, func(tx *db.TxOps) (*changerequest.View, error) {
		return e.changes.RecordDecisionTx(tx, id, userID, verified, reason)
	})
}

// UploadRevision supersedes a change request with a new revision that keeps
// the same approvers, their decisions cleared.
func (e *Engine) UploadRevision(ctx context.Context, id int64, title, createdBy string) (*changerequest.View, error) {
	return e.changeRequest(ctx, "upload_revision", createdBy, func(tx *db.TxOps) (*changerequest.View, error) {
		return e.changes.UploadRevisionTx(tx, id, title, createdBy)
	})
}

// SetChangeRequestVerification records the aggregate verification flag
// decided outside the engine. nil clears it.
func (e *Engine) SetChangeRequestVerification(ctx context.Context, id int64, verified *bool) (*changerequest.View, error) {
	return e.changeRequest(ctx, "set_change_request_verification", "", func(tx *db.TxOps) (*changerequest.View, error) {
		return e.changes.SetVerificationTx(tx, id, verified)
	})
}

func (e *Engine) changeRequest(ctx context.Context, op, userID string, fn func(tx *db.TxOps) (*changerequest.View, error)) (*changerequest.View, error) {
	var v *changerequest.View
	err := e.mutate(ctx, op, subject{userID: userID}, func(tx *db.TxOps, _ *events.Batch) error {
		var err error
		v, err = fn(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}
