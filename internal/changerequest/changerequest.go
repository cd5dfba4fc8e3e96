// Package changerequest manages change requests and their designated
// approvers. Each approver verifies or rejects independently; the request's
// own verification flag is decided elsewhere and only displayed here.
package changerequest

import (
	"log/slog"
	"sort"

	"github.com/randalmurphal/verity/internal/db"
	verrors "github.com/randalmurphal/verity/internal/errors"
)

// View is a change request together with its approvers.
type View struct {
	db.ChangeRequest
	Approvers []db.ChangeRequestApprover `json:"approvers"`
}

// Rejected reports whether the request's verification flag is explicitly
// false. An undecided request is not rejected.
func (v *View) Rejected() bool {
	return v.Verified != nil && !*v.Verified
}

// Pending returns the approvers who have not decided yet.
func (v *View) Pending() []string {
	var out []string
	for _, a := range v.Approvers {
		if a.Verified == nil {
			out = append(out, a.UserID)
		}
	}
	return out
}

// Workflow edits change requests.
type Workflow struct {
	approverRoles map[string]bool
	logger        *slog.Logger
}

// NewWorkflow creates a Workflow allowing only users holding one of
// approverRoles to be designated approvers.
func NewWorkflow(approverRoles []string, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(approverRoles))
	for _, r := range approverRoles {
		allowed[r] = true
	}
	return &Workflow{approverRoles: allowed, logger: logger}
}

// CreateTx opens revision 1 of a change request.
func (w *Workflow) CreateTx(tx *db.TxOps, projectID int64, title, createdBy string) (*View, error) {
	if title == "" {
		return nil, verrors.ErrValidation("title", "required")
	}
	p, err := db.GetProjectTx(tx, projectID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, verrors.ErrProjectNotFound(projectID)
	}
	cr := &db.ChangeRequest{ProjectID: projectID, Title: title, CreatedBy: createdBy}
	if err := db.CreateChangeRequestTx(tx, cr); err != nil {
		return nil, err
	}
	return &View{ChangeRequest: *cr}, nil
}

// GetTx loads a change request and its approvers.
func (w *Workflow) GetTx(tx *db.TxOps, id int64) (*View, error) {
	cr, err := db.GetChangeRequestTx(tx, id)
	if err != nil {
		return nil, err
	}
	if cr == nil {
		return nil, verrors.ErrChangeRequestNotFound(id)
	}
	approvers, err := db.ListApproversTx(tx, id)
	if err != nil {
		return nil, err
	}
	return &View{ChangeRequest: *cr, Approvers: approvers}, nil
}

// SetApproversTx adds and removes approvers. add maps each new approver to
// their active role, which must be an approver role. Approvers that stay
// keep their decisions.
func (w *Workflow) SetApproversTx(tx *db.TxOps, id int64, add map[string]string, remove []string) (*View, error) {
	users := make([]string, 0, len(add))
	for u := range add {
		users = append(users, u)
	}
	sort.Strings(users)
	for _, u := range users {
		if !w.approverRoles[add[u]] {
			return nil, verrors.ErrApproverRole(u, add[u])
		}
	}

	cr, err := db.LockChangeRequestTx(tx, id)
	if err != nil {
		return nil, err
	}
	if cr == nil {
		return nil, verrors.ErrChangeRequestNotFound(id)
	}
	for _, u := range remove {
		if err := db.RemoveApproverTx(tx, id, u); err != nil {
			return nil, err
		}
	}
	for _, u := range users {
		if err := db.AddApproverTx(tx, id, u); err != nil {
			return nil, err
		}
	}
	w.logger.Info("change request approvers updated", "change_request_id", id, "added", len(users), "removed", len(remove))
	return w.GetTx(tx, id)
}

// RecordDecisionTx stores one approver's decision. A rejection needs a reason.
func (w *Workflow) RecordDecisionTx(tx *db.TxOps, id int64, userID string, verified bool, reason string) (*View, error) {
	if !verified && reason == "" {
		return nil, verrors.ErrValidation("reason", "required when rejecting")
	}
	cr, err := db.LockChangeRequestTx(tx, id)
	if err != nil {
		return nil, err
	}
	if cr == nil {
		return nil, verrors.ErrChangeRequestNotFound(id)
	}
	ok, err := db.RecordApproverDecisionTx(tx, id, userID, verified, reason)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, verrors.ErrNotApprover(id, userID)
	}
	return w.GetTx(tx, id)
}

// UploadRevisionTx replaces a change request with a new revision. The
// approvers move to the new revision with their decisions cleared.
func (w *Workflow) UploadRevisionTx(tx *db.TxOps, id int64, title, createdBy string) (*View, error) {
	prev, err := db.LockChangeRequestTx(tx, id)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, verrors.ErrChangeRequestNotFound(id)
	}
	if title == "" {
		title = prev.Title
	}
	next := &db.ChangeRequest{
		ProjectID:    prev.ProjectID,
		Title:        title,
		Revision:     prev.Revision + 1,
		SupersedesID: &prev.ID,
		CreatedBy:    createdBy,
	}
	if err := db.CreateChangeRequestTx(tx, next); err != nil {
		return nil, err
	}
	if err := db.RepointApproversTx(tx, prev.ID, next.ID); err != nil {
		return nil, err
	}
	w.logger.Info("change request revised", "change_request_id", next.ID, "supersedes", prev.ID, "revision", next.Revision)
	return w.GetTx(tx, next.ID)
}

// SetVerificationTx records the aggregate verification flag. nil clears it.
func (w *Workflow) SetVerificationTx(tx *db.TxOps, id int64, verified *bool) (*View, error) {
	cr, err := db.LockChangeRequestTx(tx, id)
	if err != nil {
		return nil, err
	}
	if cr == nil {
		return nil, verrors.ErrChangeRequestNotFound(id)
	}
	if err := db.SetChangeRequestVerifiedTx(tx, id, verified); err != nil {
		return nil, err
	}
	return w.GetTx(tx, id)
}
