package engine

import (
	"context"

	"github.com/randalmurphal/verity/internal/db"
	verrors "github.com/randalmurphal/verity/internal/errors"
	"github.com/randalmurphal/verity/internal/events"
	"github.com/randalmurphal/verity/internal/incident"
)

// IncidentRequest raises a new incident when IncidentID is zero and
// continues an open one otherwise.
type IncidentRequest struct {
	IncidentID  int64  `json:"incident_id,omitempty"`
	TaskID      int64  `json:"task_id"`
	UserID      string `json:"user_id"`
	Content     string `json:"content"`
	FailureType string `json:"failure_type,omitempty"`
	Description string `json:"description,omitempty"`
}

// IncidentHistory is an incident with its hops in order.
type IncidentHistory struct {
	Incident *db.Incident    `json:"incident"`
	Steps    []incident.Step `json:"steps"`
}

// RaiseOrContinueIncident records the caller's hop in an incident's
// escalation chain. The caller's active role decides where the chain goes
// next.
func (e *Engine) RaiseOrContinueIncident(ctx context.Context, req IncidentRequest) (*incident.Outcome, error) {
	if req.UserID == "" {
		return nil, verrors.ErrValidation("user_id", "required")
	}
	if req.IncidentID == 0 && req.TaskID == 0 {
		return nil, verrors.ErrValidation("task_id", "required to raise an incident")
	}
	op := "continue_incident"
	if req.IncidentID == 0 {
		op = "raise_incident"
	}
	sub := subject{taskID: req.TaskID, incidentID: req.IncidentID, userID: req.UserID}

	role, err := e.activeRole(ctx, op, sub)
	if err != nil {
		return nil, err
	}

	var out *incident.Outcome
	err = e.mutate(ctx, op, sub, func(tx *db.TxOps, batch *events.Batch) error {
		var err error
		out, err = e.incidents.RaiseOrContinueTx(tx, incident.Request{
			IncidentID:  req.IncidentID,
			TaskID:      req.TaskID,
			UserID:      req.UserID,
			Role:        role,
			Content:     req.Content,
			FailureType: req.FailureType,
			Description: req.Description,
		}, batch)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ResolveIncident closes an open incident directly, skipping any roles
// still pending.
func (e *Engine) ResolveIncident(ctx context.Context, incidentID int64, userID, comment string) (*incident.Outcome, error) {
	if userID == "" {
		return nil, verrors.ErrValidation("user_id", "required")
	}
	sub := subject{incidentID: incidentID, userID: userID}
	role, err := e.activeRole(ctx, "resolve_incident", sub)
	if err != nil {
		return nil, err
	}

	var out *incident.Outcome
	err = e.mutate(ctx, "resolve_incident", sub, func(tx *db.TxOps, batch *events.Batch) error {
		var err error
		out, err = e.incidents.ResolveTx(tx, incidentID, userID, role, comment, batch)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IncidentHistory returns the incident and the snapshot each role reviewed.
func (e *Engine) IncidentHistory(ctx context.Context, incidentID int64) (*IncidentHistory, error) {
	var h IncidentHistory
	err := e.view(ctx, "incident_history", subject{incidentID: incidentID}, func(tx *db.TxOps) error {
		var err error
		h.Incident, h.Steps, err = e.incidents.HistoryTx(tx, incidentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// activeRole resolves the caller's role before any transaction opens.
func (e *Engine) activeRole(ctx context.Context, op string, sub subject) (string, error) {
	var role string
	err := e.observe(ctx, op+".resolve_role", sub, func(ctx context.Context) error {
		var err error
		role, err = e.roles.ActiveRole(ctx, sub.userID)
		return err
	})
	return role, err
}
