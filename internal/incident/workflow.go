// Package incident runs the escalation chain of non-conformance incidents.
//
// Raising an incident blocks its task and records a submitted hop for the
// raiser's role plus a pending hop for the next role. Each role continues the
// chain by submitting its pending hop; the last role resolves the incident
// and the task becomes active again once no other incident holds it.
package incident

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/verity/internal/activation"
	"github.com/randalmurphal/verity/internal/db"
	"github.com/randalmurphal/verity/internal/db/driver"
	"github.com/randalmurphal/verity/internal/document"
	verrors "github.com/randalmurphal/verity/internal/errors"
	"github.com/randalmurphal/verity/internal/events"
	"github.com/randalmurphal/verity/internal/status"
)

// DefaultFailureType is used when an incident is raised without one.
const DefaultFailureType = "non_conformance"

// Request raises a new incident (IncidentID zero) or continues one.
type Request struct {
	IncidentID  int64
	TaskID      int64
	UserID      string
	Role        string
	Content     string
	FailureType string
	Description string
}

// Outcome describes the hop that was recorded.
type Outcome struct {
	IncidentID    int64  `json:"incident_id"`
	TransactionID int64  `json:"transaction_id"`
	Resolved      bool   `json:"resolved"`
	PendingRole   string `json:"pending_role,omitempty"`
	TaskID        int64  `json:"task_id"`
	ProjectID     int64  `json:"project_id"`
}

// Step is one hop of an incident's history with the snapshot it reviewed.
type Step struct {
	Transaction db.IncidentTransaction `json:"transaction"`
	Snapshot    *db.IncidentDocument   `json:"snapshot,omitempty"`
}

// Workflow advances incident chains.
type Workflow struct {
	graph             *Graph
	activator         *activation.Activator
	documents         *document.Store
	systemFailureType string
	logger            *slog.Logger
}

// NewWorkflow creates a Workflow. Incidents of systemFailureType also reset
// the task's submissions and carry its document forward.
func NewWorkflow(graph *Graph, activator *activation.Activator, documents *document.Store, systemFailureType string, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{
		graph:             graph,
		activator:         activator,
		documents:         documents,
		systemFailureType: systemFailureType,
		logger:            logger,
	}
}

// Graph returns the escalation graph.
func (w *Workflow) Graph() *Graph { return w.graph }

// checkRole rejects callers without a role in the graph.
func (w *Workflow) checkRole(userID, role string) error {
	if role == "" {
		return verrors.ErrNoActiveRole(userID)
	}
	if !w.graph.Contains(role) {
		return verrors.ErrRoleNotInGraph(role)
	}
	return nil
}

// RaiseOrContinueTx records the caller's hop.
func (w *Workflow) RaiseOrContinueTx(tx *db.TxOps, req Request, batch *events.Batch) (*Outcome, error) {
	if req.UserID == "" {
		return nil, verrors.ErrValidation("user_id", "required")
	}
	if err := w.checkRole(req.UserID, req.Role); err != nil {
		return nil, err
	}
	if req.IncidentID == 0 {
		return w.raiseTx(tx, req, batch)
	}
	return w.continueTx(tx, req, batch)
}

func (w *Workflow) raiseTx(tx *db.TxOps, req Request, batch *events.Batch) (*Outcome, error) {
	if req.TaskID == 0 {
		return nil, verrors.ErrValidation("task_id", "required to raise an incident")
	}
	failureType := req.FailureType
	if failureType == "" {
		failureType = DefaultFailureType
	}

	chain, err := db.LockTaskChainTx(tx, req.TaskID)
	if err != nil {
		return nil, err
	}
	inc := &db.Incident{
		TaskID:      chain.Task.ID,
		PhaseID:     chain.Phase.ID,
		ProjectID:   chain.Project.ID,
		FailureType: failureType,
		Description: req.Description,
		RaisedBy:    req.UserID,
	}
	if err := db.CreateIncidentTx(tx, inc); err != nil {
		return nil, err
	}
	if err := w.activator.BlockTx(tx, chain, batch); err != nil {
		return nil, err
	}
	if failureType == w.systemFailureType {
		if err := w.activator.ResetTx(tx, chain); err != nil {
			return nil, err
		}
		if _, err := w.documents.CarryForwardTx(tx, chain, req.Content, req.UserID); err != nil {
			return nil, err
		}
	}

	snap, err := w.snapshotTx(tx, inc.ID, req)
	if err != nil {
		return nil, err
	}
	submittedAt := time.Now().UTC()
	hop := &db.IncidentTransaction{
		IncidentID:  inc.ID,
		Role:        req.Role,
		UserID:      req.UserID,
		Status:      status.TxnSubmitted,
		DocumentID:  snap.ID,
		SubmittedAt: &submittedAt,
	}
	if err := db.InsertIncidentTransactionTx(tx, hop); err != nil {
		return nil, err
	}

	out := &Outcome{IncidentID: inc.ID, TransactionID: hop.ID, TaskID: chain.Task.ID, ProjectID: chain.Project.ID}
	if next, ok := w.graph.Successor(req.Role); ok {
		if err := w.pendingTx(tx, inc.ID, next, snap.ID); err != nil {
			return nil, err
		}
		out.PendingRole = next
	}

	batch.Add(events.NewEvent(events.EventIncidentRaised, chain.Project.ID, chain.Task.ID, events.IncidentData{
		IncidentID: inc.ID, Role: req.Role, PendingRole: out.PendingRole, UserID: req.UserID,
	}))
	w.logger.Info("incident raised", "incident_id", inc.ID, "task_id", chain.Task.ID,
		"user_id", req.UserID, "role", req.Role, "failure_type", failureType)
	return out, nil
}

func (w *Workflow) continueTx(tx *db.TxOps, req Request, batch *events.Batch) (*Outcome, error) {
	inc, err := db.LockIncidentTx(tx, req.IncidentID)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, verrors.ErrIncidentNotFound(req.IncidentID)
	}
	if req.TaskID != 0 && req.TaskID != inc.TaskID {
		return nil, verrors.ErrValidation("task_id", "does not match the incident's task")
	}
	if inc.Resolved {
		return nil, verrors.ErrIncidentResolved(inc.ID)
	}
	chain, err := db.LockTaskChainTx(tx, inc.TaskID)
	if err != nil {
		return nil, err
	}

	snap, err := w.snapshotTx(tx, inc.ID, req)
	if err != nil {
		return nil, err
	}
	hopID, err := w.submitHopTx(tx, inc.ID, req, snap.ID)
	if err != nil {
		return nil, err
	}
	out := &Outcome{IncidentID: inc.ID, TransactionID: hopID, TaskID: chain.Task.ID, ProjectID: chain.Project.ID}

	if next, ok := w.graph.Successor(req.Role); ok {
		existing, err := db.PendingTransactionTx(tx, inc.ID, next)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			if err := w.pendingTx(tx, inc.ID, next, snap.ID); err != nil {
				return nil, err
			}
		}
		out.PendingRole = next
		batch.Add(events.NewEvent(events.EventIncidentEscalated, chain.Project.ID, chain.Task.ID, events.IncidentData{
			IncidentID: inc.ID, Role: req.Role, PendingRole: next, UserID: req.UserID,
		}))
		w.logger.Info("incident escalated", "incident_id", inc.ID, "user_id", req.UserID, "role", req.Role, "next_role", next)
		return out, nil
	}

	if err := w.closeTx(tx, inc, chain, req.UserID, "", batch); err != nil {
		return nil, err
	}
	out.Resolved = true
	return out, nil
}

// ResolveTx closes an open incident directly. Pending hops are skipped.
func (w *Workflow) ResolveTx(tx *db.TxOps, incidentID int64, userID, role, comment string, batch *events.Batch) (*Outcome, error) {
	if comment == "" {
		return nil, verrors.ErrValidation("comment", "required to resolve an incident")
	}
	if err := w.checkRole(userID, role); err != nil {
		return nil, err
	}
	inc, err := db.LockIncidentTx(tx, incidentID)
	if err != nil {
		return nil, err
	}
	if inc == nil {
		return nil, verrors.ErrIncidentNotFound(incidentID)
	}
	if inc.Resolved {
		return nil, verrors.ErrIncidentResolved(inc.ID)
	}
	chain, err := db.LockTaskChainTx(tx, inc.TaskID)
	if err != nil {
		return nil, err
	}
	if err := w.closeTx(tx, inc, chain, userID, comment, batch); err != nil {
		return nil, err
	}
	return &Outcome{IncidentID: inc.ID, Resolved: true, TaskID: chain.Task.ID, ProjectID: chain.Project.ID}, nil
}

// HistoryTx returns the incident and its hops in order with their snapshots.
func (w *Workflow) HistoryTx(tx *db.TxOps, incidentID int64) (*db.Incident, []Step, error) {
	inc, err := db.GetIncidentTx(tx, incidentID)
	if err != nil {
		return nil, nil, err
	}
	if inc == nil {
		return nil, nil, verrors.ErrIncidentNotFound(incidentID)
	}
	hops, err := db.ListIncidentTransactionsTx(tx, incidentID)
	if err != nil {
		return nil, nil, err
	}
	snaps := map[int64]*db.IncidentDocument{}
	steps := make([]Step, 0, len(hops))
	for _, h := range hops {
		snap, ok := snaps[h.DocumentID]
		if !ok {
			snap, err = db.GetIncidentDocumentTx(tx, h.DocumentID)
			if err != nil {
				return nil, nil, err
			}
			snaps[h.DocumentID] = snap
		}
		steps = append(steps, Step{Transaction: h, Snapshot: snap})
	}
	return inc, steps, nil
}

// closeTx resolves the incident, skips leftover pending hops and resumes the
// task when nothing else blocks it.
func (w *Workflow) closeTx(tx *db.TxOps, inc *db.Incident, chain *db.TaskChain, userID, comment string, batch *events.Batch) error {
	skipped, err := db.SkipPendingTransactionsTx(tx, inc.ID)
	if err != nil {
		return err
	}
	if err := db.ResolveIncidentTx(tx, inc.ID, userID, comment); err != nil {
		return err
	}
	open, err := db.CountOpenIncidentsTx(tx, chain.Task.ID)
	if err != nil {
		return err
	}
	if open == 0 {
		if err := w.activator.ResumeTx(tx, chain, batch); err != nil {
			return err
		}
	}
	batch.Add(events.NewEvent(events.EventIncidentResolved, chain.Project.ID, chain.Task.ID, events.IncidentData{
		IncidentID: inc.ID, UserID: userID,
	}))
	w.logger.Info("incident resolved", "incident_id", inc.ID, "task_id", chain.Task.ID,
		"user_id", userID, "skipped", skipped, "open_incidents", open)
	return nil
}

func (w *Workflow) snapshotTx(tx *db.TxOps, incidentID int64, req Request) (*db.IncidentDocument, error) {
	snap := &db.IncidentDocument{IncidentID: incidentID, Content: req.Content, CreatedBy: req.UserID}
	if err := db.InsertIncidentDocumentTx(tx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// submitHopTx flips the caller's pending hop to submitted. Without one a
// submitted hop is appended so the history stays complete.
func (w *Workflow) submitHopTx(tx *db.TxOps, incidentID int64, req Request, snapshotID int64) (int64, error) {
	pending, err := db.PendingTransactionTx(tx, incidentID, req.Role)
	if err != nil {
		return 0, err
	}
	if pending != nil {
		ok, err := db.SubmitTransactionTx(tx, pending.ID, req.UserID, snapshotID)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, verrors.ErrPendingConflict(incidentID, req.Role)
		}
		return pending.ID, nil
	}

	w.logger.Warn("no pending hop for role, recording submission", "incident_id", incidentID,
		"role", req.Role, "user_id", req.UserID)
	submittedAt := time.Now().UTC()
	hop := &db.IncidentTransaction{
		IncidentID:  incidentID,
		Role:        req.Role,
		UserID:      req.UserID,
		Status:      status.TxnSubmitted,
		DocumentID:  snapshotID,
		SubmittedAt: &submittedAt,
	}
	if err := db.InsertIncidentTransactionTx(tx, hop); err != nil {
		return 0, err
	}
	return hop.ID, nil
}

func (w *Workflow) pendingTx(tx *db.TxOps, incidentID int64, role string, snapshotID int64) error {
	hop := &db.IncidentTransaction{
		IncidentID: incidentID,
		Role:       role,
		Status:     status.TxnPending,
		DocumentID: snapshotID,
	}
	if err := db.InsertIncidentTransactionTx(tx, hop); err != nil {
		if driver.IsUniqueViolation(err) {
			return verrors.ErrPendingConflict(incidentID, role).WithCause(err)
		}
		return err
	}
	return nil
}
