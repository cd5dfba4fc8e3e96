// Package review tracks reviewer assignments and submissions. A task is done
// only when every assigned reviewer has submitted.
package review

import (
	"log/slog"

	"github.com/randalmurphal/verity/internal/activation"
	"github.com/randalmurphal/verity/internal/db"
	"github.com/randalmurphal/verity/internal/db/driver"
	verrors "github.com/randalmurphal/verity/internal/errors"
	"github.com/randalmurphal/verity/internal/events"
	"github.com/randalmurphal/verity/internal/status"
)

// State is the outcome of a recorded submission.
type State string

const (
	// StateWaiting means other reviewers still have to submit.
	StateWaiting State = "waiting"
	// StateCompleted means the last reviewer submitted and the task moved on.
	StateCompleted State = "completed"
	// StateUnchanged means the task was already at the requested status.
	StateUnchanged State = "unchanged"
)

// Result describes a recorded submission.
type Result struct {
	State          State               `json:"state"`
	SubmittedCount int                 `json:"submitted_count"`
	RequiredCount  int                 `json:"required_count"`
	Cascade        *activation.Cascade `json:"cascade,omitempty"`
}

// Tracker records reviewer submissions.
type Tracker struct {
	activator *activation.Activator
	logger    *slog.Logger
}

// NewTracker creates a Tracker that hands completed tasks to activator.
func NewTracker(activator *activation.Activator, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{activator: activator, logger: logger}
}

// RegisterAssignmentTx adds an unsubmitted reviewer to the task. The required
// count grows with the reviewer list once it passes the template default.
func (t *Tracker) RegisterAssignmentTx(tx *db.TxOps, chain *db.TaskChain, userID string) error {
	if userID == "" {
		return verrors.ErrValidation("user_id", "required")
	}
	n, err := db.AddAssignmentTx(tx, chain.Task.ID, userID)
	if err != nil {
		if driver.IsUniqueViolation(err) {
			return verrors.ErrAlreadyAssigned(chain.Task.ID, userID).WithCause(err)
		}
		return err
	}
	chain.Task.RequiredCount = max(chain.Task.RequiredCount, n)
	return nil
}

// RecordSubmissionTx records that userID submitted the task, asking for
// newStatus once everyone has.
//
// Checks run in order: the caller must be assigned; a task already at
// newStatus is left unchanged; the task must be able to reach newStatus; a
// reviewer may submit only once.
func (t *Tracker) RecordSubmissionTx(tx *db.TxOps, chain *db.TaskChain, userID string, newStatus status.TaskStatus, batch *events.Batch) (*Result, error) {
	task := chain.Task
	if !newStatus.IsSubmissionTarget() {
		return nil, verrors.ErrValidation("status", "must be completed or closed")
	}

	asg, err := db.GetAssignmentTx(tx, task.ID, userID)
	if err != nil {
		return nil, err
	}
	if asg == nil {
		return nil, verrors.ErrNotAssigned(task.ID, userID)
	}

	res := &Result{SubmittedCount: task.SubmittedCount, RequiredCount: task.RequiredCount}
	if task.Status == newStatus {
		res.State = StateUnchanged
		return res, nil
	}
	if !task.Status.CanTransitionTo(newStatus) {
		return nil, verrors.ErrInvalidTransition("task", task.ID, string(task.Status), string(newStatus))
	}

	marked, err := db.MarkSubmittedTx(tx, task.ID, userID)
	if err != nil {
		return nil, err
	}
	if !marked {
		return nil, verrors.ErrAlreadySubmitted(task.ID, userID)
	}
	n, err := db.IncrementSubmittedCountTx(tx, task.ID)
	if err != nil {
		return nil, err
	}
	task.SubmittedCount = n
	res.SubmittedCount = n

	if n < task.RequiredCount {
		res.State = StateWaiting
		t.logger.Debug("waiting for reviewers", "task_id", task.ID, "submitted", n, "required", task.RequiredCount)
		return res, nil
	}

	cascade, err := t.activator.CompleteTx(tx, chain, newStatus, batch)
	if err != nil {
		return nil, err
	}
	res.State = StateCompleted
	res.Cascade = cascade
	t.logger.Info("task completed", "task_id", task.ID, "status", newStatus)
	return res, nil
}
