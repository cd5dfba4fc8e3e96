// Package activation moves tasks, phases and projects through their
// lifecycle. Completing a task cascades forward to the next task, the next
// phase or project completion. Blocking and reverting are the only backward
// edges.
//
// Every function runs inside the caller's transaction and queues the
// resulting events on the caller's batch; nothing is published here.
package activation

import (
	"log/slog"

	"github.com/randalmurphal/verity/internal/db"
	verrors "github.com/randalmurphal/verity/internal/errors"
	"github.com/randalmurphal/verity/internal/events"
	"github.com/randalmurphal/verity/internal/status"
)

// Cascade records what a completion changed beyond the completed task.
type Cascade struct {
	ActivatedTaskID  int64 `json:"activated_task_id,omitempty"`
	ClosedPhaseID    int64 `json:"closed_phase_id,omitempty"`
	ActivatedPhaseID int64 `json:"activated_phase_id,omitempty"`
	ProjectCompleted bool  `json:"project_completed,omitempty"`
}

// Activator applies lifecycle transitions.
type Activator struct {
	logger *slog.Logger
}

// New creates an Activator.
func New(logger *slog.Logger) *Activator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activator{logger: logger}
}

// CompleteTx moves a fully submitted task to newStatus and activates
// whatever comes next. With no awaiting task left in the phase the phase
// closes once all its tasks are done, then the next pending phase and its
// first task are activated, or the project completes.
func (a *Activator) CompleteTx(tx *db.TxOps, chain *db.TaskChain, newStatus status.TaskStatus, batch *events.Batch) (*Cascade, error) {
	task, phase, project := chain.Task, chain.Phase, chain.Project
	if !task.Status.CanTransitionTo(newStatus) {
		return nil, verrors.ErrInvalidTransition("task", task.ID, string(task.Status), string(newStatus))
	}
	if err := db.SetTaskStatusTx(tx, task.ID, newStatus); err != nil {
		return nil, err
	}
	task.Status = newStatus
	batch.Add(events.NewEvent(events.EventTaskCompleted, project.ID, task.ID,
		events.StatusChange{PhaseID: phase.ID, Status: string(newStatus)}))

	cascade := &Cascade{}
	next, err := db.NextAwaitingTaskTx(tx, phase.ID, task.OrderIndex)
	if err != nil {
		return nil, err
	}
	if next != nil {
		if err := a.activateTaskTx(tx, project.ID, next, batch); err != nil {
			return nil, err
		}
		cascade.ActivatedTaskID = next.ID
		return cascade, nil
	}

	done, err := phaseDoneTx(tx, phase.ID)
	if err != nil {
		return nil, err
	}
	if !done {
		a.logger.Debug("phase left open, tasks outstanding", "phase_id", phase.ID, "task_id", task.ID)
		return cascade, nil
	}

	if err := db.SetPhaseStatusTx(tx, phase.ID, status.PhaseClosed); err != nil {
		return nil, err
	}
	phase.Status = status.PhaseClosed
	cascade.ClosedPhaseID = phase.ID
	batch.Add(events.NewEvent(events.EventPhaseClosed, project.ID, 0,
		events.StatusChange{PhaseID: phase.ID, Status: string(status.PhaseClosed)}))

	nextPhase, err := db.NextPendingPhaseTx(tx, project.ID, phase.OrderIndex)
	if err != nil {
		return nil, err
	}
	if nextPhase == nil {
		if err := db.CompleteProjectTx(tx, project.ID); err != nil {
			return nil, err
		}
		project.Status = status.ProjectCompleted
		cascade.ProjectCompleted = true
		batch.Add(events.NewEvent(events.EventProjectCompleted, project.ID, 0,
			events.StatusChange{Status: string(status.ProjectCompleted)}))
		a.logger.Info("project completed", "project_id", project.ID)
		return cascade, nil
	}

	if err := db.SetPhaseStatusTx(tx, nextPhase.ID, status.PhaseActive); err != nil {
		return nil, err
	}
	cascade.ActivatedPhaseID = nextPhase.ID
	batch.Add(events.NewEvent(events.EventPhaseActivated, project.ID, 0,
		events.StatusChange{PhaseID: nextPhase.ID, Status: string(status.PhaseActive)}))

	first, err := db.NextAwaitingTaskTx(tx, nextPhase.ID, -1)
	if err != nil {
		return nil, err
	}
	if first != nil {
		if err := a.activateTaskTx(tx, project.ID, first, batch); err != nil {
			return nil, err
		}
		cascade.ActivatedTaskID = first.ID
	}
	return cascade, nil
}

// BlockTx marks a task blocked by an incident. A task that is already
// blocked stays blocked.
func (a *Activator) BlockTx(tx *db.TxOps, chain *db.TaskChain, batch *events.Batch) error {
	task := chain.Task
	if task.Status == status.TaskBlocked {
		return nil
	}
	if !task.Status.CanTransitionTo(status.TaskBlocked) {
		return verrors.ErrInvalidTransition("task", task.ID, string(task.Status), string(status.TaskBlocked))
	}
	if err := db.SetTaskStatusTx(tx, task.ID, status.TaskBlocked); err != nil {
		return err
	}
	task.Status = status.TaskBlocked
	batch.Add(events.NewEvent(events.EventTaskBlocked, chain.Project.ID, task.ID,
		events.StatusChange{PhaseID: chain.Phase.ID, Status: string(status.TaskBlocked)}))
	return nil
}

// ResetTx zeroes the task's submissions. Reviewers must submit again.
func (a *Activator) ResetTx(tx *db.TxOps, chain *db.TaskChain) error {
	if err := db.ResetSubmissionsTx(tx, chain.Task.ID); err != nil {
		return err
	}
	chain.Task.SubmittedCount = 0
	return nil
}

// ResumeTx returns a blocked task to active. Tasks in any other status are
// left alone.
func (a *Activator) ResumeTx(tx *db.TxOps, chain *db.TaskChain, batch *events.Batch) error {
	task := chain.Task
	if task.Status != status.TaskBlocked {
		return nil
	}
	if err := db.SetTaskStatusTx(tx, task.ID, status.TaskActive); err != nil {
		return err
	}
	task.Status = status.TaskActive
	batch.Add(events.NewEvent(events.EventTaskActivated, chain.Project.ID, task.ID,
		events.StatusChange{PhaseID: chain.Phase.ID, Status: string(status.TaskActive)}))
	return nil
}

// RevertTx sends the task back for rework and reopens the task before it.
// Both tasks have their submissions reset. It returns the reopened task.
func (a *Activator) RevertTx(tx *db.TxOps, chain *db.TaskChain, batch *events.Batch) (*db.Task, error) {
	task := chain.Task
	prev, err := db.PreviousTaskTx(tx, chain.Phase.ID, task.OrderIndex)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, verrors.ErrValidation("task", "the first task of a phase cannot be reverted")
	}
	if !task.Status.CanTransitionTo(status.TaskRework) {
		return nil, verrors.ErrInvalidTransition("task", task.ID, string(task.Status), string(status.TaskRework))
	}
	if !prev.Status.CanTransitionTo(status.TaskActive) {
		return nil, verrors.ErrInvalidTransition("task", prev.ID, string(prev.Status), string(status.TaskActive))
	}

	if err := db.SetTaskStatusTx(tx, task.ID, status.TaskRework); err != nil {
		return nil, err
	}
	if err := a.ResetTx(tx, chain); err != nil {
		return nil, err
	}
	task.Status = status.TaskRework
	batch.Add(events.NewEvent(events.EventTaskReverted, chain.Project.ID, task.ID,
		events.StatusChange{PhaseID: chain.Phase.ID, Status: string(status.TaskRework)}))

	if err := a.activateTaskTx(tx, chain.Project.ID, prev, batch); err != nil {
		return nil, err
	}
	return prev, nil
}

func (a *Activator) activateTaskTx(tx *db.TxOps, projectID int64, t *db.Task, batch *events.Batch) error {
	if err := db.SetTaskStatusTx(tx, t.ID, status.TaskActive); err != nil {
		return err
	}
	if err := db.ResetSubmissionsTx(tx, t.ID); err != nil {
		return err
	}
	t.Status = status.TaskActive
	t.SubmittedCount = 0
	batch.Add(events.NewEvent(events.EventTaskActivated, projectID, t.ID,
		events.StatusChange{PhaseID: t.PhaseID, Status: string(status.TaskActive)}))
	a.logger.Debug("task activated", "task_id", t.ID, "phase_id", t.PhaseID)
	return nil
}

func phaseDoneTx(tx *db.TxOps, phaseID int64) (bool, error) {
	tasks, err := db.ListTasksTx(tx, phaseID)
	if err != nil {
		return false, err
	}
	for _, t := range tasks {
		if !t.Status.IsDone() {
			return false, nil
		}
	}
	return true, nil
}
