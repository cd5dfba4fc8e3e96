// Package status defines the lifecycle states of tasks, phases, projects and
// incident transactions, and the single table of legal task transitions.
//
// Transition table for tasks:
//
//	pending   -> active                      (activated by the cascade)
//	active    -> completed | closed          (all reviewers submitted)
//	active    -> blocked                     (incident raised)
//	active    -> rework                      (reverted; previous task reopened)
//	rework    -> active                      (reactivated by the cascade)
//	blocked   -> active                      (incident resolved)
//	completed -> active | closed -> active   (reopened by a revert of the next task)
//
// Phases move pending -> active -> closed. Projects move active -> completed.
// Incident transactions move pending -> submitted or pending -> skipped.
package status

// TaskStatus is the state of a task instance.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskActive    TaskStatus = "active"
	TaskCompleted TaskStatus = "completed"
	TaskClosed    TaskStatus = "closed"
	TaskBlocked   TaskStatus = "blocked"
	TaskRework    TaskStatus = "rework"
)

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:   {TaskActive},
	TaskActive:    {TaskCompleted, TaskClosed, TaskBlocked, TaskRework},
	TaskRework:    {TaskActive},
	TaskBlocked:   {TaskActive},
	TaskCompleted: {TaskActive},
	TaskClosed:    {TaskActive},
}

// ValidTaskStatuses returns all task status values.
func ValidTaskStatuses() []TaskStatus {
	return []TaskStatus{TaskPending, TaskActive, TaskCompleted, TaskClosed, TaskBlocked, TaskRework}
}

// ParseTaskStatus returns the status named by s.
func ParseTaskStatus(s string) (TaskStatus, bool) {
	for _, v := range ValidTaskStatuses() {
		if string(v) == s {
			return v, true
		}
	}
	return "", false
}

// CanTransitionTo reports whether the table allows moving from s to next.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsDone returns true once reviewers have signed the task off.
func (s TaskStatus) IsDone() bool {
	return s == TaskCompleted || s == TaskClosed
}

// IsSubmissionTarget reports whether s may be requested as the status a task
// takes when its last reviewer submits.
func (s TaskStatus) IsSubmissionTarget() bool {
	return s.IsDone()
}

// AwaitsActivation reports whether the cascade may activate a task in s.
// Reworked tasks are picked up again once the task before them completes.
func (s TaskStatus) AwaitsActivation() bool {
	return s == TaskPending || s == TaskRework
}

// PhaseStatus is the state of a phase instance.
type PhaseStatus string

const (
	PhasePending PhaseStatus = "pending"
	PhaseActive  PhaseStatus = "active"
	PhaseClosed  PhaseStatus = "closed"
)

// ProjectStatus is the state of a project.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
)

// IncidentTransactionStatus is the state of one role hop in an incident chain.
type IncidentTransactionStatus string

const (
	TxnPending   IncidentTransactionStatus = "pending"
	TxnSubmitted IncidentTransactionStatus = "submitted"
	TxnSkipped   IncidentTransactionStatus = "skipped"
)
